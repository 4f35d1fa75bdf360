package database

import (
	"time"

	"github.com/google/uuid"
)

// Cursor is a keyset position over rows ordered by (created_at, id). The zero value starts at the beginning.
type Cursor struct {
	CreatedAt time.Time
	ID        uuid.UUID
}

// After returns the cursor positioned on the given row.
func After(createdAt time.Time, id uuid.UUID) Cursor {
	return Cursor{CreatedAt: createdAt, ID: id}
}

// IsZero reports whether the cursor is at the beginning.
func (c Cursor) IsZero() bool {
	return c.CreatedAt.IsZero() && c.ID == uuid.Nil
}

// Less reports whether the row (createdAt, id) sorts before c.
func (c Cursor) Less(createdAt time.Time, id uuid.UUID) bool {
	if !createdAt.Equal(c.CreatedAt) {
		return createdAt.Before(c.CreatedAt)
	}
	return id.String() < c.ID.String()
}

// Passed reports whether the row (createdAt, id) comes strictly after c.
func (c Cursor) Passed(createdAt time.Time, id uuid.UUID) bool {
	if c.IsZero() {
		return true
	}
	return !c.Less(createdAt, id) && !(createdAt.Equal(c.CreatedAt) && id == c.ID)
}
