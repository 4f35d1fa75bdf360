package models

import (
	"encoding/json"
	"strings"

	"github.com/google/uuid"
)

// EntityKind is the kind of business object a payment is for.
type EntityKind string

const (
	EntityNone              EntityKind = ""
	EntityEventRegistration EntityKind = "EVENT_REGISTRATION"
	EntityEvent             EntityKind = "EVENT"
	EntityMembership        EntityKind = "MEMBERSHIP"
)

// ParseEntityKind maps a stored/provider string to a kind; unknown values map to EntityNone.
func ParseEntityKind(s string) EntityKind {
	switch k := EntityKind(strings.ToUpper(strings.TrimSpace(s))); k {
	case EntityEventRegistration, EntityEvent, EntityMembership:
		return k
	}
	return EntityNone
}

// EntityRef is the correlation hint on a transaction: a kind plus the id of that kind.
// The zero value means "no usable hint".
type EntityRef struct {
	Kind EntityKind
	ID   uuid.UUID
}

// NewEntityRef builds a ref from loosely typed fields; anything unparsable yields the zero ref.
func NewEntityRef(kind, id string) EntityRef {
	k := ParseEntityKind(kind)
	if k == EntityNone {
		return EntityRef{}
	}
	parsed, err := uuid.Parse(strings.TrimSpace(id))
	if err != nil {
		return EntityRef{}
	}
	return EntityRef{Kind: k, ID: parsed}
}

// Registration returns the referenced registration id when the ref points at one.
func (r EntityRef) Registration() (uuid.UUID, bool) {
	return r.ID, r.Kind == EntityEventRegistration && r.ID != uuid.Nil
}

// Event returns the referenced event id when the ref points at one.
func (r EntityRef) Event() (uuid.UUID, bool) {
	return r.ID, r.Kind == EntityEvent && r.ID != uuid.Nil
}

// IsZero reports whether the ref carries no hint.
func (r EntityRef) IsZero() bool {
	return r.Kind == EntityNone || r.ID == uuid.Nil
}

// Columns returns the nullable (entity_type, entity_id) pair for storage.
func (r EntityRef) Columns() (*string, *uuid.UUID) {
	if r.IsZero() {
		return nil, nil
	}
	kind := string(r.Kind)
	id := r.ID
	return &kind, &id
}

type entityRefJSON struct {
	Type string     `json:"type,omitempty"`
	ID   *uuid.UUID `json:"id,omitempty"`
}

// MarshalJSON renders the zero ref as an empty object.
func (r EntityRef) MarshalJSON() ([]byte, error) {
	if r.IsZero() {
		return json.Marshal(entityRefJSON{})
	}
	id := r.ID
	return json.Marshal(entityRefJSON{Type: string(r.Kind), ID: &id})
}
