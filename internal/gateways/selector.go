package gateways

import (
	"bytes"
	"sort"

	"github.com/aura-events/backend/internal/models"
	"github.com/aura-events/backend/pkg/apperrors"
)

var (
	ErrNoGatewayAvailable   = apperrors.NotFound("NO_GATEWAY_AVAILABLE", "no active gateway supports this payment method and entity type")
	ErrDuplicateCredentials = apperrors.Conflict("DUPLICATE_CREDENTIALS", "another active gateway already uses these provider credentials")
)

// Select picks from snapshot the active gateway serving method for kind with the highest priority.
// Ties go to the earliest created, then the lowest id, so the result is stable across restarts.
func Select(snapshot []*models.GatewayConfig, method models.PaymentMethod, kind models.EntityKind) (*models.GatewayConfig, error) {
	candidates := make([]*models.GatewayConfig, 0, len(snapshot))
	for _, g := range snapshot {
		if g != nil && g.Active && g.Supports(method, kind) {
			candidates = append(candidates, g)
		}
	}
	if len(candidates) == 0 {
		return nil, ErrNoGatewayAvailable
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return bytes.Compare(a.ID[:], b.ID[:]) < 0
	})
	return candidates[0], nil
}

// RejectDuplicate fails when creds share an identifying field value with any other active gateway
// of the same provider. others may include the gateway being checked; it is skipped by id.
func RejectDuplicate(g *models.GatewayConfig, others []*models.GatewayConfig) error {
	keys := duplicateKeys[g.Provider]
	if len(keys) == 0 {
		return nil
	}
	for _, o := range others {
		if o == nil || o.ID == g.ID || !o.Active || o.Provider != g.Provider {
			continue
		}
		for _, k := range keys {
			v := g.Credentials[k]
			if v != "" && v == o.Credentials[k] {
				return ErrDuplicateCredentials
			}
		}
	}
	return nil
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
