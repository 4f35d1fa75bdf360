package models

import (
	"time"

	"github.com/google/uuid"
)

// Provider identifies a payment-service provider.
type Provider string

const (
	ProviderMercadoPago Provider = "MERCADO_PAGO"
	ProviderPagSeguro   Provider = "PAGSEGURO"
)

// Credentials is a provider-shaped key/value blob.
type Credentials map[string]string

// GatewayConfig is one configured integration with a payment provider.
type GatewayConfig struct {
	ID             uuid.UUID       `json:"id"`
	Name           string          `json:"name"`
	Provider       Provider        `json:"provider"`
	Active         bool            `json:"active"`
	Priority       int             `json:"priority"`
	AllowedMethods []PaymentMethod `json:"allowed_methods"`
	EntityTypes    []EntityKind    `json:"entity_types"`
	Credentials    Credentials     `json:"-"`
	Sandbox        bool            `json:"sandbox"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// Supports reports whether the gateway serves method for the given entity kind.
func (g *GatewayConfig) Supports(method PaymentMethod, kind EntityKind) bool {
	return containsMethod(g.AllowedMethods, method) && containsKind(g.EntityTypes, kind)
}

func containsMethod(list []PaymentMethod, m PaymentMethod) bool {
	for _, v := range list {
		if v == m {
			return true
		}
	}
	return false
}

func containsKind(list []EntityKind, k EntityKind) bool {
	for _, v := range list {
		if v == k {
			return true
		}
	}
	return false
}
