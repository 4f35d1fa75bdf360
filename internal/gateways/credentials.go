// Package gateways holds the payment gateway registry: credential normalization, duplicate detection
// and per-request gateway selection.
package gateways

import (
	"strings"

	"github.com/aura-events/backend/internal/models"
)

// Canonical credential keys.
const (
	KeyAccessToken   = "access_token"
	KeyPublicKey     = "public_key"
	KeyClientID      = "client_id"
	KeyClientSecret  = "client_secret"
	KeyWebhookSecret = "webhook_secret"
	KeyToken         = "token"
	KeyEmail         = "email"
)

// aliases maps a folded field name (lower case, no separators) to its canonical key, per provider.
var aliases = map[models.Provider]map[string]string{
	models.ProviderMercadoPago: {
		"accesstoken":        KeyAccessToken,
		"sandboxaccesstoken": KeyAccessToken,
		"prodaccesstoken":    KeyAccessToken,
		"mpaccesstoken":      KeyAccessToken,
		"publickey":          KeyPublicKey,
		"sandboxpublickey":   KeyPublicKey,
		"mppublickey":        KeyPublicKey,
		"clientid":           KeyClientID,
		"appid":              KeyClientID,
		"clientsecret":       KeyClientSecret,
		"webhooksecret":      KeyWebhookSecret,
		"secretkey":          KeyWebhookSecret,
	},
	models.ProviderPagSeguro: {
		"token":         KeyToken,
		"accesstoken":   KeyToken,
		"sandboxtoken":  KeyToken,
		"email":         KeyEmail,
		"selleremail":   KeyEmail,
		"publickey":     KeyPublicKey,
		"webhooksecret": KeyWebhookSecret,
	},
}

// duplicateKeys are the canonical fields that identify the provider account behind a gateway.
var duplicateKeys = map[models.Provider][]string{
	models.ProviderMercadoPago: {KeyAccessToken, KeyPublicKey},
	models.ProviderPagSeguro:   {KeyToken},
}

// NormalizeCredentials maps provider-specific field variants onto the provider's canonical keys.
// Unmapped fields are dropped. Unknown providers get a copy of raw. Values are trimmed; when two variants
// map to the same key the first non-empty value in sorted field order wins.
func NormalizeCredentials(provider models.Provider, raw map[string]string) models.Credentials {
	table, known := aliases[provider]
	out := make(models.Credentials, len(raw))
	if !known {
		for k, v := range raw {
			out[k] = v
		}
		return out
	}
	for _, field := range sortedKeys(raw) {
		key, ok := table[fold(field)]
		if !ok {
			continue
		}
		v := strings.TrimSpace(raw[field])
		if v == "" {
			continue
		}
		if _, taken := out[key]; !taken {
			out[key] = v
		}
	}
	return out
}

func fold(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(strings.TrimSpace(s)) {
		if r == '_' || r == '-' || r == ' ' || r == '.' {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
