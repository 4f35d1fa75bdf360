package registrations

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"
	"time"
)

const (
	protocolAlphabet  = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	protocolSuffixLen = 6
	// protocolAttempts bounds retries when a generated protocol collides with a stored one.
	protocolAttempts = 5
)

// NewProtocol returns <PREFIX>-<YYYYMMDD>-<6 uppercase alphanumerics> for the given day.
func NewProtocol(prefix string, now time.Time) (string, error) {
	var b strings.Builder
	b.Grow(protocolSuffixLen)
	max := big.NewInt(int64(len(protocolAlphabet)))
	for i := 0; i < protocolSuffixLen; i++ {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("protocol suffix: %w", err)
		}
		b.WriteByte(protocolAlphabet[n.Int64()])
	}
	return fmt.Sprintf("%s-%s-%s", strings.ToUpper(prefix), now.UTC().Format("20060102"), b.String()), nil
}
