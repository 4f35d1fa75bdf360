package reconcile

import (
	"regexp"
	"strings"
)

// KnownPrefixes are the protocol prefixes issued now or in the past.
var KnownPrefixes = []string{"EVE-", "REG-"}

var leadingPrefix = regexp.MustCompile(`^[A-Z]+-`)

// ProtocolVariants returns the forms a protocol may be stored under: the value itself, the value without a
// leading uppercase prefix, and that bare form under each known prefix. Duplicates are removed keeping the
// first occurrence. Matching against storage is exact, so no case variants are produced.
func ProtocolVariants(s string) []string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	bare := leadingPrefix.ReplaceAllString(s, "")
	candidates := make([]string, 0, 2+len(KnownPrefixes))
	candidates = append(candidates, s, bare)
	for _, p := range KnownPrefixes {
		candidates = append(candidates, p+bare)
	}

	seen := make(map[string]struct{}, len(candidates))
	out := candidates[:0]
	for _, c := range candidates {
		if c == "" {
			continue
		}
		if _, dup := seen[c]; dup {
			continue
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}
	return out
}
