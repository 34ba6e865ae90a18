// Package address canonicalizes the textual forms a WhatsApp number takes across the
// transport and the store: bare ("595111"), primary ("595111@s.whatsapp.net") and
// group ("1203630@g.us").
package address

import "strings"

const (
	PrimarySuffix = "@s.whatsapp.net"
	GroupSuffix   = "@g.us"

	// legacy primary form still present in rows written by older clients
	legacySuffix = "@c.us"
)

var knownSuffixes = []string{PrimarySuffix, GroupSuffix, legacySuffix}

// Normalize returns the bare form of addr. Unknown suffixes are left untouched.
// Normalize(Normalize(a)) == Normalize(a) for every a.
func Normalize(addr string) string {
	out := strings.TrimSpace(addr)
	for {
		stripped := false
		for _, suffix := range knownSuffixes {
			if strings.HasSuffix(out, suffix) {
				out = strings.TrimSpace(strings.TrimSuffix(out, suffix))
				stripped = true
			}
		}
		if !stripped {
			return out
		}
	}
}

func WithPrimarySuffix(bare string) string {
	return Normalize(bare) + PrimarySuffix
}

// Variants lists every stored form that denotes the same logical address as addr,
// bare form first.
func Variants(addr string) []string {
	bare := Normalize(addr)
	if bare == "" {
		return nil
	}
	return []string{bare, bare + PrimarySuffix, bare + GroupSuffix, bare + legacySuffix}
}

// Same reports whether a and b denote the same logical address.
func Same(a, b string) bool {
	return Normalize(a) == Normalize(b)
}
