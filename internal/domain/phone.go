package domain

import "strings"

// NormalizePhone strips formatting characters and keeps a single leading
// plus, so "+62 812-3456-789" and "0062(812)3456789" style inputs key
// consistently for dedup and suppression.
func NormalizePhone(raw string) string {
	var b strings.Builder
	b.Grow(len(raw))

	for i, r := range raw {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '+' && i == 0:
			b.WriteRune(r)
		}
	}

	normalized := b.String()
	if strings.HasPrefix(normalized, "00") {
		normalized = "+" + normalized[2:]
	}

	return normalized
}
