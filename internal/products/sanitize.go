package products

import (
	"math"
	"strconv"
	"strings"

	"golang.org/x/text/currency"
)

// SanitizeString trims s and escapes the markup characters & < > " '.
// Empty or whitespace-only input yields ok=false. Existing entity references
// are left intact so the function is idempotent on its own output.
func SanitizeString(s string) (string, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", false
	}
	return escapeMarkup(s), true
}

// SanitizeOptional is SanitizeString for nullable columns.
func SanitizeOptional(s string) *string {
	out, ok := SanitizeString(s)
	if !ok {
		return nil
	}
	return &out
}

// ValidateInteger parses s as a base-10 integer. Empty, non-numeric and
// negative input return 0. Values past the INTEGER quantity column
// (2147483647) also return 0, since they cannot be stored.
func ValidateInteger(s string) int {
	n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 32)
	if err != nil || n < 0 {
		return 0
	}
	return int(n)
}

// MaxPrice is the largest value the NUMERIC(15, 2) price column holds.
const MaxPrice = 9999999999999.99

// ValidatePrice parses s as a decimal float and returns it only when
// strictly positive, finite and no larger than MaxPrice; everything else
// is 0. Hexadecimal notation is rejected.
func ValidatePrice(s string) float64 {
	s = strings.TrimSpace(s)
	if strings.ContainsAny(s, "xX_") {
		return 0
	}
	p, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(p) || math.IsInf(p, 0) || p <= 0 || p > MaxPrice {
		return 0
	}
	return p
}

// NormalizeCurrency returns the canonical ISO-4217 code for s, or
// DefaultCurrency with ok=false when s is empty or not a known code.
func NormalizeCurrency(s string) (string, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return DefaultCurrency, false
	}
	unit, err := currency.ParseISO(strings.ToUpper(s))
	if err != nil {
		return DefaultCurrency, false
	}
	return unit.String(), true
}

func escapeMarkup(s string) string {
	if !strings.ContainsAny(s, `&<>"'`) {
		return s
	}
	var b strings.Builder
	b.Grow(len(s) + 16)
	for i := 0; i < len(s); i++ {
		switch c := s[i]; c {
		case '&':
			if n := entityLen(s[i:]); n > 0 {
				b.WriteString(s[i : i+n])
				i += n - 1
				continue
			}
			b.WriteString("&amp;")
		case '<':
			b.WriteString("&lt;")
		case '>':
			b.WriteString("&gt;")
		case '"':
			b.WriteString("&quot;")
		case '\'':
			b.WriteString("&#039;")
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

// entityLen returns the length of the character reference at the start of
// s (&name; &#123; &#x1F;), or 0 if s does not start with one.
func entityLen(s string) int {
	if len(s) < 3 || s[0] != '&' {
		return 0
	}
	i := 1
	switch {
	case s[1] == '#' && len(s) > 2 && (s[2] == 'x' || s[2] == 'X'):
		i = 3
		start := i
		for i < len(s) && isHex(s[i]) {
			i++
		}
		if i == start {
			return 0
		}
	case s[1] == '#':
		i = 2
		start := i
		for i < len(s) && s[i] >= '0' && s[i] <= '9' {
			i++
		}
		if i == start {
			return 0
		}
	default:
		start := i
		for i < len(s) && isAlnum(s[i]) {
			i++
		}
		if i == start {
			return 0
		}
	}
	if i >= len(s) || s[i] != ';' {
		return 0
	}
	return i + 1
}

func isHex(c byte) bool {
	return (c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')
}

func isAlnum(c byte) bool {
	return (c >= '0' && c <= '9') || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}
