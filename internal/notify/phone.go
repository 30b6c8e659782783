package notify

import "strings"

// NormalizePhone rewrites Kenyan numbers into +254 form and leaves anything
// else untouched.
func NormalizePhone(phone string) string {
	p := strings.NewReplacer(" ", "", "-", "").Replace(strings.TrimSpace(phone))
	switch {
	case p == "" || strings.HasPrefix(p, "+"):
		return p
	case strings.HasPrefix(p, "0") && len(p) == 10:
		return "+254" + p[1:]
	case strings.HasPrefix(p, "254") && len(p) == 12:
		return "+" + p
	}
	return p
}
