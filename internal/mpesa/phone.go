package mpesa

import "strings"

// FormatMSISDN converts local and international Kenyan numbers into the
// 2547XXXXXXXX form the provider expects.
func FormatMSISDN(phone string) string {
	p := strings.TrimSpace(phone)
	p = strings.NewReplacer(" ", "", "-", "").Replace(p)
	p = strings.TrimPrefix(p, "+")
	switch {
	case p == "":
		return ""
	case strings.HasPrefix(p, "0"):
		return "254" + p[1:]
	case strings.HasPrefix(p, "254"):
		return p
	default:
		return "254" + p
	}
}
