package account

import "strings"

// NormalizePhone converts the various phone formats operators type into the
// stored digits-only form with country prefix:
//
//	"0812..."  -> "62812..."
//	"812..."   -> "62812..."
//	"+62812.." -> "62812..."
//	"62812.."  -> "62812..."
//
// Anything without digits normalizes to "".
func NormalizePhone(raw string) string {
	var b strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()
	switch {
	case digits == "":
		return ""
	case strings.HasPrefix(digits, "0"):
		return "62" + digits[1:]
	case strings.HasPrefix(digits, "8"):
		return "62" + digits
	default:
		return digits
	}
}

// DisplayPhone converts a stored normalized phone into the form shown to
// operators and passed to the runner CLI (without the country prefix).
func DisplayPhone(normalized string) string {
	if strings.HasPrefix(normalized, "62") {
		return normalized[2:]
	}
	return normalized
}
