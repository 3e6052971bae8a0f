package extract

import "strings"

// NormalizePhone maps the messy phone strings the directory renders
// onto an E.164-style +84 form. Vietnamese numbers missing their
// country code get it added; anything that cannot be shaped into a
// plausible number comes back empty.
func NormalizePhone(raw string) string {
	var b strings.Builder
	for i, r := range strings.TrimSpace(raw) {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '+' && i == 0:
			b.WriteRune(r)
		}
	}
	cleaned := b.String()
	if cleaned == "" || cleaned == "+" {
		return ""
	}

	hasPlus := strings.HasPrefix(cleaned, "+")
	digits := strings.TrimPrefix(cleaned, "+")

	switch {
	case hasPlus:
		if len(digits) < 9 || len(digits) > 15 {
			return ""
		}
		return cleaned
	case len(digits) == 9:
		// Mobile number with the leading zero and country code both
		// stripped, the most common form in the source data.
		return "+84" + digits
	case strings.HasPrefix(digits, "84") && len(digits) >= 11:
		return "+" + digits
	case strings.HasPrefix(digits, "0") && (len(digits) == 10 || len(digits) == 11):
		return "+84" + digits[1:]
	case len(digits) > 10 && len(digits) <= 15:
		return "+" + digits
	default:
		return ""
	}
}
