package extract

import (
	"regexp"
	"strings"
)

var (
	emailRe = regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`)

	// Patterns that regularly false-positive in page source: placeholder
	// addresses, no-reply senders, and version-tagged asset names.
	invalidEmailRes = []*regexp.Regexp{
		regexp.MustCompile(`noreply@`),
		regexp.MustCompile(`no-reply@`),
		regexp.MustCompile(`example\.com`),
		regexp.MustCompile(`@\d+\.\d+`),
	}

	assetSuffixes = []string{".png", ".jpg", ".jpeg", ".gif", ".webp", ".svg", ".css", ".js"}
)

// maxEmailsPerPage caps how many emails one contact page contributes.
const maxEmailsPerPage = 3

// ExtractEmails scans HTML for email addresses, drops known false
// positives, and returns up to three unique addresses in discovery
// order.
func ExtractEmails(html string) []string {
	seen := make(map[string]struct{})
	var emails []string
	for _, match := range emailRe.FindAllString(html, -1) {
		email := strings.TrimSpace(match)
		lower := strings.ToLower(email)
		if _, ok := seen[lower]; ok {
			continue
		}
		if !validEmail(lower) {
			continue
		}
		seen[lower] = struct{}{}
		emails = append(emails, email)
		if len(emails) == maxEmailsPerPage {
			break
		}
	}
	return emails
}

func validEmail(lower string) bool {
	for _, re := range invalidEmailRes {
		if re.MatchString(lower) {
			return false
		}
	}
	for _, suffix := range assetSuffixes {
		if strings.HasSuffix(lower, suffix) {
			return false
		}
	}
	return true
}
