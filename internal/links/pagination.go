// Package links implements adaptive link collection: pagination
// discovery, bounded concurrent page fetches, dedup, and extension
// past the baseline estimate until convergence.
package links

import (
	"fmt"
	"net/url"
	"regexp"
	"strconv"
)

// PageURL rewrites or inserts the page query parameter on a filtered
// listing URL. Invalid URLs fall back to naive appending so a single
// odd URL does not abort a collection pass.
func PageURL(filteredURL string, page int) string {
	u, err := url.Parse(filteredURL)
	if err != nil {
		sep := "?"
		if hasQuery(filteredURL) {
			sep = "&"
		}
		return fmt.Sprintf("%s%spage=%d", filteredURL, sep, page)
	}
	q := u.Query()
	q.Set("page", strconv.Itoa(page))
	u.RawQuery = q.Encode()
	return u.String()
}

func hasQuery(raw string) bool {
	for _, r := range raw {
		if r == '?' {
			return true
		}
	}
	return false
}

// PageURLs builds the candidate URLs 1..total for the first pass.
func PageURLs(filteredURL string, total int) []string {
	if total < 1 {
		total = 1
	}
	urls := make([]string, 0, total)
	for page := 1; page <= total; page++ {
		urls = append(urls, PageURL(filteredURL, page))
	}
	return urls
}

var numberRe = regexp.MustCompile(`\d+`)

// MaxPageNumber extracts the largest page number from rendered
// pagination labels. Labels with no digits (next/prev arrows, ellipsis)
// are ignored. Returns 1 when nothing parses, since a missing
// pagination control means a single page.
func MaxPageNumber(labels []string) int {
	max := 1
	for _, label := range labels {
		for _, match := range numberRe.FindAllString(label, -1) {
			n, err := strconv.Atoi(match)
			if err != nil {
				continue
			}
			if n > max {
				max = n
			}
		}
	}
	return max
}
