// Package extract turns stored HTML into structured company records:
// detail-page field extraction, phone normalization, and email
// scraping from contact pages.
package extract

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/openbizdata/dircrawler/internal/crawler"
)

// DetailSelectors locate the fields on a company detail page. They
// come from configuration alongside the listing selectors.
type DetailSelectors struct {
	Name            string
	Address         string
	AddressFallback string
	Phone           string
	Website         string
	SocialLinks     string
}

// DefaultDetailSelectors matches the directory's detail-page markup.
func DefaultDetailSelectors() DetailSelectors {
	return DetailSelectors{
		Name:            "h1.company-title",
		Address:         "div.company-address",
		AddressFallback: "div.contact-info p.address",
		Phone:           "div.company-phone a",
		Website:         "div.company-website a",
		SocialLinks:     "div.social-links a",
	}
}

// CompanyDetails parses one stored detail page. Missing fields stay
// empty; only unparseable HTML is an error.
func CompanyDetails(page crawler.DetailPage, sel DetailSelectors) (crawler.CompanyDetails, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(page.HTML))
	if err != nil {
		return crawler.CompanyDetails{}, fmt.Errorf("parse detail html for %q: %w", page.URL, err)
	}

	details := crawler.CompanyDetails{
		DetailID: page.ID,
		Name:     firstText(doc, sel.Name),
		URL:      page.URL,
		Industry: page.Industry,
		Address:  firstText(doc, sel.Address),
		Phone:    NormalizePhone(firstText(doc, sel.Phone)),
		Website:  firstHref(doc, sel.Website),
	}
	if details.Name == "" {
		details.Name = page.CompanyName
	}
	if details.Address == "" {
		details.Address = firstText(doc, sel.AddressFallback)
	}

	doc.Find(sel.SocialLinks).Each(func(_ int, s *goquery.Selection) {
		href, ok := s.Attr("href")
		if !ok {
			return
		}
		href = strings.TrimSpace(href)
		lower := strings.ToLower(href)
		switch {
		case strings.Contains(lower, "facebook.com") && details.Facebook == "":
			details.Facebook = href
		case strings.Contains(lower, "linkedin.com") && details.LinkedIn == "":
			details.LinkedIn = href
		case strings.Contains(lower, "instagram.com") && details.Instagram == "":
			details.Instagram = href
		case strings.Contains(lower, "youtube.com") && details.YouTube == "":
			details.YouTube = href
		}
	})

	return details, nil
}

func firstText(doc *goquery.Document, selector string) string {
	if selector == "" {
		return ""
	}
	return strings.TrimSpace(doc.Find(selector).First().Text())
}

func firstHref(doc *goquery.Document, selector string) string {
	if selector == "" {
		return ""
	}
	href, _ := doc.Find(selector).First().Attr("href")
	return strings.TrimSpace(href)
}
