// Package fetch retrieves raw page HTML for the detail and contact
// phases: detail pages through the browser pool, contact pages through
// a plain HTTP collector.
package fetch

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/openbizdata/dircrawler/internal/browser"
	"github.com/openbizdata/dircrawler/internal/crawler"
)

// ContactConfig controls the contact-page collector.
type ContactConfig struct {
	Timeout          time.Duration
	Delay            time.Duration
	RandomDelay      time.Duration
	Parallelism      int
	DeepPaths        []string
	FacebookVariants []string
}

func (c ContactConfig) withDefaults() ContactConfig {
	if c.Timeout <= 0 {
		c.Timeout = 20 * time.Second
	}
	if c.Delay <= 0 {
		c.Delay = 1 * time.Second
	}
	if c.RandomDelay <= 0 {
		c.RandomDelay = 1 * time.Second
	}
	if c.Parallelism <= 0 {
		c.Parallelism = 2
	}
	if len(c.DeepPaths) == 0 {
		c.DeepPaths = []string{"", "/contact", "/contact-us", "/lien-he", "/about", "/about-us"}
	}
	if len(c.FacebookVariants) == 0 {
		c.FacebookVariants = []string{"", "/about", "/about_contact_and_basic_info"}
	}
	return c
}

// Candidate is one URL worth probing for contact information.
type Candidate struct {
	URL  string
	Type crawler.ContactURLType
}

// ContactCrawler fetches company websites and facebook pages over
// plain HTTP with per-domain rate limiting.
type ContactCrawler struct {
	cfg    ContactConfig
	base   *colly.Collector
	logger *zap.Logger
	now    func() time.Time
}

// NewContactCrawler builds the collector with its limit rule applied.
func NewContactCrawler(cfg ContactConfig, logger *zap.Logger) (*ContactCrawler, error) {
	cfg = cfg.withDefaults()

	base := colly.NewCollector(colly.Async(false))
	base.SetRequestTimeout(cfg.Timeout)
	base.IgnoreRobotsTxt = true
	err := base.Limit(&colly.LimitRule{
		DomainGlob:  "*",
		Delay:       cfg.Delay,
		RandomDelay: cfg.RandomDelay,
		Parallelism: cfg.Parallelism,
	})
	if err != nil {
		return nil, fmt.Errorf("configure rate limit: %w", err)
	}

	return &ContactCrawler{cfg: cfg, base: base, logger: logger, now: time.Now}, nil
}

// Candidates expands a company's website and facebook URLs into the
// deep paths worth probing, website first.
func (c *ContactCrawler) Candidates(company crawler.CompanyDetails) []Candidate {
	var candidates []Candidate
	if site := normalizeSite(company.Website); site != "" {
		for _, path := range c.cfg.DeepPaths {
			candidates = append(candidates, Candidate{URL: site + path, Type: crawler.ContactWebsite})
		}
	}
	if fb := normalizeSite(company.Facebook); fb != "" {
		for _, variant := range c.cfg.FacebookVariants {
			candidates = append(candidates, Candidate{URL: fb + variant, Type: crawler.ContactFacebook})
		}
	}
	return candidates
}

// FetchContactPage probes the company's candidates in order and
// returns the first page that yields HTML. ok is false when every
// candidate failed or the company has no URLs at all.
func (c *ContactCrawler) FetchContactPage(ctx context.Context, company crawler.CompanyDetails) (crawler.ContactPage, bool) {
	for _, candidate := range c.Candidates(company) {
		if ctx.Err() != nil {
			return crawler.ContactPage{}, false
		}
		html, err := c.fetch(candidate.URL)
		if err != nil {
			c.logger.Debug("contact candidate failed",
				zap.String("company", company.Name),
				zap.String("url", candidate.URL),
				zap.Error(err),
			)
			continue
		}
		return crawler.ContactPage{
			CompanyName: company.Name,
			URL:         candidate.URL,
			URLType:     candidate.Type,
			HTML:        html,
			CrawledAt:   c.now(),
		}, true
	}
	return crawler.ContactPage{}, false
}

func (c *ContactCrawler) fetch(pageURL string) (string, error) {
	collector := c.base.Clone()
	collector.UserAgent = browser.RandomProfile().UserAgent

	var html string
	var fetchErr error
	collector.OnResponse(func(r *colly.Response) {
		html = string(r.Body)
	})
	collector.OnError(func(_ *colly.Response, err error) {
		fetchErr = err
	})

	if err := collector.Visit(pageURL); err != nil {
		return "", fmt.Errorf("visit %s: %w", pageURL, err)
	}
	collector.Wait()

	if fetchErr != nil {
		return "", fmt.Errorf("fetch %s: %w", pageURL, fetchErr)
	}
	if strings.TrimSpace(html) == "" {
		return "", fmt.Errorf("fetch %s: empty body", pageURL)
	}
	return html, nil
}

// normalizeSite shapes stored URLs into a scheme-qualified base with
// no trailing slash. Placeholder values come back empty.
func normalizeSite(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" || strings.EqualFold(raw, "n/a") {
		return ""
	}
	if !strings.HasPrefix(raw, "http://") && !strings.HasPrefix(raw, "https://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return ""
	}
	return strings.TrimSuffix(raw, "/")
}
