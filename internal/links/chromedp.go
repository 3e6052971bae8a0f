package links

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/openbizdata/dircrawler/internal/browser"
	"github.com/openbizdata/dircrawler/internal/crawler"
)

// Selectors locate the target site's filter widget and listing markup.
// They arrive from configuration so a markup change is a config change.
type Selectors struct {
	IndustryDropdown string
	DropdownSearch   string
	DropdownResults  string
	DropdownOption   string
	ApplyButton      string
	CompanyLink      string
	PaginationItem   string
}

// DefaultSelectors matches the directory's select2-based filter UI.
func DefaultSelectors() Selectors {
	return Selectors{
		IndustryDropdown: "span.select2-selection",
		DropdownSearch:   "input.select2-search__field",
		DropdownResults:  "ul.select2-results__options",
		DropdownOption:   "li.select2-results__option",
		ApplyButton:      "button.btn-filter",
		CompanyLink:      "div.company-name a",
		PaginationItem:   "ul.pagination li a",
	}
}

// ChromeDriver implements PageDriver on a session from the browser
// pool. Every call gets its own tab with a fresh fingerprint.
type ChromeDriver struct {
	pool      *browser.Pool
	selectors Selectors
	owner     string
	logger    *zap.Logger
	settle    time.Duration
}

// NewChromeDriver constructs the production driver. owner keys the
// pool's browser reuse across calls from the same collection run.
func NewChromeDriver(pool *browser.Pool, selectors Selectors, owner string, logger *zap.Logger) *ChromeDriver {
	return &ChromeDriver{
		pool:      pool,
		selectors: selectors,
		owner:     owner,
		logger:    logger,
		settle:    500 * time.Millisecond,
	}
}

// Industries opens the filter dropdown and scrolls its virtualized
// option list until the option count stops growing, then reads every
// (id, name) pair.
func (d *ChromeDriver) Industries(ctx context.Context, baseURL string) ([]crawler.Industry, error) {
	session, err := d.pool.AcquireSession(ctx, d.owner, browser.RandomProfile())
	if err != nil {
		return nil, err
	}
	defer session.Close()

	tabCtx, cancel := d.boundTab(ctx, session)
	defer cancel()

	if err := d.openDropdown(tabCtx, baseURL); err != nil {
		return nil, err
	}
	if err := d.scrollOptionsUntilStable(tabCtx); err != nil {
		return nil, err
	}

	var raw []map[string]string
	script := fmt.Sprintf(
		`Array.from(document.querySelectorAll(%q)).map(o => ({id: o.getAttribute("data-value") || o.id || "", name: (o.textContent || "").trim()}))`,
		d.selectors.DropdownOption,
	)
	if err := chromedp.Run(tabCtx, chromedp.Evaluate(script, &raw)); err != nil {
		return nil, fmt.Errorf("read industry options: %w", err)
	}

	industries := make([]crawler.Industry, 0, len(raw))
	for _, item := range raw {
		name := item["name"]
		if name == "" {
			continue
		}
		id := item["id"]
		if id == "" {
			id = name
		}
		industries = append(industries, crawler.Industry{ID: id, Name: name})
	}
	return industries, nil
}

// FilterByIndustry applies the industry filter and reports the
// resulting URL plus the pagination control's page count.
func (d *ChromeDriver) FilterByIndustry(ctx context.Context, baseURL string, industry crawler.Industry) (FilterResult, error) {
	session, err := d.pool.AcquireSession(ctx, d.owner, browser.RandomProfile())
	if err != nil {
		return FilterResult{}, err
	}
	defer session.Close()

	tabCtx, cancel := d.boundTab(ctx, session)
	defer cancel()

	if err := d.openDropdown(tabCtx, baseURL); err != nil {
		return FilterResult{}, err
	}

	if err := chromedp.Run(tabCtx,
		chromedp.SendKeys(d.selectors.DropdownSearch, industry.Name, chromedp.ByQuery),
		chromedp.Sleep(d.settle),
	); err != nil {
		return FilterResult{}, fmt.Errorf("search industry %q: %w", industry.Name, err)
	}

	index, err := d.matchOption(tabCtx, industry.Name)
	if err != nil {
		return FilterResult{}, err
	}

	clickOption := fmt.Sprintf(`document.querySelectorAll(%q)[%d].click()`, d.selectors.DropdownOption, index)
	var filteredURL string
	var labels []string
	paginationScript := fmt.Sprintf(
		`Array.from(document.querySelectorAll(%q)).map(a => (a.textContent || "").trim())`,
		d.selectors.PaginationItem,
	)
	if err := chromedp.Run(tabCtx,
		chromedp.Evaluate(clickOption, nil),
		chromedp.Click(d.selectors.ApplyButton, chromedp.ByQuery),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(d.settle),
		chromedp.Location(&filteredURL),
		chromedp.Evaluate(paginationScript, &labels),
	); err != nil {
		return FilterResult{}, fmt.Errorf("apply filter %q: %w", industry.Name, err)
	}

	return FilterResult{
		FilteredURL: filteredURL,
		TotalPages:  MaxPageNumber(labels),
	}, nil
}

// FetchPageLinks loads one listing page and pulls company hrefs. The
// wait degrades gracefully: readiness first, a short settle after, and
// whatever rendered by then is what we take.
func (d *ChromeDriver) FetchPageLinks(ctx context.Context, pageURL string) ([]string, error) {
	session, err := d.pool.AcquireSession(ctx, d.owner, browser.RandomProfile())
	if err != nil {
		return nil, err
	}
	defer session.Close()

	tabCtx, cancel := d.boundTab(ctx, session)
	defer cancel()

	if err := chromedp.Run(tabCtx, chromedp.Navigate(pageURL)); err != nil {
		return nil, fmt.Errorf("navigate %s: %w", pageURL, err)
	}
	if err := chromedp.Run(tabCtx,
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(d.settle),
	); err != nil {
		d.logger.Debug("readiness wait timed out, extracting anyway", zap.String("url", pageURL))
	}

	var hrefs []string
	script := fmt.Sprintf(
		`Array.from(document.querySelectorAll(%q)).map(a => a.href).filter(h => h)`,
		d.selectors.CompanyLink,
	)
	if err := chromedp.Run(tabCtx, chromedp.Evaluate(script, &hrefs)); err != nil {
		return nil, fmt.Errorf("extract links from %s: %w", pageURL, err)
	}
	return hrefs, nil
}

// boundTab ties the session's tab context to the caller's deadline.
func (d *ChromeDriver) boundTab(ctx context.Context, session *browser.Session) (context.Context, context.CancelFunc) {
	tabCtx := session.Context()
	if deadline, ok := ctx.Deadline(); ok {
		return context.WithDeadline(tabCtx, deadline)
	}
	return context.WithCancel(tabCtx)
}

func (d *ChromeDriver) openDropdown(tabCtx context.Context, baseURL string) error {
	err := chromedp.Run(tabCtx,
		chromedp.Navigate(baseURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(d.settle),
		chromedp.Click(d.selectors.IndustryDropdown, chromedp.ByQuery),
		chromedp.WaitVisible(d.selectors.DropdownResults, chromedp.ByQuery),
	)
	if err != nil {
		return fmt.Errorf("open industry dropdown: %w", err)
	}
	return nil
}

// scrollOptionsUntilStable keeps scrolling the virtualized result list
// until two consecutive reads see the same option count.
func (d *ChromeDriver) scrollOptionsUntilStable(tabCtx context.Context) error {
	countScript := fmt.Sprintf(`document.querySelectorAll(%q).length`, d.selectors.DropdownOption)
	scrollScript := fmt.Sprintf(
		`(() => { const el = document.querySelector(%q); if (el) { el.scrollTop = el.scrollHeight; } })()`,
		d.selectors.DropdownResults,
	)

	prev := -1
	for {
		var count int
		if err := chromedp.Run(tabCtx,
			chromedp.Evaluate(scrollScript, nil),
			chromedp.Sleep(d.settle),
			chromedp.Evaluate(countScript, &count),
		); err != nil {
			return fmt.Errorf("scroll industry options: %w", err)
		}
		if count == prev {
			return nil
		}
		prev = count
	}
}

// matchOption finds the dropdown option whose normalized text equals
// name, falling back to substring containment.
func (d *ChromeDriver) matchOption(tabCtx context.Context, name string) (int, error) {
	var texts []string
	script := fmt.Sprintf(
		`Array.from(document.querySelectorAll(%q)).map(o => (o.textContent || "").trim())`,
		d.selectors.DropdownOption,
	)
	if err := chromedp.Run(tabCtx, chromedp.Evaluate(script, &texts)); err != nil {
		return 0, fmt.Errorf("read dropdown options: %w", err)
	}

	if idx, ok := matchIndustryOption(texts, name); ok {
		return idx, nil
	}
	return 0, fmt.Errorf("industry %q not found among %d options", name, len(texts))
}

func matchIndustryOption(texts []string, name string) (int, bool) {
	want := normalizeOption(name)
	for i, text := range texts {
		if normalizeOption(text) == want {
			return i, true
		}
	}
	for i, text := range texts {
		if strings.Contains(normalizeOption(text), want) {
			return i, true
		}
	}
	return 0, false
}

func normalizeOption(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}
