// Package pipeline drives the multi-phase crawl: industry discovery,
// link collection, detail pages, extraction, contact pages, email
// extraction and the final CSV export.
package pipeline

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/openbizdata/dircrawler/internal/checkpoint"
	"github.com/openbizdata/dircrawler/internal/crawler"
	"github.com/openbizdata/dircrawler/internal/export"
	"github.com/openbizdata/dircrawler/internal/extract"
	"github.com/openbizdata/dircrawler/internal/metrics"
	"github.com/openbizdata/dircrawler/internal/tasks"
)

// LinkCollector is the slice of the link engine the driver uses.
type LinkCollector interface {
	Industries(ctx context.Context, baseURL string) ([]crawler.Industry, error)
	CollectLinks(ctx context.Context, baseURL string, industry crawler.Industry) ([]string, error)
}

// DetailFetcher renders one company detail page.
type DetailFetcher interface {
	FetchHTML(ctx context.Context, pageURL string) (string, error)
}

// ContactFetcher retrieves the first reachable contact page for a company.
type ContactFetcher interface {
	FetchContactPage(ctx context.Context, company crawler.CompanyDetails) (crawler.ContactPage, bool)
}

// Config sets wave sizes and per-phase timeouts.
type Config struct {
	BaseURL          string
	WaveSize         int
	LinkTimeout      time.Duration
	RetryLinkTimeout time.Duration
	MinLinks         int
	DetailTimeout    time.Duration
	ContactTimeout   time.Duration
	BatchSize        int
	ExportPath       string
}

func (c Config) withDefaults() Config {
	if c.WaveSize <= 0 {
		c.WaveSize = 5
	}
	if c.LinkTimeout <= 0 {
		c.LinkTimeout = 5 * time.Minute
	}
	if c.RetryLinkTimeout <= 0 {
		c.RetryLinkTimeout = 2 * c.LinkTimeout
	}
	if c.MinLinks <= 0 {
		c.MinLinks = 10
	}
	if c.DetailTimeout <= 0 {
		c.DetailTimeout = 90 * time.Second
	}
	if c.ContactTimeout <= 0 {
		c.ContactTimeout = 60 * time.Second
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 50
	}
	return c
}

// Summary reports what each phase accomplished.
type Summary struct {
	Industries       int      `json:"industries"`
	LinksCollected   int      `json:"links_collected"`
	IndustriesFailed int      `json:"industries_failed"`
	EmptyIndustries  []string `json:"empty_industries,omitempty"`
	DetailsFetched   int      `json:"details_fetched"`
	DetailsFailed    int      `json:"details_failed"`
	DetailsExtracted int      `json:"details_extracted"`
	ContactsFetched  int      `json:"contacts_fetched"`
	EmailResults     int      `json:"email_results"`
	RowsExported     int      `json:"rows_exported"`
}

// Driver runs the phases in order against shared collaborators.
type Driver struct {
	engine      LinkCollector
	details     DetailFetcher
	contacts    ContactFetcher
	store       crawler.RecordStore
	checkpoints *checkpoint.Store
	runner      *tasks.Runner
	selectors   extract.DetailSelectors
	logger      *zap.Logger
	cfg         Config
}

// NewDriver constructs the driver. checkpoints may be nil to disable
// checkpointing.
func NewDriver(
	engine LinkCollector,
	details DetailFetcher,
	contacts ContactFetcher,
	store crawler.RecordStore,
	checkpoints *checkpoint.Store,
	runner *tasks.Runner,
	selectors extract.DetailSelectors,
	cfg Config,
	logger *zap.Logger,
) *Driver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Driver{
		engine:      engine,
		details:     details,
		contacts:    contacts,
		store:       store,
		checkpoints: checkpoints,
		runner:      runner,
		selectors:   selectors,
		logger:      logger,
		cfg:         cfg.withDefaults(),
	}
}

// Run executes all phases. Unit failures degrade and are counted in
// the summary; only failures that leave nothing to work on abort.
func (d *Driver) Run(ctx context.Context) (Summary, error) {
	var sum Summary

	industries, err := d.engine.Industries(ctx, d.cfg.BaseURL)
	if err != nil {
		return sum, fmt.Errorf("enumerate industries: %w", err)
	}
	sum.Industries = len(industries)
	d.logger.Info("industries enumerated", zap.Int("count", len(industries)))

	links := d.collectAllLinks(ctx, industries, &sum)
	sum.LinksCollected = len(links)

	d.fetchDetails(ctx, links, &sum)
	d.extractDetails(ctx, &sum)
	d.fetchContacts(ctx, &sum)
	d.extractEmails(ctx, &sum)

	if d.cfg.ExportPath != "" {
		rows, err := export.WriteCSVFile(ctx, d.store, d.cfg.ExportPath, d.logger)
		if err != nil {
			return sum, fmt.Errorf("export csv: %w", err)
		}
		sum.RowsExported = rows
	}
	return sum, ctx.Err()
}

type linkOutcome struct {
	industry crawler.Industry
	links    []string
	err      error
}

// collectAllLinks runs the link phase in waves, checkpoints each
// industry, and gives failed or suspiciously small industries one
// retry pass with a longer timeout.
func (d *Driver) collectAllLinks(ctx context.Context, industries []crawler.Industry, sum *Summary) []crawler.LinkRecord {
	collected := make(map[string]crawler.LinkRecord)
	perIndustry := make(map[string]int)

	var retry []crawler.Industry
	pending := industries
	for pass := 1; pass <= 2; pass++ {
		timeout := d.cfg.LinkTimeout
		if pass == 2 {
			timeout = d.cfg.RetryLinkTimeout
		}
		for start := 0; start < len(pending); start += d.cfg.WaveSize {
			end := min(start+d.cfg.WaveSize, len(pending))
			wave := pending[start:end]
			for _, out := range d.runLinkWave(ctx, wave, pass, timeout) {
				n := d.recordLinkOutcome(out, pass, collected)
				perIndustry[out.industry.Name] += n
				if out.err != nil || perIndustry[out.industry.Name] < d.cfg.MinLinks {
					if pass == 1 {
						retry = append(retry, out.industry)
					} else if out.err != nil {
						sum.IndustriesFailed++
					}
				}
			}
			if ctx.Err() != nil {
				break
			}
		}
		if ctx.Err() != nil || len(retry) == 0 {
			break
		}
		d.logger.Info("retrying industries with longer timeout",
			zap.Int("count", len(retry)), zap.Duration("timeout", timeout))
		pending, retry = retry, nil
	}

	for _, ind := range industries {
		if perIndustry[ind.Name] == 0 {
			sum.EmptyIndustries = append(sum.EmptyIndustries, ind.Name)
		}
	}
	sort.Strings(sum.EmptyIndustries)

	records := make([]crawler.LinkRecord, 0, len(collected))
	for _, rec := range collected {
		records = append(records, rec)
	}
	sort.Slice(records, func(i, j int) bool { return records[i].URL < records[j].URL })
	return records
}

func (d *Driver) runLinkWave(ctx context.Context, wave []crawler.Industry, pass int, timeout time.Duration) []linkOutcome {
	results := make([]*tasks.Result, len(wave))
	outcomes := make([]linkOutcome, len(wave))
	for i, ind := range wave {
		ind := ind
		outcomes[i].industry = ind
		if cached, ok := d.loadCheckpoint(ind, pass); ok {
			outcomes[i].links = cached
			continue
		}
		results[i] = d.submit(fmt.Sprintf("links_%s_pass%d", ind.ID, pass), func(tctx context.Context) (any, error) {
			return d.engine.CollectLinks(tctx, d.cfg.BaseURL, ind)
		})
	}
	for i, res := range results {
		if res == nil {
			continue
		}
		val, err := res.Await(ctx, timeout)
		if err != nil {
			outcomes[i].err = err
			continue
		}
		outcomes[i].links, _ = val.([]string)
	}
	return outcomes
}

// loadCheckpoint returns previously collected links for an industry
// so a restarted run skips the browser work.
func (d *Driver) loadCheckpoint(ind crawler.Industry, pass int) ([]string, bool) {
	if d.checkpoints == nil {
		return nil, false
	}
	recs, ok, err := d.checkpoints.Load(ind.Name, pass)
	if err != nil || !ok {
		return nil, false
	}
	links := make([]string, 0, len(recs))
	for _, rec := range recs {
		links = append(links, rec.URL)
	}
	return links, true
}

func (d *Driver) recordLinkOutcome(out linkOutcome, pass int, collected map[string]crawler.LinkRecord) int {
	if out.err != nil {
		d.logger.Warn("link collection failed",
			zap.String("industry", out.industry.Name),
			zap.Int("pass", pass),
			zap.Error(out.err))
		return 0
	}
	added := 0
	recs := make([]crawler.LinkRecord, 0, len(out.links))
	for _, u := range out.links {
		rec := crawler.LinkRecord{URL: u, Industry: out.industry.Name}
		recs = append(recs, rec)
		if _, seen := collected[u]; !seen {
			collected[u] = rec
			added++
		}
	}
	metrics.ObserveLinksCollected(out.industry.Name, len(out.links))
	if d.checkpoints != nil && len(recs) > 0 {
		if err := d.checkpoints.Save(out.industry.Name, pass, recs); err != nil {
			d.logger.Warn("checkpoint save failed",
				zap.String("industry", out.industry.Name), zap.Error(err))
		}
	}
	return len(out.links)
}

// fetchDetails renders each not-yet-stored link and persists the HTML.
func (d *Driver) fetchDetails(ctx context.Context, links []crawler.LinkRecord, sum *Summary) {
	if d.details == nil || len(links) == 0 {
		return
	}
	urls := make([]string, 0, len(links))
	for _, rec := range links {
		urls = append(urls, rec.URL)
	}
	existing, err := d.store.DetailExistsBatch(ctx, urls)
	if err != nil {
		d.logger.Warn("detail existence check failed", zap.Error(err))
		existing = map[string]bool{}
	}

	fresh := make([]crawler.LinkRecord, 0, len(links))
	for _, rec := range links {
		if !existing[rec.URL] {
			fresh = append(fresh, rec)
		}
	}
	d.logger.Info("fetching detail pages",
		zap.Int("total", len(links)), zap.Int("new", len(fresh)))

	for start := 0; start < len(fresh); start += d.cfg.WaveSize {
		end := min(start+d.cfg.WaveSize, len(fresh))
		wave := fresh[start:end]
		results := make([]*tasks.Result, len(wave))
		for i, rec := range wave {
			rec := rec
			results[i] = d.submit("detail_"+rec.URL, func(tctx context.Context) (any, error) {
				html, err := d.details.FetchHTML(tctx, rec.URL)
				if err != nil {
					return nil, err
				}
				_, err = d.store.StoreDetailHTML(tctx, crawler.DetailPage{
					CompanyName: rec.Name,
					URL:         rec.URL,
					Industry:    rec.Industry,
					HTML:        html,
					CrawledAt:   time.Now(),
				})
				return nil, err
			})
		}
		for i, res := range results {
			if res == nil {
				sum.DetailsFailed++
				continue
			}
			if _, err := res.Await(ctx, d.cfg.DetailTimeout); err != nil {
				sum.DetailsFailed++
				metrics.ObservePageFetch("detail", "error")
				d.logger.Warn("detail fetch failed",
					zap.String("url", wave[i].URL), zap.Error(err))
				continue
			}
			sum.DetailsFetched++
			metrics.ObservePageFetch("detail", "ok")
		}
		if ctx.Err() != nil {
			return
		}
	}
}

// extractDetails parses pending detail pages into structured records.
func (d *Driver) extractDetails(ctx context.Context, sum *Summary) {
	attempted := make(map[int64]bool)
	for {
		batch, err := d.store.PendingDetails(ctx, d.cfg.BatchSize)
		if err != nil {
			d.logger.Warn("loading pending details failed", zap.Error(err))
			return
		}
		pages := freshPages(batch, attempted, func(p crawler.DetailPage) int64 { return p.ID })
		if len(pages) == 0 {
			return
		}
		for _, page := range pages {
			details, err := extract.CompanyDetails(page, d.selectors)
			status := crawler.StatusProcessed
			if err != nil {
				status = crawler.StatusFailed
				d.logger.Warn("detail extraction failed",
					zap.String("url", page.URL), zap.Error(err))
			} else if err := d.store.StoreCompanyDetails(ctx, details); err != nil {
				status = crawler.StatusFailed
				d.logger.Warn("storing company details failed",
					zap.String("url", page.URL), zap.Error(err))
			} else {
				sum.DetailsExtracted++
			}
			if err := d.store.UpdateDetailStatus(ctx, page.ID, status); err != nil {
				d.logger.Warn("detail status update failed",
					zap.Int64("id", page.ID), zap.Error(err))
			}
		}
		if ctx.Err() != nil {
			return
		}
	}
}

// fetchContacts pulls contact pages for companies with a website or
// facebook presence.
func (d *Driver) fetchContacts(ctx context.Context, sum *Summary) {
	if d.contacts == nil {
		return
	}
	attempted := make(map[int64]bool)
	for {
		batch, err := d.store.CompaniesForContactCrawl(ctx, d.cfg.BatchSize)
		if err != nil {
			d.logger.Warn("loading contact candidates failed", zap.Error(err))
			return
		}
		// Failed companies stay in the candidate query; skip them so
		// the loop terminates.
		companies := freshPages(batch, attempted, func(c crawler.CompanyDetails) int64 { return c.DetailID })
		if len(companies) == 0 {
			return
		}
		for start := 0; start < len(companies); start += d.cfg.WaveSize {
			end := min(start+d.cfg.WaveSize, len(companies))
			wave := companies[start:end]
			results := make([]*tasks.Result, len(wave))
			for i, company := range wave {
				company := company
				results[i] = d.submit("contact_"+company.Name, func(tctx context.Context) (any, error) {
					page, ok := d.contacts.FetchContactPage(tctx, company)
					if !ok {
						return nil, fmt.Errorf("no reachable contact page for %q", company.Name)
					}
					_, err := d.store.StoreContactHTML(tctx, page)
					return nil, err
				})
			}
			for i, res := range results {
				if res == nil {
					continue
				}
				if _, err := res.Await(ctx, d.cfg.ContactTimeout); err != nil {
					metrics.ObservePageFetch("contact", "error")
					d.logger.Debug("contact fetch failed",
						zap.String("company", wave[i].Name), zap.Error(err))
					continue
				}
				sum.ContactsFetched++
				metrics.ObservePageFetch("contact", "ok")
			}
			if ctx.Err() != nil {
				return
			}
		}
		if len(batch) < d.cfg.BatchSize {
			return
		}
	}
}

// extractEmails scans pending contact pages and stores the results.
func (d *Driver) extractEmails(ctx context.Context, sum *Summary) {
	attempted := make(map[int64]bool)
	for {
		batch, err := d.store.PendingContacts(ctx, d.cfg.BatchSize)
		if err != nil {
			d.logger.Warn("loading pending contacts failed", zap.Error(err))
			return
		}
		pages := freshPages(batch, attempted, func(p crawler.ContactPage) int64 { return p.ID })
		if len(pages) == 0 {
			return
		}
		for _, page := range pages {
			emails := extract.ExtractEmails(page.HTML)
			status := crawler.StatusProcessed
			if len(emails) > 0 {
				result := crawler.EmailResult{
					ContactID:   page.ID,
					CompanyName: page.CompanyName,
					Emails:      emails,
					Source:      string(page.URLType),
				}
				if err := d.store.StoreEmailResult(ctx, result); err != nil {
					status = crawler.StatusFailed
					d.logger.Warn("storing email result failed",
						zap.Int64("contact_id", page.ID), zap.Error(err))
				} else {
					sum.EmailResults++
				}
			}
			if err := d.store.UpdateContactStatus(ctx, page.ID, status); err != nil {
				d.logger.Warn("contact status update failed",
					zap.Int64("id", page.ID), zap.Error(err))
			}
		}
		if ctx.Err() != nil {
			return
		}
	}
}

// freshPages filters out pages already attempted in this run so a
// store that keeps returning a failed record cannot stall a phase.
func freshPages[T any](batch []T, attempted map[int64]bool, id func(T) int64) []T {
	fresh := batch[:0:0]
	for _, item := range batch {
		if !attempted[id(item)] {
			attempted[id(item)] = true
			fresh = append(fresh, item)
		}
	}
	return fresh
}

// submit enqueues a task, falling back to inline execution when the
// queue is full so a wave never silently drops work.
func (d *Driver) submit(name string, task tasks.Task) *tasks.Result {
	res, err := d.runner.Submit(name, task)
	if err != nil {
		d.logger.Warn("task submit failed, running inline",
			zap.String("task", name), zap.Error(err))
		return tasks.RunInline(name, task)
	}
	return res
}
