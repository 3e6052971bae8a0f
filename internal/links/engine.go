package links

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/openbizdata/dircrawler/internal/crawler"
)

// FilterResult is what applying an industry filter yields: the URL the
// site settled on and the page count the pagination control claims.
type FilterResult struct {
	FilteredURL string
	TotalPages  int
}

// PageDriver performs the actual browser interactions. The production
// implementation drives chromedp through the browser pool.
type PageDriver interface {
	// Industries enumerates the filter dropdown's options.
	Industries(ctx context.Context, baseURL string) ([]crawler.Industry, error)
	// FilterByIndustry navigates to baseURL, applies the industry
	// filter, and reports the filtered URL plus the rendered page count.
	FilterByIndustry(ctx context.Context, baseURL string, industry crawler.Industry) (FilterResult, error)
	// FetchPageLinks loads one listing page and extracts company URLs.
	FetchPageLinks(ctx context.Context, pageURL string) ([]string, error)
}

// EvictionGate is the slice of the browser pool the engine holds open
// during a collection burst.
type EvictionGate interface {
	SuspendEvictions()
	ResumeEvictions()
}

// Config tunes the collection algorithm.
type Config struct {
	Concurrency     int
	WorkerRetries   int
	WorkerBackoff   time.Duration
	PageTimeout     time.Duration
	FilterTimeout   time.Duration
	EmptyPageStreak int
}

func (c Config) withDefaults() Config {
	if c.Concurrency <= 0 {
		c.Concurrency = 6
	}
	if c.WorkerRetries <= 0 {
		c.WorkerRetries = 3
	}
	if c.WorkerBackoff <= 0 {
		c.WorkerBackoff = 2 * time.Second
	}
	if c.PageTimeout <= 0 {
		c.PageTimeout = 30 * time.Second
	}
	if c.FilterTimeout <= 0 {
		c.FilterTimeout = 60 * time.Second
	}
	if c.EmptyPageStreak <= 0 {
		c.EmptyPageStreak = 2
	}
	return c
}

// Engine collects company links per industry: baseline estimate,
// bounded parallel first pass, then sequential extension pages until
// two consecutive pages contribute nothing new.
type Engine struct {
	driver     PageDriver
	gate       EvictionGate
	breakers   *crawler.BreakerManager
	classifier *crawler.Classifier
	logger     *zap.Logger
	cfg        Config

	mu           sync.Mutex
	breakerNames map[string]struct{}
	stats        Stats
}

// Stats counts what the engine has done since construction or the
// last Cleanup.
type Stats struct {
	IndustriesCollected int
	PagesFetched        int
	PagesDegraded       int
	LinksCollected      int
}

// NewEngine constructs the engine. gate may be nil when no pool is in
// play (tests, dry runs).
func NewEngine(driver PageDriver, gate EvictionGate, breakers *crawler.BreakerManager, classifier *crawler.Classifier, cfg Config, logger *zap.Logger) *Engine {
	return &Engine{
		driver:       driver,
		gate:         gate,
		breakers:     breakers,
		classifier:   classifier,
		logger:       logger,
		cfg:          cfg.withDefaults(),
		breakerNames: make(map[string]struct{}),
	}
}

// Industries enumerates the industry filter options, retrying
// transient failures.
func (e *Engine) Industries(ctx context.Context, baseURL string) ([]crawler.Industry, error) {
	var industries []crawler.Industry
	err := crawler.RunWithRetry(ctx, e.logger, e.classifier, func(ctx context.Context) error {
		var err error
		industries, err = e.driver.Industries(ctx, baseURL)
		return err
	}, crawler.RetryOptions{
		Name:       "enumerate_industries",
		MaxRetries: 2,
		Timeout:    e.cfg.FilterTimeout,
		Backoff:    e.cfg.WorkerBackoff,
	})
	if err != nil {
		return nil, fmt.Errorf("enumerate industries: %w", err)
	}
	e.logger.Info("industries enumerated", zap.Int("count", len(industries)))
	return industries, nil
}

// CollectLinks runs the full per-industry collection under the
// industry's circuit breaker and returns the deduplicated link list.
func (e *Engine) CollectLinks(ctx context.Context, baseURL string, industry crawler.Industry) ([]string, error) {
	var collected []string
	run := func(ctx context.Context) error {
		var err error
		collected, err = e.collect(ctx, baseURL, industry)
		return err
	}

	if e.breakers == nil {
		if err := run(ctx); err != nil {
			return nil, err
		}
		return collected, nil
	}

	name := fmt.Sprintf("industry_links_%s", industry.ID)
	e.mu.Lock()
	e.breakerNames[name] = struct{}{}
	e.mu.Unlock()

	breaker := e.breakers.Get(name)
	if err := breaker.Do(ctx, run); err != nil {
		return nil, err
	}
	return collected, nil
}

// Stats returns a copy of the engine's counters.
func (e *Engine) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stats
}

// Cleanup zeroes the counters and closes any industry breakers back to
// CLOSED, typically between passes of a long run.
func (e *Engine) Cleanup() {
	e.mu.Lock()
	names := make([]string, 0, len(e.breakerNames))
	for name := range e.breakerNames {
		names = append(names, name)
	}
	e.stats = Stats{}
	e.mu.Unlock()

	if e.breakers == nil {
		return
	}
	for _, name := range names {
		e.breakers.Reset(name)
	}
}

func (e *Engine) collect(ctx context.Context, baseURL string, industry crawler.Industry) ([]string, error) {
	filter, err := e.applyFilter(ctx, baseURL, industry)
	if err != nil {
		return nil, fmt.Errorf("filter industry %q: %w", industry.Name, err)
	}

	e.logger.Info("collection baseline",
		zap.String("industry", industry.Name),
		zap.Int("estimated_pages", filter.TotalPages),
	)

	if e.gate != nil {
		e.gate.SuspendEvictions()
		defer e.gate.ResumeEvictions()
	}

	set := newLinkSet()
	e.firstPass(ctx, filter, set)
	lastProbed := e.extend(ctx, filter, set)

	links := set.ordered()
	e.mu.Lock()
	e.stats.IndustriesCollected++
	e.stats.LinksCollected += len(links)
	e.mu.Unlock()

	e.logger.Info("collection converged",
		zap.String("industry", industry.Name),
		zap.Int("links", len(links)),
		zap.Int("pages_probed", lastProbed),
	)
	return links, nil
}

func (e *Engine) applyFilter(ctx context.Context, baseURL string, industry crawler.Industry) (FilterResult, error) {
	var filter FilterResult
	err := crawler.RunWithRetry(ctx, e.logger, e.classifier, func(ctx context.Context) error {
		var err error
		filter, err = e.driver.FilterByIndustry(ctx, baseURL, industry)
		return err
	}, crawler.RetryOptions{
		Name:       fmt.Sprintf("filter_%s", industry.ID),
		MaxRetries: 2,
		Timeout:    e.cfg.FilterTimeout,
		Backoff:    e.cfg.WorkerBackoff,
	})
	if err != nil {
		return FilterResult{}, err
	}
	if filter.TotalPages < 1 {
		filter.TotalPages = 1
	}
	return filter, nil
}

// firstPass fans out one worker per candidate page under the
// concurrency semaphore and merges everything into set.
func (e *Engine) firstPass(ctx context.Context, filter FilterResult, set *linkSet) {
	urls := PageURLs(filter.FilteredURL, filter.TotalPages)
	sem := make(chan struct{}, e.cfg.Concurrency)
	var wg sync.WaitGroup

	for _, pageURL := range urls {
		wg.Add(1)
		go func(pageURL string) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			set.addAll(e.fetchPage(ctx, pageURL))
		}(pageURL)
	}
	wg.Wait()
}

// extend probes pages past the baseline one at a time, in increasing
// order, until EmptyPageStreak consecutive pages add nothing new. The
// sequential order is what makes the streak rule a valid termination
// condition.
func (e *Engine) extend(ctx context.Context, filter FilterResult, set *linkSet) int {
	page := filter.TotalPages
	streak := 0
	for streak < e.cfg.EmptyPageStreak {
		if ctx.Err() != nil {
			break
		}
		page++
		added := set.addAll(e.fetchPage(ctx, PageURL(filter.FilteredURL, page)))
		if added == 0 {
			streak++
		} else {
			streak = 0
		}
	}
	return page
}

// fetchPage runs one page worker. Failures degrade to zero links so a
// single bad page never aborts the industry.
func (e *Engine) fetchPage(ctx context.Context, pageURL string) []string {
	var links []string
	err := crawler.RunWithRetry(ctx, e.logger, e.classifier, func(ctx context.Context) error {
		var err error
		links, err = e.driver.FetchPageLinks(ctx, pageURL)
		return err
	}, crawler.RetryOptions{
		Name:       "page_fetch",
		MaxRetries: e.cfg.WorkerRetries,
		Timeout:    e.cfg.PageTimeout,
		Backoff:    e.cfg.WorkerBackoff,
	})
	if err != nil {
		e.mu.Lock()
		e.stats.PagesDegraded++
		e.mu.Unlock()
		e.logger.Warn("page degraded to zero links",
			zap.String("url", pageURL),
			zap.Error(err),
		)
		return nil
	}
	e.mu.Lock()
	e.stats.PagesFetched++
	e.mu.Unlock()
	return links
}

// linkSet is an insertion-ordered string set safe for concurrent adds.
type linkSet struct {
	mu    sync.Mutex
	seen  map[string]struct{}
	order []string
}

func newLinkSet() *linkSet {
	return &linkSet{seen: make(map[string]struct{})}
}

// addAll merges links and reports how many were new.
func (s *linkSet) addAll(links []string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	added := 0
	for _, link := range links {
		if link == "" {
			continue
		}
		if _, ok := s.seen[link]; ok {
			continue
		}
		s.seen[link] = struct{}{}
		s.order = append(s.order, link)
		added++
	}
	return added
}

func (s *linkSet) ordered() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.order...)
}
