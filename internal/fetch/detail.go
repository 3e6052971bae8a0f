package fetch

import (
	"context"
	"fmt"
	"time"

	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/openbizdata/dircrawler/internal/browser"
	"github.com/openbizdata/dircrawler/internal/crawler"
	"github.com/openbizdata/dircrawler/internal/ratelimit"
)

// DetailConfig controls rendered detail-page fetching.
type DetailConfig struct {
	Timeout    time.Duration
	MaxRetries int
	Backoff    time.Duration
	Settle     time.Duration
	// RPS paces navigations per domain; 0 disables pacing.
	RPS   float64
	Burst int
}

func (c DetailConfig) withDefaults() DetailConfig {
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 2
	}
	if c.Backoff <= 0 {
		c.Backoff = 2 * time.Second
	}
	if c.Settle <= 0 {
		c.Settle = 500 * time.Millisecond
	}
	return c
}

// DetailFetcher renders company detail pages through the browser pool.
// Detail pages need JavaScript, so unlike contact pages they cannot be
// fetched with a plain HTTP client.
type DetailFetcher struct {
	pool       *browser.Pool
	classifier *crawler.Classifier
	limiter    *ratelimit.Limiter
	cfg        DetailConfig
	owner      string
	logger     *zap.Logger

	render func(ctx context.Context, session *browser.Session, pageURL string) (string, error)
}

// NewDetailFetcher constructs a fetcher keyed to one pool owner.
func NewDetailFetcher(pool *browser.Pool, classifier *crawler.Classifier, cfg DetailConfig, owner string, logger *zap.Logger) *DetailFetcher {
	cfg = cfg.withDefaults()
	f := &DetailFetcher{
		pool:       pool,
		classifier: classifier,
		limiter:    ratelimit.New(ratelimit.Config{RPS: cfg.RPS, Burst: cfg.Burst}),
		cfg:        cfg,
		owner:      owner,
		logger:     logger,
	}
	f.render = f.renderDOM
	return f
}

// probeFunc adapts a closure to crawler.PageProbe.
type probeFunc func() bool

func (p probeFunc) Closed() bool { return p() }

// FetchHTML returns the rendered DOM for pageURL. The session's tab is
// probed before every attempt; a dead tab short-circuits straight to
// the retry path, and the between-attempt cleanup swaps in a fresh tab
// so a torn-down session never poisons the retry.
func (f *DetailFetcher) FetchHTML(ctx context.Context, pageURL string) (string, error) {
	session, err := f.pool.AcquireSession(ctx, f.owner, browser.RandomProfile())
	if err != nil {
		return "", err
	}
	defer func() { session.Close() }()

	var html string
	err = crawler.RunWithRetryPage(ctx, f.logger, f.classifier,
		probeFunc(func() bool { return session.Closed() }),
		func(ctx context.Context) error {
			if err := f.limiter.Wait(ctx, pageURL); err != nil {
				return err
			}
			out, err := f.render(ctx, session, pageURL)
			if err != nil {
				return err
			}
			html = out
			return nil
		},
		crawler.RetryOptions{
			Name:       "detail_fetch",
			MaxRetries: f.cfg.MaxRetries,
			Timeout:    f.cfg.Timeout,
			Backoff:    f.cfg.Backoff,
			Cleanup: func(ctx context.Context) error {
				session.Close()
				next, err := f.pool.AcquireSession(ctx, f.owner, browser.RandomProfile())
				if err != nil {
					return fmt.Errorf("reacquire session: %w", err)
				}
				session = next
				return nil
			},
		},
	)
	if err != nil {
		return "", err
	}
	return html, nil
}

func (f *DetailFetcher) renderDOM(ctx context.Context, session *browser.Session, pageURL string) (string, error) {
	tabCtx, cancel := context.WithCancel(session.Context())
	defer cancel()
	if deadline, ok := ctx.Deadline(); ok {
		tabCtx, cancel = context.WithDeadline(session.Context(), deadline)
		defer cancel()
	}

	var html string
	if err := chromedp.Run(tabCtx,
		chromedp.Navigate(pageURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(f.cfg.Settle),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	); err != nil {
		return "", fmt.Errorf("render %s: %w", pageURL, err)
	}
	return html, nil
}
