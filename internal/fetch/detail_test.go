package fetch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/openbizdata/dircrawler/internal/browser"
	"github.com/openbizdata/dircrawler/internal/crawler"
)

type stubTab struct {
	mu     sync.Mutex
	closed bool
}

func (t *stubTab) Context() context.Context { return context.Background() }

func (t *stubTab) Closed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

func (t *stubTab) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	return nil
}

type stubInstance struct {
	mu        sync.Mutex
	tabs      []*stubTab
	failAfter int // fail NewTab once this many tabs exist; 0 disables
}

func (i *stubInstance) NewTab(ctx context.Context, profile browser.Profile) (browser.Tab, error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.failAfter > 0 && len(i.tabs) >= i.failAfter {
		return nil, errors.New("browser gone")
	}
	tab := &stubTab{}
	i.tabs = append(i.tabs, tab)
	return tab, nil
}

func (i *stubInstance) Close() error { return nil }

func (i *stubInstance) tabCount() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return len(i.tabs)
}

type stubLauncher struct{ inst *stubInstance }

func (l *stubLauncher) Launch(ctx context.Context) (browser.Instance, error) {
	return l.inst, nil
}

func retryDetailConfig() DetailConfig {
	return DetailConfig{
		Timeout:    time.Second,
		MaxRetries: 2,
		Backoff:    time.Millisecond,
		Settle:     time.Millisecond,
	}
}

func TestDetailFetchRetriesInFreshTab(t *testing.T) {
	t.Parallel()

	inst := &stubInstance{}
	pool := browser.NewPool(&stubLauncher{inst: inst}, browser.PoolConfig{}, zap.NewNop())
	f := NewDetailFetcher(pool, crawler.NewClassifier(), retryDetailConfig(), "detail", zap.NewNop())

	calls := 0
	f.render = func(ctx context.Context, session *browser.Session, pageURL string) (string, error) {
		calls++
		if calls == 1 {
			return "", crawler.NewOpError(crawler.CategoryBrowserClosed, errors.New("target closed"))
		}
		return "<html>ok</html>", nil
	}

	html, err := f.FetchHTML(context.Background(), "https://example.vn/company/1")
	require.NoError(t, err)
	require.Equal(t, "<html>ok</html>", html)
	require.Equal(t, 2, calls)
	require.Equal(t, 2, inst.tabCount(), "the retry runs in a fresh tab")
	require.Equal(t, 0, pool.Stats().ContextCount, "all sessions released")
}

func TestDetailFetchSkipsAttemptsOnDeadSession(t *testing.T) {
	t.Parallel()

	// Reacquisition fails after the first tab, so the session the
	// fetcher holds stays dead. The probe must fail the remaining
	// attempts without invoking the renderer again.
	inst := &stubInstance{failAfter: 1}
	pool := browser.NewPool(&stubLauncher{inst: inst}, browser.PoolConfig{}, zap.NewNop())
	f := NewDetailFetcher(pool, crawler.NewClassifier(), retryDetailConfig(), "detail", zap.NewNop())

	calls := 0
	f.render = func(ctx context.Context, session *browser.Session, pageURL string) (string, error) {
		calls++
		return "", crawler.NewOpError(crawler.CategoryBrowserClosed, errors.New("target closed"))
	}

	_, err := f.FetchHTML(context.Background(), "https://example.vn/company/2")
	require.ErrorContains(t, err, "page already closed")
	require.Equal(t, 1, calls, "dead session short-circuits before the renderer")
}

func TestDetailFetchNonRetryableStopsImmediately(t *testing.T) {
	t.Parallel()

	inst := &stubInstance{}
	pool := browser.NewPool(&stubLauncher{inst: inst}, browser.PoolConfig{}, zap.NewNop())
	f := NewDetailFetcher(pool, crawler.NewClassifier(), retryDetailConfig(), "detail", zap.NewNop())

	boom := errors.New("selector not found")
	calls := 0
	f.render = func(ctx context.Context, session *browser.Session, pageURL string) (string, error) {
		calls++
		return "", boom
	}

	_, err := f.FetchHTML(context.Background(), "https://example.vn/company/3")
	require.ErrorIs(t, err, boom)
	require.Equal(t, 1, calls)
	require.Equal(t, 1, inst.tabCount())
}
