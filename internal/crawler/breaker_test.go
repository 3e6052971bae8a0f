package crawler

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/openbizdata/dircrawler/internal/metrics"
)

func TestMain(m *testing.M) {
	metrics.Init()
	os.Exit(m.Run())
}

func newTestBreaker(t *testing.T, cfg BreakerConfig) *Breaker {
	t.Helper()
	return NewBreaker("test", cfg, NewClassifier(), zap.NewNop())
}

func TestBreakerOpensAtThreshold(t *testing.T) {
	t.Parallel()

	b := newTestBreaker(t, BreakerConfig{FailureThreshold: 3, RecoveryTimeout: time.Minute})
	boom := NewOpError(CategoryBrowserClosed, errors.New("target closed"))

	fail := func(ctx context.Context) error { return boom }

	for i := 0; i < 3; i++ {
		require.Equal(t, StateClosed, b.State())
		err := b.Do(context.Background(), fail)
		require.ErrorIs(t, err, boom)
	}
	require.Equal(t, StateOpen, b.State())
}

func TestBreakerFailsFastWhileOpen(t *testing.T) {
	t.Parallel()

	b := newTestBreaker(t, BreakerConfig{FailureThreshold: 1, RecoveryTimeout: time.Minute})
	boom := NewOpError(CategoryTimeout, errors.New("navigation timeout"))

	require.Error(t, b.Do(context.Background(), func(ctx context.Context) error { return boom }))
	require.Equal(t, StateOpen, b.State())

	calls := 0
	err := b.Do(context.Background(), func(ctx context.Context) error {
		calls++
		return nil
	})
	require.ErrorIs(t, err, ErrBreakerOpen)
	require.Zero(t, calls, "fn must not run on the fail-fast path")
}

func TestBreakerRecoveryProbe(t *testing.T) {
	t.Parallel()

	b := newTestBreaker(t, BreakerConfig{FailureThreshold: 1, RecoveryTimeout: 60 * time.Second})
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	b.now = func() time.Time { return now }

	boom := NewOpError(CategoryBrowserClosed, errors.New("target closed"))
	require.Error(t, b.Do(context.Background(), func(ctx context.Context) error { return boom }))
	require.Equal(t, StateOpen, b.State())

	// Inside the recovery window: still failing fast.
	now = now.Add(30 * time.Second)
	err := b.Do(context.Background(), func(ctx context.Context) error { return nil })
	require.ErrorIs(t, err, ErrBreakerOpen)

	// Past the window: a single probe runs and success closes the circuit.
	now = now.Add(31 * time.Second)
	probed := false
	err = b.Do(context.Background(), func(ctx context.Context) error {
		probed = true
		return nil
	})
	require.NoError(t, err)
	require.True(t, probed)
	require.Equal(t, StateClosed, b.State())
	require.Zero(t, b.Snapshot().FailureCount)
}

func TestBreakerHalfOpenFailureReopens(t *testing.T) {
	t.Parallel()

	b := newTestBreaker(t, BreakerConfig{FailureThreshold: 3, RecoveryTimeout: 60 * time.Second})
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	b.now = func() time.Time { return now }

	boom := NewOpError(CategoryBrowserClosed, errors.New("target closed"))
	fail := func(ctx context.Context) error { return boom }
	for i := 0; i < 3; i++ {
		require.Error(t, b.Do(context.Background(), fail))
	}
	require.Equal(t, StateOpen, b.State())

	// The probe fails, so the breaker reopens without needing a full
	// threshold's worth of new failures.
	now = now.Add(61 * time.Second)
	require.Error(t, b.Do(context.Background(), fail))
	require.Equal(t, StateOpen, b.State())
}

func TestBreakerAdmitsOneProbeAtATime(t *testing.T) {
	t.Parallel()

	b := newTestBreaker(t, BreakerConfig{FailureThreshold: 1, RecoveryTimeout: 60 * time.Second})
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	b.now = func() time.Time { return now }

	boom := NewOpError(CategoryBrowserClosed, errors.New("target closed"))
	require.Error(t, b.Do(context.Background(), func(ctx context.Context) error { return boom }))
	require.Equal(t, StateOpen, b.State())
	now = now.Add(61 * time.Second)

	entered := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- b.Do(context.Background(), func(ctx context.Context) error {
			close(entered)
			<-release
			return nil
		})
	}()
	<-entered

	// While the probe is in flight every other caller fails fast.
	calls := 0
	err := b.Do(context.Background(), func(ctx context.Context) error {
		calls++
		return nil
	})
	require.ErrorIs(t, err, ErrBreakerOpen)
	require.Zero(t, calls, "second caller must not run alongside the probe")

	close(release)
	require.NoError(t, <-done)
	require.Equal(t, StateClosed, b.State())
}

func TestBreakerIgnoresUncountedFailures(t *testing.T) {
	t.Parallel()

	b := newTestBreaker(t, BreakerConfig{FailureThreshold: 2, RecoveryTimeout: time.Minute})
	benign := errors.New("no rows in result set")

	for i := 0; i < 5; i++ {
		err := b.Do(context.Background(), func(ctx context.Context) error { return benign })
		require.ErrorIs(t, err, benign)
	}
	require.Equal(t, StateClosed, b.State())
	require.Zero(t, b.Snapshot().FailureCount)
}

func TestBreakerSuccessResetsCount(t *testing.T) {
	t.Parallel()

	b := newTestBreaker(t, BreakerConfig{FailureThreshold: 3, RecoveryTimeout: time.Minute})
	boom := NewOpError(CategoryTimeout, errors.New("deadline"))

	require.Error(t, b.Do(context.Background(), func(ctx context.Context) error { return boom }))
	require.Error(t, b.Do(context.Background(), func(ctx context.Context) error { return boom }))
	require.Equal(t, 2, b.Snapshot().FailureCount)

	require.NoError(t, b.Do(context.Background(), func(ctx context.Context) error { return nil }))
	require.Zero(t, b.Snapshot().FailureCount)

	// Two more failures no longer reach the threshold.
	require.Error(t, b.Do(context.Background(), func(ctx context.Context) error { return boom }))
	require.Error(t, b.Do(context.Background(), func(ctx context.Context) error { return boom }))
	require.Equal(t, StateClosed, b.State())
}

func TestBreakerManagerLazyCreationAndStates(t *testing.T) {
	t.Parallel()

	m := NewBreakerManager(BreakerConfig{FailureThreshold: 1, RecoveryTimeout: time.Minute}, NewClassifier(), zap.NewNop())

	a := m.Get("list_page")
	require.Same(t, a, m.Get("list_page"))

	boom := NewOpError(CategoryBrowserClosed, errors.New("target closed"))
	require.Error(t, a.Do(context.Background(), func(ctx context.Context) error { return boom }))
	m.Get("detail_page")

	states := m.States()
	require.Len(t, states, 2)
	require.Equal(t, "OPEN", states["list_page"].State)
	require.Equal(t, "CLOSED", states["detail_page"].State)
}

func TestBreakerManagerReset(t *testing.T) {
	t.Parallel()

	m := NewBreakerManager(BreakerConfig{FailureThreshold: 1, RecoveryTimeout: time.Minute}, NewClassifier(), zap.NewNop())
	b := m.Get("list_page")

	boom := NewOpError(CategoryTimeout, errors.New("deadline"))
	require.Error(t, b.Do(context.Background(), func(ctx context.Context) error { return boom }))
	require.Equal(t, StateOpen, b.State())

	m.Reset("list_page")
	require.Equal(t, StateClosed, b.State())
	require.Equal(t, "CLOSED", m.States()["list_page"].State)

	// Resetting an unknown name is a no-op.
	m.Reset("nope")
}
