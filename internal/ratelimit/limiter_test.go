package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/openbizdata/dircrawler/internal/metrics"
)

func TestMain(m *testing.M) {
	metrics.Init()
	m.Run()
}

func TestWaitPacesSameDomain(t *testing.T) {
	t.Parallel()

	// 10 RPS with burst 1: the second call waits roughly 100ms.
	l := New(Config{RPS: 10, Burst: 1})
	ctx := context.Background()

	require.NoError(t, l.Wait(ctx, "https://directory.example/c/1"))

	start := time.Now()
	require.NoError(t, l.Wait(ctx, "https://directory.example/c/2"))
	require.GreaterOrEqual(t, time.Since(start), 80*time.Millisecond)
}

func TestWaitIndependentDomains(t *testing.T) {
	t.Parallel()

	l := New(Config{RPS: 1, Burst: 1})
	ctx := context.Background()

	require.NoError(t, l.Wait(ctx, "https://a.example/x"))

	// A different domain has its own bucket and does not block.
	start := time.Now()
	require.NoError(t, l.Wait(ctx, "https://b.example/y"))
	require.Less(t, time.Since(start), 200*time.Millisecond)
}

func TestWaitCanceledContext(t *testing.T) {
	t.Parallel()

	l := New(Config{RPS: 1, Burst: 1})
	ctx := context.Background()
	require.NoError(t, l.Wait(ctx, "https://c.example/x"))

	canceled, cancel := context.WithCancel(ctx)
	cancel()
	require.Error(t, l.Wait(canceled, "https://c.example/y"))
}

func TestZeroRPSDisablesLimiting(t *testing.T) {
	t.Parallel()

	l := New(Config{})
	ctx := context.Background()
	start := time.Now()
	for range 20 {
		require.NoError(t, l.Wait(ctx, "https://d.example/z"))
	}
	require.Less(t, time.Since(start), time.Second)
}
