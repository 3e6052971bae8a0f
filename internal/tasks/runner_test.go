package tasks

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/openbizdata/dircrawler/internal/metrics"
)

func TestMain(m *testing.M) {
	metrics.Init()
	m.Run()
}

func TestSubmitAndAwait(t *testing.T) {
	t.Parallel()

	r := NewRunner(Config{Workers: 2, QueueSize: 8}, zap.NewNop())
	r.Start(context.Background())
	defer r.Shutdown()

	result, err := r.Submit("double", func(ctx context.Context) (any, error) {
		return 42, nil
	})
	require.NoError(t, err)

	value, err := result.Await(context.Background(), time.Second)
	require.NoError(t, err)
	require.Equal(t, 42, value)
}

func TestAwaitPropagatesTaskError(t *testing.T) {
	t.Parallel()

	r := NewRunner(Config{Workers: 1, QueueSize: 8}, zap.NewNop())
	r.Start(context.Background())
	defer r.Shutdown()

	boom := errors.New("industry failed")
	result, err := r.Submit("collect", func(ctx context.Context) (any, error) {
		return nil, boom
	})
	require.NoError(t, err)

	_, err = result.Await(context.Background(), time.Second)
	require.ErrorIs(t, err, boom)
}

func TestAwaitTimeout(t *testing.T) {
	t.Parallel()

	r := NewRunner(Config{Workers: 1, QueueSize: 8}, zap.NewNop())
	r.Start(context.Background())
	defer r.Shutdown()

	release := make(chan struct{})
	result, err := r.Submit("slow", func(ctx context.Context) (any, error) {
		<-release
		return nil, nil
	})
	require.NoError(t, err)

	_, err = result.Await(context.Background(), 10*time.Millisecond)
	require.ErrorIs(t, err, ErrAwaitTimeout)
	close(release)

	// The task still completes; a later wait sees the result.
	_, err = result.Await(context.Background(), time.Second)
	require.NoError(t, err)
}

func TestSubmitQueueFull(t *testing.T) {
	t.Parallel()

	r := NewRunner(Config{Workers: 1, QueueSize: 1}, zap.NewNop())
	// Not started: nothing drains the queue.
	_, err := r.Submit("first", func(ctx context.Context) (any, error) { return nil, nil })
	require.NoError(t, err)

	_, err = r.Submit("second", func(ctx context.Context) (any, error) { return nil, nil })
	require.ErrorIs(t, err, ErrQueueFull)
	require.Equal(t, 1, r.ActiveTasks(), "rejected submissions do not count as active")
}

func TestActiveTasksTracksInFlight(t *testing.T) {
	t.Parallel()

	r := NewRunner(Config{Workers: 2, QueueSize: 8}, zap.NewNop())
	r.Start(context.Background())
	defer r.Shutdown()

	var started sync.WaitGroup
	started.Add(2)
	release := make(chan struct{})
	var results []*Result
	for i := 0; i < 2; i++ {
		result, err := r.Submit("hold", func(ctx context.Context) (any, error) {
			started.Done()
			<-release
			return nil, nil
		})
		require.NoError(t, err)
		results = append(results, result)
	}

	started.Wait()
	require.Equal(t, 2, r.ActiveTasks())

	close(release)
	for _, result := range results {
		_, err := result.Await(context.Background(), time.Second)
		require.NoError(t, err)
	}
	require.Equal(t, 0, r.ActiveTasks())
}

func TestPanickingTaskBecomesError(t *testing.T) {
	t.Parallel()

	r := NewRunner(Config{Workers: 1, QueueSize: 8}, zap.NewNop())
	r.Start(context.Background())
	defer r.Shutdown()

	result, err := r.Submit("panics", func(ctx context.Context) (any, error) {
		panic("selector logic bug")
	})
	require.NoError(t, err)

	_, err = result.Await(context.Background(), time.Second)
	require.ErrorContains(t, err, "panicked")

	// The worker survived.
	result, err = r.Submit("after", func(ctx context.Context) (any, error) { return "ok", nil })
	require.NoError(t, err)
	value, err := result.Await(context.Background(), time.Second)
	require.NoError(t, err)
	require.Equal(t, "ok", value)
}

func TestShutdownDrainsQueue(t *testing.T) {
	t.Parallel()

	r := NewRunner(Config{Workers: 1, QueueSize: 8}, zap.NewNop())
	r.Start(context.Background())

	var done int
	var mu sync.Mutex
	for i := 0; i < 5; i++ {
		_, err := r.Submit("unit", func(ctx context.Context) (any, error) {
			mu.Lock()
			done++
			mu.Unlock()
			return nil, nil
		})
		require.NoError(t, err)
	}

	r.Shutdown()
	require.Equal(t, 5, done)

	_, err := r.Submit("late", func(ctx context.Context) (any, error) { return nil, nil })
	require.ErrorIs(t, err, ErrRunnerClosed)
}

func TestConcurrentSubmitDuringShutdown(t *testing.T) {
	t.Parallel()

	r := NewRunner(Config{Workers: 2, QueueSize: 4}, zap.NewNop())
	r.Start(context.Background())

	// Submitters hammer intake while Shutdown closes the queue. Intake
	// holds the lock across the closed check and the send, so no
	// submitter can reach a closed channel.
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				_, err := r.Submit("burst", func(ctx context.Context) (any, error) { return nil, nil })
				if errors.Is(err, ErrRunnerClosed) {
					return
				}
			}
		}()
	}

	time.Sleep(5 * time.Millisecond)
	r.Shutdown()
	wg.Wait()

	_, err := r.Submit("late", func(ctx context.Context) (any, error) { return nil, nil })
	require.ErrorIs(t, err, ErrRunnerClosed)
}
