package workpool

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestPool(size int, timeout time.Duration) *Pool {
	return New(size, timeout, zerolog.Nop())
}

func TestPoolRunsTask(t *testing.T) {
	p := newTestPool(2, time.Second)
	defer p.Close()

	h, err := p.Submit(context.Background(), func(ctx context.Context) (interface{}, error) {
		return 42, nil
	})
	require.NoError(t, err)

	result, err := h.Wait()
	require.NoError(t, err)
	assert.Equal(t, 42, result)

	stats := p.Stats()
	assert.Equal(t, int64(1), stats.Completed)
	assert.Equal(t, int64(0), stats.Failed)
}

func TestPoolBoundsConcurrency(t *testing.T) {
	p := newTestPool(2, 5*time.Second)
	defer p.Close()

	var running, peak atomic.Int64
	release := make(chan struct{})

	task := func(ctx context.Context) (interface{}, error) {
		n := running.Add(1)
		for {
			old := peak.Load()
			if n <= old || peak.CompareAndSwap(old, n) {
				break
			}
		}
		<-release
		running.Add(-1)
		return nil, nil
	}

	handles := make([]*Handle, 0, 5)
	for i := 0; i < 5; i++ {
		h, err := p.Submit(context.Background(), task)
		require.NoError(t, err)
		handles = append(handles, h)
	}

	time.Sleep(50 * time.Millisecond)
	close(release)
	for _, h := range handles {
		_, err := h.Wait()
		require.NoError(t, err)
	}

	assert.LessOrEqual(t, peak.Load(), int64(2))
}

func TestPoolTaskError(t *testing.T) {
	p := newTestPool(1, time.Second)
	defer p.Close()

	boom := errors.New("boom")
	h, err := p.Submit(context.Background(), func(ctx context.Context) (interface{}, error) {
		return nil, boom
	})
	require.NoError(t, err)

	_, err = h.Wait()
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, int64(1), p.Stats().Failed)
}

func TestPoolTaskTimeout(t *testing.T) {
	p := newTestPool(1, 20*time.Millisecond)
	defer p.Close()

	h, err := p.Submit(context.Background(), func(ctx context.Context) (interface{}, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	require.NoError(t, err)

	_, err = h.Wait()
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, int64(1), p.Stats().Cancelled)
}

func TestPoolCancel(t *testing.T) {
	p := newTestPool(1, 5*time.Second)
	defer p.Close()

	started := make(chan struct{})
	h, err := p.Submit(context.Background(), func(ctx context.Context) (interface{}, error) {
		close(started)
		<-ctx.Done()
		return nil, ctx.Err()
	})
	require.NoError(t, err)

	<-started
	h.Cancel()

	_, err = h.Wait()
	assert.ErrorIs(t, err, context.Canceled)
}

func TestPoolCancelWhileQueued(t *testing.T) {
	p := newTestPool(1, 5*time.Second)
	defer p.Close()

	release := make(chan struct{})
	blocker, err := p.Submit(context.Background(), func(ctx context.Context) (interface{}, error) {
		<-release
		return nil, nil
	})
	require.NoError(t, err)

	queued, err := p.Submit(context.Background(), func(ctx context.Context) (interface{}, error) {
		return "should not run", nil
	})
	require.NoError(t, err)

	queued.Cancel()
	_, err = queued.Wait()
	assert.ErrorIs(t, err, context.Canceled)

	close(release)
	_, err = blocker.Wait()
	require.NoError(t, err)
}

func TestPoolRecoversPanic(t *testing.T) {
	p := newTestPool(1, time.Second)
	defer p.Close()

	h, err := p.Submit(context.Background(), func(ctx context.Context) (interface{}, error) {
		panic("bad payload")
	})
	require.NoError(t, err)

	_, err = h.Wait()
	require.Error(t, err)
	assert.Equal(t, int64(1), p.Stats().Failed)
}

func TestPoolClosedRejectsSubmit(t *testing.T) {
	p := newTestPool(1, time.Second)
	p.Close()

	assert.False(t, p.Ready())
	_, err := p.Submit(context.Background(), func(ctx context.Context) (interface{}, error) {
		return nil, nil
	})
	assert.ErrorIs(t, err, ErrPoolClosed)
}

func TestPoolDefaultsToLogicalCores(t *testing.T) {
	p := New(0, 0, zerolog.Nop())
	defer p.Close()
	assert.Greater(t, p.Stats().Workers, 0)
	assert.Equal(t, DefaultTaskTimeout, p.timeout)
}
