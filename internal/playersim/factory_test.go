package playersim

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/e7canasta/reelcore/modules/coordinator"
	"github.com/e7canasta/reelcore/modules/prefetch"
)

type completion struct {
	h   coordinator.Handle
	err error
}

func request(id string) coordinator.HandleRequest {
	return coordinator.HandleRequest{
		RequestID: "req-" + id,
		ItemID:    id,
		Locator:   "sim://" + id,
		Purpose:   coordinator.PurposeActivation,
		Depth:     prefetch.DepthFull,
	}
}

func TestInlineCompletion(t *testing.T) {
	f := New(Config{})

	var got completion
	called := false
	f.CreateHandle(context.Background(), request("A"), func(h coordinator.Handle, err error) {
		called = true
		got = completion{h, err}
	})

	require.True(t, called, "zero latency must complete inline")
	require.NoError(t, got.err)
	h := got.h.(*Handle)
	assert.Equal(t, "A", h.ItemID)
	assert.Equal(t, prefetch.DepthFull, h.Depth)
	assert.NotEmpty(t, h.HandleID())
	assert.Equal(t, []string{"A"}, f.Live())

	f.ReleaseHandle(got.h)
	f.ReleaseHandle(got.h)

	st := f.Stats()
	assert.Equal(t, uint64(1), st.Created)
	assert.Equal(t, uint64(1), st.Released)
	assert.Equal(t, uint64(1), st.DoubleReleases)
	assert.Zero(t, st.Live)
}

func TestDelayedCompletion(t *testing.T) {
	f := New(Config{Latency: 20 * time.Millisecond})

	ch := make(chan completion, 1)
	start := time.Now()
	f.CreateHandle(context.Background(), request("B"), func(h coordinator.Handle, err error) {
		ch <- completion{h, err}
	})

	select {
	case c := <-ch:
		require.NoError(t, c.err)
		assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
	case <-time.After(time.Second):
		t.Fatal("completion not delivered")
	}
}

func TestCanceledContext(t *testing.T) {
	f := New(Config{Latency: time.Hour})

	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan completion, 1)
	f.CreateHandle(ctx, request("C"), func(h coordinator.Handle, err error) {
		ch <- completion{h, err}
	})
	cancel()
	f.Wait()

	c := <-ch
	assert.Nil(t, c.h)
	assert.ErrorIs(t, c.err, context.Canceled)
	assert.Equal(t, uint64(1), f.Stats().Canceled)
}

func TestFailRate(t *testing.T) {
	always := New(Config{FailRate: 1})
	var err error
	always.CreateHandle(context.Background(), request("D"), func(_ coordinator.Handle, e error) { err = e })
	assert.True(t, errors.Is(err, ErrInjected))
	assert.Equal(t, uint64(1), always.Stats().Failed)

	// Same seed, same outcomes.
	outcomes := func() []bool {
		f := New(Config{FailRate: 0.5, Seed: 42})
		var out []bool
		for i := 0; i < 50; i++ {
			f.CreateHandle(context.Background(), request("E"), func(_ coordinator.Handle, e error) {
				out = append(out, e == nil)
			})
		}
		return out
	}
	first := outcomes()
	assert.Equal(t, first, outcomes())
	assert.Contains(t, first, true)
	assert.Contains(t, first, false)
}

func TestConcurrentRequests(t *testing.T) {
	f := New(Config{Latency: time.Millisecond})

	var mu sync.Mutex
	var handles []coordinator.Handle
	for i := 0; i < 50; i++ {
		f.CreateHandle(context.Background(), request("F"), func(h coordinator.Handle, err error) {
			mu.Lock()
			handles = append(handles, h)
			mu.Unlock()
		})
	}
	f.Wait()

	require.Len(t, handles, 50)
	for _, h := range handles {
		f.ReleaseHandle(h)
	}
	st := f.Stats()
	assert.Equal(t, uint64(50), st.Released)
	assert.Zero(t, st.Live)
}
