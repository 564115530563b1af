package prefetch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type harness struct {
	items     *Collection
	transport *fakeTransport
	sink      *recordingSink
	loop      *Loop
	coord     *Coordinator

	mu     sync.Mutex
	events []Event
}

func newHarness(t *testing.T, urls ...string) *harness {
	t.Helper()
	if len(urls) == 0 {
		for i := range 5 {
			urls = append(urls, fmt.Sprintf("https://example.com/%d.png", i))
		}
	}
	h := &harness{
		items:     NewCollection(urls),
		transport: &fakeTransport{},
		sink:      &recordingSink{},
		loop:      NewLoop(),
	}
	h.coord = New(h.items, Options{
		Transport:  h.transport,
		Decoder:    textDecoder,
		Sink:       h.sink,
		Dispatcher: h.loop,
		OnEvent: func(e Event) {
			h.mu.Lock()
			h.events = append(h.events, e)
			h.mu.Unlock()
		},
	})
	t.Cleanup(func() {
		_ = h.coord.Close()
		_ = h.loop.Close()
	})
	return h
}

// request calls RequestFetch on the control context.
func (h *harness) request(t *testing.T, index int) {
	t.Helper()
	var err error
	require.True(t, h.loop.Do(func() { err = h.coord.RequestFetch(index) }))
	require.NoError(t, err)
}

func (h *harness) cancel(t *testing.T, index int) {
	t.Helper()
	var err error
	require.True(t, h.loop.Do(func() { err = h.coord.CancelFetch(index) }))
	require.NoError(t, err)
}

func (h *harness) wait(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, h.coord.Wait(ctx))
	// Flush anything the committed functions dispatched.
	require.True(t, h.loop.Do(func() {}))
}

func (h *harness) url(i int) string {
	it, _ := h.items.Get(i)
	return it.URL
}

func (h *harness) eventTypes() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]string, 0, len(h.events))
	for _, e := range h.events {
		out = append(out, e.Type)
	}
	return out
}

func TestRequestFetchSuccess(t *testing.T) {
	h := newHarness(t)

	h.request(t, 0)
	fetches := h.transport.started(h.url(0))
	require.Len(t, fetches, 1)
	assert.Equal(t, 1, h.coord.Pending())

	fetches[0].succeed("P")
	h.wait(t)

	assert.Equal(t, 1, h.sink.count(0))
	it, err := h.items.Get(0)
	require.NoError(t, err)
	require.NotNil(t, it.Result)
	assert.Equal(t, "P", it.Result.Markdown)
	assert.Equal(t, 0, h.coord.Pending())
	assert.Equal(t, []string{"fetching", "done"}, h.eventTypes())
}

func TestCancelBeforeCompletion(t *testing.T) {
	h := newHarness(t)

	h.request(t, 1)
	h.cancel(t, 1)
	h.wait(t)

	fetches := h.transport.started(h.url(1))
	require.Len(t, fetches, 1)
	assert.True(t, fetches[0].cancelled.Load())
	assert.Equal(t, 0, h.sink.count(1))
	assert.False(t, h.coord.registry.Has(h.url(1)))

	it, _ := h.items.Get(1)
	assert.Nil(t, it.Result)
}

func TestCancelWithoutFetchIsNoop(t *testing.T) {
	h := newHarness(t)

	h.cancel(t, 4)
	assert.Empty(t, h.transport.started(h.url(4)))
	assert.Empty(t, h.eventTypes())
}

func TestDuplicateRequestStartsOnce(t *testing.T) {
	h := newHarness(t)

	h.request(t, 2)
	h.request(t, 2)
	require.Len(t, h.transport.started(h.url(2)), 1)

	h.transport.started(h.url(2))[0].succeed("x")
	h.wait(t)
	assert.Equal(t, 1, h.sink.count(2))
	assert.Equal(t, []string{"fetching", "duplicate", "done"}, h.eventTypes())
}

func TestFailureAllowsFreshFetch(t *testing.T) {
	h := newHarness(t)

	h.request(t, 3)
	h.transport.started(h.url(3))[0].fail(errors.New("connection reset"))
	h.wait(t)

	assert.Equal(t, 0, h.sink.count(3))
	it, _ := h.items.Get(3)
	assert.Nil(t, it.Result)
	assert.False(t, h.coord.registry.Has(h.url(3)))

	h.request(t, 3)
	assert.Len(t, h.transport.started(h.url(3)), 2)
}

func TestDecodeFailureIsDropped(t *testing.T) {
	h := newHarness(t)

	h.request(t, 0)
	h.transport.started(h.url(0))[0].succeed("corrupt")
	h.wait(t)

	assert.Equal(t, 0, h.sink.count(0))
	it, _ := h.items.Get(0)
	assert.Nil(t, it.Result)
	assert.Equal(t, 0, h.coord.Pending())
}

func TestStaleCompletionIsIgnored(t *testing.T) {
	h := newHarness(t)
	h.transport.ignoreCancel = true

	h.request(t, 0)
	h.cancel(t, 0)
	h.request(t, 0)

	fetches := h.transport.started(h.url(0))
	require.Len(t, fetches, 2)

	fetches[0].succeed("old")
	fetches[1].succeed("new")
	h.wait(t)

	it, _ := h.items.Get(0)
	require.NotNil(t, it.Result)
	assert.Equal(t, "new", it.Result.Markdown)
	assert.Equal(t, 1, h.sink.count(0))
}

func TestCachedRowIsNotRefetched(t *testing.T) {
	h := newHarness(t)

	h.request(t, 0)
	h.transport.started(h.url(0))[0].succeed("P")
	h.wait(t)

	h.request(t, 0)
	assert.Len(t, h.transport.started(h.url(0)), 1)
	assert.Equal(t, 1, h.sink.count(0))
}

func TestRenotifyCached(t *testing.T) {
	h := newHarness(t)
	h.coord.opts.RenotifyCached = true

	h.request(t, 0)
	h.transport.started(h.url(0))[0].succeed("P")
	h.wait(t)
	h.request(t, 0)

	assert.Len(t, h.transport.started(h.url(0)), 1)
	assert.Equal(t, 2, h.sink.count(0))
}

func TestSharedResourceFillsEveryRow(t *testing.T) {
	h := newHarness(t, "https://example.com/a.png", "https://example.com/b.png", "https://example.com/a.png")

	h.request(t, 0)
	h.request(t, 2)
	require.Len(t, h.transport.started("https://example.com/a.png"), 1)

	h.transport.started("https://example.com/a.png")[0].succeed("A")
	h.wait(t)

	for _, i := range []int{0, 2} {
		it, _ := h.items.Get(i)
		require.NotNil(t, it.Result, "row %d", i)
		assert.Equal(t, 1, h.sink.count(i))
	}
	it, _ := h.items.Get(1)
	assert.Nil(t, it.Result)
}

func TestOutOfRange(t *testing.T) {
	h := newHarness(t)

	assert.ErrorIs(t, h.coord.RequestFetch(5), ErrOutOfRange)
	assert.ErrorIs(t, h.coord.RequestFetch(-1), ErrOutOfRange)
	assert.ErrorIs(t, h.coord.CancelFetch(99), ErrOutOfRange)
}

func TestConcurrentRequestsKeepOneInFlight(t *testing.T) {
	h := newHarness(t)
	url := h.url(2)

	var wg sync.WaitGroup
	for range 32 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, h.coord.RequestFetch(2))
			assert.LessOrEqual(t, h.coord.Pending(), 1)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, h.coord.Pending())
	fetches := h.transport.started(url)
	require.NotEmpty(t, fetches)

	live := 0
	for _, f := range fetches {
		if !f.cancelled.Load() {
			live++
			f.succeed("P")
		}
	}
	assert.Equal(t, 1, live, "losing starts must be cancelled")

	h.wait(t)
	assert.Equal(t, 1, h.sink.count(2))
}

func TestCloseCancelsInFlight(t *testing.T) {
	h := newHarness(t)

	h.request(t, 0)
	h.request(t, 1)
	require.NoError(t, h.coord.Close())
	h.wait(t)

	assert.Equal(t, 0, h.coord.Pending())
	assert.True(t, h.transport.started(h.url(0))[0].cancelled.Load())
	assert.True(t, h.transport.started(h.url(1))[0].cancelled.Load())
	assert.Empty(t, h.sink.notified)
}

func TestWaitReturnsAfterLoopClosed(t *testing.T) {
	h := newHarness(t)

	h.request(t, 0)
	h.request(t, 1)
	h.transport.started(h.url(0))[0].succeed("P")
	require.NoError(t, h.loop.Close())
	h.transport.started(h.url(1))[0].succeed("Q")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, h.coord.Wait(ctx))
	assert.Equal(t, 0, h.coord.Pending())
}

func TestFollowKeepsSharedFetchInWindow(t *testing.T) {
	urls := make([]string, 10)
	for i := range urls {
		urls[i] = fmt.Sprintf("https://example.com/%d.png", i)
	}
	urls[4] = urls[2]
	h := newHarness(t, urls...)
	w := NewWindow(len(urls), 0)

	follow := func(offset int) {
		t.Helper()
		var err error
		require.True(t, h.loop.Do(func() { err = h.coord.Follow(w, offset, 5) }))
		require.NoError(t, err)
	}

	follow(0)
	shared := h.transport.started(urls[2])
	require.Len(t, shared, 1)

	// Row 2 scrolls away while row 4, which needs the same image, stays.
	follow(3)
	assert.False(t, shared[0].cancelled.Load())
	assert.True(t, h.coord.InFlight(4))
	assert.True(t, h.transport.started(urls[0])[0].cancelled.Load())

	shared[0].succeed("S")
	require.Eventually(t, func() bool { return h.sink.count(4) == 1 }, 2*time.Second, 5*time.Millisecond)
	it, _ := h.items.Get(4)
	assert.True(t, it.Loaded())

	// Once no row needs it, leaving cancels as usual.
	follow(5)
	assert.True(t, h.transport.started(urls[3])[0].cancelled.Load())
}

func TestReleaseOutsideWindow(t *testing.T) {
	h := newHarness(t)
	w := NewWindow(5, 0)
	require.True(t, h.loop.Do(func() { _ = h.coord.Follow(w, 0, 2) }))

	h.request(t, 4)
	var err error
	require.True(t, h.loop.Do(func() {
		err = h.coord.Release(w, 1)
		if err == nil {
			err = h.coord.Release(w, 4)
		}
	}))
	require.NoError(t, err)

	assert.False(t, h.transport.started(h.url(1))[0].cancelled.Load())
	assert.True(t, h.transport.started(h.url(4))[0].cancelled.Load())
	assert.ErrorIs(t, h.coord.Release(w, 9), ErrOutOfRange)
}
