// Package prefetch starts, deduplicates and cancels resource fetches as rows
// of a list move in and out of view, and commits results on a single control
// context.
package prefetch

import (
	"context"
	"io"
	"sync"

	"charm.land/log/v2"
)

// Sink is told when a row's result becomes available. Notify runs on the
// control context; the sink decides whether the row is visible enough to
// redraw.
type Sink interface {
	Notify(index int)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(index int)

func (f SinkFunc) Notify(index int) {
	f(index)
}

// Event is emitted as fetches progress. It is informational only.
type Event struct {
	Type  string // "fetching", "done", "error", "cancelled", "duplicate"
	Index int
	URL   string
	Err   error // only for "error" events
}

// Options configures a Coordinator.
type Options struct {
	Transport  Transport
	Decoder    Decoder    // nil = ContentDecoder
	Sink       Sink       // nil = no notifications
	Dispatcher Dispatcher // required
	Logger     *log.Logger
	OnEvent    func(Event) // optional, called on the control context

	// RenotifyCached makes RequestFetch notify the sink again for rows that
	// already hold a result.
	RenotifyCached bool
}

func (o *Options) emit(e Event) {
	if o.OnEvent != nil {
		o.OnEvent(e)
	}
}

// Coordinator starts and cancels fetches as rows enter and leave the
// prefetch window. RequestFetch and CancelFetch never block; completions are
// decoded off the control context and committed on it through the
// Dispatcher.
type Coordinator struct {
	items    *Collection
	registry *Registry
	opts     Options
	logger   *log.Logger

	// wg counts fetches whose completion has not been committed yet.
	wg sync.WaitGroup
}

func New(items *Collection, opts Options) *Coordinator {
	if opts.Decoder == nil {
		opts.Decoder = ContentDecoder{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.New(io.Discard)
	}
	return &Coordinator{
		items:    items,
		registry: NewRegistry(),
		opts:     opts,
		logger:   logger,
	}
}

// Pending returns the number of fetches in flight.
func (c *Coordinator) Pending() int {
	return c.registry.Len()
}

// InFlight reports whether the resource at index is being fetched.
func (c *Coordinator) InFlight(index int) bool {
	it, err := c.items.Get(index)
	if err != nil {
		return false
	}
	return c.registry.Has(it.URL)
}

// RequestFetch starts a fetch for the row at index unless it already holds
// a result or its resource is already in flight.
func (c *Coordinator) RequestFetch(index int) error {
	it, err := c.items.Get(index)
	if err != nil {
		return err
	}

	if it.Loaded() {
		if c.opts.RenotifyCached && c.opts.Sink != nil {
			c.opts.Sink.Notify(index)
		}
		return nil
	}

	if c.registry.Has(it.URL) {
		c.opts.emit(Event{Type: "duplicate", Index: index, URL: it.URL})
		return nil
	}

	cancel, done := c.opts.Transport.Start(it.URL)
	t, ok := c.registry.register(it.URL, cancel)
	if !ok {
		// Lost a race with a concurrent request for the same resource.
		cancel()
		go drain(done)
		c.opts.emit(Event{Type: "duplicate", Index: index, URL: it.URL})
		return nil
	}

	c.logger.Debug("Fetching", "index", index, "url", it.URL)
	c.opts.emit(Event{Type: "fetching", Index: index, URL: it.URL})

	c.wg.Add(1)
	go c.await(t, index, done)
	return nil
}

// CancelFetch cancels the in-flight fetch for the row at index, if any.
func (c *Coordinator) CancelFetch(index int) error {
	it, err := c.items.Get(index)
	if err != nil {
		return err
	}
	if c.registry.Cancel(it.URL) {
		c.logger.Debug("Cancelled", "index", index, "url", it.URL)
		c.opts.emit(Event{Type: "cancelled", Index: index, URL: it.URL})
	}
	return nil
}

// Follow moves w to the new scroll position, requests rows that entered it
// and releases rows that left it. It must run on the control context.
func (c *Coordinator) Follow(w *Window, offset, visible int) error {
	enter, leave := w.Move(offset, visible)
	for _, i := range leave {
		if err := c.Release(w, i); err != nil {
			return err
		}
	}
	for _, i := range enter {
		if err := c.RequestFetch(i); err != nil {
			return err
		}
	}
	return nil
}

// Release cancels the fetch for the row at index unless the row, or another
// row sharing its resource, is still inside w.
func (c *Coordinator) Release(w *Window, index int) error {
	it, err := c.items.Get(index)
	if err != nil {
		return err
	}
	for _, i := range c.items.IndexesOf(it.URL) {
		if w.Contains(i) {
			return nil
		}
	}
	return c.CancelFetch(index)
}

// Wait blocks until every started fetch has been committed or dropped. A
// Dispatcher that stops accepting work must either run what it accepted or
// keep rejecting, as Loop does, for Wait to return.
func (c *Coordinator) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close cancels everything in flight.
func (c *Coordinator) Close() error {
	if n := c.registry.CancelAll(); n > 0 {
		c.logger.Debug("Cancelled in-flight fetches", "count", n)
	}
	return nil
}

// await runs off the control context: it waits for the transport, decodes,
// and hands the outcome to commit on the control context.
func (c *Coordinator) await(t *task, index int, done <-chan Response) {
	resp, ok := <-done
	if !ok {
		resp = Response{URL: t.id, Err: context.Canceled}
	}

	var payload *Payload
	err := resp.Err
	if err == nil && c.registry.current(t) {
		payload, err = c.opts.Decoder.Decode(&resp)
	}

	if !c.opts.Dispatcher.Dispatch(func() {
		defer c.wg.Done()
		c.commit(t, index, payload, err)
	}) {
		c.registry.complete(t)
		c.wg.Done()
	}
}

// commit runs on the control context.
func (c *Coordinator) commit(t *task, index int, payload *Payload, err error) {
	if !c.registry.current(t) {
		// Cancelled, or superseded by a newer fetch for the same resource.
		return
	}

	if err != nil || payload == nil {
		c.registry.complete(t)
		c.logger.Debug("Fetch dropped", "index", index, "url", t.id, "err", err)
		c.opts.emit(Event{Type: "error", Index: index, URL: t.id, Err: err})
		return
	}

	// Every row that shares this resource gets the result.
	indexes := c.items.IndexesOf(t.id)
	for _, i := range indexes {
		if err := c.items.SetResult(i, payload); err != nil {
			c.logger.Error("Storing result", "index", i, "err", err)
		}
	}
	for _, i := range indexes {
		if c.opts.Sink != nil {
			c.opts.Sink.Notify(i)
		}
		c.opts.emit(Event{Type: "done", Index: i, URL: t.id})
	}
	c.registry.complete(t)
}

func drain(done <-chan Response) {
	<-done
}
