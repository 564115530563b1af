package prefetch

import (
	"context"
	"sync"
)

// Dispatcher marshals work onto the single control context that owns the
// coordinator's state (a UI event loop, or a Loop). Dispatch must not block
// on the execution of fn. It reports whether fn was accepted.
type Dispatcher interface {
	Dispatch(fn func()) bool
}

// DispatchFunc adapts a function to Dispatcher.
type DispatchFunc func(fn func()) bool

func (f DispatchFunc) Dispatch(fn func()) bool {
	return f(fn)
}

// Loop is a single-consumer FIFO that runs dispatched functions one at a
// time on its own goroutine. The queue is unbounded so Dispatch never blocks,
// including when called from inside a running function.
//
// Loop owns its goroutine. Call Close to stop it; work accepted before Close
// still runs.
type Loop struct {
	mu     sync.Mutex
	queue  []func()
	wake   chan struct{}
	closed bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewLoop starts a loop. NewLoop never returns nil.
func NewLoop() *Loop {
	ctx, cancel := context.WithCancel(context.Background())
	l := &Loop{
		wake:   make(chan struct{}, 1),
		ctx:    ctx,
		cancel: cancel,
	}
	l.wg.Add(1)
	go l.run()
	return l
}

// Dispatch enqueues fn. It returns false once the loop is closed.
func (l *Loop) Dispatch(fn func()) bool {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return false
	}
	l.queue = append(l.queue, fn)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
	return true
}

// Do runs fn on the loop and waits for it. It must not be called from a
// function already running on the loop.
func (l *Loop) Do(fn func()) bool {
	done := make(chan struct{})
	if !l.Dispatch(func() {
		defer close(done)
		fn()
	}) {
		return false
	}
	select {
	case <-done:
		return true
	case <-l.ctx.Done():
		return false
	}
}

// Close stops accepting work, waits for functions already queued to run and
// stops the loop. Close is safe to call multiple times.
func (l *Loop) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
	l.wg.Wait()
	l.cancel()
	return nil
}

func (l *Loop) run() {
	defer l.wg.Done()
	for range l.wake {
		for {
			l.mu.Lock()
			if len(l.queue) == 0 {
				closed := l.closed
				l.mu.Unlock()
				if closed {
					return
				}
				break
			}
			fn := l.queue[0]
			l.queue[0] = nil
			l.queue = l.queue[1:]
			l.mu.Unlock()

			fn()
		}
	}
}
