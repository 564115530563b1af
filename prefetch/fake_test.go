package prefetch

import (
	"context"
	"sync"
	"sync/atomic"
)

type fakeFetch struct {
	url       string
	done      chan Response
	once      sync.Once
	cancelled atomic.Bool
}

func (f *fakeFetch) finish(r Response) {
	f.once.Do(func() {
		r.URL = f.url
		f.done <- r
	})
}

func (f *fakeFetch) succeed(body string) {
	f.finish(Response{StatusCode: 200, ContentType: "text/plain", Body: []byte(body)})
}

func (f *fakeFetch) fail(err error) {
	f.finish(Response{Err: err})
}

// fakeTransport hands out fetches the test completes by hand.
type fakeTransport struct {
	mu      sync.Mutex
	fetches []*fakeFetch

	// ignoreCancel keeps cancelled fetches open so a test can deliver a late
	// completion.
	ignoreCancel bool
}

func (t *fakeTransport) Start(url string) (func(), <-chan Response) {
	f := &fakeFetch{url: url, done: make(chan Response, 1)}
	t.mu.Lock()
	t.fetches = append(t.fetches, f)
	t.mu.Unlock()

	return func() {
		f.cancelled.Store(true)
		if !t.ignoreCancel {
			f.fail(context.Canceled)
		}
	}, f.done
}

func (t *fakeTransport) started(url string) []*fakeFetch {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []*fakeFetch
	for _, f := range t.fetches {
		if f.url == url {
			out = append(out, f)
		}
	}
	return out
}

type recordingSink struct {
	mu       sync.Mutex
	notified []int
}

func (s *recordingSink) Notify(index int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notified = append(s.notified, index)
}

func (s *recordingSink) count(index int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, i := range s.notified {
		if i == index {
			n++
		}
	}
	return n
}

// textDecoder treats the body as markdown and rejects "corrupt".
var textDecoder = DecoderFunc(func(resp *Response) (*Payload, error) {
	if string(resp.Body) == "corrupt" {
		return nil, ErrUnsupportedContent
	}
	return &Payload{URL: resp.URL, Kind: "markdown", Markdown: string(resp.Body), Data: resp.Body}, nil
})
