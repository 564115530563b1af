package prefetch

import (
	"context"
	"errors"
	"time"

	"github.com/gocolly/colly/v2"
)

// Response is what a transport delivers for one fetch.
type Response struct {
	URL         string
	StatusCode  int
	ContentType string
	Body        []byte
	Err         error
}

// Transport starts fetches. Start must not block on the network; done
// receives exactly one Response (or is closed) once the fetch ends, including
// after cancel.
type Transport interface {
	Start(url string) (cancel func(), done <-chan Response)
}

// CollyOptions configures CollyTransport.
type CollyOptions struct {
	Timeout     time.Duration // 0 = 15s
	UserAgent   string        // "" = colly default
	MaxBodySize int           // 0 = colly default (10MB)
}

// CollyTransport issues one plain GET per fetch through a colly collector
// bound to a per-fetch context, so cancel aborts the request in flight.
type CollyTransport struct {
	opts CollyOptions
}

func NewCollyTransport(opts CollyOptions) *CollyTransport {
	if opts.Timeout <= 0 {
		opts.Timeout = 15 * time.Second
	}
	return &CollyTransport{opts: opts}
}

func (t *CollyTransport) Start(url string) (func(), <-chan Response) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan Response, 1)

	go func() {
		done <- t.fetch(ctx, url)
	}()

	return cancel, done
}

func (t *CollyTransport) collector(ctx context.Context) *colly.Collector {
	opts := []colly.CollectorOption{
		colly.StdlibContext(ctx),
		colly.AllowURLRevisit(),
	}
	if t.opts.UserAgent != "" {
		opts = append(opts, colly.UserAgent(t.opts.UserAgent))
	}
	if t.opts.MaxBodySize > 0 {
		opts = append(opts, colly.MaxBodySize(t.opts.MaxBodySize))
	}
	c := colly.NewCollector(opts...)
	c.SetRequestTimeout(t.opts.Timeout)
	return c
}

func (t *CollyTransport) fetch(ctx context.Context, url string) Response {
	resp := Response{URL: url}
	c := t.collector(ctx)

	c.OnRequest(func(r *colly.Request) {
		if ctx.Err() != nil {
			r.Abort()
		}
	})

	c.OnResponse(func(r *colly.Response) {
		resp.StatusCode = r.StatusCode
		resp.ContentType = r.Headers.Get("Content-Type")
		resp.Body = r.Body
	})

	c.OnError(func(r *colly.Response, err error) {
		if r != nil && r.StatusCode != 0 {
			resp.StatusCode = r.StatusCode
		}
	})

	err := c.Visit(url)
	switch {
	case ctx.Err() != nil:
		resp.Err = ctx.Err()
	case err != nil && resp.StatusCode >= 300:
		resp.Err = &StatusError{URL: url, StatusCode: resp.StatusCode}
	case err != nil:
		resp.Err = err
	case resp.StatusCode == 0:
		// Aborted before the request went out.
		resp.Err = errors.New("request aborted")
	}
	return resp
}
