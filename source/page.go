package source

import (
	"context"
	"fmt"
	"time"

	"github.com/gocolly/colly/v2"
)

// PageOptions configures ImagesFromPage.
type PageOptions struct {
	Timeout   time.Duration // 0 = 15s
	UserAgent string
}

// ImagesFromPage fetches pageURL and returns the absolute src of every
// <img> on it, in document order.
func ImagesFromPage(ctx context.Context, pageURL string, opts PageOptions) ([]string, error) {
	if opts.Timeout <= 0 {
		opts.Timeout = 15 * time.Second
	}

	collectorOpts := []colly.CollectorOption{
		colly.StdlibContext(ctx),
	}
	if opts.UserAgent != "" {
		collectorOpts = append(collectorOpts, colly.UserAgent(opts.UserAgent))
	}
	c := colly.NewCollector(collectorOpts...)
	c.SetRequestTimeout(opts.Timeout)

	var refs []string
	c.OnHTML("img[src]", func(e *colly.HTMLElement) {
		if ref, ok := resolve(nil, e.Request.AbsoluteURL(e.Attr("src"))); ok {
			refs = append(refs, ref)
		}
	})

	var status int
	c.OnError(func(r *colly.Response, err error) {
		if r != nil {
			status = r.StatusCode
		}
	})

	if err := c.Visit(pageURL); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if status != 0 {
			return nil, fmt.Errorf("fetching %s (status %d): %w", pageURL, status, err)
		}
		return nil, fmt.Errorf("fetching %s: %w", pageURL, err)
	}
	return refs, nil
}
