package tui

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"charm.land/lipgloss/v2"
	"charm.land/log/v2"

	"github.com/Gaurav-Gosain/prefetched/prefetch"
)

// Tokyo Night palette.
var (
	tnFg      = lipgloss.Color("#a9b1d6")
	tnBlue    = lipgloss.Color("#7aa2f7")
	tnPurple  = lipgloss.Color("#bb9af7")
	tnCyan    = lipgloss.Color("#7dcfff")
	tnGreen   = lipgloss.Color("#9ece6a")
	tnYellow  = lipgloss.Color("#e0af68")
	tnRed     = lipgloss.Color("#f7768e")
	tnComment = lipgloss.Color("#565f89")
	tnDark    = lipgloss.Color("#1a1b26")
	tnSurface = lipgloss.Color("#292e42")
	tnGutter  = lipgloss.Color("#3b4261")
)

// Options configures a browsing session.
type Options struct {
	Transport      prefetch.Transport
	Decoder        prefetch.Decoder // nil = prefetch.ContentDecoder
	Lookahead      int              // rows prefetched past the visible ones
	PageSize       int              // rows per page in headless mode
	ScrollDelay    time.Duration    // pause between pages in headless mode
	RenotifyCached bool
	Logger         *log.Logger
}

// IsTTY reports whether stderr is connected to a terminal.
func IsTTY() bool {
	fi, err := os.Stderr.Stat()
	if err != nil {
		return false
	}
	return fi.Mode()&os.ModeCharDevice != 0
}

// Run browses items interactively on a terminal. Without a TTY it scrolls
// through them page by page and logs what the coordinator does.
func Run(ctx context.Context, items *prefetch.Collection, opts Options) error {
	if !IsTTY() {
		return runWithLogs(ctx, items, opts)
	}
	return RunBrowser(ctx, items, opts)
}

func runWithLogs(ctx context.Context, items *prefetch.Collection, opts Options) error {
	logger := opts.Logger
	if logger == nil {
		logger = log.New(os.Stderr)
		logger.SetLevel(log.InfoLevel)
	}
	pageSize := max(1, opts.PageSize)
	total := items.Len()

	loop := prefetch.NewLoop()
	defer loop.Close()

	// window is only touched on the loop.
	window := prefetch.NewWindow(total, opts.Lookahead)

	coord := prefetch.New(items, prefetch.Options{
		Transport:      opts.Transport,
		Decoder:        opts.Decoder,
		Dispatcher:     loop,
		Logger:         logger,
		RenotifyCached: opts.RenotifyCached,
		Sink: prefetch.SinkFunc(func(i int) {
			if window.Visible(i) {
				logger.Info("Redraw", "row", i)
			}
		}),
		OnEvent: func(e prefetch.Event) {
			switch e.Type {
			case "fetching":
				logger.Info("Fetching", "row", e.Index, "url", e.URL)
			case "done":
				logger.Info("Done", "row", e.Index, "url", e.URL)
			case "cancelled":
				logger.Warn("Cancelled", "row", e.Index, "url", e.URL)
			case "error":
				logger.Error("Failed", "row", e.Index, "url", e.URL, "err", e.Err)
			}
		},
	})
	defer coord.Close()

	logger.Info("Starting scroll", "items", total, "page", pageSize, "lookahead", opts.Lookahead)

	for offset := 0; offset < total; offset += pageSize {
		var err error
		loop.Do(func() {
			err = coord.Follow(window, offset, pageSize)
		})
		if err != nil {
			return err
		}
		logger.Debug("Scrolled", "offset", offset)

		if offset+pageSize >= total {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(opts.ScrollDelay):
		}
	}

	if err := coord.Wait(ctx); err != nil {
		return fmt.Errorf("waiting for fetches: %w", err)
	}

	logger.Info("Scroll complete", "loaded", items.Loaded(), "total", total)
	return nil
}

// quietLogger keeps coordinator logs off the alt screen.
func quietLogger() *log.Logger {
	return log.New(io.Discard)
}

func truncateURL(u string, maxLen int) string {
	if len(u) <= maxLen {
		return u
	}
	return u[:maxLen-3] + "..."
}
