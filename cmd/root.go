package cmd

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"charm.land/log/v2"
	"github.com/spf13/cobra"

	"github.com/Gaurav-Gosain/prefetched/output"
	"github.com/Gaurav-Gosain/prefetched/prefetch"
	"github.com/Gaurav-Gosain/prefetched/source"
	"github.com/Gaurav-Gosain/prefetched/tui"
)

// defaultGallery is browsed when no URLs are given.
var defaultGallery = []string{
	"http://www.gstatic.com/webp/gallery/1.jpg",
	"http://www.gstatic.com/webp/gallery/2.jpg",
	"http://www.gstatic.com/webp/gallery/3.jpg",
	"http://www.gstatic.com/webp/gallery/4.jpg",
	"http://www.gstatic.com/webp/gallery/5.jpg",
	"http://imgsv.imaging.nikon.com/lineup/coolpix/a/a/img/sample/img_06_l.jpg",
	"http://imgsv.imaging.nikon.com/lineup/coolpix/a/a/img/sample/img_07_l.jpg",
	"http://imgsv.imaging.nikon.com/lineup/coolpix/a/a/img/sample/img_08_l.jpg",
	"http://imgsv.imaging.nikon.com/lineup/coolpix/a/a/img/sample/img_09_l.jpg",
	"http://imgsv.imaging.nikon.com/lineup/coolpix/a/a/img/sample/img_10_l.jpg",
	"https://www.gstatic.com/webp/gallery3/1.png",
	"https://www.gstatic.com/webp/gallery3/2.png",
	"https://www.gstatic.com/webp/gallery3/3.png",
	"https://www.gstatic.com/webp/gallery3/4.png",
	"https://www.gstatic.com/webp/gallery3/5.png",
}

type config struct {
	FromMarkdown string
	Base         string
	FromPage     string
	Lookahead    int
	PageSize     int
	ScrollDelay  time.Duration
	Timeout      time.Duration
	UserAgent    string
	OutputDir    string
	WordWrap     int
	Renotify     bool
	Verbose      bool
}

func NewRootCmd() *cobra.Command {
	cfg := &config{}

	cmd := &cobra.Command{
		Use:   "prefetched [urls...]",
		Short: "Browse remote images, fetching rows just before they scroll into view",
		Long: "A terminal list browser over remote resources. Rows are fetched as they enter the prefetch window\n" +
			"and their downloads are cancelled when they scroll away before finishing.",
		Example: `  # Browse the built-in sample gallery
  prefetched

  # Browse given images
  prefetched https://example.com/a.jpg https://example.com/b.png

  # Browse every image referenced by a markdown file
  prefetched -f README.md --base https://github.com/user/repo/raw/main/

  # Browse the images on a page, prefetching 5 rows ahead
  prefetched --from-page https://go.dev -l 5

  # Headless: scroll through and save what loaded
  cat urls.txt | prefetched -o ./images`,
		RunE: func(c *cobra.Command, args []string) error {
			return run(c.Context(), cfg, args)
		},
		// Allow positional args (URLs) even though fang adds subcommands.
		TraverseChildren: true,
	}

	cmd.Flags().StringVarP(&cfg.FromMarkdown, "from-markdown", "f", "", "Read image references from a markdown file")
	cmd.Flags().StringVar(&cfg.Base, "base", "", "Base URL for relative references in --from-markdown")
	cmd.Flags().StringVar(&cfg.FromPage, "from-page", "", "Browse the images found on this page")
	cmd.Flags().IntVarP(&cfg.Lookahead, "lookahead", "l", 3, "Rows to prefetch beyond the visible ones")
	cmd.Flags().IntVarP(&cfg.PageSize, "page-size", "s", 4, "Rows per page when scrolling headless")
	cmd.Flags().DurationVar(&cfg.ScrollDelay, "scroll-delay", 500*time.Millisecond, "Pause between pages when scrolling headless")
	cmd.Flags().DurationVarP(&cfg.Timeout, "timeout", "t", 15*time.Second, "Per-request timeout")
	cmd.Flags().StringVar(&cfg.UserAgent, "user-agent", "", "User-Agent header for requests")
	cmd.Flags().StringVarP(&cfg.OutputDir, "output-dir", "o", "", "Save loaded resources to directory")
	cmd.Flags().IntVarP(&cfg.WordWrap, "word-wrap", "w", 100, "Word wrap width for the terminal summary")
	cmd.Flags().BoolVar(&cfg.Renotify, "renotify", false, "Redraw cached rows when they re-enter the window")
	cmd.Flags().BoolVarP(&cfg.Verbose, "verbose", "v", false, "Log every coordinator decision")

	return cmd
}

func run(ctx context.Context, cfg *config, args []string) error {
	logger := log.New(os.Stderr)
	logger.SetLevel(log.InfoLevel)
	if cfg.Verbose {
		logger.SetLevel(log.DebugLevel)
	}

	urls, err := collectURLs(ctx, cfg, args)
	if err != nil {
		return err
	}
	if len(urls) == 0 {
		return fmt.Errorf("no URLs found")
	}

	items := prefetch.NewCollection(urls)
	opts := tui.Options{
		Transport: prefetch.NewCollyTransport(prefetch.CollyOptions{
			Timeout:   cfg.Timeout,
			UserAgent: cfg.UserAgent,
		}),
		Lookahead:      cfg.Lookahead,
		PageSize:       cfg.PageSize,
		ScrollDelay:    cfg.ScrollDelay,
		RenotifyCached: cfg.Renotify,
		Logger:         logger,
	}

	if err := tui.Run(ctx, items, opts); err != nil {
		return fmt.Errorf("browsing failed: %w", err)
	}

	if cfg.OutputDir != "" {
		return output.WriteFiles(items.Items(), cfg.OutputDir)
	}
	if !tui.IsTTY() {
		return output.RenderTerminal(items.Items(), cfg.WordWrap)
	}
	return nil
}

func collectURLs(ctx context.Context, cfg *config, args []string) ([]string, error) {
	urls := make([]string, 0, len(args))
	urls = append(urls, args...)

	if cfg.FromMarkdown != "" {
		md, err := os.ReadFile(cfg.FromMarkdown)
		if err != nil {
			return nil, fmt.Errorf("reading markdown: %w", err)
		}
		urls = append(urls, source.ImagesFromMarkdown(string(md), cfg.Base)...)
	}

	if cfg.FromPage != "" {
		refs, err := source.ImagesFromPage(ctx, cfg.FromPage, source.PageOptions{
			Timeout:   cfg.Timeout,
			UserAgent: cfg.UserAgent,
		})
		if err != nil {
			return nil, err
		}
		urls = append(urls, refs...)
	}

	// Read from stdin if piped (not a terminal).
	if stat, err := os.Stdin.Stat(); err == nil && stat.Mode()&os.ModeCharDevice == 0 {
		piped, err := readURLs(os.Stdin)
		if err != nil {
			return nil, err
		}
		urls = append(urls, piped...)
	}

	if len(urls) == 0 && cfg.FromMarkdown == "" && cfg.FromPage == "" {
		urls = append(urls, defaultGallery...)
	}
	return urls, nil
}

// readURLs returns the non-blank lines of r.
func readURLs(r io.Reader) ([]string, error) {
	var urls []string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line != "" {
			urls = append(urls, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading URLs from stdin: %w", err)
	}
	return urls, nil
}
