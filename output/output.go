package output

import (
	"fmt"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"charm.land/glamour/v2"
	"github.com/dustin/go-humanize"

	"github.com/Gaurav-Gosain/prefetched/prefetch"
)

// Summary returns a one-line description of a loaded payload.
func Summary(p *prefetch.Payload) string {
	if p == nil {
		return ""
	}
	if p.Kind == "image" {
		return fmt.Sprintf("%s %d×%d · %s", p.Format, p.Width, p.Height, humanize.Bytes(uint64(len(p.Data))))
	}
	return fmt.Sprintf("%s markdown · %s", p.Format, humanize.Bytes(uint64(len(p.Markdown))))
}

// Describe renders an item as markdown for the pager.
func Describe(it prefetch.Item) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", it.URL)

	p := it.Result
	if p == nil {
		b.WriteString("_Not loaded._\n")
		return b.String()
	}

	if p.Kind == "markdown" {
		b.WriteString(p.Markdown)
		return b.String()
	}

	b.WriteString("| Field | Value |\n|---|---|\n")
	fmt.Fprintf(&b, "| Content type | `%s` |\n", p.ContentType)
	fmt.Fprintf(&b, "| Format | %s |\n", p.Format)
	fmt.Fprintf(&b, "| Dimensions | %d × %d |\n", p.Width, p.Height)
	fmt.Fprintf(&b, "| Size | %s |\n", humanize.Bytes(uint64(len(p.Data))))
	return b.String()
}

// summaryMarkdown renders every item as one markdown table.
func summaryMarkdown(items []prefetch.Item) string {
	loaded := 0
	var b strings.Builder
	b.WriteString("| # | URL | Result |\n|---|---|---|\n")
	for i, it := range items {
		result := "_not loaded_"
		if it.Result != nil {
			loaded++
			result = Summary(it.Result)
		}
		fmt.Fprintf(&b, "| %d | %s | %s |\n", i, it.URL, result)
	}
	return fmt.Sprintf("# Prefetch summary\n\n%d of %d loaded.\n\n%s", loaded, len(items), b.String())
}

// RenderTerminal renders a summary of items to stdout using glamour.
func RenderTerminal(items []prefetch.Item, wordWrap int) error {
	renderer, err := glamour.NewTermRenderer(
		glamour.WithEnvironmentConfig(),
		glamour.WithWordWrap(wordWrap),
	)
	if err != nil {
		return fmt.Errorf("failed to create renderer: %w", err)
	}

	rendered, err := renderer.Render(summaryMarkdown(items))
	if err != nil {
		return fmt.Errorf("failed to render summary: %w", err)
	}
	fmt.Print(rendered)
	return nil
}

// WriteFiles writes each loaded payload into the given directory. Pages are
// written as their markdown, images as the fetched bytes.
func WriteFiles(items []prefetch.Item, dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	written := make(map[string]bool)
	for _, it := range items {
		if it.Result == nil {
			fmt.Fprintf(os.Stderr, "Not loaded: %s\n", it.URL)
			continue
		}

		filename := urlToFilename(it.URL, it.Result.Kind)
		if written[filename] {
			continue
		}
		written[filename] = true

		p := filepath.Join(dir, filename)
		if err := os.WriteFile(p, it.Result.Data, 0o644); err != nil {
			fmt.Fprintf(os.Stderr, "Error writing %s: %v\n", p, err)
			continue
		}
		fmt.Fprintf(os.Stderr, "Saved: %s\n", p)
	}
	return nil
}

// urlToFilename converts a URL to a safe filename. Images keep their
// extension; pages get ".md".
func urlToFilename(rawURL, kind string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "unknown"
	}

	ext := path.Ext(u.Path)
	name := u.Host + strings.TrimSuffix(u.Path, ext)
	name = strings.ReplaceAll(name, "/", "-")
	name = strings.Trim(name, "-")

	if name == "" {
		name = "index"
	}
	if kind == "markdown" {
		return name + ".md"
	}
	if ext == "" {
		ext = ".bin"
	}
	return name + ext
}
