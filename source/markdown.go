// Package source builds the list of resources to browse.
package source

import (
	"net/url"
	"path"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

// mdParser is reused across calls for efficiency.
var mdParser = goldmark.New()

var imageExts = map[string]bool{
	".jpg": true, ".jpeg": true, ".png": true, ".gif": true, ".webp": true,
}

// ImagesFromMarkdown parses md with goldmark and returns image destinations
// (![alt](src)) plus plain links that point at image files, resolved against
// baseURL, in document order. Duplicates are kept.
func ImagesFromMarkdown(md string, baseURL string) []string {
	var base *url.URL
	if baseURL != "" {
		b, err := url.Parse(baseURL)
		if err != nil {
			return nil
		}
		base = b
	}

	source := []byte(md)
	doc := mdParser.Parser().Parse(text.NewReader(source))

	var refs []string
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}

		var dest []byte
		switch node := n.(type) {
		case *ast.Image:
			dest = node.Destination
		case *ast.Link:
			if !isImagePath(string(node.Destination)) {
				return ast.WalkContinue, nil
			}
			dest = node.Destination
		case *ast.AutoLink:
			u := node.URL(source)
			if !isImagePath(string(u)) {
				return ast.WalkContinue, nil
			}
			dest = u
		}

		if ref, ok := resolve(base, string(dest)); ok {
			refs = append(refs, ref)
		}
		return ast.WalkContinue, nil
	})

	return refs
}

func isImagePath(raw string) bool {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return false
	}
	return imageExts[strings.ToLower(path.Ext(u.Path))]
}

// resolve makes href absolute against base and keeps only http(s) URLs.
func resolve(base *url.URL, href string) (string, bool) {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "#") || strings.HasPrefix(href, "data:") {
		return "", false
	}

	u, err := url.Parse(href)
	if err != nil {
		return "", false
	}
	if base != nil {
		u = base.ResolveReference(u)
	}
	u.Fragment = ""
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", false
	}
	return u.String(), true
}
