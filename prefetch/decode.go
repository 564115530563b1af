package prefetch

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"mime"
	"net/http"
	"strings"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
)

// Decoder turns a successful transport response into a payload.
type Decoder interface {
	Decode(resp *Response) (*Payload, error)
}

// DecoderFunc adapts a function to Decoder.
type DecoderFunc func(resp *Response) (*Payload, error)

func (f DecoderFunc) Decode(resp *Response) (*Payload, error) {
	return f(resp)
}

// ContentDecoder decodes images, native markdown and HTML pages, choosing by
// Content-Type and sniffing the body when the header is missing.
type ContentDecoder struct{}

func (ContentDecoder) Decode(resp *Response) (*Payload, error) {
	ct := mediaType(resp.ContentType)
	if ct == "" || ct == "application/octet-stream" {
		ct = mediaType(http.DetectContentType(resp.Body))
	}

	switch {
	case strings.HasPrefix(ct, "image/"):
		return decodeImage(resp, ct)
	case ct == "text/markdown":
		return &Payload{
			URL:         resp.URL,
			ContentType: ct,
			Kind:        "markdown",
			Format:      "native",
			Markdown:    string(resp.Body),
			Data:        resp.Body,
		}, nil
	case ct == "text/html":
		md, err := htmltomarkdown.ConvertString(
			string(resp.Body),
			converter.WithDomain(resp.URL),
		)
		if err != nil {
			return nil, fmt.Errorf("markdown conversion failed: %w", err)
		}
		return &Payload{
			URL:         resp.URL,
			ContentType: ct,
			Kind:        "markdown",
			Format:      "converted",
			Markdown:    md,
			Data:        []byte(md),
		}, nil
	default:
		return nil, fmt.Errorf("%s: %w", ct, ErrUnsupportedContent)
	}
}

func decodeImage(resp *Response, ct string) (*Payload, error) {
	img, format, err := image.Decode(bytes.NewReader(resp.Body))
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", ct, err)
	}
	b := img.Bounds()
	return &Payload{
		URL:         resp.URL,
		ContentType: ct,
		Kind:        "image",
		Format:      format,
		Width:       b.Dx(),
		Height:      b.Dy(),
		Data:        resp.Body,
	}, nil
}

func mediaType(ct string) string {
	if ct == "" {
		return ""
	}
	mt, _, err := mime.ParseMediaType(ct)
	if err != nil {
		return strings.ToLower(strings.TrimSpace(strings.Split(ct, ";")[0]))
	}
	return mt
}
