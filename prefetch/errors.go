package prefetch

import (
	"errors"
	"fmt"
)

var (
	// ErrOutOfRange is returned for an index outside the collection. It means
	// the caller (usually the UI) is out of sync with the collection.
	ErrOutOfRange = errors.New("index out of range")

	// ErrUnsupportedContent is returned by ContentDecoder for payloads it
	// cannot turn into a result.
	ErrUnsupportedContent = errors.New("unsupported content type")
)

// StatusError reports a non-2xx HTTP response.
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("request failed (status %d): %s", e.StatusCode, e.URL)
}
