package cmd

import (
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadURLs(t *testing.T) {
	urls, err := readURLs(strings.NewReader("https://a/1.png\n\n  https://a/2.png  \n"))
	require.NoError(t, err)
	assert.Equal(t, []string{"https://a/1.png", "https://a/2.png"}, urls)
}

type brokenReader struct{}

func (brokenReader) Read([]byte) (int, error) {
	return 0, errors.New("pipe closed")
}

func TestReadURLsReportsReadError(t *testing.T) {
	_, err := readURLs(io.MultiReader(strings.NewReader("https://a/1.png\n"), brokenReader{}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pipe closed")
}
