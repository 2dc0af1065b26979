package middleware

import (
	"fmt"
	"net/http"

	"github.com/klauspost/compress/gzhttp"
)

// GZip compresses responses of at least minSize bytes for clients that
// accept gzip
func GZip(minSize int) (func(http.Handler) http.Handler, error) {
	if minSize <= 0 {
		minSize = gzhttp.DefaultMinSize
	}
	wrapper, err := gzhttp.NewWrapper(gzhttp.MinSize(minSize))
	if err != nil {
		return nil, fmt.Errorf("failed to create gzip middleware: %w", err)
	}
	return func(next http.Handler) http.Handler {
		return wrapper(next)
	}, nil
}
