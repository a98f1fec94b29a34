package api

import (
	"fmt"
	"io"

	"github.com/gin-gonic/gin"
)

// DefaultMaxBodySize caps request bodies; every request here is a small JSON document.
const DefaultMaxBodySize = 64 << 10

type ReachLimitError struct {
	MaxBytes int64
}

func (e *ReachLimitError) Error() string {
	return fmt.Sprintf("reach limit of %s", formatBytes(e.MaxBytes))
}

// newMaxSizeReader returns a reader that fails with ReachLimitError once more than
// maxSize bytes are read.
func newMaxSizeReader(r io.Reader, maxSize int64) io.Reader {
	return &maxSizeReader{r, maxSize, maxSize}
}

type maxSizeReader struct {
	reader io.Reader
	i      int64 // limit
	n      int64 // bytes left
}

func (r *maxSizeReader) Read(p []byte) (n int, err error) {
	if len(p) == 0 {
		return 0, nil
	}
	// one byte past the remainder is enough to tell the limit was crossed
	if int64(len(p)) > r.n+1 {
		p = p[:r.n+1]
	}
	n, err = r.reader.Read(p)
	if int64(n) <= r.n {
		r.n -= int64(n)
		return n, err
	}

	n = int(r.n)
	r.n = 0
	return n, &ReachLimitError{r.i}
}

type readCloser struct {
	io.Reader
	io.Closer
}

// BodyLimit wraps the request body so binding fails past maxSize bytes.
func BodyLimit(maxSize int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Body != nil {
			c.Request.Body = readCloser{newMaxSizeReader(c.Request.Body, maxSize), c.Request.Body}
		}
		c.Next()
	}
}

func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d bytes", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit && exp < 3; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.2f %cB", float64(n)/float64(div), "KMGT"[exp])
}
