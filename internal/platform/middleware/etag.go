package middleware

import (
	"bytes"
	"crypto/md5"
	"fmt"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

// ---------------------------------------------------------------------------
// ETagConfig
// ---------------------------------------------------------------------------

// ETagConfig holds ETag middleware configuration.
type ETagConfig struct {
	VaryHeaders  []string // Headers to include in Vary (default: ["Accept"])
	ExcludePaths []string // Paths to skip (e.g. "/health")
}

// DefaultETagConfig returns an ETagConfig with sensible defaults.
func DefaultETagConfig() ETagConfig {
	return ETagConfig{
		VaryHeaders: []string{"Accept"},
	}
}

// ---------------------------------------------------------------------------
// Buffered response writer
// ---------------------------------------------------------------------------

// bufferedResponseWriter captures the response body in a buffer so we can
// inspect it (for ETag computation) before flushing to the real writer.
type bufferedResponseWriter struct {
	writer     http.ResponseWriter
	buf        *bytes.Buffer
	statusCode int
}

func newBufferedResponseWriter(w http.ResponseWriter) *bufferedResponseWriter {
	return &bufferedResponseWriter{
		writer:     w,
		buf:        &bytes.Buffer{},
		statusCode: http.StatusOK,
	}
}

// Header returns the underlying writer's header map so that headers set by
// handlers are visible to both the middleware and the final flush.
func (w *bufferedResponseWriter) Header() http.Header {
	return w.writer.Header()
}

// Write captures bytes into the buffer instead of sending them immediately.
func (w *bufferedResponseWriter) Write(b []byte) (int, error) {
	return w.buf.Write(b)
}

// WriteHeader captures the status code without writing it to the underlying writer.
func (w *bufferedResponseWriter) WriteHeader(code int) {
	w.statusCode = code
}

// Flush implements http.Flusher (no-op for buffer).
func (w *bufferedResponseWriter) Flush() {}

// flushTo writes the buffered status and body to the underlying writer.
func (w *bufferedResponseWriter) flushTo() error {
	w.writer.WriteHeader(w.statusCode)
	if w.buf.Len() > 0 {
		_, err := w.writer.Write(w.buf.Bytes())
		return err
	}
	return nil
}

// ---------------------------------------------------------------------------
// ETag middleware
// ---------------------------------------------------------------------------

// ETag returns Echo middleware that computes and sets ETag and Vary headers
// on GET/HEAD responses, and answers If-None-Match with 304 Not Modified.
//
// Waiting-room displays poll the queue list every few seconds; a matching
// If-None-Match turns those polls into empty 304 responses.
func ETag(config ETagConfig) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()

			// Skip non-GET/HEAD methods.
			if req.Method != http.MethodGet && req.Method != http.MethodHead {
				return next(c)
			}

			// Skip excluded paths.
			if shouldSkip(req.URL.Path, config.ExcludePaths) {
				return next(c)
			}

			// Replace the response writer with a buffered version.
			res := c.Response()
			origWriter := res.Writer
			buf := newBufferedResponseWriter(origWriter)
			res.Writer = buf

			// Execute the next handler, writing into the buffer.
			if err := next(c); err != nil {
				res.Writer = origWriter
				return err
			}

			// Restore original writer.
			res.Writer = origWriter

			// Skip ETag headers for error responses.
			if buf.statusCode >= 400 {
				return buf.flushTo()
			}

			// Set Vary header.
			if len(config.VaryHeaders) > 0 {
				res.Header().Set("Vary", strings.Join(config.VaryHeaders, ", "))
			}

			// Compute ETag from body.
			etag := computeETag(buf.buf.Bytes())
			res.Header().Set("ETag", etag)

			// Conditional: If-None-Match.
			ifNoneMatch := req.Header.Get("If-None-Match")
			if ifNoneMatch != "" && etagMatch(ifNoneMatch, etag) {
				// Return 304 Not Modified with no body.
				origWriter.WriteHeader(http.StatusNotModified)
				return nil
			}

			// Flush the buffered response to the client.
			return buf.flushTo()
		}
	}
}

// ---------------------------------------------------------------------------
// Helper functions
// ---------------------------------------------------------------------------

// computeETag returns a weak ETag based on the MD5 hash of the body.
func computeETag(body []byte) string {
	hash := md5.Sum(body)
	return fmt.Sprintf(`W/"%x"`, hash)
}

// shouldSkip returns true if the path matches any of the excluded paths.
func shouldSkip(path string, excludes []string) bool {
	for _, ex := range excludes {
		if path == ex {
			return true
		}
	}
	return false
}

// etagMatch checks if the provided If-None-Match header value matches the
// given ETag. Supports comma-separated lists and the wildcard "*".
func etagMatch(headerVal, etag string) bool {
	headerVal = strings.TrimSpace(headerVal)
	if headerVal == "*" {
		return true
	}
	for _, candidate := range strings.Split(headerVal, ",") {
		candidate = strings.TrimSpace(candidate)
		if candidate == etag {
			return true
		}
		// Weak comparison: W/"x" matches W/"x" or "x".
		if stripWeakPrefix(candidate) == stripWeakPrefix(etag) {
			return true
		}
	}
	return false
}

// stripWeakPrefix removes the W/ prefix from a weak ETag.
func stripWeakPrefix(etag string) string {
	if strings.HasPrefix(etag, `W/`) {
		return etag[2:]
	}
	return etag
}
