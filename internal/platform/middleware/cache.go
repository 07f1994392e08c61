package middleware

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
)

// CacheControl marks successful GET responses as publicly cacheable for
// maxAge seconds and adds a strong ETag. A matching If-None-Match returns
// 304 without a body.
func CacheControl(maxAge int) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if c.Request().Method != http.MethodGet {
				return next(c)
			}

			res := c.Response()
			orig := res.Writer
			buf := &bufferedWriter{header: orig.Header(), status: http.StatusOK}
			res.Writer = buf

			err := next(c)
			res.Writer = orig
			if err != nil {
				return err
			}

			if buf.status == http.StatusOK {
				etag := computeETag(buf.body.Bytes())
				orig.Header().Set("Cache-Control", fmt.Sprintf("public, max-age=%d", maxAge))
				orig.Header().Set("ETag", etag)
				if match := c.Request().Header.Get("If-None-Match"); match == etag {
					orig.WriteHeader(http.StatusNotModified)
					return nil
				}
			}
			orig.WriteHeader(buf.status)
			_, werr := orig.Write(buf.body.Bytes())
			return werr
		}
	}
}

func computeETag(body []byte) string {
	sum := sha256.Sum256(body)
	return `"` + hex.EncodeToString(sum[:16]) + `"`
}

type bufferedWriter struct {
	header http.Header
	status int
	body   bytes.Buffer
}

func (w *bufferedWriter) Header() http.Header { return w.header }

func (w *bufferedWriter) WriteHeader(code int) { w.status = code }

func (w *bufferedWriter) Write(b []byte) (int, error) { return w.body.Write(b) }
