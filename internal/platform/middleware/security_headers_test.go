package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func TestSecurityHeaders(t *testing.T) {
	e := echo.New()
	e.Use(SecurityHeaders())
	e.GET("/api/v1/appointments", func(c echo.Context) error {
		return c.JSON(http.StatusOK, []string{})
	})
	e.GET("/api/v1/appointments/:id", func(c echo.Context) error {
		return echo.NewHTTPError(http.StatusNotFound, "appointment not found")
	})

	expected := map[string]string{
		"X-Content-Type-Options":    "nosniff",
		"X-Frame-Options":           "DENY",
		"Content-Security-Policy":   "default-src 'none'; frame-ancestors 'none'",
		"Strict-Transport-Security": "max-age=31536000; includeSubDomains",
		"Referrer-Policy":           "strict-origin-when-cross-origin",
		"Cache-Control":             "no-store",
	}

	for _, target := range []string{"/api/v1/appointments", "/api/v1/appointments/123"} {
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
		for header, want := range expected {
			if got := rec.Header().Get(header); got != want {
				t.Errorf("%s: header %s = %q, want %q", target, header, got, want)
			}
		}
	}
}

func TestSecurityHeaders_CatalogRoutesStayCacheable(t *testing.T) {
	e := echo.New()
	e.Use(SecurityHeaders())
	e.GET("/api/v1/locations", func(c echo.Context) error {
		return c.JSON(http.StatusOK, []string{"Mumbai"})
	}, CacheControl(3600))

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/locations", nil))

	if got := rec.Header().Get("Cache-Control"); got != "public, max-age=3600" {
		t.Errorf("Cache-Control = %q, want public, max-age=3600", got)
	}
	if rec.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Error("security headers must still be set on cacheable routes")
	}
}
