package auth

import (
	"github.com/labstack/echo/v4"
)

// publicPaths bypass token parsing entirely, so a stale cookie cannot break
// health checks or the sign-in callback.
var publicPaths = map[string]bool{
	"/health":        true,
	"/health/db":     true,
	"/auth/callback": true,
}

// AuthSkipper returns true for requests whose route is public.
func AuthSkipper(c echo.Context) bool {
	return publicPaths[c.Path()]
}

// IsPublicPath reports whether the given path is a public endpoint.
func IsPublicPath(path string) bool {
	return publicPaths[path]
}
