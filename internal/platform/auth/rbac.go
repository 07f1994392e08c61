package auth

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

// Directory resolves a user id to the stored caller record. It returns
// (nil, nil) when the user has no profile row yet.
type Directory interface {
	LookupCaller(ctx context.Context, userID uuid.UUID) (*Caller, error)
}

// RoleResolver replaces the token-derived caller with the stored one so
// that the users table, not the token, decides the role.
func RoleResolver(dir Directory, logger zerolog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx := c.Request().Context()
			caller, ok := CallerFromContext(ctx)
			if !ok {
				return next(c)
			}

			stored, err := dir.LookupCaller(ctx, caller.UserID)
			if err != nil {
				logger.Error().Err(err).Str("user_id", caller.UserID.String()).Msg("resolve caller role")
				return echo.NewHTTPError(http.StatusInternalServerError, "something went wrong, please try again")
			}
			if stored == nil {
				stored = &Caller{UserID: caller.UserID, Email: caller.Email, Role: Patient}
			}
			if stored.Email == "" {
				stored.Email = caller.Email
			}

			c.SetRequest(c.Request().WithContext(WithCaller(ctx, stored)))
			return next(c)
		}
	}
}

// RequireRole rejects callers whose role is not listed. Super admins always
// pass. Anonymous callers get 401.
func RequireRole(roles ...Role) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			caller, ok := CallerFromContext(c.Request().Context())
			if !ok {
				return echo.NewHTTPError(http.StatusUnauthorized, "authentication required")
			}
			if caller.Role == SuperAdmin {
				return next(c)
			}
			for _, r := range roles {
				if caller.Role == r {
					return next(c)
				}
			}
			names := make([]string, len(roles))
			for i, r := range roles {
				names[i] = r.String()
			}
			return echo.NewHTTPError(http.StatusForbidden, "required role: "+strings.Join(names, " or "))
		}
	}
}

// DashboardGate enforces Evaluate on every request it wraps. Anonymous
// requests are sent to loginPath with the original path as ?redirect.
func DashboardGate(loginPath string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			path := c.Request().URL.Path
			caller, ok := CallerFromContext(c.Request().Context())
			if !ok {
				return c.Redirect(http.StatusFound, loginPath+"?redirect="+url.QueryEscape(path))
			}
			d := Evaluate(caller.Role, path)
			if !d.Allow {
				return c.Redirect(http.StatusFound, d.Redirect)
			}
			return next(c)
		}
	}
}
