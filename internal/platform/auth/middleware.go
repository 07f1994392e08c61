package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

type contextKey string

const callerKey contextKey = "caller"

// Caller is the authenticated identity behind a request. LocationID is set
// for location admins and DoctorID for doctors.
type Caller struct {
	UserID     uuid.UUID  `json:"userId"`
	Email      string     `json:"email,omitempty"`
	Role       Role       `json:"role"`
	LocationID *uuid.UUID `json:"locationId,omitempty"`
	DoctorID   *uuid.UUID `json:"doctorId,omitempty"`
}

// Claims is the subset of the session provider's access token we rely on.
type Claims struct {
	jwt.RegisteredClaims
	Email string `json:"email"`
	Role  string `json:"role"`
}

type JWTConfig struct {
	// Secret is the project's HS256 signing secret.
	Secret []byte
	// Cookie is checked when there is no Authorization header.
	Cookie string
	// Optional lets requests without a token through anonymously. A token
	// that is present but invalid is still rejected.
	Optional bool
	Skipper  func(echo.Context) bool
}

// JWTMiddleware validates the bearer token and stores the Caller on the
// request context. The caller's role starts as Patient; RoleResolver
// replaces it with the stored one.
func JWTMiddleware(cfg JWTConfig) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if cfg.Skipper != nil && cfg.Skipper(c) {
				return next(c)
			}

			tokenStr, err := tokenFromRequest(c, cfg.Cookie)
			if err != nil {
				return err
			}
			if tokenStr == "" {
				if cfg.Optional {
					return next(c)
				}
				return echo.NewHTTPError(http.StatusUnauthorized, "missing authorization header")
			}

			caller, err := ParseToken(tokenStr, cfg.Secret)
			if err != nil {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
			}

			c.SetRequest(c.Request().WithContext(WithCaller(c.Request().Context(), caller)))
			return next(c)
		}
	}
}

func tokenFromRequest(c echo.Context, cookieName string) (string, error) {
	authHeader := c.Request().Header.Get("Authorization")
	if authHeader != "" {
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") || strings.TrimSpace(parts[1]) == "" {
			return "", echo.NewHTTPError(http.StatusUnauthorized, "invalid authorization format")
		}
		return strings.TrimSpace(parts[1]), nil
	}
	if cookieName != "" {
		if ck, err := c.Cookie(cookieName); err == nil && ck.Value != "" {
			return ck.Value, nil
		}
	}
	return "", nil
}

// ParseToken validates an HS256 access token and returns the caller it
// names. The subject must be a UUID.
func ParseToken(tokenStr string, secret []byte) (*Caller, error) {
	if len(secret) == 0 {
		return nil, jwt.ErrTokenUnverifiable
	}
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (interface{}, error) {
		return secret, nil
	}, jwt.WithValidMethods([]string{"HS256"}), jwt.WithExpirationRequired())
	if err != nil || !token.Valid {
		return nil, err
	}
	id, err := uuid.Parse(claims.Subject)
	if err != nil {
		return nil, err
	}
	return &Caller{UserID: id, Email: claims.Email, Role: Patient}, nil
}

// RequireAuth rejects anonymous requests with 401.
func RequireAuth() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if _, ok := CallerFromContext(c.Request().Context()); !ok {
				return echo.NewHTTPError(http.StatusUnauthorized, "authentication required")
			}
			return next(c)
		}
	}
}

func WithCaller(ctx context.Context, caller *Caller) context.Context {
	return context.WithValue(ctx, callerKey, caller)
}

func CallerFromContext(ctx context.Context) (*Caller, bool) {
	caller, ok := ctx.Value(callerKey).(*Caller)
	return caller, ok && caller != nil
}
