package auth

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

// Session is what a successful code exchange yields.
type Session struct {
	AccessToken  string
	RefreshToken string
	ExpiresIn    int
}

// SessionExchanger trades a one-time auth code for a session.
type SessionExchanger interface {
	ExchangeCode(ctx context.Context, code, codeVerifier string) (*Session, error)
}

type CallbackConfig struct {
	AppURL string
	// Cookie receives the access token.
	Cookie string
	// VerifierCookie holds the PKCE verifier set when the flow started.
	VerifierCookie string
	Secure         bool
}

// CallbackHandler finishes email-link and OAuth sign-ins.
type CallbackHandler struct {
	exchanger SessionExchanger
	cfg       CallbackConfig
	logger    zerolog.Logger
}

func NewCallbackHandler(exchanger SessionExchanger, cfg CallbackConfig, logger zerolog.Logger) *CallbackHandler {
	cfg.AppURL = strings.TrimRight(cfg.AppURL, "/")
	return &CallbackHandler{exchanger: exchanger, cfg: cfg, logger: logger}
}

func (h *CallbackHandler) RegisterRoutes(e *echo.Echo) {
	e.GET("/auth/callback", h.Callback)
}

// Callback handles GET /auth/callback?code|error&type&next|redirect.
//
//	error      -> /login?error=...&error_description=...
//	recovery   -> /reset-password
//	signup     -> /onboarding
//	otherwise  -> next or redirect (same-site paths only), else /dashboard
func (h *CallbackHandler) Callback(c echo.Context) error {
	q := c.QueryParams()

	if errCode := q.Get("error"); errCode != "" {
		target := "/login?error=" + url.QueryEscape(errCode)
		if desc := q.Get("error_description"); desc != "" {
			target += "&error_description=" + url.QueryEscape(desc)
		}
		return c.Redirect(http.StatusFound, h.cfg.AppURL+target)
	}

	code := q.Get("code")
	if code == "" {
		return c.Redirect(http.StatusFound, h.cfg.AppURL+"/login?error=missing_code")
	}

	var verifier string
	if h.cfg.VerifierCookie != "" {
		if ck, err := c.Cookie(h.cfg.VerifierCookie); err == nil {
			verifier = ck.Value
		}
	}

	session, err := h.exchanger.ExchangeCode(c.Request().Context(), code, verifier)
	if err != nil {
		h.logger.Warn().Err(err).Msg("auth code exchange failed")
		return c.Redirect(http.StatusFound, h.cfg.AppURL+"/login?error=exchange_failed")
	}
	h.setSession(c, session)

	return c.Redirect(http.StatusFound, h.cfg.AppURL+CallbackTarget(q.Get("type"), q.Get("next"), q.Get("redirect")))
}

func (h *CallbackHandler) setSession(c echo.Context, s *Session) {
	if h.cfg.Cookie == "" || s == nil || s.AccessToken == "" {
		return
	}
	maxAge := s.ExpiresIn
	if maxAge <= 0 {
		maxAge = int(time.Hour / time.Second)
	}
	c.SetCookie(&http.Cookie{
		Name:     h.cfg.Cookie,
		Value:    s.AccessToken,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   h.cfg.Secure,
		SameSite: http.SameSiteLaxMode,
	})
	if h.cfg.VerifierCookie != "" {
		c.SetCookie(&http.Cookie{Name: h.cfg.VerifierCookie, Path: "/", MaxAge: -1})
	}
}

// CallbackTarget picks the in-app path to land on after a code exchange.
func CallbackTarget(flow, next, redirect string) string {
	switch flow {
	case "recovery":
		return "/reset-password"
	case "signup":
		return "/onboarding"
	}
	for _, p := range []string{next, redirect} {
		if isLocalPath(p) {
			return p
		}
	}
	return DashboardPrefix
}

// isLocalPath rejects absolute and protocol-relative URLs so the callback
// cannot be used as an open redirect.
func isLocalPath(p string) bool {
	return strings.HasPrefix(p, "/") && !strings.HasPrefix(p, "//") && !strings.Contains(p, `\`)
}
