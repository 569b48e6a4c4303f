package auth

import (
	"net/http"
	"strings"
	"time"

	"github.com/nkiryanov/authcore/internal/models"
)

const (
	DefaultAccessCookie  = "accessToken"
	DefaultRefreshCookie = "refreshToken"
)

func (s *AuthService) cookie(name string, token models.IssuedToken) *http.Cookie {
	maxAge := int(time.Until(token.ExpiresAt).Seconds())
	if maxAge <= 0 {
		maxAge = -1
	}

	return &http.Cookie{
		Name:     name,
		Value:    token.Value,
		Path:     "/",
		Expires:  token.ExpiresAt,
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   !s.cfg.InsecureCookies,
		SameSite: http.SameSiteStrictMode,
	}
}

// Put both tokens to http-only cookies
func (s *AuthService) SetTokens(w http.ResponseWriter, pair models.TokenPair) {
	http.SetCookie(w, s.cookie(s.cfg.AccessCookieName, pair.Access))
	http.SetCookie(w, s.cookie(s.cfg.RefreshCookieName, pair.Refresh))
}

// Expire both token cookies
func (s *AuthService) ClearTokens(w http.ResponseWriter) {
	for _, name := range []string{s.cfg.AccessCookieName, s.cfg.RefreshCookieName} {
		http.SetCookie(w, &http.Cookie{
			Name:     name,
			Value:    "",
			Path:     "/",
			Expires:  time.Unix(0, 0),
			MaxAge:   -1,
			HttpOnly: true,
			Secure:   !s.cfg.InsecureCookies,
			SameSite: http.SameSiteStrictMode,
		})
	}
}

// Access token is taken from cookie, then from 'Authorization: Bearer' header
// Empty string returned if request has none
func (s *AuthService) ReadAccessToken(r *http.Request) string {
	if c, err := r.Cookie(s.cfg.AccessCookieName); err == nil && c.Value != "" {
		return c.Value
	}

	scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

func (s *AuthService) ReadRefreshToken(r *http.Request) string {
	if c, err := r.Cookie(s.cfg.RefreshCookieName); err == nil {
		return c.Value
	}
	return ""
}
