package authgate

import (
	"net/http"
	"time"

	"marketplace-gateway/internal/config"
	"marketplace-gateway/internal/model"
)

// CookieWriter maps a session onto the access/refresh cookie pair. Both are
// HTTP-only and scoped to /; Secure is set outside development. The access
// cookie lives as long as the access token, the refresh cookie ~30 days.
type CookieWriter struct {
	accessName  string
	refreshName string
	refreshTTL  time.Duration
	secure      bool
}

func NewCookieWriter(cfg *config.Config) *CookieWriter {
	return &CookieWriter{
		accessName:  cfg.Identity.AccessCookie,
		refreshName: cfg.Identity.RefreshCookie,
		refreshTTL:  cfg.Identity.RefreshTTL,
		secure:      !cfg.IsDevelopment(),
	}
}

func (c *CookieWriter) Write(w http.ResponseWriter, session *model.Session) {
	now := time.Now()

	http.SetCookie(w, &http.Cookie{
		Name:     c.accessName,
		Value:    session.AccessToken,
		Path:     "/",
		MaxAge:   int(session.AccessExpiresAt.Sub(now).Seconds()),
		HttpOnly: true,
		Secure:   c.secure,
		SameSite: http.SameSiteLaxMode,
	})
	http.SetCookie(w, &http.Cookie{
		Name:     c.refreshName,
		Value:    session.RefreshToken,
		Path:     "/",
		MaxAge:   int(c.refreshTTL.Seconds()),
		HttpOnly: true,
		Secure:   c.secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// Clear expires both cookies immediately.
func (c *CookieWriter) Clear(w http.ResponseWriter) {
	for _, name := range []string{c.accessName, c.refreshName} {
		http.SetCookie(w, &http.Cookie{
			Name:     name,
			Value:    "",
			Path:     "/",
			MaxAge:   -1,
			HttpOnly: true,
			Secure:   c.secure,
			SameSite: http.SameSiteLaxMode,
		})
	}
}

// Read extracts the token pair from an incoming request. Missing cookies
// come back as empty strings; callers decide what is required.
func (c *CookieWriter) Read(r *http.Request) (accessToken, refreshToken string) {
	if cookie, err := r.Cookie(c.accessName); err == nil {
		accessToken = cookie.Value
	}
	if cookie, err := r.Cookie(c.refreshName); err == nil {
		refreshToken = cookie.Value
	}
	return accessToken, refreshToken
}
