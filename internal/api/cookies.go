package api

import (
	"net/http"
	"time"
)

// Session cookie names shared with the browser client.
const (
	accessCookieName  = "jwtToken"
	refreshCookieName = "refreshToken"
)

// sessionCookie builds an HTTP-only cookie scoped to the whole site. In
// production the client is served cross-site, which requires Secure and
// SameSite=None.
func (s *Server) sessionCookie(name, value string, maxAge time.Duration) *http.Cookie {
	c := &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		HttpOnly: true,
		MaxAge:   int(maxAge.Seconds()),
		SameSite: http.SameSiteLaxMode,
	}
	if s.appCfg.IsProduction() {
		c.Secure = true
		c.SameSite = http.SameSiteNoneMode
	}
	return c
}

// setAccessCookie sends the access token cookie. Cookie lifetimes follow
// the token lifetimes of the issuer.
func (s *Server) setAccessCookie(w http.ResponseWriter, token string) {
	http.SetCookie(w, s.sessionCookie(accessCookieName, token, s.tokens.AccessTTL()))
}

// setSessionCookies sends both session cookies after a login.
func (s *Server) setSessionCookies(w http.ResponseWriter, accessToken, refreshToken string) {
	s.setAccessCookie(w, accessToken)
	http.SetCookie(w, s.sessionCookie(refreshCookieName, refreshToken, s.tokens.RefreshTTL()))
}

// clearSessionCookies expires both session cookies.
func (s *Server) clearSessionCookies(w http.ResponseWriter) {
	for _, name := range []string{accessCookieName, refreshCookieName} {
		c := s.sessionCookie(name, "", 0)
		c.MaxAge = -1
		c.Expires = time.Unix(0, 0)
		http.SetCookie(w, c)
	}
}

// cookieValue returns the named cookie's value, or "" when absent.
func cookieValue(r *http.Request, name string) string {
	c, err := r.Cookie(name)
	if err != nil {
		return ""
	}
	return c.Value
}
