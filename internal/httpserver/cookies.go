package httpserver

import (
	"net/http"
	"time"
)

const stateCookie = "autho_state"

// The callback may arrive as a cross-site form post (Apple), which only
// carries SameSite=None cookies.
func createCookie(name, value, path string, exp time.Time, secure bool) *http.Cookie {
	cookie := &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     path,
		Expires:  exp,
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	}
	if secure {
		cookie.SameSite = http.SameSiteNoneMode
	}
	return cookie
}

func deleteCookie(name, path string, secure bool) *http.Cookie {
	cookie := createCookie(name, "", path, time.Unix(0, 0), secure)
	cookie.MaxAge = -1
	return cookie
}
