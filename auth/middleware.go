package auth

import (
	"net/http"
	"strings"
)

// LoadSession attaches the cookie session, if any, to the request context.
func LoadSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s, ok := GetSession(r); ok {
			r = r.WithContext(WithSession(r.Context(), s))
		}
		next.ServeHTTP(w, r)
	})
}

// RequireSession redirects anonymous requests to the login page.
func RequireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, err := CheckAuth(r.Context()); err != nil {
			Redirect(w, r, "/login")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireAccess sends signed-in users who have not paid to the payment page.
// It expects RequireSession to have run first.
func RequireAccess(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s, err := CheckAuth(r.Context())
		if err != nil {
			Redirect(w, r, "/login")
			return
		}
		if !s.HasAccess {
			Redirect(w, r, "/payment")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RedirectSignedIn keeps signed-in users away from the login and signup
// pages, and entitled users away from the payment page.
func RedirectSignedIn(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s, err := CheckAuth(r.Context())
		if err != nil {
			next.ServeHTTP(w, r)
			return
		}
		if s.HasAccess {
			Redirect(w, r, "/app/dashboard")
			return
		}
		if !strings.HasPrefix(r.URL.Path, "/payment") {
			Redirect(w, r, "/payment")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Redirect answers HTMX requests with HX-Redirect and others with a 303.
func Redirect(w http.ResponseWriter, r *http.Request, to string) {
	if r.Header.Get("HX-Request") == "true" {
		w.Header().Set("HX-Redirect", to)
		w.WriteHeader(http.StatusOK)
		return
	}
	http.Redirect(w, r, to, http.StatusSeeOther)
}
