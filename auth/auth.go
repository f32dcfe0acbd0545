package auth

import (
	"context"
	"crypto/sha256"
	"errors"
	"net/http"

	"github.com/gorilla/sessions"

	"petsoft/config"
)

var Store *sessions.CookieStore

// ErrUnauthenticated means the request carries no valid session.
var ErrUnauthenticated = errors.New("unauthenticated")

const SessionName = "petsoft-session"

func InitStore() {
	// Separate 32-byte keys for signing and encryption, both derived from the session key.
	authKey := sha256.Sum256([]byte(config.AppConfig.Session.Key + "auth"))
	encKey := sha256.Sum256([]byte(config.AppConfig.Session.Key + "encryption"))

	Store = sessions.NewCookieStore(authKey[:], encKey[:])
	Store.Options = &sessions.Options{
		Path:     "/",
		MaxAge:   86400 * 7,
		HttpOnly: true,
		Secure:   config.AppConfig.Server.Secure,
		SameSite: http.SameSiteLaxMode,
	}
}

// Session is what the cookie carries about the signed-in user.
type Session struct {
	UserID    string
	Email     string
	HasAccess bool
}

func SetSession(w http.ResponseWriter, r *http.Request, s Session) error {
	session, _ := Store.Get(r, SessionName)
	session.Values["userID"] = s.UserID
	session.Values["email"] = s.Email
	session.Values["hasAccess"] = s.HasAccess
	return session.Save(r, w)
}

// GetSession reads the session from the request cookie.
func GetSession(r *http.Request) (Session, bool) {
	session, err := Store.Get(r, SessionName)
	if err != nil {
		return Session{}, false
	}
	id, ok := session.Values["userID"].(string)
	if !ok || id == "" {
		return Session{}, false
	}
	email, _ := session.Values["email"].(string)
	hasAccess, _ := session.Values["hasAccess"].(bool)
	return Session{UserID: id, Email: email, HasAccess: hasAccess}, true
}

func ClearSession(w http.ResponseWriter, r *http.Request) {
	session, _ := Store.Get(r, SessionName)
	session.Values = map[interface{}]interface{}{}
	session.Options.MaxAge = -1
	session.Save(r, w)
}

type ctxKey struct{}

func WithSession(ctx context.Context, s Session) context.Context {
	return context.WithValue(ctx, ctxKey{}, s)
}

func FromContext(ctx context.Context) (Session, bool) {
	s, ok := ctx.Value(ctxKey{}).(Session)
	return s, ok
}

// CheckAuth returns the session attached to ctx or ErrUnauthenticated.
func CheckAuth(ctx context.Context) (Session, error) {
	s, ok := FromContext(ctx)
	if !ok || s.UserID == "" {
		return Session{}, ErrUnauthenticated
	}
	return s, nil
}
