package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"petsoft/config"
	"petsoft/db"
	"petsoft/models"
)

func TestMain(m *testing.M) {
	config.AppConfig.Session.Key = "test-secret-key-12345678901234567890123456789012"
	InitStore()
	os.Exit(m.Run())
}

func requestWithCookies(w *httptest.ResponseRecorder) *http.Request {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	for _, c := range w.Result().Cookies() {
		r.AddCookie(c)
	}
	return r
}

func TestSessionManagement(t *testing.T) {
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/", nil)

	want := Session{UserID: "u-1", Email: "a@x.com", HasAccess: true}
	require.NoError(t, SetSession(w, r, want))

	got, ok := GetSession(requestWithCookies(w))
	require.True(t, ok)
	assert.Equal(t, want, got)
}

func TestGetSessionWithoutCookie(t *testing.T) {
	_, ok := GetSession(httptest.NewRequest(http.MethodGet, "/", nil))
	assert.False(t, ok)
}

func TestClearSession(t *testing.T) {
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	require.NoError(t, SetSession(w, r, Session{UserID: "u-1"}))

	r2 := requestWithCookies(w)
	w2 := httptest.NewRecorder()
	ClearSession(w2, r2)

	cookies := w2.Result().Cookies()
	require.NotEmpty(t, cookies)
	assert.Equal(t, SessionName, cookies[0].Name)
	assert.True(t, cookies[0].MaxAge < 0)
}

func TestCookieIsHttpOnlyAndLax(t *testing.T) {
	w := httptest.NewRecorder()
	require.NoError(t, SetSession(w, httptest.NewRequest(http.MethodGet, "/", nil), Session{UserID: "u-1"}))

	c := w.Result().Cookies()[0]
	assert.True(t, c.HttpOnly)
	assert.Equal(t, http.SameSiteLaxMode, c.SameSite)
}

func TestCheckAuth(t *testing.T) {
	_, err := CheckAuth(context.Background())
	assert.ErrorIs(t, err, ErrUnauthenticated)

	ctx := WithSession(context.Background(), Session{UserID: "u-1"})
	s, err := CheckAuth(ctx)
	require.NoError(t, err)
	assert.Equal(t, "u-1", s.UserID)
}

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusTeapot)
})

func serve(h http.Handler, path string, s *Session, htmx bool) *httptest.ResponseRecorder {
	r := httptest.NewRequest(http.MethodGet, path, nil)
	if s != nil {
		r = r.WithContext(WithSession(r.Context(), *s))
	}
	if htmx {
		r.Header.Set("HX-Request", "true")
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	return w
}

func TestRequireSession(t *testing.T) {
	h := RequireSession(okHandler)

	w := serve(h, "/app/dashboard", nil, false)
	assert.Equal(t, http.StatusSeeOther, w.Code)
	assert.Equal(t, "/login", w.Header().Get("Location"))

	w = serve(h, "/app/dashboard", nil, true)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "/login", w.Header().Get("HX-Redirect"))

	w = serve(h, "/app/dashboard", &Session{UserID: "u-1"}, false)
	assert.Equal(t, http.StatusTeapot, w.Code)
}

func TestRequireAccess(t *testing.T) {
	h := RequireAccess(okHandler)

	w := serve(h, "/app/dashboard", &Session{UserID: "u-1"}, false)
	assert.Equal(t, "/payment", w.Header().Get("Location"))

	w = serve(h, "/app/dashboard", &Session{UserID: "u-1", HasAccess: true}, false)
	assert.Equal(t, http.StatusTeapot, w.Code)

	w = serve(h, "/app/dashboard", nil, false)
	assert.Equal(t, "/login", w.Header().Get("Location"))
}

func TestRedirectSignedIn(t *testing.T) {
	h := RedirectSignedIn(okHandler)

	tests := []struct {
		name     string
		path     string
		session  *Session
		code     int
		location string
	}{
		{"anonymous login", "/login", nil, http.StatusTeapot, ""},
		{"anonymous payment", "/payment", nil, http.StatusTeapot, ""},
		{"unpaid login", "/login", &Session{UserID: "u"}, http.StatusSeeOther, "/payment"},
		{"unpaid payment", "/payment", &Session{UserID: "u"}, http.StatusTeapot, ""},
		{"paid login", "/login", &Session{UserID: "u", HasAccess: true}, http.StatusSeeOther, "/app/dashboard"},
		{"paid payment", "/payment", &Session{UserID: "u", HasAccess: true}, http.StatusSeeOther, "/app/dashboard"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := serve(h, tt.path, tt.session, false)
			assert.Equal(t, tt.code, w.Code)
			assert.Equal(t, tt.location, w.Header().Get("Location"))
		})
	}
}

func TestLoadSession(t *testing.T) {
	w := httptest.NewRecorder()
	require.NoError(t, SetSession(w, httptest.NewRequest(http.MethodGet, "/", nil), Session{UserID: "u-9", Email: "z@x.com"}))

	var got Session
	h := LoadSession(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, _ = FromContext(r.Context())
	}))
	h.ServeHTTP(httptest.NewRecorder(), requestWithCookies(w))
	assert.Equal(t, "u-9", got.UserID)
	assert.Equal(t, "z@x.com", got.Email)
}

type fakeUsers struct {
	users map[string]models.User
	err   error
}

func (f fakeUsers) GetUserByEmail(ctx context.Context, email string) (models.User, error) {
	if f.err != nil {
		return models.User{}, f.err
	}
	u, ok := f.users[email]
	if !ok {
		return models.User{}, db.ErrNotFound
	}
	return u, nil
}

func TestCredentialsAuthenticate(t *testing.T) {
	hash, err := HashPassword("secret", bcrypt.MinCost)
	require.NoError(t, err)
	c := NewCredentials(fakeUsers{users: map[string]models.User{
		"a@x.com": {ID: "u-1", Email: "a@x.com", HashedPassword: hash},
	}})
	ctx := context.Background()

	u, err := c.Authenticate(ctx, url.Values{"email": {"a@x.com"}, "password": {"secret"}})
	require.NoError(t, err)
	assert.Equal(t, "u-1", u.ID)

	for name, form := range map[string]url.Values{
		"wrong password": {"email": {"a@x.com"}, "password": {"nope"}},
		"unknown email":  {"email": {"b@x.com"}, "password": {"secret"}},
		"bad email":      {"email": {"not-an-email"}, "password": {"secret"}},
		"missing field":  {"email": {"a@x.com"}},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := c.Authenticate(ctx, form)
			var authErr *Error
			require.ErrorAs(t, err, &authErr)
			assert.Equal(t, TypeCredentialsSignin, authErr.Type)
		})
	}
}

func TestCredentialsLookupFailure(t *testing.T) {
	boom := errors.New("db down")
	c := NewCredentials(fakeUsers{err: boom})

	_, err := c.Authenticate(context.Background(), url.Values{"email": {"a@x.com"}, "password": {"x"}})
	var authErr *Error
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, TypeCallbackRoute, authErr.Type)
	assert.ErrorIs(t, err, boom)
}

func TestPasswordHashing(t *testing.T) {
	hash, err := HashPassword("mypassword", bcrypt.MinCost)
	require.NoError(t, err)

	assert.True(t, CheckPasswordHash("mypassword", hash))
	assert.False(t, CheckPasswordHash("wrongpassword", hash))
}
