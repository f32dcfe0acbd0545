package auth

import (
	"context"
	"errors"
	"net/url"

	"golang.org/x/crypto/bcrypt"

	"petsoft/db"
	"petsoft/models"
	"petsoft/validation"
)

// ErrorType classifies authentication failures.
type ErrorType string

const (
	TypeCredentialsSignin ErrorType = "CredentialsSignin"
	TypeCallbackRoute     ErrorType = "CallbackRouteError"
)

type Error struct {
	Type ErrorType
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return string(e.Type) + ": " + e.Err.Error()
	}
	return string(e.Type)
}

func (e *Error) Unwrap() error { return e.Err }

// DummyHash is compared against when the user does not exist, so unknown
// emails cost the same as wrong passwords.
var DummyHash, _ = bcrypt.GenerateFromPassword([]byte("petsoft-dummy-password"), bcrypt.DefaultCost)

type UserLookup interface {
	GetUserByEmail(ctx context.Context, email string) (models.User, error)
}

// Credentials verifies an email and password against stored users.
type Credentials struct {
	Users UserLookup
}

func NewCredentials(users UserLookup) *Credentials {
	return &Credentials{Users: users}
}

func (c *Credentials) Authenticate(ctx context.Context, form url.Values) (models.User, error) {
	creds, err := validation.ParseAuth(form)
	if err != nil {
		return models.User{}, &Error{Type: TypeCredentialsSignin, Err: err}
	}

	user, err := c.Users.GetUserByEmail(ctx, creds.Email)
	if errors.Is(err, db.ErrNotFound) {
		bcrypt.CompareHashAndPassword(DummyHash, []byte(creds.Password))
		return models.User{}, &Error{Type: TypeCredentialsSignin}
	}
	if err != nil {
		return models.User{}, &Error{Type: TypeCallbackRoute, Err: err}
	}

	if !CheckPasswordHash(creds.Password, user.HashedPassword) {
		return models.User{}, &Error{Type: TypeCredentialsSignin}
	}
	return user, nil
}

func HashPassword(password string, cost int) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	return string(bytes), err
}

func CheckPasswordHash(password, hash string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	return err == nil
}
