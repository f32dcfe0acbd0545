// Package actions implements the server actions behind every form: each one
// validates input, checks the session, touches persistence and reports the
// outcome as a Result. Returned errors are reserved for a missing session
// (auth.ErrUnauthenticated) and unexpected faults.
package actions

import (
	"context"
	"net/url"
	"time"

	"go.uber.org/zap"

	"petsoft/metrics"
	"petsoft/models"
	"petsoft/payment"
	"petsoft/validation"
	"petsoft/viewcache"
)

// User-facing messages. They double as i18n keys.
const (
	MsgInvalidFormData    = "Invalid form data"
	MsgInvalidCredentials = "Invalid credentials"
	MsgSignInFailed       = "Failed to sign in"
	MsgEmailExists        = "Email already exists"
	MsgSignUpFailed       = "Failed to sign up"
	MsgInvalidPetData     = "Invalid pet data"
	MsgInvalidPetID       = "Invalid pet ID"
	MsgPetNotFound        = "Pet not found"
	MsgUnauthorized       = "Unauthorized"
	MsgAddPetFailed       = "Failed to add pet"
	MsgEditPetFailed      = "Failed to edit pet"
	MsgDeletePetFailed    = "Failed to delete pet"
	MsgTooManyAttempts    = "Too many attempts"
	MsgInvalidCaptcha     = "Invalid captcha"
)

// Result is the outcome of an action. An empty Message means success.
type Result struct {
	Message  string
	Redirect string
	Fields   []validation.FieldError
}

func (r Result) OK() bool { return r.Message == "" }

func fail(msg string) Result { return Result{Message: msg} }

func invalid(msg string, err error) Result {
	r := Result{Message: msg}
	if errs, ok := validation.AsErrors(err); ok {
		r.Fields = errs.Fields
	}
	return r
}

type UserStore interface {
	CreateUser(ctx context.Context, email, hashedPassword string) (models.User, error)
	GetUserByID(ctx context.Context, id string) (models.User, error)
	SetAccessByEmail(ctx context.Context, email string, hasAccess bool) error
}

type PetStore interface {
	CreatePet(ctx context.Context, p *models.Pet) error
	GetPetByID(ctx context.Context, id string) (models.Pet, error)
	ListPetsByUser(ctx context.Context, userID string) ([]models.Pet, error)
	UpdatePet(ctx context.Context, p *models.Pet) error
	DeletePet(ctx context.Context, id string) error
}

// Authenticator verifies submitted credentials. Failures are *auth.Error.
type Authenticator interface {
	Authenticate(ctx context.Context, form url.Values) (models.User, error)
}

type Config struct {
	BcryptCost   int
	CanonicalURL string
	PriceID      string
}

type Deps struct {
	Users    UserStore
	Pets     PetStore
	Auth     Authenticator
	Payments payment.Gateway
	Views    viewcache.Views
	Metrics  *metrics.Metrics
	Logger   *zap.Logger
	Config   Config
}

type Service struct {
	users    UserStore
	pets     PetStore
	auth     Authenticator
	payments payment.Gateway
	views    viewcache.Views
	metrics  *metrics.Metrics
	log      *zap.Logger
	cfg      Config
}

func New(d Deps) *Service {
	if d.Views == nil {
		d.Views = viewcache.NewMemory(5 * time.Minute)
	}
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.Config.BcryptCost == 0 {
		d.Config.BcryptCost = 10
	}
	return &Service{
		users:    d.Users,
		pets:     d.Pets,
		auth:     d.Auth,
		payments: d.Payments,
		views:    d.Views,
		metrics:  d.Metrics,
		log:      d.Logger,
		cfg:      d.Config,
	}
}

func (s *Service) observe(action string, r Result) {
	outcome := metrics.OutcomeOK
	switch r.Message {
	case "":
	case MsgInvalidFormData, MsgInvalidCredentials, MsgEmailExists, MsgInvalidPetData, MsgInvalidPetID, MsgPetNotFound:
		outcome = metrics.OutcomeInvalid
	case MsgUnauthorized:
		outcome = metrics.OutcomeDenied
	default:
		outcome = metrics.OutcomeFailed
	}
	s.metrics.ObserveAction(action, outcome)
}

// invalidate drops the owner's cached list. A failure only costs freshness
// until the entry expires, so it is logged and not returned.
func (s *Service) invalidate(ctx context.Context, userID string) {
	if err := s.views.Invalidate(ctx, userID); err != nil {
		s.log.Warn("invalidate pet view", zap.String("user_id", userID), zap.Error(err))
	}
}
