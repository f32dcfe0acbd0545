package actions

import (
	"context"
	"errors"
	"fmt"
	"net/url"

	"go.uber.org/zap"

	"petsoft/auth"
	"petsoft/db"
	"petsoft/metrics"
	"petsoft/payment"
	"petsoft/validation"
)

// AuthResult carries the session to issue when the action succeeds.
type AuthResult struct {
	Result
	Session auth.Session
}

func sessionFor(id, email string, hasAccess bool) auth.Session {
	return auth.Session{UserID: id, Email: email, HasAccess: hasAccess}
}

// Login checks credentials. A nil form means the request carried no form data.
func (s *Service) Login(ctx context.Context, form url.Values) (AuthResult, error) {
	if form == nil {
		s.observe("login", fail(MsgInvalidFormData))
		return AuthResult{Result: fail(MsgInvalidFormData)}, nil
	}

	user, err := s.auth.Authenticate(ctx, form)
	if err != nil {
		var authErr *auth.Error
		if !errors.As(err, &authErr) {
			return AuthResult{}, fmt.Errorf("login: %w", err)
		}
		msg := MsgSignInFailed
		if authErr.Type == auth.TypeCredentialsSignin {
			msg = MsgInvalidCredentials
		} else {
			s.log.Error("sign in", zap.Error(err))
		}
		s.observe("login", fail(msg))
		return AuthResult{Result: fail(msg)}, nil
	}

	res := AuthResult{
		Result:  Result{Redirect: "/app/dashboard"},
		Session: sessionFor(user.ID, user.Email, user.HasAccess),
	}
	s.observe("login", res.Result)
	return res, nil
}

func (s *Service) Logout() Result {
	return Result{Redirect: "/"}
}

// Signup creates the account and signs it in straight away.
func (s *Service) Signup(ctx context.Context, form url.Values) (AuthResult, error) {
	if form == nil {
		s.observe("signup", fail(MsgInvalidFormData))
		return AuthResult{Result: fail(MsgInvalidFormData)}, nil
	}

	creds, err := validation.ParseAuth(form)
	if err != nil {
		res := invalid(MsgInvalidFormData, err)
		s.observe("signup", res)
		return AuthResult{Result: res}, nil
	}

	hash, err := auth.HashPassword(creds.Password, s.cfg.BcryptCost)
	if err != nil {
		return AuthResult{}, fmt.Errorf("hash password: %w", err)
	}

	user, err := s.users.CreateUser(ctx, creds.Email, hash)
	if err != nil {
		msg := MsgSignUpFailed
		if errors.Is(err, db.ErrDuplicate) {
			msg = MsgEmailExists
		} else {
			s.log.Error("create user", zap.Error(err))
		}
		s.observe("signup", fail(msg))
		return AuthResult{Result: fail(msg)}, nil
	}

	s.log.Info("user signed up", zap.String("user_id", user.ID))
	res := AuthResult{
		Result:  Result{Redirect: "/payment"},
		Session: sessionFor(user.ID, user.Email, user.HasAccess),
	}
	s.observe("signup", res.Result)
	return res, nil
}

// CreateCheckoutSession redirects to a hosted checkout for the signed-in user.
func (s *Service) CreateCheckoutSession(ctx context.Context) (Result, error) {
	sess, err := auth.CheckAuth(ctx)
	if err != nil {
		return Result{}, err
	}

	checkoutURL, err := s.payments.CreateCheckoutSession(ctx, payment.CheckoutRequest{
		CustomerEmail: sess.Email,
		PriceID:       s.cfg.PriceID,
		SuccessURL:    s.cfg.CanonicalURL + "/payment?success=true",
		CancelURL:     s.cfg.CanonicalURL + "/payment?cancelled=true",
	})
	if err != nil {
		s.metrics.ObserveAction("checkout", metrics.OutcomeFailed)
		return Result{}, err
	}

	s.metrics.ObserveAction("checkout", metrics.OutcomeOK)
	return Result{Redirect: checkoutURL}, nil
}

// RefreshAccess reloads the user so a completed payment shows up in the session.
func (s *Service) RefreshAccess(ctx context.Context) (AuthResult, error) {
	sess, err := auth.CheckAuth(ctx)
	if err != nil {
		return AuthResult{}, err
	}

	user, err := s.users.GetUserByID(ctx, sess.UserID)
	if errors.Is(err, db.ErrNotFound) {
		return AuthResult{}, auth.ErrUnauthenticated
	}
	if err != nil {
		return AuthResult{}, fmt.Errorf("refresh access: %w", err)
	}

	redirect := "/payment"
	if user.HasAccess {
		redirect = "/app/dashboard"
	}
	return AuthResult{
		Result:  Result{Redirect: redirect},
		Session: sessionFor(user.ID, user.Email, user.HasAccess),
	}, nil
}

// GrantAccess unlocks the account that paid. Called for verified webhooks.
func (s *Service) GrantAccess(ctx context.Context, email string) error {
	if err := s.users.SetAccessByEmail(ctx, email, true); err != nil {
		s.metrics.ObserveAction("grant_access", metrics.OutcomeFailed)
		return fmt.Errorf("grant access to %s: %w", email, err)
	}
	s.log.Info("access granted", zap.String("email", email))
	s.metrics.ObserveAction("grant_access", metrics.OutcomeOK)
	return nil
}
