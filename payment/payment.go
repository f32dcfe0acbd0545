package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/checkout/session"
	"github.com/stripe/stripe-go/v76/webhook"
)

// ErrInvalidSignature is returned for webhook payloads that fail verification.
var ErrInvalidSignature = errors.New("invalid webhook signature")

type CheckoutRequest struct {
	CustomerEmail string
	PriceID       string
	SuccessURL    string
	CancelURL     string
}

// Gateway starts hosted checkouts for the one-time access purchase.
type Gateway interface {
	CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (string, error)
}

type Stripe struct {
	client session.Client
}

// NewStripe uses the default API backend when backend is nil.
func NewStripe(secretKey string, backend stripe.Backend) *Stripe {
	if backend == nil {
		backend = stripe.GetBackend(stripe.APIBackend)
	}
	return &Stripe{client: session.Client{B: backend, Key: secretKey}}
}

func (s *Stripe) CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (string, error) {
	params := &stripe.CheckoutSessionParams{
		CustomerEmail: stripe.String(req.CustomerEmail),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Price:    stripe.String(req.PriceID),
				Quantity: stripe.Int64(1),
			},
		},
		Mode:       stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL: stripe.String(req.SuccessURL),
		CancelURL:  stripe.String(req.CancelURL),
	}
	params.Context = ctx

	cs, err := s.client.New(params)
	if err != nil {
		return "", fmt.Errorf("create checkout session: %w", err)
	}
	if cs.URL == "" {
		return "", errors.New("create checkout session: no redirect url")
	}
	return cs.URL, nil
}

type CheckoutCompleted struct {
	SessionID     string
	CustomerEmail string
}

// ParseWebhook verifies a Stripe webhook and decodes completed checkouts.
// Other event types return a nil result and no error. Events from endpoints
// pinned to another API version are accepted: only the customer email fields
// are read, and those are stable across versions.
func ParseWebhook(payload []byte, sigHeader, secret string) (*CheckoutCompleted, error) {
	if secret == "" {
		return nil, fmt.Errorf("%w: no signing secret configured", ErrInvalidSignature)
	}
	event, err := webhook.ConstructEventWithOptions(payload, sigHeader, secret, webhook.ConstructEventOptions{
		Tolerance:                webhook.DefaultTolerance,
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	if event.Type != stripe.EventTypeCheckoutSessionCompleted {
		return nil, nil
	}

	var cs stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &cs); err != nil {
		return nil, fmt.Errorf("decode checkout session: %w", err)
	}

	email := cs.CustomerEmail
	if email == "" && cs.CustomerDetails != nil {
		email = cs.CustomerDetails.Email
	}
	if email == "" {
		return nil, errors.New("checkout session has no customer email")
	}
	return &CheckoutCompleted{SessionID: cs.ID, CustomerEmail: email}, nil
}
