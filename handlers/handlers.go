package handlers

import (
	"context"
	"errors"
	"mime"
	"net/http"
	"net/url"

	"github.com/dchest/captcha"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"petsoft/actions"
	"petsoft/auth"
	"petsoft/logger"
	"petsoft/metrics"
)

type Options struct {
	Service       *actions.Service
	Logger        *zap.Logger
	Metrics       *metrics.Metrics
	WebhookSecret string
	SignupCaptcha bool
	CORSOrigins   []string
	// TrustProxy reads the client IP from X-Forwarded-For/X-Real-IP. Leave it
	// off unless a reverse proxy overwrites those headers.
	TrustProxy bool
	// CSRF protects the form routes. Nil leaves them unprotected.
	CSRF func(http.Handler) http.Handler
	// Health reports whether the backing stores are reachable.
	Health func(ctx context.Context) error
}

type Handler struct {
	svc           *actions.Service
	log           *zap.Logger
	metrics       *metrics.Metrics
	webhookSecret string
	signupCaptcha bool
	corsOrigins   []string
	trustProxy    bool
	csrf          func(http.Handler) http.Handler
	health        func(ctx context.Context) error

	loginLimiter  *rateLimiter
	signupLimiter *rateLimiter
}

func New(o Options) *Handler {
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	return &Handler{
		svc:           o.Service,
		log:           o.Logger,
		metrics:       o.Metrics,
		webhookSecret: o.WebhookSecret,
		signupCaptcha: o.SignupCaptcha,
		corsOrigins:   o.CORSOrigins,
		trustProxy:    o.TrustProxy,
		csrf:          o.CSRF,
		health:        o.Health,
		loginLimiter:  newRateLimiter(),
		signupLimiter: newRateLimiter(),
	}
}

func NewRouter(o Options) http.Handler {
	return New(o).Routes()
}

func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	if h.trustProxy {
		r.Use(middleware.RealIP)
	}
	r.Use(logger.RequestLogger(h.log))
	r.Use(middleware.Recoverer)
	r.Use(SecurityHeadersMiddleware)
	if h.metrics != nil {
		r.Use(h.metrics.Middleware)
		r.Method(http.MethodGet, "/metrics", h.metrics.Handler())
	}

	r.Get("/health", h.Health)
	r.Post("/api/stripe/webhook", h.StripeWebhook)
	r.Method(http.MethodGet, "/captcha/*", captcha.Server(captcha.StdWidth, captcha.StdHeight))

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   h.corsOrigins,
			AllowedMethods:   []string{http.MethodGet, http.MethodOptions},
			AllowedHeaders:   []string{"Accept", "Content-Type"},
			AllowCredentials: true,
			MaxAge:           300,
		}))
		r.Use(auth.LoadSession)
		r.Get("/pets", h.APIListPets)
	})

	r.Group(func(r chi.Router) {
		if h.csrf != nil {
			r.Use(h.csrf)
		}
		r.Use(auth.LoadSession)

		r.Get("/", h.Index)
		r.Post("/logout", h.Logout)

		r.Group(func(r chi.Router) {
			r.Use(auth.RedirectSignedIn)
			r.Get("/login", h.LoginPage)
			r.Post("/login", h.Login)
			r.Get("/signup", h.SignupPage)
			r.Post("/signup", h.Signup)
		})

		r.Route("/payment", func(r chi.Router) {
			r.Use(auth.RequireSession)
			r.With(auth.RedirectSignedIn).Get("/", h.PaymentPage)
			r.Post("/checkout", h.Checkout)
			r.Post("/access", h.RefreshAccess)
		})

		r.Route("/app", func(r chi.Router) {
			r.Use(auth.RequireSession, auth.RequireAccess)
			r.Get("/dashboard", h.Dashboard)
			r.Get("/account", h.Account)
			r.Post("/pets", h.AddPet)
			r.Post("/pets/{petID}/edit", h.EditPet)
			r.Post("/pets/{petID}/delete", h.DeletePet)
		})
	})

	return r
}

// formValues returns the submitted form, or nil when the request carries no
// form payload at all.
func formValues(r *http.Request) url.Values {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch mediaType {
	case "application/x-www-form-urlencoded":
		if err := r.ParseForm(); err != nil {
			return nil
		}
	case "multipart/form-data":
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			return nil
		}
	default:
		return nil
	}
	return r.PostForm
}

// fail handles errors returned by actions: a missing session goes to the
// login page, anything else is a 500.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, auth.ErrUnauthenticated) {
		auth.Redirect(w, r, "/login")
		return
	}
	h.log.Error("request failed",
		zap.String("path", r.URL.Path),
		zap.String("request_id", middleware.GetReqID(r.Context())),
		zap.Error(err))
	http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
}

func (h *Handler) Index(w http.ResponseWriter, r *http.Request) {
	h.renderTemplate(w, r, http.StatusOK, "home.html", nil)
}

func (h *Handler) LoginPage(w http.ResponseWriter, r *http.Request) {
	h.renderTemplate(w, r, http.StatusOK, "login.html", nil)
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	ip := getClientIP(r)
	if !h.loginLimiter.Allow(ip) {
		h.formError(w, r, "login.html", actions.MsgTooManyAttempts, http.StatusTooManyRequests)
		return
	}

	res, err := h.svc.Login(r.Context(), formValues(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if !res.OK() {
		if res.Message == actions.MsgInvalidCredentials {
			h.loginLimiter.RecordFailure(ip)
		}
		h.formError(w, r, "login.html", res.Message, http.StatusUnauthorized)
		return
	}

	h.loginLimiter.Reset(ip)
	if err := auth.SetSession(w, r, res.Session); err != nil {
		h.fail(w, r, err)
		return
	}
	auth.Redirect(w, r, res.Redirect)
}

func (h *Handler) SignupPage(w http.ResponseWriter, r *http.Request) {
	data := map[string]any{}
	if h.signupCaptcha {
		data["CaptchaID"] = captcha.New()
	}
	h.renderTemplate(w, r, http.StatusOK, "signup.html", data)
}

func (h *Handler) Signup(w http.ResponseWriter, r *http.Request) {
	ip := getClientIP(r)
	if !h.signupLimiter.Allow(ip) {
		h.formError(w, r, "signup.html", actions.MsgTooManyAttempts, http.StatusTooManyRequests)
		return
	}
	// Every signup attempt counts, successful or not.
	h.signupLimiter.RecordFailure(ip)

	form := formValues(r)
	if h.signupCaptcha && !captcha.VerifyString(form.Get("captchaId"), form.Get("captchaSolution")) {
		h.formError(w, r, "signup.html", actions.MsgInvalidCaptcha, http.StatusBadRequest)
		return
	}

	res, err := h.svc.Signup(r.Context(), form)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if !res.OK() {
		status := http.StatusBadRequest
		if res.Message == actions.MsgEmailExists {
			status = http.StatusConflict
		}
		h.formError(w, r, "signup.html", res.Message, status)
		return
	}

	if err := auth.SetSession(w, r, res.Session); err != nil {
		h.fail(w, r, err)
		return
	}
	auth.Redirect(w, r, res.Redirect)
}

func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	auth.ClearSession(w, r)
	auth.Redirect(w, r, h.svc.Logout().Redirect)
}

func (h *Handler) PaymentPage(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	h.renderTemplate(w, r, http.StatusOK, "payment.html", map[string]any{
		"Success":   q.Get("success") == "true",
		"Cancelled": q.Get("cancelled") == "true",
	})
}

func (h *Handler) Checkout(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.CreateCheckoutSession(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	auth.Redirect(w, r, res.Redirect)
}

// RefreshAccess re-reads the entitlement after a payment and reissues the session.
func (h *Handler) RefreshAccess(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.RefreshAccess(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if err := auth.SetSession(w, r, res.Session); err != nil {
		h.fail(w, r, err)
		return
	}
	auth.Redirect(w, r, res.Redirect)
}

func (h *Handler) Account(w http.ResponseWriter, r *http.Request) {
	h.renderTemplate(w, r, http.StatusOK, "account.html", nil)
}
