package main

import (
	"context"
	"crypto/sha256"
	"errors"
	"flag"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/csrf"
	"go.uber.org/zap"

	"petsoft/actions"
	"petsoft/auth"
	"petsoft/config"
	"petsoft/db"
	"petsoft/handlers"
	"petsoft/i18n"
	"petsoft/logger"
	"petsoft/metrics"
	"petsoft/payment"
	"petsoft/viewcache"
)

func main() {
	configPath := flag.String("config", "", "path to config.yaml")
	flag.Parse()

	if err := config.LoadConfig(*configPath); err != nil {
		log.Fatalf("Error loading config: %v", err)
	}
	cfg := config.AppConfig

	zl, err := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		log.Fatalf("Error building logger: %v", err)
	}
	defer zl.Sync()

	if err := i18n.LoadTranslations(); err != nil {
		zl.Fatal("load translations", zap.Error(err))
	}

	auth.InitStore()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := db.Open(ctx, cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		zl.Fatal("open database", zap.Error(err))
	}
	defer store.Close()
	if err := store.Migrate(ctx); err != nil {
		zl.Fatal("migrate database", zap.Error(err))
	}

	viewTTL := time.Duration(cfg.Redis.ViewTTLSeconds) * time.Second
	var views viewcache.Views = viewcache.NewMemory(viewTTL)
	health := store.Ping
	if cfg.Redis.Address != "" {
		rdb, err := viewcache.NewRedisClient(ctx, cfg.Redis.Address, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			zl.Fatal("connect redis", zap.String("address", cfg.Redis.Address), zap.Error(err))
		}
		defer rdb.Close()
		views = viewcache.NewRedis(rdb, viewTTL)
		health = func(ctx context.Context) error {
			if err := store.Ping(ctx); err != nil {
				return err
			}
			return rdb.Ping(ctx).Err()
		}
	}

	for _, w := range cfg.Warnings() {
		zl.Warn("configuration", zap.String("warning", w))
	}

	m := metrics.New()
	svc := actions.New(actions.Deps{
		Users:    store,
		Pets:     store,
		Auth:     auth.NewCredentials(store),
		Payments: payment.NewStripe(cfg.Payment.StripeSecretKey, nil),
		Views:    views,
		Metrics:  m,
		Logger:   zl,
		Config: actions.Config{
			BcryptCost:   cfg.Security.BcryptCost,
			CanonicalURL: cfg.App.CanonicalURL,
			PriceID:      cfg.Payment.PriceID,
		},
	})

	router := handlers.NewRouter(handlers.Options{
		Service:       svc,
		Logger:        zl,
		Metrics:       m,
		WebhookSecret: cfg.Payment.WebhookSecret,
		SignupCaptcha: cfg.Security.SignupCaptcha,
		CORSOrigins:   cfg.Security.CORSOrigins,
		TrustProxy:    cfg.Security.TrustProxyHeaders,
		CSRF:          csrfMiddleware(cfg),
		Health:        health,
	})

	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       2 * time.Minute,
	}

	go func() {
		zl.Info("server starting", zap.String("addr", srv.Addr), zap.String("app", cfg.App.Name))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zl.Fatal("listen", zap.Error(err))
		}
	}()

	<-ctx.Done()
	zl.Info("shutting down")

	shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutCtx); err != nil {
		zl.Error("shutdown", zap.Error(err))
	}
}

// csrfMiddleware protects the form routes. Over plain HTTP the request must
// be marked as such or gorilla/csrf rejects it for a missing Referer.
func csrfMiddleware(cfg config.Config) func(http.Handler) http.Handler {
	key := sha256.Sum256([]byte(cfg.Session.Key + "csrf"))
	protect := csrf.Protect(
		key[:],
		csrf.Secure(cfg.Server.Secure),
		csrf.Path("/"),
		csrf.SameSite(csrf.SameSiteLaxMode),
		csrf.ErrorHandler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "Forbidden - CSRF token invalid", http.StatusForbidden)
		})),
	)
	return func(next http.Handler) http.Handler {
		protected := protect(next)
		if cfg.Server.Secure {
			return protected
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			protected.ServeHTTP(w, csrf.PlaintextHTTPRequest(r))
		})
	}
}
