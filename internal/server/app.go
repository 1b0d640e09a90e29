// Package server wires configuration, storage and the HTTP surface of the
// auth service together and runs it until the context is cancelled.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/iudanet/text2mesh/internal/models"
	"github.com/iudanet/text2mesh/internal/server/audit"
	"github.com/iudanet/text2mesh/internal/server/auth"
	"github.com/iudanet/text2mesh/internal/server/config"
	"github.com/iudanet/text2mesh/internal/server/handlers"
	"github.com/iudanet/text2mesh/internal/server/jwt"
	"github.com/iudanet/text2mesh/internal/server/mailer"
	"github.com/iudanet/text2mesh/internal/server/metrics"
	"github.com/iudanet/text2mesh/internal/server/middleware"
	"github.com/iudanet/text2mesh/internal/server/storage"
	"github.com/iudanet/text2mesh/internal/server/storage/postgres"
	"github.com/iudanet/text2mesh/internal/server/storage/sqlite"
)

// App is an assembled server
type App struct {
	cfg     *config.Config
	logger  *slog.Logger
	store   storage.Store
	auth    *auth.Service
	metrics *metrics.Metrics
	handler http.Handler
	mail    mailer.Mailer

	closeMu sync.Mutex
	closers []func() error
}

// OpenStore opens the configured backend and applies migrations
func OpenStore(ctx context.Context, cfg config.DatabaseConfig) (storage.Store, error) {
	switch cfg.Driver {
	case "sqlite":
		s, err := sqlite.New(ctx, cfg.DSN)
		if err != nil {
			return nil, err
		}
		return s, nil
	case "postgres":
		s, err := postgres.New(ctx, cfg.DSN)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown database driver %q", cfg.Driver)
	}
}

// Option configures App
type Option func(*App)

// WithMailer replaces the mailer selected by the configuration
func WithMailer(m mailer.Mailer) Option {
	return func(a *App) {
		a.mail = m
	}
}

// NewApp builds every component from cfg. version is reported by /api/health.
func NewApp(ctx context.Context, cfg *config.Config, logger *slog.Logger, version string, opts ...Option) (*App, error) {
	app := &App{cfg: cfg, logger: logger}
	for _, opt := range opts {
		opt(app)
	}

	if err := app.init(ctx, version); err != nil {
		_ = app.Close()
		return nil, err
	}

	return app, nil
}

func (a *App) init(ctx context.Context, version string) error {
	store, err := OpenStore(ctx, a.cfg.Database)
	if err != nil {
		return fmt.Errorf("db init error: %w", err)
	}
	a.store = store
	a.onClose(store.Close)

	refreshTTL, ok := jwt.RefreshDuration(a.cfg.JWT.RefreshTTL)
	if !ok {
		a.logger.Warn("refresh token lifetime not parsed, using default",
			slog.String("refresh_ttl", a.cfg.JWT.RefreshTTL),
			slog.Duration("default", refreshTTL),
		)
	}
	tokens, err := jwt.NewService(jwt.Config{
		Secret:     a.cfg.JWT.Secret,
		AccessTTL:  a.cfg.JWT.AccessTTL,
		RefreshTTL: refreshTTL,
	})
	if err != nil {
		return fmt.Errorf("jwt init error: %w", err)
	}

	mail, err := a.newMailer()
	if err != nil {
		return fmt.Errorf("mailer init error: %w", err)
	}

	sink, err := a.newAuditSink()
	if err != nil {
		return fmt.Errorf("audit init error: %w", err)
	}

	if a.cfg.Metrics.Enabled {
		a.metrics = metrics.New()
	}

	a.auth = auth.NewService(auth.Deps{
		Users:         store,
		Verifications: store,
		Resets:        store,
		Tokens:        store,
		Issuer:        tokens,
		Mailer:        mail,
		Audit:         sink,
		Metrics:       a.metrics,
		Logger:        a.logger,
	}, auth.Config{
		VerificationTTL: a.cfg.Auth.VerificationTTL,
		ResetTTL:        a.cfg.Auth.ResetTTL,
		FrontendURL:     a.cfg.Mail.FrontendURL,
		PasswordCost:    a.cfg.Auth.PasswordCost,
	})

	limiters, err := a.newLimiterFactory(ctx)
	if err != nil {
		return fmt.Errorf("rate limiter init error: %w", err)
	}

	proxies, err := middleware.ParseTrustedProxies(a.cfg.HTTP.TrustedProxies)
	if err != nil {
		return fmt.Errorf("http config error: %w", err)
	}

	a.handler = a.routes(tokens, limiters, proxies, version)
	return nil
}

func (a *App) newMailer() (mailer.Mailer, error) {
	if a.mail != nil {
		return a.mail, nil
	}

	mc := a.cfg.Mail
	if mc.SMTPHost == "" {
		a.logger.Warn("SMTP is not configured, emails are written to the log")
		return mailer.NewLogMailer(a.logger), nil
	}

	return mailer.NewSMTPMailer(mailer.SMTPConfig{
		Host:     mc.SMTPHost,
		Port:     mc.SMTPPort,
		Username: mc.SMTPUser,
		Password: mc.SMTPPassword,
		From:     mc.From,
		TLS:      mc.TLS,
	}, a.logger)
}

func (a *App) newAuditSink() (audit.Sink, error) {
	if a.cfg.Audit.NATSURL == "" {
		return audit.NewLogSink(a.logger), nil
	}

	conn, err := audit.Connect(a.cfg.Audit.NATSURL)
	if err != nil {
		return nil, err
	}
	a.onClose(func() error {
		conn.Close()
		return nil
	})

	a.logger.Info("publishing audit events to NATS", slog.String("subject", a.cfg.Audit.Subject))
	return audit.NewNATSSink(conn, a.cfg.Audit.Subject, a.logger), nil
}

func (a *App) newLimiterFactory(ctx context.Context) (middleware.LimiterFactory, error) {
	if a.cfg.RateLimit.Backend != "redis" {
		factory, stop := middleware.MemoryLimiters(a.logger)
		a.onClose(func() error {
			stop()
			return nil
		})
		return factory, nil
	}

	client := redis.NewClient(&redis.Options{Addr: a.cfg.RateLimit.RedisAddr})
	a.onClose(client.Close)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return middleware.RedisLimiters(client), nil
}

// routes собирает маршруты и цепочку middleware
func (a *App) routes(tokens *jwt.Service, limiters middleware.LimiterFactory, proxies middleware.TrustedProxies, version string) http.Handler {
	authed := middleware.Authenticate(a.logger, tokens)
	admin := func(h middleware.AuthenticatedHandlerFunc) http.Handler {
		return authed(middleware.RequireRole(a.logger, a.auth, models.RoleAdmin, h))
	}

	authHandler := handlers.NewAuthHandler(a.logger, a.auth)
	userHandler := handlers.NewUserHandler(a.logger, a.auth)
	adminHandler := handlers.NewAdminHandler(a.logger, a.auth)
	healthHandler := handlers.NewHealthHandler(a.logger, a.store, version)

	api := http.NewServeMux()

	api.HandleFunc("POST /api/auth/register", authHandler.Register)
	api.HandleFunc("POST /api/auth/register/verify", authHandler.Verify)
	api.HandleFunc("POST /api/auth/register/resend", authHandler.Resend)
	api.HandleFunc("POST /api/auth/login", authHandler.Login)
	api.HandleFunc("POST /api/auth/refresh", authHandler.Refresh)
	api.HandleFunc("POST /api/auth/logout", authHandler.Logout)
	api.HandleFunc("POST /api/auth/request-password-reset", authHandler.RequestPasswordReset)
	api.HandleFunc("POST /api/auth/reset-password", authHandler.ResetPassword)
	api.Handle("GET /api/auth/me", authed(authHandler.Me))

	api.Handle("GET /api/users/me", authed(userHandler.Me))
	api.Handle("PATCH /api/users/me/profile", authed(userHandler.UpdateProfile))
	api.Handle("PATCH /api/users/me/settings", authed(userHandler.UpdateSettings))

	api.Handle("GET /api/admin/users", admin(adminHandler.ListUsers))
	api.Handle("PATCH /api/admin/users/{id}/roles", admin(adminHandler.UpdateRoles))
	api.Handle("DELETE /api/admin/users/{id}", admin(adminHandler.DeleteUser))

	limits, fallback := middleware.DefaultAuthLimits()
	limited := middleware.RateLimitByPathMiddleware(limits, fallback, limiters, a.metrics, a.logger)

	// health и metrics не подпадают под rate limit
	root := http.NewServeMux()
	root.Handle("/api/", limited(api))
	root.HandleFunc("GET /api/health", healthHandler.Health)
	skip := []string{"/api/health"}
	if a.metrics != nil {
		root.Handle("GET "+a.cfg.Metrics.Path, a.metrics.Handler())
		skip = append(skip, a.cfg.Metrics.Path)
	}

	var handler http.Handler = root
	handler = middleware.CORSMiddleware(a.cfg.HTTP.CORSOrigins)(handler)
	handler = middleware.LoggingMiddleware(a.logger, skip...)(handler)
	handler = middleware.MetricsMiddleware(a.metrics)(handler)
	handler = middleware.RealIPMiddleware(proxies)(handler)
	handler = middleware.RecoveryMiddleware(a.logger)(handler)

	return handler
}

// Handler returns the root HTTP handler
func (a *App) Handler() http.Handler {
	return a.handler
}

// Auth returns the auth service, used by admin commands
func (a *App) Auth() *auth.Service {
	return a.auth
}

// Run listens on the configured address and serves until ctx is done
func (a *App) Run(ctx context.Context) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", a.cfg.HTTP.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", a.cfg.HTTP.Addr, err)
	}
	return a.Serve(ctx, ln)
}

// Serve serves HTTP on ln and sweeps expired records until ctx is done,
// then shuts down gracefully
func (a *App) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:      a.handler,
		ReadTimeout:  a.cfg.HTTP.ReadTimeout,
		WriteTimeout: a.cfg.HTTP.WriteTimeout,
		IdleTimeout:  a.cfg.HTTP.IdleTimeout,
		// запросы в полёте дорабатывают после сигнала, их ограничивает Shutdown
		BaseContext: func(net.Listener) context.Context { return context.WithoutCancel(ctx) },
	}

	var wg sync.WaitGroup
	if a.cfg.Sweeper.Interval > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			a.runSweeper(ctx, a.cfg.Sweeper.Interval)
		}()
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("HTTP server listening", slog.String("addr", ln.Addr().String()))
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	var runErr error
	select {
	case <-ctx.Done():
		a.logger.Info("shutting down HTTP server")
	case err := <-errCh:
		runErr = fmt.Errorf("http server: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.cfg.HTTP.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("graceful shutdown failed", slog.Any("error", err))
	}

	wg.Wait()
	return runErr
}

// runSweeper периодически удаляет просроченные записи
func (a *App) runSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.sweep(ctx)
		}
	}
}

func (a *App) sweep(ctx context.Context) {
	n, err := a.store.PurgeExpired(ctx, time.Now().UTC())
	if err != nil {
		a.logger.ErrorContext(ctx, "failed to purge expired records", slog.Any("error", err))
		return
	}
	a.metrics.Purged(n)
	if n > 0 {
		a.logger.DebugContext(ctx, "purged expired records", slog.Int64("count", n))
	}
}

func (a *App) onClose(fn func() error) {
	a.closeMu.Lock()
	defer a.closeMu.Unlock()
	a.closers = append(a.closers, fn)
}

// Close releases resources in reverse order of acquisition
func (a *App) Close() error {
	// письма сброса дописываются до закрытия хранилища
	if a.auth != nil {
		a.auth.Wait()
	}

	a.closeMu.Lock()
	closers := a.closers
	a.closers = nil
	a.closeMu.Unlock()

	var errs []error
	for i := len(closers) - 1; i >= 0; i-- {
		if err := closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
