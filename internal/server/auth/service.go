// Package auth sequences the stores, the token service and the mailer into
// the registration, login, session and password reset flows.
package auth

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/iudanet/text2mesh/internal/models"
	"github.com/iudanet/text2mesh/internal/server/audit"
	"github.com/iudanet/text2mesh/internal/server/mailer"
	"github.com/iudanet/text2mesh/internal/server/metrics"
	"github.com/iudanet/text2mesh/internal/server/storage"
)

const (
	// DefaultVerificationTTL время жизни кода подтверждения
	DefaultVerificationTTL = 15 * time.Minute
	// DefaultResetTTL время жизни токена сброса пароля
	DefaultResetTTL = time.Hour
	// ResetTokenBytes размер токена сброса до hex-кодирования
	ResetTokenBytes = 32
	// BackgroundTimeout ограничивает фоновую отправку письма сброса
	BackgroundTimeout = 30 * time.Second
)

// TokenIssuer mints access and refresh tokens
type TokenIssuer interface {
	IssueAccessToken(userID, email string, roles []models.Role) (string, int64, error)
	IssueRefreshToken() (string, error)
	RefreshExpiry(now time.Time) time.Time
}

// Config holds flow parameters
type Config struct {
	VerificationTTL time.Duration
	ResetTTL        time.Duration
	// FrontendURL is the base of password reset links
	FrontendURL string
	// PasswordCost is the bcrypt cost, 0 means crypto.PasswordCost
	PasswordCost int
}

// Deps are the collaborators of Service. Audit and Metrics are optional.
type Deps struct {
	Users         storage.UserStorage
	Verifications storage.VerificationStorage
	Resets        storage.ResetStorage
	Tokens        storage.TokenStorage
	Issuer        TokenIssuer
	Mailer        mailer.Mailer
	Audit         audit.Sink
	Metrics       *metrics.Metrics
	Logger        *slog.Logger
}

// Service is the auth orchestrator. It keeps no state between calls.
type Service struct {
	users         storage.UserStorage
	verifications storage.VerificationStorage
	resets        storage.ResetStorage
	tokens        storage.TokenStorage
	issuer        TokenIssuer
	mail          mailer.Mailer
	audit         audit.Sink
	metrics       *metrics.Metrics
	logger        *slog.Logger
	cfg           Config
	now           func() time.Time

	dummyOnce sync.Once
	dummyHash string

	pending sync.WaitGroup
}

// Option configures Service
type Option func(*Service)

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// NewService constructs the orchestrator
func NewService(d Deps, cfg Config, opts ...Option) *Service {
	if cfg.VerificationTTL <= 0 {
		cfg.VerificationTTL = DefaultVerificationTTL
	}
	if cfg.ResetTTL <= 0 {
		cfg.ResetTTL = DefaultResetTTL
	}
	if d.Audit == nil {
		d.Audit = audit.NopSink{}
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}

	s := &Service{
		users:         d.Users,
		verifications: d.Verifications,
		resets:        d.Resets,
		tokens:        d.Tokens,
		issuer:        d.Issuer,
		mail:          d.Mailer,
		audit:         d.Audit,
		metrics:       d.Metrics,
		logger:        d.Logger,
		cfg:           cfg,
		now:           time.Now,
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// clock returns the current time in UTC
func (s *Service) clock() time.Time {
	return s.now().UTC()
}

// emit records an audit event and counts it
func (s *Service) emit(ctx context.Context, t audit.EventType, userID, email, ip string) {
	s.metrics.AuthEvent(string(t))
	s.audit.Emit(ctx, audit.Event{
		Type:   t,
		UserID: userID,
		Email:  email,
		IP:     ip,
		At:     s.clock(),
	})
}

// background runs fn outside the request, bounded by BackgroundTimeout
func (s *Service) background(ctx context.Context, fn func(context.Context)) {
	s.pending.Add(1)
	go func() {
		defer s.pending.Done()
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), BackgroundTimeout)
		defer cancel()
		fn(ctx)
	}()
}

// Wait blocks until background work started by requests has finished
func (s *Service) Wait() {
	s.pending.Wait()
}

// send delivers msg and reports failures in the log and metrics
func (s *Service) send(ctx context.Context, flow string, msg mailer.Message) error {
	receipt, err := s.mail.Send(ctx, msg)
	if err != nil {
		s.metrics.MailFailure(flow)
		s.logger.WarnContext(ctx, "failed to send email",
			slog.String("flow", flow),
			slog.String("to", msg.To),
			slog.Any("error", err),
		)
		return err
	}

	s.logger.InfoContext(ctx, "email sent",
		slog.String("flow", flow),
		slog.String("to", msg.To),
		slog.String("message_id", receipt.MessageID),
	)
	return nil
}
