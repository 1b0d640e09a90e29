// Package audit records security-relevant account events.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
)

// EventType identifies what happened
type EventType string

const (
	RegistrationStarted    EventType = "registration_started"
	VerificationResent     EventType = "verification_resent"
	RegistrationCompleted  EventType = "registration_completed"
	LoginSucceeded         EventType = "login_succeeded"
	LoginFailed            EventType = "login_failed"
	TokenRefreshed         EventType = "token_refreshed"
	LoggedOut              EventType = "logged_out"
	PasswordResetRequested EventType = "password_reset_requested"
	PasswordResetCompleted EventType = "password_reset_completed"
	RolesUpdated           EventType = "roles_updated"
	UserDeleted            EventType = "user_deleted"
)

// Event is a single audit record. It never carries secrets.
type Event struct {
	Type    EventType `json:"type"`
	UserID  string    `json:"userId,omitempty"`
	Email   string    `json:"email,omitempty"`
	IP      string    `json:"ip,omitempty"`
	ActorID string    `json:"actorId,omitempty"`
	At      time.Time `json:"at"`
}

// Sink consumes audit events. Emit must not block the request for long
// and never reports failure to the caller.
type Sink interface {
	Emit(ctx context.Context, event Event)
}

// NopSink discards events
type NopSink struct{}

// Emit implements Sink
func (NopSink) Emit(context.Context, Event) {}

// LogSink writes events to slog
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink creates a LogSink
func NewLogSink(logger *slog.Logger) *LogSink {
	return &LogSink{logger: logger}
}

// Emit implements Sink
func (s *LogSink) Emit(ctx context.Context, e Event) {
	s.logger.InfoContext(ctx, "audit",
		slog.String("type", string(e.Type)),
		slog.String("user_id", e.UserID),
		slog.String("email", e.Email),
		slog.String("ip", e.IP),
		slog.String("actor_id", e.ActorID),
		slog.Time("at", e.At),
	)
}

// Publisher is the subset of *nats.Conn used by NATSSink
type Publisher interface {
	Publish(subject string, data []byte) error
}

var _ Publisher = (*nats.Conn)(nil)

// NATSSink publishes events as JSON on <prefix>.<type>
type NATSSink struct {
	pub    Publisher
	prefix string
	logger *slog.Logger
}

// NewNATSSink creates a sink over an existing publisher
func NewNATSSink(pub Publisher, prefix string, logger *slog.Logger) *NATSSink {
	prefix = strings.TrimSuffix(prefix, ".")
	if prefix == "" {
		prefix = "text2mesh.audit"
	}
	return &NATSSink{pub: pub, prefix: prefix, logger: logger}
}

// Connect dials NATS at url
func Connect(url string) (*nats.Conn, error) {
	conn, err := nats.Connect(url,
		nats.Name("text2mesh-auth"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	return conn, nil
}

// Subject returns the subject an event of type t is published on
func (s *NATSSink) Subject(t EventType) string {
	return s.prefix + "." + string(t)
}

// Emit implements Sink. Failures are logged only.
func (s *NATSSink) Emit(ctx context.Context, e Event) {
	data, err := json.Marshal(e)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to marshal audit event", slog.Any("error", err))
		return
	}

	if err := s.pub.Publish(s.Subject(e.Type), data); err != nil {
		s.logger.WarnContext(ctx, "failed to publish audit event",
			slog.String("type", string(e.Type)),
			slog.Any("error", err),
		)
	}
}
