package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type published struct {
	subject string
	data    []byte
}

type fakePublisher struct {
	err  error
	msgs []published
}

func (p *fakePublisher) Publish(subject string, data []byte) error {
	if p.err != nil {
		return p.err
	}
	p.msgs = append(p.msgs, published{subject: subject, data: data})
	return nil
}

func TestNATSSink_Emit(t *testing.T) {
	pub := &fakePublisher{}
	sink := NewNATSSink(pub, "auth.events.", slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil)))

	at := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	sink.Emit(context.Background(), Event{Type: LoginSucceeded, UserID: "u1", Email: "a@example.com", IP: "192.0.2.1", At: at})

	require.Len(t, pub.msgs, 1)
	assert.Equal(t, "auth.events.login_succeeded", pub.msgs[0].subject)

	var got Event
	require.NoError(t, json.Unmarshal(pub.msgs[0].data, &got))
	assert.Equal(t, LoginSucceeded, got.Type)
	assert.Equal(t, "u1", got.UserID)
	assert.True(t, got.At.Equal(at))
}

func TestNATSSink_DefaultPrefix(t *testing.T) {
	sink := NewNATSSink(&fakePublisher{}, "", slog.Default())
	assert.Equal(t, "text2mesh.audit.logged_out", sink.Subject(LoggedOut))
}

func TestNATSSink_PublishErrorIsLogged(t *testing.T) {
	var buf bytes.Buffer
	pub := &fakePublisher{err: errors.New("nats: connection closed")}
	sink := NewNATSSink(pub, "audit", slog.New(slog.NewTextHandler(&buf, nil)))

	assert.NotPanics(t, func() {
		sink.Emit(context.Background(), Event{Type: UserDeleted})
	})
	assert.Contains(t, buf.String(), "failed to publish audit event")
	assert.Contains(t, buf.String(), "connection closed")
}

func TestLogSink_Emit(t *testing.T) {
	var buf bytes.Buffer
	sink := NewLogSink(slog.New(slog.NewJSONHandler(&buf, nil)))

	sink.Emit(context.Background(), Event{Type: PasswordResetRequested, Email: "a@example.com"})

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "audit", line["msg"])
	assert.Equal(t, "password_reset_requested", line["type"])
	assert.Equal(t, "a@example.com", line["email"])
}
