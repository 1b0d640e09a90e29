package auth

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/url"
	"regexp"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/iudanet/text2mesh/internal/models"
	"github.com/iudanet/text2mesh/internal/server/audit"
	"github.com/iudanet/text2mesh/internal/server/jwt"
	"github.com/iudanet/text2mesh/internal/server/mailer"
	"github.com/iudanet/text2mesh/internal/server/storage"
)

// memStore is a map-backed implementation of the four stores
type memStore struct {
	mu            sync.Mutex
	users         map[string]*models.User // by id
	verifications map[string]*models.PendingVerification
	tokens        map[string]*models.RefreshToken
	resets        map[string]*models.PasswordResetToken

	failGetUser error
}

func newMemStore() *memStore {
	return &memStore{
		users:         make(map[string]*models.User),
		verifications: make(map[string]*models.PendingVerification),
		tokens:        make(map[string]*models.RefreshToken),
		resets:        make(map[string]*models.PasswordResetToken),
	}
}

func cloneUser(u *models.User) *models.User {
	c := *u
	c.Roles = slices.Clone(u.Roles)
	return &c
}

func (m *memStore) CreateUser(_ context.Context, user *models.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Email == user.Email {
			return storage.ErrUserAlreadyExists
		}
	}
	m.users[user.ID] = cloneUser(user)
	return nil
}

func (m *memStore) GetUserByEmail(_ context.Context, email string) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failGetUser != nil {
		return nil, m.failGetUser
	}
	for _, u := range m.users {
		if u.Email == email {
			return cloneUser(u), nil
		}
	}
	return nil, storage.ErrUserNotFound
}

func (m *memStore) GetUserByID(_ context.Context, id string) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, storage.ErrUserNotFound
	}
	return cloneUser(u), nil
}

func (m *memStore) ListUsers(_ context.Context) ([]*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*models.User, 0, len(m.users))
	for _, u := range m.users {
		out = append(out, cloneUser(u))
	}
	slices.SortFunc(out, func(a, b *models.User) int { return b.CreatedAt.Compare(a.CreatedAt) })
	return out, nil
}

func (m *memStore) update(id string, fn func(u *models.User)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return storage.ErrUserNotFound
	}
	fn(u)
	return nil
}

func (m *memStore) UpdatePassword(_ context.Context, id, hash string, at time.Time) error {
	return m.update(id, func(u *models.User) { u.PasswordHash = hash; u.UpdatedAt = at })
}

func (m *memStore) UpdateProfile(_ context.Context, id string, p models.Profile, at time.Time) error {
	return m.update(id, func(u *models.User) { u.Profile = p; u.UpdatedAt = at })
}

func (m *memStore) UpdateSettings(_ context.Context, id string, s models.Settings, at time.Time) error {
	return m.update(id, func(u *models.User) { u.Settings = s; u.UpdatedAt = at })
}

func (m *memStore) UpdateRoles(_ context.Context, id string, roles []models.Role, at time.Time) error {
	return m.update(id, func(u *models.User) { u.Roles = slices.Clone(roles); u.UpdatedAt = at })
}

func (m *memStore) UpdateLastLogin(_ context.Context, id string, at time.Time) error {
	return m.update(id, func(u *models.User) { u.LastLogin = &at })
}

func (m *memStore) DeleteUser(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[id]; !ok {
		return storage.ErrUserNotFound
	}
	delete(m.users, id)
	return nil
}

func (m *memStore) CreateVerification(_ context.Context, v *models.PendingVerification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.verifications[v.Email]; ok {
		return storage.ErrVerificationExists
	}
	c := *v
	m.verifications[v.Email] = &c
	return nil
}

func (m *memStore) GetVerification(_ context.Context, email string) (*models.PendingVerification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.verifications[email]
	if !ok {
		return nil, storage.ErrVerificationNotFound
	}
	c := *v
	return &c, nil
}

func (m *memStore) UpdateVerificationCode(_ context.Context, email, code string, expiresAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.verifications[email]
	if !ok {
		return storage.ErrVerificationNotFound
	}
	v.Code = code
	v.ExpiresAt = expiresAt
	return nil
}

func (m *memStore) DeleteVerification(_ context.Context, email string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.verifications, email)
	return nil
}

func (m *memStore) SaveRefreshToken(_ context.Context, t *models.RefreshToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := *t
	m.tokens[t.Token] = &c
	return nil
}

func (m *memStore) GetRefreshToken(_ context.Context, token string) (*models.RefreshToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tokens[token]
	if !ok {
		return nil, storage.ErrTokenNotFound
	}
	c := *t
	return &c, nil
}

func (m *memStore) RotateRefreshToken(_ context.Context, old string, next *models.RefreshToken, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tokens[old]
	if !ok {
		return storage.ErrTokenNotFound
	}
	if !t.Active(now) {
		return storage.ErrTokenInactive
	}
	revoked := now
	t.RevokedAt = &revoked
	t.ReplacedByToken = next.Token
	c := *next
	m.tokens[next.Token] = &c
	return nil
}

func (m *memStore) RevokeRefreshToken(_ context.Context, token string, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tokens[token]
	if !ok {
		return storage.ErrTokenNotFound
	}
	if t.Active(now) {
		revoked := now
		t.RevokedAt = &revoked
	}
	return nil
}

func (m *memStore) GetUserTokens(_ context.Context, userID string) ([]*models.RefreshToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.RefreshToken
	for _, t := range m.tokens {
		if t.UserID == userID {
			c := *t
			out = append(out, &c)
		}
	}
	return out, nil
}

func (m *memStore) DeleteUserTokens(_ context.Context, userID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for k, t := range m.tokens {
		if t.UserID == userID {
			delete(m.tokens, k)
			n++
		}
	}
	return n, nil
}

func (m *memStore) ReplaceResetToken(_ context.Context, t *models.PasswordResetToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, r := range m.resets {
		if r.Email == t.Email {
			delete(m.resets, k)
		}
	}
	c := *t
	m.resets[t.Token] = &c
	return nil
}

func (m *memStore) GetActiveResetToken(_ context.Context, token string, now time.Time) (*models.PasswordResetToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.resets[token]
	if !ok || r.Expired(now) {
		return nil, storage.ErrResetTokenNotFound
	}
	c := *r
	return &c, nil
}

func (m *memStore) DeleteResetToken(_ context.Context, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.resets, token)
	return nil
}

func (m *memStore) resetCount(email string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, r := range m.resets {
		if r.Email == email {
			n++
		}
	}
	return n
}

func (m *memStore) userCount(email string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, u := range m.users {
		if u.Email == email {
			n++
		}
	}
	return n
}

// fakeMailer records messages and can be told to fail
type fakeMailer struct {
	// gate, если задан, задерживает отправку до закрытия
	gate   chan struct{}
	ctxErr error
	sent   []mailer.Message
	err    error
	mu     sync.Mutex
}

func (f *fakeMailer) Send(ctx context.Context, msg mailer.Message) (mailer.Receipt, error) {
	if f.gate != nil {
		<-f.gate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ctxErr = ctx.Err()
	if f.err != nil {
		return mailer.Receipt{}, f.err
	}
	f.sent = append(f.sent, msg)
	return mailer.Receipt{MessageID: "test-id", Accepted: []string{msg.To}}, nil
}

func (f *fakeMailer) last(t *testing.T) mailer.Message {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.sent, "no mail sent")
	return f.sent[len(f.sent)-1]
}

func (f *fakeMailer) lastCtxErr() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ctxErr
}

func (f *fakeMailer) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

var codeRe = regexp.MustCompile(`\b(\d{6})\b`)

// codeFrom extracts the verification code from the last message
func (f *fakeMailer) code(t *testing.T) string {
	t.Helper()
	m := codeRe.FindStringSubmatch(f.last(t).Text)
	require.Len(t, m, 2)
	return m[1]
}

// resetToken extracts the token from the reset link in the last message
func (f *fakeMailer) resetToken(t *testing.T) string {
	t.Helper()
	text := f.last(t).Text
	i := strings.Index(text, "http")
	require.GreaterOrEqual(t, i, 0)
	link := strings.Fields(text[i:])[0]
	u, err := url.Parse(link)
	require.NoError(t, err)
	token := u.Query().Get("token")
	require.NotEmpty(t, token)
	return token
}

// recordingSink collects audit events
type recordingSink struct {
	mu     sync.Mutex
	events []audit.Event
}

func (r *recordingSink) Emit(_ context.Context, e audit.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recordingSink) types() []audit.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]audit.EventType, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Type)
	}
	return out
}

// testClock is a mutable clock
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type testEnv struct {
	svc   *Service
	store *memStore
	mail  *fakeMailer
	sink  *recordingSink
	clock *testClock
	jwt   *jwt.Service
}

const (
	testEmail    = "user@example.com"
	testUserName = "tester"
	testPassword = "password123"
)

var errBoom = errors.New("boom")

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	clock := &testClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	tokens, err := jwt.NewService(jwt.Config{Secret: "test-secret"}, jwt.WithClock(clock.Now))
	require.NoError(t, err)

	store := newMemStore()
	mail := &fakeMailer{}
	sink := &recordingSink{}

	svc := NewService(Deps{
		Users:         store,
		Verifications: store,
		Resets:        store,
		Tokens:        store,
		Issuer:        tokens,
		Mailer:        mail,
		Audit:         sink,
		Logger:        slog.New(slog.NewTextHandler(io.Discard, nil)),
	}, Config{
		FrontendURL:  "https://app.example.com",
		PasswordCost: bcrypt.MinCost,
	}, WithClock(clock.Now))

	return &testEnv{svc: svc, store: store, mail: mail, sink: sink, clock: clock, jwt: tokens}
}

// registerUser runs the full registration flow and returns the created user
func (e *testEnv) registerUser(t *testing.T, email string) *models.User {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, e.svc.StartRegistration(ctx, email, testUserName, testPassword))
	user, err := e.svc.CompleteRegistration(ctx, email, e.mail.code(t))
	require.NoError(t, err)
	return user
}
