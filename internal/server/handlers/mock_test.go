package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/iudanet/text2mesh/internal/models"
	"github.com/iudanet/text2mesh/internal/server/auth"
)

// setupTestLogger creates a logger for testing
func setupTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// mockService is a hand-written stand-in for auth.Service.
// Unset hooks return zero values.
type mockService struct {
	startRegistration    func(email, userName, password string) error
	resendVerification   func(email string) error
	completeRegistration func(email, code string) (*models.User, error)
	login                func(email, password string, meta models.RequestMeta) (*auth.LoginResult, error)
	refresh              func(token string, meta models.RequestMeta) (*auth.TokenPair, error)
	logout               func(token string) error
	me                   func(p models.Principal) (*models.User, error)
	requestReset         func(email string) error
	resetPassword        func(token, newPassword string) error
	updateProfile        func(p models.Principal, patch auth.ProfilePatch) (*models.User, error)
	updateSettings       func(p models.Principal, patch auth.SettingsPatch) (*models.User, error)
	listUsers            func() ([]*models.User, error)
	setRoles             func(actor models.Principal, id string, roles []models.Role) (*models.User, error)
	deleteUser           func(actor models.Principal, id string) error
}

func (m *mockService) StartRegistration(_ context.Context, email, userName, password string) error {
	if m.startRegistration == nil {
		return nil
	}
	return m.startRegistration(email, userName, password)
}

func (m *mockService) ResendVerification(_ context.Context, email string) error {
	if m.resendVerification == nil {
		return nil
	}
	return m.resendVerification(email)
}

func (m *mockService) CompleteRegistration(_ context.Context, email, code string) (*models.User, error) {
	return m.completeRegistration(email, code)
}

func (m *mockService) Login(_ context.Context, email, password string, meta models.RequestMeta) (*auth.LoginResult, error) {
	return m.login(email, password, meta)
}

func (m *mockService) Refresh(_ context.Context, token string, meta models.RequestMeta) (*auth.TokenPair, error) {
	return m.refresh(token, meta)
}

func (m *mockService) Logout(_ context.Context, token string) error {
	if m.logout == nil {
		return nil
	}
	return m.logout(token)
}

func (m *mockService) Me(_ context.Context, p models.Principal) (*models.User, error) {
	return m.me(p)
}

func (m *mockService) RequestPasswordReset(_ context.Context, email string) error {
	if m.requestReset == nil {
		return nil
	}
	return m.requestReset(email)
}

func (m *mockService) ResetPassword(_ context.Context, token, newPassword string) error {
	if m.resetPassword == nil {
		return nil
	}
	return m.resetPassword(token, newPassword)
}

func (m *mockService) UpdateProfile(_ context.Context, p models.Principal, patch auth.ProfilePatch) (*models.User, error) {
	return m.updateProfile(p, patch)
}

func (m *mockService) UpdateSettings(_ context.Context, p models.Principal, patch auth.SettingsPatch) (*models.User, error) {
	return m.updateSettings(p, patch)
}

func (m *mockService) ListUsers(_ context.Context) ([]*models.User, error) {
	return m.listUsers()
}

func (m *mockService) SetRoles(_ context.Context, actor models.Principal, id string, roles []models.Role) (*models.User, error) {
	return m.setRoles(actor, id, roles)
}

func (m *mockService) DeleteUser(_ context.Context, actor models.Principal, id string) error {
	return m.deleteUser(actor, id)
}

// jsonRequest builds a request with a JSON body
func jsonRequest(t *testing.T, method, path string, body any) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	return req
}

// decodeBody decodes the recorder body into a value of type T
func decodeBody[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(w.Body).Decode(&v))
	return v
}

func testUser() *models.User {
	return &models.User{
		ID:            "11111111-1111-1111-1111-111111111111",
		Email:         "user@example.com",
		UserName:      "tester",
		EmailVerified: true,
		Roles:         []models.Role{models.RoleUser},
		Profile:       models.DefaultProfile(),
		Settings:      models.DefaultSettings(),
	}
}
