package jwt

import (
	"errors"
	"strings"
	"testing"
	"time"

	gojwt "github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iudanet/text2mesh/internal/models"
)

const testSecret = "test-secret-key-for-unit-tests"

func newTestService(t *testing.T, now *time.Time) *Service {
	t.Helper()

	s, err := NewService(Config{Secret: testSecret, AccessTTL: 15 * time.Minute, RefreshTTL: 7 * 24 * time.Hour},
		WithClock(func() time.Time { return *now }))
	require.NoError(t, err)

	return s
}

func TestNewService_MissingSecret(t *testing.T) {
	s, err := NewService(Config{})
	assert.Nil(t, s)
	assert.ErrorIs(t, err, ErrMissingSigningKey)
}

func TestNewService_Defaults(t *testing.T) {
	s, err := NewService(Config{Secret: testSecret})
	require.NoError(t, err)
	assert.Equal(t, DefaultAccessTTL, s.AccessTTL())

	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, now.Add(DefaultRefreshTTL), s.RefreshExpiry(now))
}

func TestAccessToken_RoundTrip(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	s := newTestService(t, &now)

	roles := []models.Role{models.RoleUser, models.RoleAdmin}
	token, expiresIn, err := s.IssueAccessToken("user-1", "user@example.com", roles)
	require.NoError(t, err)
	assert.NotEmpty(t, token)
	assert.Equal(t, int64(900), expiresIn)

	claims, err := s.VerifyAccessToken(token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.UserID)
	assert.Equal(t, "user-1", claims.Subject)
	assert.Equal(t, "user@example.com", claims.Email)
	assert.Equal(t, roles, claims.Roles)
	assert.Equal(t, Issuer, claims.Issuer)

	p := claims.Principal()
	assert.Equal(t, "user-1", p.UserID)
	assert.True(t, p.HasRole(models.RoleAdmin))
}

func TestVerifyAccessToken_Expired(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	s := newTestService(t, &now)

	token, _, err := s.IssueAccessToken("user-1", "user@example.com", []models.Role{models.RoleUser})
	require.NoError(t, err)

	now = now.Add(14 * time.Minute)
	_, err = s.VerifyAccessToken(token)
	require.NoError(t, err, "still valid before expiry")

	now = now.Add(2 * time.Minute)
	_, err = s.VerifyAccessToken(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
	assert.True(t, errors.Is(err, gojwt.ErrTokenExpired))
}

func TestVerifyAccessToken_Invalid(t *testing.T) {
	now := time.Now()
	s := newTestService(t, &now)

	other, err := NewService(Config{Secret: "another-secret"})
	require.NoError(t, err)
	foreign, _, err := other.IssueAccessToken("user-1", "user@example.com", nil)
	require.NoError(t, err)

	valid, _, err := s.IssueAccessToken("user-1", "user@example.com", nil)
	require.NoError(t, err)
	parts := strings.Split(valid, ".")
	require.Len(t, parts, 3)
	tampered := parts[0] + "." + parts[1] + "x." + parts[2]

	// none-алгоритм должен отвергаться
	unsigned, err := gojwt.NewWithClaims(gojwt.SigningMethodNone, Claims{
		UserID: "user-1",
		RegisteredClaims: gojwt.RegisteredClaims{
			Issuer:    Issuer,
			ExpiresAt: gojwt.NewNumericDate(now.Add(time.Hour)),
		},
	}).SignedString(gojwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	// HS512 с правильным ключом тоже не принимается
	hs512, err := gojwt.NewWithClaims(gojwt.SigningMethodHS512, Claims{
		UserID: "user-1",
		RegisteredClaims: gojwt.RegisteredClaims{
			Issuer:    Issuer,
			ExpiresAt: gojwt.NewNumericDate(now.Add(time.Hour)),
		},
	}).SignedString([]byte(testSecret))
	require.NoError(t, err)

	// Без exp
	noExp, err := gojwt.NewWithClaims(gojwt.SigningMethodHS256, Claims{
		UserID:           "user-1",
		RegisteredClaims: gojwt.RegisteredClaims{Issuer: Issuer},
	}).SignedString([]byte(testSecret))
	require.NoError(t, err)

	tests := []struct {
		name  string
		token string
	}{
		{name: "empty", token: ""},
		{name: "garbage", token: "not.a.jwt"},
		{name: "wrong key", token: foreign},
		{name: "tampered payload", token: tampered},
		{name: "alg none", token: unsigned},
		{name: "other hmac alg", token: hs512},
		{name: "missing exp", token: noExp},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			claims, err := s.VerifyAccessToken(tt.token)
			assert.Nil(t, claims)
			assert.ErrorIs(t, err, ErrInvalidToken)
		})
	}
}

func TestIssueRefreshToken(t *testing.T) {
	s, err := NewService(Config{Secret: testSecret})
	require.NoError(t, err)

	a, err := s.IssueRefreshToken()
	require.NoError(t, err)
	b, err := s.IssueRefreshToken()
	require.NoError(t, err)

	assert.Len(t, a, RefreshTokenBytes*2)
	assert.Regexp(t, "^[0-9a-f]+$", a)
	assert.NotEqual(t, a, b)
}

func TestParseRefreshDuration(t *testing.T) {
	tests := []struct {
		spec    string
		want    time.Duration
		wantErr bool
	}{
		{spec: "7d", want: 7 * 24 * time.Hour},
		{spec: "12h", want: 12 * time.Hour},
		{spec: "30m", want: 30 * time.Minute},
		{spec: "45s", want: 45 * time.Second},
		{spec: "", wantErr: true},
		{spec: "7", wantErr: true},
		{spec: "d", wantErr: true},
		{spec: "7w", wantErr: true},
		{spec: "-1d", wantErr: true},
		{spec: "0d", wantErr: true},
		{spec: " 7d", wantErr: true},
		{spec: "1.5h", wantErr: true},
		{spec: "99999999999999999999d", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.spec, func(t *testing.T) {
			got, err := ParseRefreshDuration(tt.spec)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRefreshDuration_FallsBack(t *testing.T) {
	d, ok := RefreshDuration("3d")
	assert.True(t, ok)
	assert.Equal(t, 72*time.Hour, d)

	d, ok = RefreshDuration("forever")
	assert.False(t, ok)
	assert.Equal(t, DefaultRefreshTTL, d)
}
