// Package jwt issues and verifies the short-lived HS256 access tokens and
// mints the opaque refresh tokens that back user sessions.
package jwt

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"time"

	gojwt "github.com/golang-jwt/jwt/v5"

	"github.com/iudanet/text2mesh/internal/models"
)

const (
	// DefaultAccessTTL время жизни access токена по умолчанию
	DefaultAccessTTL = 15 * time.Minute
	// DefaultRefreshTTL время жизни refresh токена, если строка конфигурации не разобрана
	DefaultRefreshTTL = 7 * 24 * time.Hour
	// RefreshTokenBytes размер refresh токена до hex-кодирования
	RefreshTokenBytes = 64
	// Issuer значение iss в access токенах
	Issuer = "text2mesh"
)

var (
	// ErrMissingSigningKey сервис нельзя создать без ключа подписи
	ErrMissingSigningKey = errors.New("jwt signing key is not configured")
	// ErrInvalidToken подпись неверна, токен истек или поврежден
	ErrInvalidToken = errors.New("invalid token")
)

var durationPattern = regexp.MustCompile(`^(\d+)([dhms])$`)

// Claims represents access token claims
type Claims struct {
	UserID string        `json:"userId"`
	Email  string        `json:"email"`
	Roles  []models.Role `json:"roles"`
	gojwt.RegisteredClaims
}

// Principal converts verified claims into the authenticated caller
func (c *Claims) Principal() models.Principal {
	return models.Principal{
		UserID: c.UserID,
		Email:  c.Email,
		Roles:  append([]models.Role(nil), c.Roles...),
	}
}

// Config содержит конфигурацию для JWT
type Config struct {
	Secret     string
	AccessTTL  time.Duration
	RefreshTTL time.Duration
}

// Service provides access token generation and validation
type Service struct {
	secret     []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
}

// Option configures Service
type Option func(*Service)

// WithClock overrides the time source, used by tests
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// NewService creates a new token service.
// An empty secret is a fatal misconfiguration and yields ErrMissingSigningKey.
func NewService(cfg Config, opts ...Option) (*Service, error) {
	if cfg.Secret == "" {
		return nil, ErrMissingSigningKey
	}

	s := &Service{
		secret:     []byte(cfg.Secret),
		accessTTL:  cfg.AccessTTL,
		refreshTTL: cfg.RefreshTTL,
		now:        time.Now,
	}
	if s.accessTTL <= 0 {
		s.accessTTL = DefaultAccessTTL
	}
	if s.refreshTTL <= 0 {
		s.refreshTTL = DefaultRefreshTTL
	}

	for _, opt := range opts {
		opt(s)
	}

	return s, nil
}

// IssueAccessToken создает подписанный access token.
// Returns the token and its lifetime in seconds
func (s *Service) IssueAccessToken(userID, email string, roles []models.Role) (string, int64, error) {
	now := s.now()

	claims := Claims{
		UserID: userID,
		Email:  email,
		Roles:  roles,
		RegisteredClaims: gojwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    Issuer,
			ExpiresAt: gojwt.NewNumericDate(now.Add(s.accessTTL)),
			IssuedAt:  gojwt.NewNumericDate(now),
			NotBefore: gojwt.NewNumericDate(now),
		},
	}

	token := gojwt.NewWithClaims(gojwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", 0, fmt.Errorf("failed to sign token: %w", err)
	}

	return signed, int64(s.accessTTL.Seconds()), nil
}

// VerifyAccessToken валидирует и парсит access token.
// Any failure is reported as ErrInvalidToken
func (s *Service) VerifyAccessToken(tokenString string) (*Claims, error) {
	claims := &Claims{}

	token, err := gojwt.ParseWithClaims(tokenString, claims, func(token *gojwt.Token) (any, error) {
		// Проверяем что используется HMAC
		if _, ok := token.Method.(*gojwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.secret, nil
	},
		gojwt.WithValidMethods([]string{gojwt.SigningMethodHS256.Alg()}),
		gojwt.WithIssuer(Issuer),
		gojwt.WithExpirationRequired(),
		gojwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}

	if !token.Valid || claims.UserID == "" {
		return nil, ErrInvalidToken
	}

	return claims, nil
}

// IssueRefreshToken создает непрозрачный refresh token: 64 случайных байта в hex
func (s *Service) IssueRefreshToken() (string, error) {
	b := make([]byte, RefreshTokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate refresh token: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// RefreshExpiry returns the expiry of a refresh token issued at now
func (s *Service) RefreshExpiry(now time.Time) time.Time {
	return now.Add(s.refreshTTL)
}

// AccessTTL returns the access token lifetime
func (s *Service) AccessTTL() time.Duration {
	return s.accessTTL
}

// ParseRefreshDuration parses "<integer><d|h|m|s>", e.g. "7d" or "12h"
func ParseRefreshDuration(spec string) (time.Duration, error) {
	m := durationPattern.FindStringSubmatch(spec)
	if m == nil {
		return 0, fmt.Errorf("invalid duration %q: want <integer><d|h|m|s>", spec)
	}

	n, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q: %w", spec, err)
	}

	unit := map[string]time.Duration{
		"d": 24 * time.Hour,
		"h": time.Hour,
		"m": time.Minute,
		"s": time.Second,
	}[m[2]]

	if n <= 0 || n > int64(1<<62)/int64(unit) {
		return 0, fmt.Errorf("invalid duration %q: out of range", spec)
	}

	return time.Duration(n) * unit, nil
}

// RefreshDuration parses spec and falls back to DefaultRefreshTTL.
// ok is false when the fallback was used
func RefreshDuration(spec string) (d time.Duration, ok bool) {
	d, err := ParseRefreshDuration(spec)
	if err != nil {
		return DefaultRefreshTTL, false
	}
	return d, true
}
