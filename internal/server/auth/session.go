package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/iudanet/text2mesh/internal/crypto"
	"github.com/iudanet/text2mesh/internal/models"
	"github.com/iudanet/text2mesh/internal/server/audit"
	"github.com/iudanet/text2mesh/internal/server/storage"
	"github.com/iudanet/text2mesh/internal/validation"
)

// TokenPair is the result of a successful refresh
type TokenPair struct {
	AccessToken  string
	ExpiresIn    int64 // секунды
	RefreshToken string
}

// LoginResult is the result of a successful login
type LoginResult struct {
	TokenPair
	User *models.User
}

// timingHash returns a hash used to spend the same bcrypt time
// for unknown emails as for wrong passwords.
func (s *Service) timingHash() string {
	s.dummyOnce.Do(func() {
		h, err := crypto.HashPasswordCost("text2mesh-timing-equaliser", s.cfg.PasswordCost)
		if err == nil {
			s.dummyHash = h
		}
	})
	return s.dummyHash
}

// Login checks credentials and opens a new session.
// Unknown email and wrong password are indistinguishable to the caller.
func (s *Service) Login(ctx context.Context, email, password string, meta models.RequestMeta) (*LoginResult, error) {
	var v validator
	v.check("email", validation.ValidateEmail(email))
	if password == "" {
		v.fail("password", "password is required")
	}
	if err := v.err(); err != nil {
		return nil, err
	}

	user, err := s.users.GetUserByEmail(ctx, email)
	if err != nil {
		if !errors.Is(err, storage.ErrUserNotFound) {
			return nil, fmt.Errorf("get user: %w", err)
		}
		_ = crypto.CheckPassword(s.timingHash(), password)
		s.emit(ctx, audit.LoginFailed, "", email, meta.IPAddress)
		return nil, ErrInvalidCredentials
	}

	if err := crypto.CheckPassword(user.PasswordHash, password); err != nil {
		if errors.Is(err, crypto.ErrPasswordMismatch) {
			s.emit(ctx, audit.LoginFailed, user.ID, email, meta.IPAddress)
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}

	pair, err := s.openSession(ctx, user, meta)
	if err != nil {
		return nil, err
	}

	now := s.clock()
	if err := s.users.UpdateLastLogin(ctx, user.ID, now); err != nil {
		s.logger.WarnContext(ctx, "failed to update last login",
			slog.String("user_id", user.ID),
			slog.Any("error", err),
		)
	} else {
		user.LastLogin = &now
	}

	s.emit(ctx, audit.LoginSucceeded, user.ID, email, meta.IPAddress)

	return &LoginResult{TokenPair: *pair, User: user.Sanitized()}, nil
}

func (s *Service) openSession(ctx context.Context, user *models.User, meta models.RequestMeta) (*TokenPair, error) {
	access, expiresIn, err := s.issuer.IssueAccessToken(user.ID, user.Email, user.Roles)
	if err != nil {
		return nil, fmt.Errorf("issue access token: %w", err)
	}

	rt, err := s.newRefreshToken(user.ID, meta)
	if err != nil {
		return nil, err
	}

	if err := s.tokens.SaveRefreshToken(ctx, rt); err != nil {
		return nil, fmt.Errorf("save refresh token: %w", err)
	}

	return &TokenPair{AccessToken: access, ExpiresIn: expiresIn, RefreshToken: rt.Token}, nil
}

func (s *Service) newRefreshToken(userID string, meta models.RequestMeta) (*models.RefreshToken, error) {
	token, err := s.issuer.IssueRefreshToken()
	if err != nil {
		return nil, fmt.Errorf("issue refresh token: %w", err)
	}

	now := s.clock()
	return &models.RefreshToken{
		ID:        uuid.NewString(),
		Token:     token,
		UserID:    userID,
		ExpiresAt: s.issuer.RefreshExpiry(now),
		CreatedAt: now,
		IPAddress: meta.IPAddress,
		UserAgent: meta.UserAgent,
	}, nil
}

// Refresh rotates refreshToken and returns a new access token with its successor.
// The presented token is inert after the first successful call.
func (s *Service) Refresh(ctx context.Context, refreshToken string, meta models.RequestMeta) (*TokenPair, error) {
	if refreshToken == "" {
		var v validator
		v.fail("refreshToken", "refresh token is required")
		return nil, v.err()
	}

	now := s.clock()

	current, err := s.tokens.GetRefreshToken(ctx, refreshToken)
	if err != nil {
		if errors.Is(err, storage.ErrTokenNotFound) {
			return nil, ErrInvalidRefreshToken
		}
		return nil, fmt.Errorf("get refresh token: %w", err)
	}
	if !current.Active(now) {
		return nil, ErrRefreshTokenInactive
	}

	user, err := s.users.GetUserByID(ctx, current.UserID)
	if err != nil {
		if errors.Is(err, storage.ErrUserNotFound) {
			return nil, ErrInvalidRefreshToken
		}
		return nil, fmt.Errorf("get user: %w", err)
	}

	// Подписываем access token до ротации, чтобы не потерять сессию при ошибке подписи
	access, expiresIn, err := s.issuer.IssueAccessToken(user.ID, user.Email, user.Roles)
	if err != nil {
		return nil, fmt.Errorf("issue access token: %w", err)
	}

	next, err := s.newRefreshToken(user.ID, meta)
	if err != nil {
		return nil, err
	}

	if err := s.tokens.RotateRefreshToken(ctx, refreshToken, next, now); err != nil {
		switch {
		case errors.Is(err, storage.ErrTokenInactive):
			return nil, ErrRefreshTokenInactive
		case errors.Is(err, storage.ErrTokenNotFound):
			return nil, ErrInvalidRefreshToken
		default:
			return nil, fmt.Errorf("rotate refresh token: %w", err)
		}
	}

	s.emit(ctx, audit.TokenRefreshed, user.ID, user.Email, meta.IPAddress)

	return &TokenPair{AccessToken: access, ExpiresIn: expiresIn, RefreshToken: next.Token}, nil
}

// Logout revokes refreshToken if it is active. Unknown or empty tokens succeed.
func (s *Service) Logout(ctx context.Context, refreshToken string) error {
	if refreshToken == "" {
		return nil
	}

	err := s.tokens.RevokeRefreshToken(ctx, refreshToken, s.clock())
	switch {
	case err == nil:
		s.emit(ctx, audit.LoggedOut, "", "", "")
		return nil
	case errors.Is(err, storage.ErrTokenNotFound):
		return nil
	default:
		return fmt.Errorf("revoke refresh token: %w", err)
	}
}

// Me returns the sanitized user behind an authenticated principal
func (s *Service) Me(ctx context.Context, p models.Principal) (*models.User, error) {
	user, err := s.users.GetUserByID(ctx, p.UserID)
	if err != nil {
		if errors.Is(err, storage.ErrUserNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("get user: %w", err)
	}
	return user.Sanitized(), nil
}
