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
	"github.com/iudanet/text2mesh/internal/server/mailer"
	"github.com/iudanet/text2mesh/internal/server/storage"
	"github.com/iudanet/text2mesh/internal/validation"
)

// RequestPasswordReset emails a reset link if the account exists.
// The result is the same whether or not it does: the token is issued and
// mailed in the background, so both cases answer after the same lookup.
func (s *Service) RequestPasswordReset(ctx context.Context, email string) error {
	var v validator
	v.check("email", validation.ValidateEmail(email))
	if err := v.err(); err != nil {
		return err
	}

	user, err := s.users.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, storage.ErrUserNotFound) {
			return nil
		}
		return fmt.Errorf("get user: %w", err)
	}

	s.background(ctx, func(ctx context.Context) {
		s.issueReset(ctx, user)
	})
	return nil
}

// issueReset replaces the user's reset token and mails the link
func (s *Service) issueReset(ctx context.Context, user *models.User) {
	token, err := crypto.GenerateToken(ResetTokenBytes)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to generate reset token", slog.Any("error", err))
		return
	}

	now := s.clock()
	err = s.resets.ReplaceResetToken(ctx, &models.PasswordResetToken{
		ID:        uuid.NewString(),
		Email:     user.Email,
		Token:     token,
		ExpiresAt: now.Add(s.cfg.ResetTTL),
		CreatedAt: now,
	})
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to store reset token",
			slog.String("email", user.Email),
			slog.Any("error", err),
		)
		return
	}

	s.emit(ctx, audit.PasswordResetRequested, user.ID, user.Email, "")

	msg, err := mailer.PasswordResetMessage(user.Email, mailer.ResetLink(s.cfg.FrontendURL, token))
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to render reset email", slog.Any("error", err))
		return
	}
	_ = s.send(ctx, "reset", msg)
}

// ResetPassword sets a new password using a single-use reset token
func (s *Service) ResetPassword(ctx context.Context, token, newPassword string) error {
	var v validator
	if token == "" {
		v.fail("token", "token is required")
	}
	v.check("newPassword", validation.ValidatePassword(newPassword))
	if err := v.err(); err != nil {
		return err
	}

	rt, err := s.resets.GetActiveResetToken(ctx, token, s.clock())
	if err != nil {
		if errors.Is(err, storage.ErrResetTokenNotFound) {
			return ErrInvalidResetToken
		}
		return fmt.Errorf("get reset token: %w", err)
	}

	user, err := s.users.GetUserByEmail(ctx, rt.Email)
	if err != nil {
		if errors.Is(err, storage.ErrUserNotFound) {
			return ErrUserNotFound
		}
		return fmt.Errorf("get user: %w", err)
	}

	hash, err := crypto.HashPasswordCost(newPassword, s.cfg.PasswordCost)
	if err != nil {
		return err
	}

	if err := s.users.UpdatePassword(ctx, user.ID, hash, s.clock()); err != nil {
		return fmt.Errorf("update password: %w", err)
	}

	if err := s.resets.DeleteResetToken(ctx, token); err != nil {
		return fmt.Errorf("delete reset token: %w", err)
	}

	s.emit(ctx, audit.PasswordResetCompleted, user.ID, user.Email, "")

	return nil
}
