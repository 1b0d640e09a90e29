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

// StartRegistration stages a registration and emails a 6-digit code.
// A mail failure is logged only: the pending record stays and the caller
// is told the code was sent.
func (s *Service) StartRegistration(ctx context.Context, email, userName, password string) error {
	var v validator
	v.check("email", validation.ValidateEmail(email))
	v.check("userName", validation.ValidateUserName(userName))
	v.check("password", validation.ValidatePassword(password))
	if err := v.err(); err != nil {
		return err
	}

	if err := s.ensureNoUser(ctx, email); err != nil {
		return err
	}

	now := s.clock()

	pending, err := s.verifications.GetVerification(ctx, email)
	switch {
	case err == nil:
		if !pending.Expired(now) {
			return ErrVerificationPending
		}
		// Просроченная запись еще не удалена очисткой
		if err := s.verifications.DeleteVerification(ctx, email); err != nil {
			return fmt.Errorf("delete expired verification: %w", err)
		}
	case errors.Is(err, storage.ErrVerificationNotFound):
	default:
		return fmt.Errorf("get verification: %w", err)
	}

	hash, err := crypto.HashPasswordCost(password, s.cfg.PasswordCost)
	if err != nil {
		return err
	}

	code, err := crypto.GenerateCode()
	if err != nil {
		return err
	}

	err = s.verifications.CreateVerification(ctx, &models.PendingVerification{
		Email:        email,
		UserName:     userName,
		PasswordHash: hash,
		Code:         code,
		ExpiresAt:    now.Add(s.cfg.VerificationTTL),
		CreatedAt:    now,
	})
	if err != nil {
		if errors.Is(err, storage.ErrVerificationExists) {
			return ErrVerificationPending
		}
		return fmt.Errorf("create verification: %w", err)
	}

	s.emit(ctx, audit.RegistrationStarted, "", email, "")

	msg, err := mailer.VerificationMessage(email, code, false)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to render verification email", slog.Any("error", err))
		return nil
	}
	_ = s.send(ctx, "register", msg)

	return nil
}

// ResendVerification rotates the code and expiry of a pending registration.
// Unlike StartRegistration, a mail failure fails the call.
func (s *Service) ResendVerification(ctx context.Context, email string) error {
	var v validator
	v.check("email", validation.ValidateEmail(email))
	if err := v.err(); err != nil {
		return err
	}

	if _, err := s.loadPending(ctx, email); err != nil {
		return err
	}

	code, err := crypto.GenerateCode()
	if err != nil {
		return err
	}

	if err := s.verifications.UpdateVerificationCode(ctx, email, code, s.clock().Add(s.cfg.VerificationTTL)); err != nil {
		if errors.Is(err, storage.ErrVerificationNotFound) {
			return ErrVerificationNotFound
		}
		return fmt.Errorf("update verification: %w", err)
	}

	msg, err := mailer.VerificationMessage(email, code, true)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrMailDelivery, err)
	}
	if err := s.send(ctx, "resend", msg); err != nil {
		return fmt.Errorf("%w: %w", ErrMailDelivery, err)
	}

	s.emit(ctx, audit.VerificationResent, "", email, "")

	return nil
}

// CompleteRegistration turns a pending registration into a verified user
func (s *Service) CompleteRegistration(ctx context.Context, email, code string) (*models.User, error) {
	var v validator
	v.check("email", validation.ValidateEmail(email))
	v.check("code", validation.ValidateCode(code))
	if err := v.err(); err != nil {
		return nil, err
	}

	pending, err := s.loadPending(ctx, email)
	if err != nil {
		return nil, err
	}

	if !crypto.EqualCodes(pending.Code, code) {
		return nil, ErrInvalidCode
	}

	// Пользователь мог появиться параллельно
	if err := s.ensureNoUser(ctx, email); err != nil {
		if errors.Is(err, ErrUserExists) {
			s.dropPending(ctx, email)
		}
		return nil, err
	}

	now := s.clock()
	user := &models.User{
		ID:            uuid.NewString(),
		Email:         email,
		UserName:      pending.UserName,
		PasswordHash:  pending.PasswordHash,
		EmailVerified: true,
		Roles:         []models.Role{models.RoleUser},
		Profile:       models.DefaultProfile(),
		Settings:      models.DefaultSettings(),
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if err := s.users.CreateUser(ctx, user); err != nil {
		if errors.Is(err, storage.ErrUserAlreadyExists) {
			s.dropPending(ctx, email)
			return nil, ErrUserExists
		}
		return nil, fmt.Errorf("create user: %w", err)
	}

	s.dropPending(ctx, email)
	s.emit(ctx, audit.RegistrationCompleted, user.ID, email, "")

	return user.Sanitized(), nil
}

// loadPending returns an unexpired pending verification.
// An expired one is deleted and reported as ErrVerificationExpired
func (s *Service) loadPending(ctx context.Context, email string) (*models.PendingVerification, error) {
	pending, err := s.verifications.GetVerification(ctx, email)
	if err != nil {
		if errors.Is(err, storage.ErrVerificationNotFound) {
			return nil, ErrVerificationNotFound
		}
		return nil, fmt.Errorf("get verification: %w", err)
	}

	if pending.Expired(s.clock()) {
		s.dropPending(ctx, email)
		return nil, ErrVerificationExpired
	}

	return pending, nil
}

// dropPending удаляет запись подтверждения; ошибка только логируется
func (s *Service) dropPending(ctx context.Context, email string) {
	if err := s.verifications.DeleteVerification(ctx, email); err != nil {
		s.logger.WarnContext(ctx, "failed to delete pending verification",
			slog.String("email", email),
			slog.Any("error", err),
		)
	}
}

func (s *Service) ensureNoUser(ctx context.Context, email string) error {
	_, err := s.users.GetUserByEmail(ctx, email)
	switch {
	case err == nil:
		return ErrUserExists
	case errors.Is(err, storage.ErrUserNotFound):
		return nil
	default:
		return fmt.Errorf("get user: %w", err)
	}
}
