package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/iudanet/text2mesh/internal/models"
	"github.com/iudanet/text2mesh/internal/server/storage"
)

// CreateVerification stores a new pending verification
func (s *Storage) CreateVerification(ctx context.Context, v *models.PendingVerification) error {
	query := `
		INSERT INTO pending_verifications (email, user_name, password_hash, code, expires_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		v.Email,
		v.UserName,
		v.PasswordHash,
		v.Code,
		formatTime(v.ExpiresAt),
		formatTime(v.CreatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return storage.ErrVerificationExists
		}
		return fmt.Errorf("failed to insert verification: %w", err)
	}

	return nil
}

// GetVerification retrieves pending verification by email
func (s *Storage) GetVerification(ctx context.Context, email string) (*models.PendingVerification, error) {
	query := `
		SELECT email, user_name, password_hash, code, expires_at, created_at
		FROM pending_verifications
		WHERE email = ?
	`

	v := &models.PendingVerification{}
	var expiresAt, createdAt string

	err := s.db.QueryRowContext(ctx, query, email).Scan(
		&v.Email,
		&v.UserName,
		&v.PasswordHash,
		&v.Code,
		&expiresAt,
		&createdAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrVerificationNotFound
		}
		return nil, fmt.Errorf("failed to get verification: %w", err)
	}

	if v.ExpiresAt, err = parseTime(expiresAt); err != nil {
		return nil, err
	}
	if v.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}

	return v, nil
}

// UpdateVerificationCode rotates code and expiry
func (s *Storage) UpdateVerificationCode(ctx context.Context, email, code string, expiresAt time.Time) error {
	query := `UPDATE pending_verifications SET code = ?, expires_at = ? WHERE email = ?`

	result, err := s.db.ExecContext(ctx, query, code, formatTime(expiresAt), email)
	if err != nil {
		return fmt.Errorf("failed to update verification: %w", err)
	}

	return expectAffected(result, storage.ErrVerificationNotFound)
}

// DeleteVerification removes the pending verification
func (s *Storage) DeleteVerification(ctx context.Context, email string) error {
	query := `DELETE FROM pending_verifications WHERE email = ?`

	if _, err := s.db.ExecContext(ctx, query, email); err != nil {
		return fmt.Errorf("failed to delete verification: %w", err)
	}

	return nil
}
