package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/iudanet/text2mesh/internal/models"
	"github.com/iudanet/text2mesh/internal/server/storage"
)

// CreateVerification inserts a pending verification
func (s *Storage) CreateVerification(ctx context.Context, v *models.PendingVerification) error {
	query := `INSERT INTO pending_verifications (email, user_name, password_hash, code, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`

	_, err := s.db.ExecContext(ctx, query,
		v.Email, v.UserName, v.PasswordHash, v.Code, v.ExpiresAt.UTC(), v.CreatedAt.UTC())
	if err != nil {
		if isUniqueViolation(err) {
			return storage.ErrVerificationExists
		}
		return fmt.Errorf("error performing sql request: %w", err)
	}

	return nil
}

// GetVerification finds the pending verification by email
func (s *Storage) GetVerification(ctx context.Context, email string) (*models.PendingVerification, error) {
	query := `SELECT email, user_name, password_hash, code, expires_at, created_at
		FROM pending_verifications WHERE email = $1`

	v := &models.PendingVerification{}
	err := s.db.QueryRowContext(ctx, query, email).Scan(
		&v.Email, &v.UserName, &v.PasswordHash, &v.Code, &v.ExpiresAt, &v.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrVerificationNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}

	v.ExpiresAt = v.ExpiresAt.UTC()
	v.CreatedAt = v.CreatedAt.UTC()

	return v, nil
}

// UpdateVerificationCode rotates code and expiry
func (s *Storage) UpdateVerificationCode(ctx context.Context, email, code string, expiresAt time.Time) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE pending_verifications SET code = $1, expires_at = $2 WHERE email = $3`,
		code, expiresAt.UTC(), email)
	if err != nil {
		return fmt.Errorf("error performing sql request: %w", err)
	}
	return expectAffected(result, storage.ErrVerificationNotFound)
}

// DeleteVerification removes the pending verification if present
func (s *Storage) DeleteVerification(ctx context.Context, email string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM pending_verifications WHERE email = $1`, email); err != nil {
		return fmt.Errorf("error performing sql request: %w", err)
	}
	return nil
}
