package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/iudanet/text2mesh/internal/dbx"
	"github.com/iudanet/text2mesh/internal/models"
	"github.com/iudanet/text2mesh/internal/server/storage"
)

// ReplaceResetToken deletes previous reset tokens of the email and stores t
func (s *Storage) ReplaceResetToken(ctx context.Context, t *models.PasswordResetToken) error {
	return dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM password_resets WHERE email = $1`, t.Email); err != nil {
			return fmt.Errorf("error performing sql request: %w", err)
		}

		_, err := tx.ExecContext(ctx, `INSERT INTO password_resets (id, email, token, expires_at, created_at)
			VALUES ($1, $2, $3, $4, $5)`, t.ID, t.Email, t.Token, t.ExpiresAt.UTC(), t.CreatedAt.UTC())
		if err != nil {
			return fmt.Errorf("error performing sql request: %w", err)
		}

		return nil
	})
}

// GetActiveResetToken returns the token only if it expires after now
func (s *Storage) GetActiveResetToken(ctx context.Context, token string, now time.Time) (*models.PasswordResetToken, error) {
	t := &models.PasswordResetToken{}
	err := s.db.QueryRowContext(ctx, `SELECT id, email, token, expires_at, created_at
		FROM password_resets WHERE token = $1 AND expires_at > $2`, token, now.UTC()).Scan(
		&t.ID, &t.Email, &t.Token, &t.ExpiresAt, &t.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrResetTokenNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}

	t.ExpiresAt = t.ExpiresAt.UTC()
	t.CreatedAt = t.CreatedAt.UTC()

	return t, nil
}

// DeleteResetToken removes the token if present
func (s *Storage) DeleteResetToken(ctx context.Context, token string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM password_resets WHERE token = $1`, token); err != nil {
		return fmt.Errorf("error performing sql request: %w", err)
	}
	return nil
}
