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

// ReplaceResetToken удаляет прежние токены сброса для email и сохраняет новый
func (s *Storage) ReplaceResetToken(ctx context.Context, t *models.PasswordResetToken) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if _, err := tx.ExecContext(ctx, `DELETE FROM password_resets WHERE email = ?`, t.Email); err != nil {
		return fmt.Errorf("failed to delete previous reset tokens: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO password_resets (id, email, token, expires_at, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, t.ID, t.Email, t.Token, formatTime(t.ExpiresAt), formatTime(t.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to insert reset token: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit reset token: %w", err)
	}

	return nil
}

// GetActiveResetToken returns the token only if it exists and expires after now
func (s *Storage) GetActiveResetToken(ctx context.Context, token string, now time.Time) (*models.PasswordResetToken, error) {
	query := `
		SELECT id, email, token, expires_at, created_at
		FROM password_resets
		WHERE token = ? AND expires_at > ?
	`

	t := &models.PasswordResetToken{}
	var expiresAt, createdAt string

	err := s.db.QueryRowContext(ctx, query, token, formatTime(now)).Scan(
		&t.ID,
		&t.Email,
		&t.Token,
		&expiresAt,
		&createdAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrResetTokenNotFound
		}
		return nil, fmt.Errorf("failed to get reset token: %w", err)
	}

	if t.ExpiresAt, err = parseTime(expiresAt); err != nil {
		return nil, err
	}
	if t.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}

	return t, nil
}

// DeleteResetToken removes the token
func (s *Storage) DeleteResetToken(ctx context.Context, token string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM password_resets WHERE token = ?`, token); err != nil {
		return fmt.Errorf("failed to delete reset token: %w", err)
	}
	return nil
}
