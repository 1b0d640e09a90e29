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

const tokenColumns = `id, token, user_id, expires_at, created_at, revoked_at, replaced_by_token, ip_address, user_agent`

// SaveRefreshToken stores a new refresh token
func (s *Storage) SaveRefreshToken(ctx context.Context, token *models.RefreshToken) error {
	return insertRefreshToken(ctx, s.db, token)
}

// GetRefreshToken retrieves refresh token by token value
func (s *Storage) GetRefreshToken(ctx context.Context, token string) (*models.RefreshToken, error) {
	query := `SELECT ` + tokenColumns + ` FROM refresh_tokens WHERE token = ?`

	refreshToken, err := scanRefreshToken(s.db.QueryRowContext(ctx, query, token))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrTokenNotFound
		}
		return nil, fmt.Errorf("failed to get refresh token: %w", err)
	}

	return refreshToken, nil
}

// RotateRefreshToken отзывает активный токен и сохраняет преемника в одной транзакции.
// Условный UPDATE гарантирует, что из одного токена получится ровно один преемник
func (s *Storage) RotateRefreshToken(ctx context.Context, oldToken string, next *models.RefreshToken, now time.Time) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	ts := formatTime(now)
	result, err := tx.ExecContext(ctx, `
		UPDATE refresh_tokens
		SET revoked_at = ?, replaced_by_token = ?
		WHERE token = ? AND revoked_at IS NULL AND expires_at > ?
	`, ts, next.Token, oldToken, ts)
	if err != nil {
		return fmt.Errorf("failed to revoke refresh token: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rows == 0 {
		var exists int
		err := tx.QueryRowContext(ctx, `SELECT 1 FROM refresh_tokens WHERE token = ?`, oldToken).Scan(&exists)
		if errors.Is(err, sql.ErrNoRows) {
			return storage.ErrTokenNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to check refresh token: %w", err)
		}
		return storage.ErrTokenInactive
	}

	if err := insertRefreshToken(ctx, tx, next); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit rotation: %w", err)
	}

	return nil
}

// RevokeRefreshToken marks the token revoked if it is still active
func (s *Storage) RevokeRefreshToken(ctx context.Context, token string, now time.Time) error {
	ts := formatTime(now)
	_, err := s.db.ExecContext(ctx, `
		UPDATE refresh_tokens
		SET revoked_at = ?
		WHERE token = ? AND revoked_at IS NULL AND expires_at > ?
	`, ts, token, ts)
	if err != nil {
		return fmt.Errorf("failed to revoke refresh token: %w", err)
	}

	var exists int
	err = s.db.QueryRowContext(ctx, `SELECT 1 FROM refresh_tokens WHERE token = ?`, token).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return storage.ErrTokenNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to check refresh token: %w", err)
	}

	return nil
}

// GetUserTokens retrieves all refresh tokens for a user
func (s *Storage) GetUserTokens(ctx context.Context, userID string) ([]*models.RefreshToken, error) {
	query := `
		SELECT ` + tokenColumns + `
		FROM refresh_tokens
		WHERE user_id = ?
		ORDER BY created_at DESC
	`

	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query user tokens: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var tokens []*models.RefreshToken

	for rows.Next() {
		token, err := scanRefreshToken(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan token: %w", err)
		}
		tokens = append(tokens, token)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}

	return tokens, nil
}

// DeleteUserTokens deletes all refresh tokens for a user
func (s *Storage) DeleteUserTokens(ctx context.Context, userID string) (int, error) {
	query := `DELETE FROM refresh_tokens WHERE user_id = ?`

	result, err := s.db.ExecContext(ctx, query, userID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete user tokens: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return int(rows), nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertRefreshToken(ctx context.Context, db execer, token *models.RefreshToken) error {
	query := `
		INSERT INTO refresh_tokens (` + tokenColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := db.ExecContext(ctx, query,
		token.ID,
		token.Token,
		token.UserID,
		formatTime(token.ExpiresAt),
		formatTime(token.CreatedAt),
		formatNullTime(token.RevokedAt),
		token.ReplacedByToken,
		token.IPAddress,
		token.UserAgent,
	)
	if err != nil {
		return fmt.Errorf("failed to save refresh token: %w", err)
	}

	return nil
}

func scanRefreshToken(row rowScanner) (*models.RefreshToken, error) {
	t := &models.RefreshToken{}
	var (
		expiresAt, createdAt string
		revokedAt            sql.NullString
	)

	if err := row.Scan(
		&t.ID,
		&t.Token,
		&t.UserID,
		&expiresAt,
		&createdAt,
		&revokedAt,
		&t.ReplacedByToken,
		&t.IPAddress,
		&t.UserAgent,
	); err != nil {
		return nil, err
	}

	var err error
	if t.ExpiresAt, err = parseTime(expiresAt); err != nil {
		return nil, err
	}
	if t.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if t.RevokedAt, err = parseNullTime(revokedAt); err != nil {
		return nil, err
	}

	return t, nil
}
