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

const tokenColumns = `id, token, user_id, expires_at, created_at, revoked_at, replaced_by_token, ip_address, user_agent`

// SaveRefreshToken inserts a refresh token
func (s *Storage) SaveRefreshToken(ctx context.Context, token *models.RefreshToken) error {
	return insertRefreshToken(ctx, s.db, token)
}

// GetRefreshToken finds a refresh token by value
func (s *Storage) GetRefreshToken(ctx context.Context, token string) (*models.RefreshToken, error) {
	t, err := scanRefreshToken(s.db.QueryRowContext(ctx,
		`SELECT `+tokenColumns+` FROM refresh_tokens WHERE token = $1`, token))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrTokenNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return t, nil
}

// RotateRefreshToken revokes oldToken if active and stores next in one transaction
func (s *Storage) RotateRefreshToken(ctx context.Context, oldToken string, next *models.RefreshToken, now time.Time) error {
	return dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		result, err := tx.ExecContext(ctx, `UPDATE refresh_tokens
			SET revoked_at = $1, replaced_by_token = $2
			WHERE token = $3 AND revoked_at IS NULL AND expires_at > $1`,
			now.UTC(), next.Token, oldToken)
		if err != nil {
			return fmt.Errorf("error performing sql request: %w", err)
		}

		rows, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to get rows affected: %w", err)
		}

		if rows == 0 {
			if err := tokenExists(ctx, tx, oldToken); err != nil {
				return err
			}
			return storage.ErrTokenInactive
		}

		return insertRefreshToken(ctx, tx, next)
	})
}

// RevokeRefreshToken marks the token revoked if it is still active
func (s *Storage) RevokeRefreshToken(ctx context.Context, token string, now time.Time) error {
	_, err := s.db.ExecContext(ctx, `UPDATE refresh_tokens SET revoked_at = $1
		WHERE token = $2 AND revoked_at IS NULL AND expires_at > $1`, now.UTC(), token)
	if err != nil {
		return fmt.Errorf("error performing sql request: %w", err)
	}
	return tokenExists(ctx, s.db, token)
}

// GetUserTokens lists refresh tokens of a user, newest first
func (s *Storage) GetUserTokens(ctx context.Context, userID string) ([]*models.RefreshToken, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+tokenColumns+` FROM refresh_tokens WHERE user_id = $1 ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var tokens []*models.RefreshToken
	for rows.Next() {
		t, err := scanRefreshToken(rows)
		if err != nil {
			return nil, fmt.Errorf("scan error: %w", err)
		}
		tokens = append(tokens, t)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return tokens, nil
}

// DeleteUserTokens deletes all refresh tokens of a user
func (s *Storage) DeleteUserTokens(ctx context.Context, userID string) (int, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM refresh_tokens WHERE user_id = $1`, userID)
	if err != nil {
		return 0, fmt.Errorf("error performing sql request: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return int(rows), nil
}

func tokenExists(ctx context.Context, db dbx.DBTX, token string) error {
	var one int
	err := db.QueryRowContext(ctx, `SELECT 1 FROM refresh_tokens WHERE token = $1`, token).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return storage.ErrTokenNotFound
	}
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func insertRefreshToken(ctx context.Context, db dbx.DBTX, t *models.RefreshToken) error {
	_, err := db.ExecContext(ctx, `INSERT INTO refresh_tokens (`+tokenColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		t.ID, t.Token, t.UserID, t.ExpiresAt.UTC(), t.CreatedAt.UTC(), nullTime(t.RevokedAt),
		t.ReplacedByToken, t.IPAddress, t.UserAgent)
	if err != nil {
		return fmt.Errorf("error performing sql request: %w", err)
	}
	return nil
}

func scanRefreshToken(row rowScanner) (*models.RefreshToken, error) {
	t := &models.RefreshToken{}
	var revokedAt sql.NullTime

	if err := row.Scan(
		&t.ID, &t.Token, &t.UserID, &t.ExpiresAt, &t.CreatedAt, &revokedAt,
		&t.ReplacedByToken, &t.IPAddress, &t.UserAgent,
	); err != nil {
		return nil, err
	}

	t.ExpiresAt = t.ExpiresAt.UTC()
	t.CreatedAt = t.CreatedAt.UTC()
	t.RevokedAt = timePtr(revokedAt)

	return t, nil
}
