package storage

import (
	"context"
	"time"

	"github.com/iudanet/text2mesh/internal/models"
)

// TokenStorage defines interface for refresh token persistence
type TokenStorage interface {
	// SaveRefreshToken stores a new refresh token
	SaveRefreshToken(ctx context.Context, token *models.RefreshToken) error

	// GetRefreshToken retrieves refresh token by token value
	// Returns ErrTokenNotFound if token doesn't exist
	GetRefreshToken(ctx context.Context, token string) (*models.RefreshToken, error)

	// RotateRefreshToken atomically revokes the active token oldToken,
	// links it to next.Token and stores next.
	// Returns ErrTokenNotFound if oldToken doesn't exist and
	// ErrTokenInactive if it was already revoked or expired at now
	RotateRefreshToken(ctx context.Context, oldToken string, next *models.RefreshToken, now time.Time) error

	// RevokeRefreshToken marks the token revoked if it is still active
	// Returns ErrTokenNotFound if token doesn't exist
	RevokeRefreshToken(ctx context.Context, token string, now time.Time) error

	// GetUserTokens retrieves all refresh tokens for a user, newest first
	GetUserTokens(ctx context.Context, userID string) ([]*models.RefreshToken, error)

	// DeleteUserTokens deletes all refresh tokens for a user
	// Returns number of deleted tokens
	DeleteUserTokens(ctx context.Context, userID string) (int, error)
}
