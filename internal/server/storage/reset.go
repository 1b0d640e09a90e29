package storage

import (
	"context"
	"time"

	"github.com/iudanet/text2mesh/internal/models"
)

// ResetStorage defines interface for password reset tokens
type ResetStorage interface {
	// ReplaceResetToken deletes every reset token of t.Email and stores t
	ReplaceResetToken(ctx context.Context, t *models.PasswordResetToken) error

	// GetActiveResetToken returns the token only if it exists and expires after now
	// Returns ErrResetTokenNotFound otherwise
	GetActiveResetToken(ctx context.Context, token string, now time.Time) (*models.PasswordResetToken, error)

	// DeleteResetToken removes the token, missing rows are not an error
	DeleteResetToken(ctx context.Context, token string) error
}
