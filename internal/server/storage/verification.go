package storage

import (
	"context"
	"time"

	"github.com/iudanet/text2mesh/internal/models"
)

// VerificationStorage defines interface for pending registrations
type VerificationStorage interface {
	// CreateVerification stores a new pending verification
	// Returns ErrVerificationExists if one already exists for the email
	CreateVerification(ctx context.Context, v *models.PendingVerification) error

	// GetVerification retrieves pending verification by email
	// Expired rows are returned as is; callers check expiry themselves
	// Returns ErrVerificationNotFound if none exists
	GetVerification(ctx context.Context, email string) (*models.PendingVerification, error)

	// UpdateVerificationCode rotates code and expiry
	// Returns ErrVerificationNotFound if none exists
	UpdateVerificationCode(ctx context.Context, email, code string, expiresAt time.Time) error

	// DeleteVerification removes the pending verification, missing rows are not an error
	DeleteVerification(ctx context.Context, email string) error
}
