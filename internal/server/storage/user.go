package storage

import (
	"context"
	"time"

	"github.com/iudanet/text2mesh/internal/models"
)

// UserStorage defines interface for user account persistence
type UserStorage interface {
	// CreateUser creates a new user in the storage
	// Returns ErrUserAlreadyExists if email is already taken
	CreateUser(ctx context.Context, user *models.User) error

	// GetUserByEmail retrieves user by email (exact, case-sensitive match)
	// Returns ErrUserNotFound if user doesn't exist
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)

	// GetUserByID retrieves user by ID
	// Returns ErrUserNotFound if user doesn't exist
	GetUserByID(ctx context.Context, userID string) (*models.User, error)

	// ListUsers returns all users, newest first
	ListUsers(ctx context.Context) ([]*models.User, error)

	// UpdatePassword replaces the password hash
	// Returns ErrUserNotFound if user doesn't exist
	UpdatePassword(ctx context.Context, userID, passwordHash string, at time.Time) error

	// UpdateProfile replaces the profile
	UpdateProfile(ctx context.Context, userID string, profile models.Profile, at time.Time) error

	// UpdateSettings replaces the settings
	UpdateSettings(ctx context.Context, userID string, settings models.Settings, at time.Time) error

	// UpdateRoles replaces the role set
	UpdateRoles(ctx context.Context, userID string, roles []models.Role, at time.Time) error

	// UpdateLastLogin updates the last login timestamp
	UpdateLastLogin(ctx context.Context, userID string, lastLogin time.Time) error

	// DeleteUser deletes user by ID together with its refresh tokens
	// Returns ErrUserNotFound if user doesn't exist
	DeleteUser(ctx context.Context, userID string) error
}
