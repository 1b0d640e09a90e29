package storage

import (
	"context"
	"time"
)

// Sweeper removes expired rows the application no longer needs
type Sweeper interface {
	// PurgeExpired deletes verifications, reset tokens and refresh tokens
	// whose expiry is not after now. Returns number of deleted rows
	PurgeExpired(ctx context.Context, now time.Time) (int64, error)
}

// Store is the full persistence backend used by the server
type Store interface {
	UserStorage
	VerificationStorage
	TokenStorage
	ResetStorage
	Sweeper

	Ping(ctx context.Context) error
	Close() error
}
