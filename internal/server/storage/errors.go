package storage

import "errors"

// Common storage errors
var (
	// ErrUserNotFound indicates that user was not found in storage
	ErrUserNotFound = errors.New("user not found")

	// ErrUserAlreadyExists indicates that user with this email already exists
	ErrUserAlreadyExists = errors.New("user already exists")

	// ErrVerificationNotFound indicates that there is no pending verification for the email
	ErrVerificationNotFound = errors.New("pending verification not found")

	// ErrVerificationExists indicates that a pending verification for the email already exists
	ErrVerificationExists = errors.New("pending verification already exists")

	// ErrTokenNotFound indicates that refresh token was not found
	ErrTokenNotFound = errors.New("refresh token not found")

	// ErrTokenInactive indicates that refresh token is revoked or expired
	ErrTokenInactive = errors.New("refresh token is not active")

	// ErrResetTokenNotFound indicates that no unexpired reset token matches
	ErrResetTokenNotFound = errors.New("reset token not found or expired")
)
