package auth

import (
	"errors"
	"maps"
	"slices"
	"strings"
)

// Domain errors. Handlers map them to HTTP statuses.
var (
	// Conflict
	ErrUserExists          = errors.New("user already exists with this email")
	ErrVerificationPending = errors.New("verification already pending for this email")

	// NotFound
	ErrVerificationNotFound = errors.New("no pending verification found")
	ErrUserNotFound         = errors.New("user not found")

	// Gone
	ErrVerificationExpired = errors.New("verification code expired")

	// Authentication rejections
	ErrInvalidCode          = errors.New("incorrect verification code")
	ErrInvalidCredentials   = errors.New("invalid email or password")
	ErrInvalidRefreshToken  = errors.New("invalid refresh token")
	ErrRefreshTokenInactive = errors.New("refresh token expired or revoked")
	ErrInvalidResetToken    = errors.New("invalid or expired reset token")

	// Admin
	ErrSelfDelete = errors.New("cannot delete your own account")
	ErrLastRole   = errors.New("user must keep at least one role")

	// ServerError with a client-visible reason
	ErrMailDelivery = errors.New("failed to send email")
)

// ValidationError reports malformed input, field -> problem.
// It is returned before any store access.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	keys := slices.Sorted(maps.Keys(e.Fields))
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+e.Fields[k])
	}
	return "invalid input: " + strings.Join(parts, "; ")
}

// validator collects field errors
type validator struct {
	fields map[string]string
}

func (v *validator) check(field string, err error) {
	if err == nil {
		return
	}
	if v.fields == nil {
		v.fields = make(map[string]string)
	}
	if _, ok := v.fields[field]; !ok {
		v.fields[field] = err.Error()
	}
}

func (v *validator) fail(field, msg string) {
	v.check(field, errors.New(msg))
}

func (v *validator) err() error {
	if len(v.fields) == 0 {
		return nil
	}
	return &ValidationError{Fields: v.fields}
}
