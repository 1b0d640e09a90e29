package models

import "time"

// PendingVerification is a registration awaiting email-code confirmation.
// At most one exists per email, and never for an email that already has a User.
type PendingVerification struct {
	Email        string
	UserName     string
	PasswordHash string
	Code         string // 6 digits, zero padded
	ExpiresAt    time.Time
	CreatedAt    time.Time
}

// Expired reports whether the verification is no longer usable at now.
// The expiry instant itself counts as expired.
func (v *PendingVerification) Expired(now time.Time) bool {
	return !now.Before(v.ExpiresAt)
}

// RefreshToken представляет refresh token пользователя
type RefreshToken struct {
	ID              string     // UUID записи
	Token           string     // непрозрачная случайная строка
	UserID          string     // ID пользователя
	ExpiresAt       time.Time  // время истечения
	CreatedAt       time.Time  // время создания
	RevokedAt       *time.Time // время отзыва
	ReplacedByToken string     // токен-преемник при ротации
	IPAddress       string
	UserAgent       string
}

// Active reports whether the token is neither revoked nor expired at now.
func (t *RefreshToken) Active(now time.Time) bool {
	return t.RevokedAt == nil && now.Before(t.ExpiresAt)
}

// PasswordResetToken is a single-use credential for the reset flow.
type PasswordResetToken struct {
	ID        string
	Email     string
	Token     string
	ExpiresAt time.Time
	CreatedAt time.Time
}

// Expired reports whether the reset token is no longer usable at now.
func (t *PasswordResetToken) Expired(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}

// RequestMeta is request metadata persisted alongside refresh tokens.
type RequestMeta struct {
	IPAddress string
	UserAgent string
}
