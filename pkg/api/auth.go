package api

import "time"

// RegisterRequest представляет запрос на регистрацию нового пользователя
type RegisterRequest struct {
	Email    string `json:"email"`
	UserName string `json:"userName"`
	Password string `json:"password"`
}

// VerifyRequest подтверждает регистрацию кодом из письма
type VerifyRequest struct {
	Email string `json:"email"`
	Code  string `json:"code"` // 6 цифр
}

// EmailRequest is the body of resend and password reset requests
type EmailRequest struct {
	Email string `json:"email"`
}

// LoginRequest представляет запрос на аутентификацию
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// RefreshRequest представляет запрос на обновление токенов
type RefreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

// LogoutRequest; refresh token is optional
type LogoutRequest struct {
	RefreshToken string `json:"refreshToken,omitempty"`
}

// ResetPasswordRequest sets a new password with a reset token
type ResetPasswordRequest struct {
	Token       string `json:"token"`
	NewPassword string `json:"newPassword"`
}

// OKResponse is the generic success body
type OKResponse struct {
	OK      bool   `json:"ok"`
	Message string `json:"message,omitempty"`
}

// UserSummary is the short user projection returned after verification
type UserSummary struct {
	ID       string `json:"id"`
	Email    string `json:"email"`
	UserName string `json:"userName"`
}

// VerifyResponse представляет ответ на подтверждение регистрации
type VerifyResponse struct {
	OK      bool        `json:"ok"`
	Message string      `json:"message,omitempty"`
	User    UserSummary `json:"user"`
}

// SessionUser is the user projection returned with a login
type SessionUser struct {
	ID            string   `json:"id"`
	Email         string   `json:"email"`
	UserName      string   `json:"userName"`
	Roles         []string `json:"roles"`
	EmailVerified bool     `json:"emailVerified"`
}

// TokenResponse представляет ответ с токенами доступа
type TokenResponse struct {
	OK           bool   `json:"ok"`
	Token        string `json:"token"`        // JWT access token
	RefreshToken string `json:"refreshToken"` // opaque refresh token
	ExpiresIn    int64  `json:"expiresIn"`    // время жизни access token в секундах
}

// LoginResponse представляет ответ на успешный вход
type LoginResponse struct {
	TokenResponse
	User SessionUser `json:"user"`
}

// Profile публичная часть аккаунта
type Profile struct {
	AvatarURL string `json:"avatarUrl"`
	Bio       string `json:"bio"`
}

// Notifications настройки уведомлений
type Notifications struct {
	JobFinished bool `json:"jobFinished"`
	NewMessage  bool `json:"newMessage"`
}

// Settings UI preferences
type Settings struct {
	Theme         string        `json:"theme"`
	Language      string        `json:"language"`
	Notifications Notifications `json:"notifications"`
}

// User is the sanitized user object, the password hash never leaves the server
type User struct {
	ID            string     `json:"id"`
	Email         string     `json:"email"`
	UserName      string     `json:"userName"`
	EmailVerified bool       `json:"emailVerified"`
	Roles         []string   `json:"roles"`
	Profile       Profile    `json:"profile"`
	Settings      Settings   `json:"settings"`
	CreatedAt     time.Time  `json:"createdAt"`
	UpdatedAt     time.Time  `json:"updatedAt"`
	LastLogin     *time.Time `json:"lastLogin,omitempty"`
}

// ErrorResponse представляет ответ с ошибкой
type ErrorResponse struct {
	Error   string            `json:"error"`             // HTTP status text
	Message string            `json:"message,omitempty"` // дополнительное сообщение
	Details map[string]string `json:"details,omitempty"` // field -> problem
}
