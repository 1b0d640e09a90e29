package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/iudanet/text2mesh/internal/models"
	"github.com/iudanet/text2mesh/internal/server/auth"
	"github.com/iudanet/text2mesh/internal/server/middleware"
	"github.com/iudanet/text2mesh/pkg/api"
)

// AuthService is the subset of auth.Service used by AuthHandler
type AuthService interface {
	StartRegistration(ctx context.Context, email, userName, password string) error
	ResendVerification(ctx context.Context, email string) error
	CompleteRegistration(ctx context.Context, email, code string) (*models.User, error)
	Login(ctx context.Context, email, password string, meta models.RequestMeta) (*auth.LoginResult, error)
	Refresh(ctx context.Context, refreshToken string, meta models.RequestMeta) (*auth.TokenPair, error)
	Logout(ctx context.Context, refreshToken string) error
	Me(ctx context.Context, p models.Principal) (*models.User, error)
	RequestPasswordReset(ctx context.Context, email string) error
	ResetPassword(ctx context.Context, token, newPassword string) error
}

// AuthHandler обрабатывает запросы авторизации
type AuthHandler struct {
	logger *slog.Logger
	auth   AuthService
}

// NewAuthHandler создает новый handler для авторизации
func NewAuthHandler(logger *slog.Logger, svc AuthService) *AuthHandler {
	return &AuthHandler{
		logger: logger,
		auth:   svc,
	}
}

// Register обрабатывает POST /api/auth/register
// Начало регистрации: код подтверждения уходит на email
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req api.RegisterRequest
	if !h.decode(w, r, &req) {
		return
	}

	if err := h.auth.StartRegistration(r.Context(), req.Email, req.UserName, req.Password); err != nil {
		sendDomainError(w, r, h.logger, "register", err)
		return
	}

	sendJSON(w, h.logger, api.OKResponse{OK: true, Message: "Verification code sent to email"}, http.StatusOK)
}

// Verify обрабатывает POST /api/auth/register/verify
func (h *AuthHandler) Verify(w http.ResponseWriter, r *http.Request) {
	var req api.VerifyRequest
	if !h.decode(w, r, &req) {
		return
	}

	user, err := h.auth.CompleteRegistration(r.Context(), req.Email, req.Code)
	if err != nil {
		sendDomainError(w, r, h.logger, "verify", err)
		return
	}

	h.logger.InfoContext(r.Context(), "user registered", slog.String("user_id", user.ID))

	sendJSON(w, h.logger, api.VerifyResponse{
		OK:      true,
		Message: "User created and verified",
		User: api.UserSummary{
			ID:       user.ID,
			Email:    user.Email,
			UserName: user.UserName,
		},
	}, http.StatusCreated)
}

// Resend обрабатывает POST /api/auth/register/resend
func (h *AuthHandler) Resend(w http.ResponseWriter, r *http.Request) {
	var req api.EmailRequest
	if !h.decode(w, r, &req) {
		return
	}

	if err := h.auth.ResendVerification(r.Context(), req.Email); err != nil {
		sendDomainError(w, r, h.logger, "resend verification", err)
		return
	}

	sendJSON(w, h.logger, api.OKResponse{OK: true, Message: "New verification code sent to email"}, http.StatusOK)
}

// Login обрабатывает POST /api/auth/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req api.LoginRequest
	if !h.decode(w, r, &req) {
		return
	}

	res, err := h.auth.Login(r.Context(), req.Email, req.Password, requestMeta(r))
	if err != nil {
		sendDomainError(w, r, h.logger, "login", err)
		return
	}

	roles := make([]string, 0, len(res.User.Roles))
	for _, role := range res.User.Roles {
		roles = append(roles, string(role))
	}

	sendJSON(w, h.logger, api.LoginResponse{
		TokenResponse: api.TokenResponse{
			OK:           true,
			Token:        res.AccessToken,
			RefreshToken: res.RefreshToken,
			ExpiresIn:    res.ExpiresIn,
		},
		User: api.SessionUser{
			ID:            res.User.ID,
			Email:         res.User.Email,
			UserName:      res.User.UserName,
			Roles:         roles,
			EmailVerified: res.User.EmailVerified,
		},
	}, http.StatusOK)
}

// Refresh обрабатывает POST /api/auth/refresh
// Ротация refresh token: старый токен больше не действует
func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	var req api.RefreshRequest
	if !h.decode(w, r, &req) {
		return
	}

	pair, err := h.auth.Refresh(r.Context(), req.RefreshToken, requestMeta(r))
	if err != nil {
		sendDomainError(w, r, h.logger, "refresh", err)
		return
	}

	sendJSON(w, h.logger, api.TokenResponse{
		OK:           true,
		Token:        pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		ExpiresIn:    pair.ExpiresIn,
	}, http.StatusOK)
}

// Logout обрабатывает POST /api/auth/logout
// Тело необязательно; ответ всегда успешный, если хранилище доступно
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	var req api.LogoutRequest
	if r.ContentLength != 0 {
		// пустое или битое тело трактуем как logout без токена
		_ = decodeJSON(w, r, &req)
	}

	if err := h.auth.Logout(r.Context(), req.RefreshToken); err != nil {
		sendDomainError(w, r, h.logger, "logout", err)
		return
	}

	sendJSON(w, h.logger, api.OKResponse{OK: true, Message: "Logged out successfully"}, http.StatusOK)
}

// Me обрабатывает GET /api/auth/me
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request, p models.Principal) {
	user, err := h.auth.Me(r.Context(), p)
	if err != nil {
		sendDomainError(w, r, h.logger, "me", err)
		return
	}

	sendJSON(w, h.logger, toAPIUser(user), http.StatusOK)
}

// RequestPasswordReset обрабатывает POST /api/auth/request-password-reset
// Ответ не зависит от существования аккаунта
func (h *AuthHandler) RequestPasswordReset(w http.ResponseWriter, r *http.Request) {
	var req api.EmailRequest
	if !h.decode(w, r, &req) {
		return
	}

	if err := h.auth.RequestPasswordReset(r.Context(), req.Email); err != nil {
		sendDomainError(w, r, h.logger, "request password reset", err)
		return
	}

	sendJSON(w, h.logger, api.OKResponse{
		OK:      true,
		Message: "If an account exists with that email, a password reset link has been sent.",
	}, http.StatusOK)
}

// ResetPassword обрабатывает POST /api/auth/reset-password
func (h *AuthHandler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var req api.ResetPasswordRequest
	if !h.decode(w, r, &req) {
		return
	}

	if err := h.auth.ResetPassword(r.Context(), req.Token, req.NewPassword); err != nil {
		sendDomainError(w, r, h.logger, "reset password", err)
		return
	}

	sendJSON(w, h.logger, api.OKResponse{
		OK:      true,
		Message: "Password has been reset successfully. You can now log in with your new password.",
	}, http.StatusOK)
}

func (h *AuthHandler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := decodeJSON(w, r, v); err != nil {
		h.logger.WarnContext(r.Context(), "invalid request body", slog.Any("error", err))
		sendError(w, h.logger, "invalid request body", http.StatusBadRequest)
		return false
	}
	return true
}

// requestMeta collects the metadata stored with refresh tokens
func requestMeta(r *http.Request) models.RequestMeta {
	return models.RequestMeta{
		IPAddress: middleware.ClientIP(r),
		UserAgent: r.UserAgent(),
	}
}
