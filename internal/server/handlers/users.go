package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/iudanet/text2mesh/internal/models"
	"github.com/iudanet/text2mesh/internal/server/auth"
	"github.com/iudanet/text2mesh/pkg/api"
)

// AccountService covers self-service account operations
type AccountService interface {
	Me(ctx context.Context, p models.Principal) (*models.User, error)
	UpdateProfile(ctx context.Context, p models.Principal, patch auth.ProfilePatch) (*models.User, error)
	UpdateSettings(ctx context.Context, p models.Principal, patch auth.SettingsPatch) (*models.User, error)
}

// UserHandler обрабатывает /api/users/me
type UserHandler struct {
	logger   *slog.Logger
	accounts AccountService
}

// NewUserHandler создает handler для личного кабинета
func NewUserHandler(logger *slog.Logger, accounts AccountService) *UserHandler {
	return &UserHandler{logger: logger, accounts: accounts}
}

// Me обрабатывает GET /api/users/me
func (h *UserHandler) Me(w http.ResponseWriter, r *http.Request, p models.Principal) {
	user, err := h.accounts.Me(r.Context(), p)
	if err != nil {
		sendDomainError(w, r, h.logger, "get current user", err)
		return
	}
	sendJSON(w, h.logger, toAPIUser(user), http.StatusOK)
}

// UpdateProfile обрабатывает PATCH /api/users/me/profile
func (h *UserHandler) UpdateProfile(w http.ResponseWriter, r *http.Request, p models.Principal) {
	var req api.ProfileUpdateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		sendError(w, h.logger, "invalid request body", http.StatusBadRequest)
		return
	}

	user, err := h.accounts.UpdateProfile(r.Context(), p, auth.ProfilePatch{
		AvatarURL: req.AvatarURL,
		Bio:       req.Bio,
	})
	if err != nil {
		sendDomainError(w, r, h.logger, "update profile", err)
		return
	}

	sendJSON(w, h.logger, api.UserResponse{OK: true, User: toAPIUser(user)}, http.StatusOK)
}

// UpdateSettings обрабатывает PATCH /api/users/me/settings
func (h *UserHandler) UpdateSettings(w http.ResponseWriter, r *http.Request, p models.Principal) {
	var req api.SettingsUpdateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		sendError(w, h.logger, "invalid request body", http.StatusBadRequest)
		return
	}

	patch := auth.SettingsPatch{
		Theme:    req.Theme,
		Language: req.Language,
	}
	if n := req.Notifications; n != nil {
		patch.Notifications = &auth.NotificationsPatch{
			JobFinished: n.JobFinished,
			NewMessage:  n.NewMessage,
		}
	}

	user, err := h.accounts.UpdateSettings(r.Context(), p, patch)
	if err != nil {
		sendDomainError(w, r, h.logger, "update settings", err)
		return
	}

	sendJSON(w, h.logger, api.UserResponse{OK: true, User: toAPIUser(user)}, http.StatusOK)
}
