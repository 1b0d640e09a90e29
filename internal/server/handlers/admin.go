package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/iudanet/text2mesh/internal/models"
	"github.com/iudanet/text2mesh/pkg/api"
)

// AdminService covers user management
type AdminService interface {
	ListUsers(ctx context.Context) ([]*models.User, error)
	SetRoles(ctx context.Context, actor models.Principal, id string, roles []models.Role) (*models.User, error)
	DeleteUser(ctx context.Context, actor models.Principal, id string) error
}

// AdminHandler обрабатывает /api/admin/users
type AdminHandler struct {
	logger *slog.Logger
	admin  AdminService
}

// NewAdminHandler создает handler администрирования
func NewAdminHandler(logger *slog.Logger, admin AdminService) *AdminHandler {
	return &AdminHandler{logger: logger, admin: admin}
}

// ListUsers обрабатывает GET /api/admin/users
func (h *AdminHandler) ListUsers(w http.ResponseWriter, r *http.Request, _ models.Principal) {
	users, err := h.admin.ListUsers(r.Context())
	if err != nil {
		sendDomainError(w, r, h.logger, "list users", err)
		return
	}

	resp := api.UsersResponse{OK: true, Users: make([]api.User, 0, len(users))}
	for _, u := range users {
		resp.Users = append(resp.Users, toAPIUser(u))
	}
	sendJSON(w, h.logger, resp, http.StatusOK)
}

// UpdateRoles обрабатывает PATCH /api/admin/users/{id}/roles
func (h *AdminHandler) UpdateRoles(w http.ResponseWriter, r *http.Request, p models.Principal) {
	var req api.RolesUpdateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		sendError(w, h.logger, "invalid request body", http.StatusBadRequest)
		return
	}

	roles := make([]models.Role, 0, len(req.Roles))
	for _, role := range req.Roles {
		roles = append(roles, models.Role(role))
	}

	user, err := h.admin.SetRoles(r.Context(), p, r.PathValue("id"), roles)
	if err != nil {
		sendDomainError(w, r, h.logger, "update roles", err)
		return
	}

	h.logger.InfoContext(r.Context(), "roles updated",
		slog.String("actor_id", p.UserID),
		slog.String("user_id", user.ID),
	)

	sendJSON(w, h.logger, api.UserResponse{OK: true, User: toAPIUser(user)}, http.StatusOK)
}

// DeleteUser обрабатывает DELETE /api/admin/users/{id}
func (h *AdminHandler) DeleteUser(w http.ResponseWriter, r *http.Request, p models.Principal) {
	id := r.PathValue("id")
	if err := h.admin.DeleteUser(r.Context(), p, id); err != nil {
		sendDomainError(w, r, h.logger, "delete user", err)
		return
	}

	h.logger.InfoContext(r.Context(), "user deleted",
		slog.String("actor_id", p.UserID),
		slog.String("user_id", id),
	)

	sendJSON(w, h.logger, api.OKResponse{OK: true, Message: "User deleted"}, http.StatusOK)
}
