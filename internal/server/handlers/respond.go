package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/iudanet/text2mesh/internal/models"
	"github.com/iudanet/text2mesh/internal/server/auth"
	"github.com/iudanet/text2mesh/pkg/api"
)

// maxBodyBytes ограничивает размер JSON тела запроса
const maxBodyBytes = 1 << 20

// errorStatuses maps domain errors to HTTP statuses, first match wins
var errorStatuses = []struct {
	err    error
	status int
}{
	{auth.ErrUserExists, http.StatusConflict},
	{auth.ErrVerificationPending, http.StatusConflict},
	{auth.ErrVerificationNotFound, http.StatusNotFound},
	{auth.ErrUserNotFound, http.StatusNotFound},
	{auth.ErrVerificationExpired, http.StatusGone},
	{auth.ErrInvalidCode, http.StatusBadRequest},
	{auth.ErrInvalidCredentials, http.StatusUnauthorized},
	{auth.ErrInvalidRefreshToken, http.StatusUnauthorized},
	{auth.ErrRefreshTokenInactive, http.StatusUnauthorized},
	{auth.ErrInvalidResetToken, http.StatusBadRequest},
	{auth.ErrSelfDelete, http.StatusBadRequest},
	{auth.ErrLastRole, http.StatusBadRequest},
	{auth.ErrMailDelivery, http.StatusInternalServerError},
}

// statusFor returns the HTTP status and the client-visible message for err.
// Unknown errors are 500 with a generic message.
func statusFor(err error) (int, string) {
	var verr *auth.ValidationError
	if errors.As(err, &verr) {
		return http.StatusBadRequest, "Invalid data"
	}

	for _, e := range errorStatuses {
		if errors.Is(err, e.err) {
			// текст sentinel, а не всей цепочки: обертки могут содержать детали
			return e.status, e.err.Error()
		}
	}

	return http.StatusInternalServerError, "Internal server error"
}

// sendJSON отправляет JSON ответ
func sendJSON(w http.ResponseWriter, logger *slog.Logger, data any, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Error("failed to encode JSON response", slog.Any("error", err))
	}
}

// sendError отправляет JSON ответ с ошибкой
func sendError(w http.ResponseWriter, logger *slog.Logger, message string, statusCode int) {
	sendJSON(w, logger, api.ErrorResponse{
		Error:   http.StatusText(statusCode),
		Message: message,
	}, statusCode)
}

// sendDomainError translates err via statusFor. Server errors are logged with context.
func sendDomainError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, op string, err error) {
	status, message := statusFor(err)

	resp := api.ErrorResponse{
		Error:   http.StatusText(status),
		Message: message,
	}

	var verr *auth.ValidationError
	if errors.As(err, &verr) {
		resp.Details = verr.Fields
	}

	if status >= http.StatusInternalServerError {
		logger.ErrorContext(r.Context(), op+" failed", slog.Any("error", err))
	} else {
		logger.DebugContext(r.Context(), op+" rejected", slog.Any("error", err))
	}

	sendJSON(w, logger, resp, status)
}

// decodeJSON читает тело запроса в v
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("decode request body: %w", err)
	}
	return nil
}

// toAPIUser converts a sanitized user to its wire form
func toAPIUser(u *models.User) api.User {
	roles := make([]string, 0, len(u.Roles))
	for _, r := range u.Roles {
		roles = append(roles, string(r))
	}

	return api.User{
		ID:            u.ID,
		Email:         u.Email,
		UserName:      u.UserName,
		EmailVerified: u.EmailVerified,
		Roles:         roles,
		Profile: api.Profile{
			AvatarURL: u.Profile.AvatarURL,
			Bio:       u.Profile.Bio,
		},
		Settings: api.Settings{
			Theme:    u.Settings.Theme,
			Language: u.Settings.Language,
			Notifications: api.Notifications{
				JobFinished: u.Settings.Notifications.JobFinished,
				NewMessage:  u.Settings.Notifications.NewMessage,
			},
		},
		CreatedAt: u.CreatedAt,
		UpdatedAt: u.UpdatedAt,
		LastLogin: u.LastLogin,
	}
}
