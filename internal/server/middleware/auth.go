package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"slices"
	"strings"

	"github.com/iudanet/text2mesh/internal/models"
	"github.com/iudanet/text2mesh/internal/server/auth"
	"github.com/iudanet/text2mesh/internal/server/jwt"
)

// AuthenticatedHandlerFunc is a handler that requires a verified caller.
// The principal is passed explicitly instead of through the request context.
type AuthenticatedHandlerFunc func(w http.ResponseWriter, r *http.Request, p models.Principal)

// TokenVerifier проверяет access token
type TokenVerifier interface {
	VerifyAccessToken(token string) (*jwt.Claims, error)
}

// RoleLookup returns the current roles of a user
type RoleLookup interface {
	Roles(ctx context.Context, userID string) ([]models.Role, error)
}

// Authenticate создает middleware для проверки Bearer токена
func Authenticate(logger *slog.Logger, verifier TokenVerifier) func(AuthenticatedHandlerFunc) http.Handler {
	return func(next AuthenticatedHandlerFunc) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := bearerToken(r)
			if !ok {
				logger.DebugContext(r.Context(), "missing or malformed Authorization header")
				writeError(w, http.StatusUnauthorized, "Not authenticated")
				return
			}

			claims, err := verifier.VerifyAccessToken(token)
			if err != nil {
				logger.WarnContext(r.Context(), "invalid access token", slog.Any("error", err))
				writeError(w, http.StatusUnauthorized, "Invalid or expired token")
				return
			}

			next(w, r, claims.Principal())
		})
	}
}

// RequireRole пропускает только пользователей с ролью role.
// Roles are re-read through lookup so that revocations apply immediately.
func RequireRole(logger *slog.Logger, lookup RoleLookup, role models.Role, next AuthenticatedHandlerFunc) AuthenticatedHandlerFunc {
	return func(w http.ResponseWriter, r *http.Request, p models.Principal) {
		roles, err := lookup.Roles(r.Context(), p.UserID)
		if err != nil {
			if errors.Is(err, auth.ErrUserNotFound) {
				writeError(w, http.StatusUnauthorized, "Not authenticated")
				return
			}
			logger.ErrorContext(r.Context(), "failed to load roles",
				slog.String("user_id", p.UserID),
				slog.Any("error", err),
			)
			writeError(w, http.StatusInternalServerError, "Internal server error")
			return
		}

		if !slices.Contains(roles, role) {
			logger.WarnContext(r.Context(), "access denied",
				slog.String("user_id", p.UserID),
				slog.String("required_role", string(role)),
			)
			writeError(w, http.StatusForbidden, "Access denied")
			return
		}

		p.Roles = roles
		next(w, r, p)
	}
}

// bearerToken извлекает токен из заголовка "Authorization: Bearer <token>"
func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", false
	}

	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}

	token := strings.TrimSpace(parts[1])
	return token, token != ""
}
