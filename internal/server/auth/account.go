package auth

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/iudanet/text2mesh/internal/crypto"
	"github.com/iudanet/text2mesh/internal/models"
	"github.com/iudanet/text2mesh/internal/server/audit"
	"github.com/iudanet/text2mesh/internal/server/storage"
	"github.com/iudanet/text2mesh/internal/validation"
)

const (
	maxAvatarURLLen = 2048
	maxBioLen       = 500
	maxLanguageLen  = 10
)

// ProfilePatch is a partial profile update, nil fields are kept
type ProfilePatch struct {
	AvatarURL *string
	Bio       *string
}

// NotificationsPatch is a partial notifications update
type NotificationsPatch struct {
	JobFinished *bool
	NewMessage  *bool
}

// SettingsPatch is a partial settings update
type SettingsPatch struct {
	Theme         *string
	Language      *string
	Notifications *NotificationsPatch
}

// UpdateProfile applies patch to the caller's profile
func (s *Service) UpdateProfile(ctx context.Context, p models.Principal, patch ProfilePatch) (*models.User, error) {
	var v validator
	if patch.AvatarURL != nil && len(*patch.AvatarURL) > maxAvatarURLLen {
		v.fail("avatarUrl", fmt.Sprintf("avatar URL must be at most %d characters", maxAvatarURLLen))
	}
	if patch.Bio != nil && len([]rune(*patch.Bio)) > maxBioLen {
		v.fail("bio", fmt.Sprintf("bio must be at most %d characters", maxBioLen))
	}
	if err := v.err(); err != nil {
		return nil, err
	}

	user, err := s.loadUser(ctx, p.UserID)
	if err != nil {
		return nil, err
	}

	if patch.AvatarURL != nil {
		user.Profile.AvatarURL = *patch.AvatarURL
	}
	if patch.Bio != nil {
		user.Profile.Bio = *patch.Bio
	}

	now := s.clock()
	if err := s.users.UpdateProfile(ctx, user.ID, user.Profile, now); err != nil {
		return nil, s.mapUserErr("update profile", err)
	}
	user.UpdatedAt = now

	return user.Sanitized(), nil
}

// UpdateSettings applies patch to the caller's settings
func (s *Service) UpdateSettings(ctx context.Context, p models.Principal, patch SettingsPatch) (*models.User, error) {
	var v validator
	if patch.Theme != nil && *patch.Theme != "light" && *patch.Theme != "dark" {
		v.fail("theme", "theme must be light or dark")
	}
	if patch.Language != nil && (*patch.Language == "" || len(*patch.Language) > maxLanguageLen) {
		v.fail("language", fmt.Sprintf("language must be 1 to %d characters", maxLanguageLen))
	}
	if err := v.err(); err != nil {
		return nil, err
	}

	user, err := s.loadUser(ctx, p.UserID)
	if err != nil {
		return nil, err
	}

	if patch.Theme != nil {
		user.Settings.Theme = *patch.Theme
	}
	if patch.Language != nil {
		user.Settings.Language = *patch.Language
	}
	if n := patch.Notifications; n != nil {
		if n.JobFinished != nil {
			user.Settings.Notifications.JobFinished = *n.JobFinished
		}
		if n.NewMessage != nil {
			user.Settings.Notifications.NewMessage = *n.NewMessage
		}
	}

	now := s.clock()
	if err := s.users.UpdateSettings(ctx, user.ID, user.Settings, now); err != nil {
		return nil, s.mapUserErr("update settings", err)
	}
	user.UpdatedAt = now

	return user.Sanitized(), nil
}

// ListUsers returns every user, sanitized, newest first
func (s *Service) ListUsers(ctx context.Context) ([]*models.User, error) {
	users, err := s.users.ListUsers(ctx)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}

	out := make([]*models.User, 0, len(users))
	for _, u := range users {
		out = append(out, u.Sanitized())
	}
	return out, nil
}

// SetRoles replaces the role set of user id
func (s *Service) SetRoles(ctx context.Context, actor models.Principal, id string, roles []models.Role) (*models.User, error) {
	normalized, err := normalizeRoles(roles)
	if err != nil {
		return nil, err
	}

	user, err := s.loadUser(ctx, id)
	if err != nil {
		return nil, err
	}

	now := s.clock()
	if err := s.users.UpdateRoles(ctx, id, normalized, now); err != nil {
		return nil, s.mapUserErr("update roles", err)
	}
	user.Roles = normalized
	user.UpdatedAt = now

	s.emitAdmin(ctx, audit.RolesUpdated, actor.UserID, user)

	return user.Sanitized(), nil
}

// DeleteUser removes user id and every session it holds.
// Admins cannot delete their own account.
func (s *Service) DeleteUser(ctx context.Context, actor models.Principal, id string) error {
	if actor.UserID == id {
		return ErrSelfDelete
	}

	user, err := s.loadUser(ctx, id)
	if err != nil {
		return err
	}

	if _, err := s.tokens.DeleteUserTokens(ctx, id); err != nil {
		return fmt.Errorf("delete user tokens: %w", err)
	}
	if err := s.users.DeleteUser(ctx, id); err != nil {
		return s.mapUserErr("delete user", err)
	}

	s.emitAdmin(ctx, audit.UserDeleted, actor.UserID, user)

	return nil
}

// Roles returns the current roles of userID from the store.
// Used for authorization so that role changes apply before the access token expires.
func (s *Service) Roles(ctx context.Context, userID string) ([]models.Role, error) {
	user, err := s.loadUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	return user.Roles, nil
}

// GrantRole adds role to the user with email
func (s *Service) GrantRole(ctx context.Context, email string, role models.Role) (*models.User, error) {
	if !models.ValidRole(role) {
		return nil, roleError(role)
	}

	user, err := s.loadUserByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if user.HasRole(role) {
		return user.Sanitized(), nil
	}

	return s.SetRoles(ctx, models.Principal{}, user.ID, append(slices.Clone(user.Roles), role))
}

// RevokeRole removes role from the user with email.
// The last remaining role cannot be removed.
func (s *Service) RevokeRole(ctx context.Context, email string, role models.Role) (*models.User, error) {
	if !models.ValidRole(role) {
		return nil, roleError(role)
	}

	user, err := s.loadUserByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if !user.HasRole(role) {
		return user.Sanitized(), nil
	}

	rest := slices.DeleteFunc(slices.Clone(user.Roles), func(r models.Role) bool { return r == role })
	if len(rest) == 0 {
		return nil, ErrLastRole
	}

	return s.SetRoles(ctx, models.Principal{}, user.ID, rest)
}

// SetPassword replaces the password of the user with email (operator command)
func (s *Service) SetPassword(ctx context.Context, email, password string) error {
	var v validator
	v.check("password", validation.ValidatePassword(password))
	if err := v.err(); err != nil {
		return err
	}

	user, err := s.loadUserByEmail(ctx, email)
	if err != nil {
		return err
	}

	hash, err := crypto.HashPasswordCost(password, s.cfg.PasswordCost)
	if err != nil {
		return err
	}

	if err := s.users.UpdatePassword(ctx, user.ID, hash, s.clock()); err != nil {
		return s.mapUserErr("update password", err)
	}
	return nil
}

func (s *Service) loadUser(ctx context.Context, id string) (*models.User, error) {
	user, err := s.users.GetUserByID(ctx, id)
	if err != nil {
		return nil, s.mapUserErr("get user", err)
	}
	return user, nil
}

func (s *Service) loadUserByEmail(ctx context.Context, email string) (*models.User, error) {
	user, err := s.users.GetUserByEmail(ctx, email)
	if err != nil {
		return nil, s.mapUserErr("get user", err)
	}
	return user, nil
}

func (s *Service) mapUserErr(op string, err error) error {
	if errors.Is(err, storage.ErrUserNotFound) {
		return ErrUserNotFound
	}
	return fmt.Errorf("%s: %w", op, err)
}

func (s *Service) emitAdmin(ctx context.Context, t audit.EventType, actorID string, user *models.User) {
	s.metrics.AuthEvent(string(t))
	s.audit.Emit(ctx, audit.Event{
		Type:    t,
		UserID:  user.ID,
		Email:   user.Email,
		ActorID: actorID,
		At:      s.clock(),
	})
}

// normalizeRoles validates and dedupes roles keeping the first occurrence order
func normalizeRoles(roles []models.Role) ([]models.Role, error) {
	if len(roles) == 0 {
		var v validator
		v.fail("roles", "at least one role is required")
		return nil, v.err()
	}

	out := make([]models.Role, 0, len(roles))
	for _, r := range roles {
		if !models.ValidRole(r) {
			return nil, roleError(r)
		}
		if !slices.Contains(out, r) {
			out = append(out, r)
		}
	}
	return out, nil
}

func roleError(r models.Role) error {
	var v validator
	v.fail("roles", fmt.Sprintf("unknown role %q", r))
	return v.err()
}
