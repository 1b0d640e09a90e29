package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/iudanet/text2mesh/internal/models"
	"github.com/iudanet/text2mesh/internal/server/storage"
)

const userColumns = `id, email, user_name, password_hash, email_verified, roles, profile, settings, created_at, updated_at, last_login`

// CreateUser inserts a new user
func (s *Storage) CreateUser(ctx context.Context, user *models.User) error {
	roles, err := json.Marshal(user.Roles)
	if err != nil {
		return fmt.Errorf("failed to marshal roles: %w", err)
	}
	profile, err := json.Marshal(user.Profile)
	if err != nil {
		return fmt.Errorf("failed to marshal profile: %w", err)
	}
	settings, err := json.Marshal(user.Settings)
	if err != nil {
		return fmt.Errorf("failed to marshal settings: %w", err)
	}

	query := `INSERT INTO users (` + userColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

	_, err = s.db.ExecContext(ctx, query,
		user.ID, user.Email, user.UserName, user.PasswordHash, user.EmailVerified,
		string(roles), string(profile), string(settings),
		user.CreatedAt.UTC(), user.UpdatedAt.UTC(), nullTime(user.LastLogin),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return storage.ErrUserAlreadyExists
		}
		return fmt.Errorf("error performing sql request: %w", err)
	}

	return nil
}

// GetUserByEmail finds user by email
func (s *Storage) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE email = $1`
	return s.getUser(ctx, query, email)
}

// GetUserByID finds user by id
func (s *Storage) GetUserByID(ctx context.Context, userID string) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	return s.getUser(ctx, query, userID)
}

func (s *Storage) getUser(ctx context.Context, query string, arg string) (*models.User, error) {
	user, err := scanUser(s.db.QueryRowContext(ctx, query, arg))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrUserNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return user, nil
}

// ListUsers returns all users, newest first
func (s *Storage) ListUsers(ctx context.Context) ([]*models.User, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+userColumns+` FROM users ORDER BY created_at DESC, id`)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	users := make([]*models.User, 0)
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scan error: %w", err)
		}
		users = append(users, user)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return users, nil
}

// UpdatePassword replaces the password hash
func (s *Storage) UpdatePassword(ctx context.Context, userID, passwordHash string, at time.Time) error {
	return s.exec(ctx, `UPDATE users SET password_hash = $1, updated_at = $2 WHERE id = $3`,
		passwordHash, at.UTC(), userID)
}

// UpdateProfile replaces the profile document
func (s *Storage) UpdateProfile(ctx context.Context, userID string, profile models.Profile, at time.Time) error {
	data, err := json.Marshal(profile)
	if err != nil {
		return fmt.Errorf("failed to marshal profile: %w", err)
	}
	return s.exec(ctx, `UPDATE users SET profile = $1, updated_at = $2 WHERE id = $3`,
		string(data), at.UTC(), userID)
}

// UpdateSettings replaces the settings document
func (s *Storage) UpdateSettings(ctx context.Context, userID string, settings models.Settings, at time.Time) error {
	data, err := json.Marshal(settings)
	if err != nil {
		return fmt.Errorf("failed to marshal settings: %w", err)
	}
	return s.exec(ctx, `UPDATE users SET settings = $1, updated_at = $2 WHERE id = $3`,
		string(data), at.UTC(), userID)
}

// UpdateRoles replaces the role set
func (s *Storage) UpdateRoles(ctx context.Context, userID string, roles []models.Role, at time.Time) error {
	data, err := json.Marshal(roles)
	if err != nil {
		return fmt.Errorf("failed to marshal roles: %w", err)
	}
	return s.exec(ctx, `UPDATE users SET roles = $1, updated_at = $2 WHERE id = $3`,
		string(data), at.UTC(), userID)
}

// UpdateLastLogin sets last_login
func (s *Storage) UpdateLastLogin(ctx context.Context, userID string, lastLogin time.Time) error {
	return s.exec(ctx, `UPDATE users SET last_login = $1 WHERE id = $2`, lastLogin.UTC(), userID)
}

// DeleteUser removes the user, refresh tokens are removed by ON DELETE CASCADE
func (s *Storage) DeleteUser(ctx context.Context, userID string) error {
	return s.exec(ctx, `DELETE FROM users WHERE id = $1`, userID)
}

// exec runs a single-row user statement and maps zero affected rows to ErrUserNotFound
func (s *Storage) exec(ctx context.Context, query string, args ...any) error {
	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("error performing sql request: %w", err)
	}
	return expectAffected(result, storage.ErrUserNotFound)
}

func scanUser(row rowScanner) (*models.User, error) {
	user := &models.User{}
	var (
		roles, profile, settings []byte
		lastLogin                sql.NullTime
	)

	if err := row.Scan(
		&user.ID, &user.Email, &user.UserName, &user.PasswordHash, &user.EmailVerified,
		&roles, &profile, &settings,
		&user.CreatedAt, &user.UpdatedAt, &lastLogin,
	); err != nil {
		return nil, err
	}

	if err := json.Unmarshal(roles, &user.Roles); err != nil {
		return nil, fmt.Errorf("failed to unmarshal roles: %w", err)
	}
	if err := json.Unmarshal(profile, &user.Profile); err != nil {
		return nil, fmt.Errorf("failed to unmarshal profile: %w", err)
	}
	if err := json.Unmarshal(settings, &user.Settings); err != nil {
		return nil, fmt.Errorf("failed to unmarshal settings: %w", err)
	}

	user.CreatedAt = user.CreatedAt.UTC()
	user.UpdatedAt = user.UpdatedAt.UTC()
	user.LastLogin = timePtr(lastLogin)

	return user, nil
}
