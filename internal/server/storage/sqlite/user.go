package sqlite

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

const userColumns = `id, email, user_name, password_hash, email_verified, roles, profile, settings,
		created_at, updated_at, last_login`

// CreateUser creates a new user in the storage
func (s *Storage) CreateUser(ctx context.Context, user *models.User) error {
	query := `
		INSERT INTO users (` + userColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	roles, profile, settings, err := marshalUserDocs(user)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, query,
		user.ID,
		user.Email,
		user.UserName,
		user.PasswordHash,
		user.EmailVerified,
		roles,
		profile,
		settings,
		formatTime(user.CreatedAt),
		formatTime(user.UpdatedAt),
		formatNullTime(user.LastLogin),
	)

	if err != nil {
		if isUniqueViolation(err) {
			return storage.ErrUserAlreadyExists
		}
		return fmt.Errorf("failed to insert user: %w", err)
	}

	return nil
}

// GetUserByEmail retrieves user by email
func (s *Storage) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE email = ?`

	user, err := scanUser(s.db.QueryRowContext(ctx, query, email))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	return user, nil
}

// GetUserByID retrieves user by ID
func (s *Storage) GetUserByID(ctx context.Context, userID string) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = ?`

	user, err := scanUser(s.db.QueryRowContext(ctx, query, userID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	return user, nil
}

// ListUsers returns all users, newest first
func (s *Storage) ListUsers(ctx context.Context) ([]*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users ORDER BY created_at DESC, id`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query users: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	users := make([]*models.User, 0)
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		users = append(users, user)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}

	return users, nil
}

// UpdatePassword replaces the password hash
func (s *Storage) UpdatePassword(ctx context.Context, userID, passwordHash string, at time.Time) error {
	return s.updateUserColumn(ctx, "password_hash", passwordHash, userID, at)
}

// UpdateProfile replaces the profile document
func (s *Storage) UpdateProfile(ctx context.Context, userID string, profile models.Profile, at time.Time) error {
	data, err := json.Marshal(profile)
	if err != nil {
		return fmt.Errorf("failed to marshal profile: %w", err)
	}
	return s.updateUserColumn(ctx, "profile", string(data), userID, at)
}

// UpdateSettings replaces the settings document
func (s *Storage) UpdateSettings(ctx context.Context, userID string, settings models.Settings, at time.Time) error {
	data, err := json.Marshal(settings)
	if err != nil {
		return fmt.Errorf("failed to marshal settings: %w", err)
	}
	return s.updateUserColumn(ctx, "settings", string(data), userID, at)
}

// UpdateRoles replaces the role set
func (s *Storage) UpdateRoles(ctx context.Context, userID string, roles []models.Role, at time.Time) error {
	data, err := json.Marshal(roles)
	if err != nil {
		return fmt.Errorf("failed to marshal roles: %w", err)
	}
	return s.updateUserColumn(ctx, "roles", string(data), userID, at)
}

// UpdateLastLogin updates the last login timestamp
func (s *Storage) UpdateLastLogin(ctx context.Context, userID string, lastLogin time.Time) error {
	query := `UPDATE users SET last_login = ? WHERE id = ?`

	result, err := s.db.ExecContext(ctx, query, formatTime(lastLogin), userID)
	if err != nil {
		return fmt.Errorf("failed to update last login: %w", err)
	}

	return expectAffected(result, storage.ErrUserNotFound)
}

// DeleteUser deletes user by ID, refresh tokens go with it via ON DELETE CASCADE
func (s *Storage) DeleteUser(ctx context.Context, userID string) error {
	query := `DELETE FROM users WHERE id = ?`

	result, err := s.db.ExecContext(ctx, query, userID)
	if err != nil {
		return fmt.Errorf("failed to delete user: %w", err)
	}

	return expectAffected(result, storage.ErrUserNotFound)
}

// updateUserColumn обновляет одну колонку и updated_at. column приходит только из кода пакета
func (s *Storage) updateUserColumn(ctx context.Context, column string, value any, userID string, at time.Time) error {
	query := `UPDATE users SET ` + column + ` = ?, updated_at = ? WHERE id = ?`

	result, err := s.db.ExecContext(ctx, query, value, formatTime(at), userID)
	if err != nil {
		return fmt.Errorf("failed to update user %s: %w", column, err)
	}

	return expectAffected(result, storage.ErrUserNotFound)
}

func expectAffected(result sql.Result, notFound error) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return notFound
	}
	return nil
}

func marshalUserDocs(user *models.User) (roles, profile, settings string, err error) {
	r, err := json.Marshal(user.Roles)
	if err != nil {
		return "", "", "", fmt.Errorf("failed to marshal roles: %w", err)
	}
	p, err := json.Marshal(user.Profile)
	if err != nil {
		return "", "", "", fmt.Errorf("failed to marshal profile: %w", err)
	}
	st, err := json.Marshal(user.Settings)
	if err != nil {
		return "", "", "", fmt.Errorf("failed to marshal settings: %w", err)
	}
	return string(r), string(p), string(st), nil
}

func scanUser(row rowScanner) (*models.User, error) {
	user := &models.User{}
	var (
		roles, profile, settings string
		createdAt, updatedAt     string
		lastLogin                sql.NullString
	)

	if err := row.Scan(
		&user.ID,
		&user.Email,
		&user.UserName,
		&user.PasswordHash,
		&user.EmailVerified,
		&roles,
		&profile,
		&settings,
		&createdAt,
		&updatedAt,
		&lastLogin,
	); err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(roles), &user.Roles); err != nil {
		return nil, fmt.Errorf("failed to unmarshal roles: %w", err)
	}
	if err := json.Unmarshal([]byte(profile), &user.Profile); err != nil {
		return nil, fmt.Errorf("failed to unmarshal profile: %w", err)
	}
	if err := json.Unmarshal([]byte(settings), &user.Settings); err != nil {
		return nil, fmt.Errorf("failed to unmarshal settings: %w", err)
	}

	var err error
	if user.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if user.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	if user.LastLogin, err = parseNullTime(lastLogin); err != nil {
		return nil, err
	}

	return user, nil
}
