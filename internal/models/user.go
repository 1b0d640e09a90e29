package models

import (
	"slices"
	"time"
)

// Role представляет роль пользователя
type Role string

const (
	RoleUser      Role = "user"
	RoleAdmin     Role = "admin"
	RoleModerator Role = "moderator"
)

// ValidRole reports whether r is one of the known roles.
func ValidRole(r Role) bool {
	switch r {
	case RoleUser, RoleAdmin, RoleModerator:
		return true
	}
	return false
}

// Profile holds the public part of the user account.
type Profile struct {
	AvatarURL string `json:"avatarUrl"`
	Bio       string `json:"bio"`
}

// Notifications is the per-user notification switchboard.
type Notifications struct {
	JobFinished bool `json:"jobFinished"`
	NewMessage  bool `json:"newMessage"`
}

// Settings holds UI preferences.
type Settings struct {
	Theme         string        `json:"theme"`
	Language      string        `json:"language"`
	Notifications Notifications `json:"notifications"`
}

// DefaultProfile returns the profile assigned to freshly verified users.
func DefaultProfile() Profile {
	return Profile{AvatarURL: "", Bio: ""}
}

// DefaultSettings returns the settings assigned to freshly verified users.
func DefaultSettings() Settings {
	return Settings{
		Theme:    "dark",
		Language: "en",
		Notifications: Notifications{
			JobFinished: true,
			NewMessage:  true,
		},
	}
}

// User представляет пользователя в системе
type User struct {
	ID            string     `json:"id"`            // UUID пользователя
	Email         string     `json:"email"`         // уникальный email (как сохранен)
	UserName      string     `json:"userName"`      // отображаемое имя
	PasswordHash  string     `json:"-"`             // bcrypt хеш пароля
	EmailVerified bool       `json:"emailVerified"` // email подтвержден кодом
	Roles         []Role     `json:"roles"`
	Profile       Profile    `json:"profile"`
	Settings      Settings   `json:"settings"`
	CreatedAt     time.Time  `json:"createdAt"`
	UpdatedAt     time.Time  `json:"updatedAt"`
	LastLogin     *time.Time `json:"lastLogin,omitempty"`
}

// HasRole reports whether the user carries role r.
func (u *User) HasRole(r Role) bool {
	return slices.Contains(u.Roles, r)
}

// Sanitized returns a copy of the user without the password hash.
func (u *User) Sanitized() *User {
	if u == nil {
		return nil
	}
	c := *u
	c.PasswordHash = ""
	c.Roles = slices.Clone(u.Roles)
	return &c
}

// Principal is the authenticated caller extracted from a verified access token.
type Principal struct {
	UserID string
	Email  string
	Roles  []Role
}

// HasRole reports whether the principal carries role r.
func (p Principal) HasRole(r Role) bool {
	return slices.Contains(p.Roles, r)
}
