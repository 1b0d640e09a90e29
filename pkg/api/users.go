package api

// ProfileUpdateRequest is a partial profile update
type ProfileUpdateRequest struct {
	AvatarURL *string `json:"avatarUrl,omitempty"`
	Bio       *string `json:"bio,omitempty"`
}

// NotificationsUpdate is a partial notifications update
type NotificationsUpdate struct {
	JobFinished *bool `json:"jobFinished,omitempty"`
	NewMessage  *bool `json:"newMessage,omitempty"`
}

// SettingsUpdateRequest is a partial settings update
type SettingsUpdateRequest struct {
	Theme         *string              `json:"theme,omitempty"`
	Language      *string              `json:"language,omitempty"`
	Notifications *NotificationsUpdate `json:"notifications,omitempty"`
}

// RolesUpdateRequest replaces the role set of a user
type RolesUpdateRequest struct {
	Roles []string `json:"roles"`
}

// UserResponse wraps a single user
type UserResponse struct {
	OK   bool `json:"ok"`
	User User `json:"user"`
}

// UsersResponse представляет список пользователей
type UsersResponse struct {
	OK    bool   `json:"ok"`
	Users []User `json:"users"`
}
