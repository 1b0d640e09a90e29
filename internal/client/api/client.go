// Package api is a Go client for the text2mesh account API.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/iudanet/text2mesh/pkg/api"
)

// Error is a non-2xx answer of the server
type Error struct {
	StatusCode int
	Response   api.ErrorResponse
}

func (e *Error) Error() string {
	if e.Response.Message != "" {
		return fmt.Sprintf("server error (%d): %s", e.StatusCode, e.Response.Message)
	}
	return fmt.Sprintf("request failed with status %d", e.StatusCode)
}

// Client представляет HTTP клиент для взаимодействия с сервером
type Client struct {
	httpClient *http.Client
	baseURL    string
}

// NewClient создает новый API клиент
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 10 {
					return fmt.Errorf("stopped after 10 redirects")
				}
				// Копируем заголовки Authorization при редиректе
				if len(via) > 0 && via[0].Header.Get("Authorization") != "" {
					req.Header.Set("Authorization", via[0].Header.Get("Authorization"))
				}
				return nil
			},
		},
	}
}

// Register начинает регистрацию, код приходит на email
func (c *Client) Register(ctx context.Context, req api.RegisterRequest) (*api.OKResponse, error) {
	var resp api.OKResponse
	if err := c.doRequest(ctx, http.MethodPost, "/api/auth/register", "", req, &resp); err != nil {
		return nil, fmt.Errorf("register request failed: %w", err)
	}
	return &resp, nil
}

// Verify завершает регистрацию кодом из письма
func (c *Client) Verify(ctx context.Context, req api.VerifyRequest) (*api.VerifyResponse, error) {
	var resp api.VerifyResponse
	if err := c.doRequest(ctx, http.MethodPost, "/api/auth/register/verify", "", req, &resp); err != nil {
		return nil, fmt.Errorf("verify request failed: %w", err)
	}
	return &resp, nil
}

// Resend повторно отправляет код подтверждения
func (c *Client) Resend(ctx context.Context, email string) error {
	if err := c.doRequest(ctx, http.MethodPost, "/api/auth/register/resend", "", api.EmailRequest{Email: email}, nil); err != nil {
		return fmt.Errorf("resend request failed: %w", err)
	}
	return nil
}

// Login выполняет аутентификацию пользователя
func (c *Client) Login(ctx context.Context, req api.LoginRequest) (*api.LoginResponse, error) {
	var resp api.LoginResponse
	if err := c.doRequest(ctx, http.MethodPost, "/api/auth/login", "", req, &resp); err != nil {
		return nil, fmt.Errorf("login request failed: %w", err)
	}
	return &resp, nil
}

// Refresh обменивает refresh token на новую пару токенов
func (c *Client) Refresh(ctx context.Context, refreshToken string) (*api.TokenResponse, error) {
	var resp api.TokenResponse
	err := c.doRequest(ctx, http.MethodPost, "/api/auth/refresh", "", api.RefreshRequest{RefreshToken: refreshToken}, &resp)
	if err != nil {
		return nil, fmt.Errorf("refresh request failed: %w", err)
	}
	return &resp, nil
}

// Logout отзывает refresh token
func (c *Client) Logout(ctx context.Context, refreshToken string) error {
	err := c.doRequest(ctx, http.MethodPost, "/api/auth/logout", "", api.LogoutRequest{RefreshToken: refreshToken}, nil)
	if err != nil {
		return fmt.Errorf("logout request failed: %w", err)
	}
	return nil
}

// Me возвращает текущего пользователя
func (c *Client) Me(ctx context.Context, accessToken string) (*api.User, error) {
	var resp api.User
	if err := c.doRequest(ctx, http.MethodGet, "/api/auth/me", accessToken, nil, &resp); err != nil {
		return nil, fmt.Errorf("me request failed: %w", err)
	}
	return &resp, nil
}

// RequestPasswordReset запрашивает письмо со ссылкой сброса
func (c *Client) RequestPasswordReset(ctx context.Context, email string) error {
	err := c.doRequest(ctx, http.MethodPost, "/api/auth/request-password-reset", "", api.EmailRequest{Email: email}, nil)
	if err != nil {
		return fmt.Errorf("password reset request failed: %w", err)
	}
	return nil
}

// ResetPassword устанавливает новый пароль по токену из письма
func (c *Client) ResetPassword(ctx context.Context, req api.ResetPasswordRequest) error {
	if err := c.doRequest(ctx, http.MethodPost, "/api/auth/reset-password", "", req, nil); err != nil {
		return fmt.Errorf("reset password request failed: %w", err)
	}
	return nil
}

// UpdateProfile меняет профиль текущего пользователя
func (c *Client) UpdateProfile(ctx context.Context, accessToken string, req api.ProfileUpdateRequest) (*api.User, error) {
	var resp api.UserResponse
	if err := c.doRequest(ctx, http.MethodPatch, "/api/users/me/profile", accessToken, req, &resp); err != nil {
		return nil, fmt.Errorf("update profile request failed: %w", err)
	}
	return &resp.User, nil
}

// UpdateSettings меняет настройки текущего пользователя
func (c *Client) UpdateSettings(ctx context.Context, accessToken string, req api.SettingsUpdateRequest) (*api.User, error) {
	var resp api.UserResponse
	if err := c.doRequest(ctx, http.MethodPatch, "/api/users/me/settings", accessToken, req, &resp); err != nil {
		return nil, fmt.Errorf("update settings request failed: %w", err)
	}
	return &resp.User, nil
}

// ListUsers возвращает всех пользователей (admin)
func (c *Client) ListUsers(ctx context.Context, accessToken string) ([]api.User, error) {
	var resp api.UsersResponse
	if err := c.doRequest(ctx, http.MethodGet, "/api/admin/users", accessToken, nil, &resp); err != nil {
		return nil, fmt.Errorf("list users request failed: %w", err)
	}
	return resp.Users, nil
}

// SetRoles заменяет роли пользователя (admin)
func (c *Client) SetRoles(ctx context.Context, accessToken, userID string, roles []string) (*api.User, error) {
	var resp api.UserResponse
	path := "/api/admin/users/" + url.PathEscape(userID) + "/roles"
	if err := c.doRequest(ctx, http.MethodPatch, path, accessToken, api.RolesUpdateRequest{Roles: roles}, &resp); err != nil {
		return nil, fmt.Errorf("set roles request failed: %w", err)
	}
	return &resp.User, nil
}

// DeleteUser удаляет пользователя (admin)
func (c *Client) DeleteUser(ctx context.Context, accessToken, userID string) error {
	path := "/api/admin/users/" + url.PathEscape(userID)
	if err := c.doRequest(ctx, http.MethodDelete, path, accessToken, nil, nil); err != nil {
		return fmt.Errorf("delete user request failed: %w", err)
	}
	return nil
}

// doRequest выполняет HTTP запрос
func (c *Client) doRequest(ctx context.Context, method, path, accessToken string, body, result any) error {
	var bodyReader io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+accessToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &Error{StatusCode: resp.StatusCode}
		_ = json.Unmarshal(respBody, &apiErr.Response)
		return apiErr
	}

	if result != nil {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}

	return nil
}
