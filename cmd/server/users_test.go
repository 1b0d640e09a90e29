package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iudanet/text2mesh/internal/models"
	"github.com/iudanet/text2mesh/internal/server/auth"
)

// scriptedIO отдает заранее заданные ответы
type scriptedIO struct {
	answers []string
	out     []string
}

func (s *scriptedIO) Println(a ...any) { s.out = append(s.out, fmt.Sprintln(a...)) }

func (s *scriptedIO) Printf(format string, a ...any) { s.out = append(s.out, fmt.Sprintf(format, a...)) }

func (s *scriptedIO) ReadInput(prompt string) (string, error) { return s.next() }

func (s *scriptedIO) ReadPassword(prompt string) (string, error) { return s.next() }

func (s *scriptedIO) next() (string, error) {
	if len(s.answers) == 0 {
		return "", errors.New("no more input")
	}
	a := s.answers[0]
	s.answers = s.answers[1:]
	return a, nil
}

type fakeAccounts struct {
	roles    []models.Role
	password string
	err      error
}

func (f *fakeAccounts) GrantRole(_ context.Context, email string, role models.Role) (*models.User, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.roles = append(f.roles, role)
	return &models.User{Email: email, Roles: f.roles}, nil
}

func (f *fakeAccounts) RevokeRole(_ context.Context, email string, role models.Role) (*models.User, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &models.User{Email: email, Roles: []models.Role{models.RoleUser}}, nil
}

func (f *fakeAccounts) SetPassword(_ context.Context, _, password string) error {
	if f.err != nil {
		return f.err
	}
	f.password = password
	return nil
}

func TestGrantRole(t *testing.T) {
	svc := &fakeAccounts{roles: []models.Role{models.RoleUser}}
	io := &scriptedIO{}

	require.NoError(t, grantRole(context.Background(), svc, io, "a@example.com", "admin"))
	assert.Equal(t, []string{"a@example.com roles: user, admin\n"}, io.out)
}

func TestRevokeRole_Error(t *testing.T) {
	svc := &fakeAccounts{err: auth.ErrLastRole}

	err := revokeRole(context.Background(), svc, &scriptedIO{}, "a@example.com", "user")
	assert.ErrorIs(t, err, auth.ErrLastRole)
}

func TestSetPassword(t *testing.T) {
	t.Run("confirmed", func(t *testing.T) {
		svc := &fakeAccounts{}
		io := &scriptedIO{answers: []string{"N3w!password", "N3w!password"}}

		require.NoError(t, setPassword(context.Background(), svc, io, "a@example.com"))
		assert.Equal(t, "N3w!password", svc.password)
	})

	t.Run("mismatch", func(t *testing.T) {
		svc := &fakeAccounts{}
		io := &scriptedIO{answers: []string{"N3w!password", "other"}}

		err := setPassword(context.Background(), svc, io, "a@example.com")
		assert.ErrorIs(t, err, errPasswordMismatch)
		assert.Empty(t, svc.password)
	})

	t.Run("no input", func(t *testing.T) {
		err := setPassword(context.Background(), &fakeAccounts{}, &scriptedIO{}, "a@example.com")
		assert.Error(t, err)
	})
}

func TestLoadConfig(t *testing.T) {
	env := map[string]string{
		"JWT_SECRET": "from-env",
		"LOG_LEVEL":  "warn",
	}
	lookup := func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}

	cfg, err := loadConfig(globalFlags{logLevel: "debug"}, lookup)
	require.NoError(t, err)

	assert.Equal(t, "from-env", cfg.JWT.Secret)
	assert.Equal(t, "debug", cfg.Log.Level, "flags override the environment")
}

func TestVersionCmd(t *testing.T) {
	cmd := rootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"version"})

	require.NoError(t, cmd.Execute())
	assert.Contains(t, out.String(), "Version:    dev")
}
