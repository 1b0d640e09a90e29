package crypto

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func TestHashPassword(t *testing.T) {
	tests := []struct {
		name     string
		password string
		errMsg   string
		wantErr  bool
	}{
		{name: "successful hash", password: "correct horse battery"},
		{name: "unicode password", password: "пароль-123"},
		{name: "empty password", password: "", wantErr: true, errMsg: "password cannot be empty"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hash, err := HashPasswordCost(tt.password, bcrypt.MinCost)

			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errMsg)
				assert.Empty(t, hash)
				return
			}

			require.NoError(t, err)
			assert.True(t, strings.HasPrefix(hash, "$2a$"), "должен быть bcrypt хеш")
			assert.NotContains(t, hash, tt.password)
			assert.NoError(t, CheckPassword(hash, tt.password))
		})
	}
}

func TestHashPassword_DefaultCost(t *testing.T) {
	hash, err := HashPassword("password123")
	require.NoError(t, err)

	cost, err := bcrypt.Cost([]byte(hash))
	require.NoError(t, err)
	assert.Equal(t, PasswordCost, cost)
}

func TestHashPassword_Salted(t *testing.T) {
	// Одинаковый пароль дает разные хеши
	h1, err := HashPasswordCost("password123", bcrypt.MinCost)
	require.NoError(t, err)
	h2, err := HashPasswordCost("password123", bcrypt.MinCost)
	require.NoError(t, err)

	assert.NotEqual(t, h1, h2)
}

func TestHashPasswordCost_OutOfRangeFallsBack(t *testing.T) {
	hash, err := HashPasswordCost("password123", 1)
	require.NoError(t, err)

	cost, err := bcrypt.Cost([]byte(hash))
	require.NoError(t, err)
	assert.Equal(t, PasswordCost, cost)
}

func TestCheckPassword(t *testing.T) {
	hash, err := HashPasswordCost("password123", bcrypt.MinCost)
	require.NoError(t, err)

	assert.NoError(t, CheckPassword(hash, "password123"))
	assert.ErrorIs(t, CheckPassword(hash, "password124"), ErrPasswordMismatch)
	assert.ErrorIs(t, CheckPassword(hash, ""), ErrPasswordMismatch)
	assert.ErrorIs(t, CheckPassword("", "password123"), ErrPasswordMismatch)

	err = CheckPassword("not-a-bcrypt-hash", "password123")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrPasswordMismatch)
}

func TestGenerateCode(t *testing.T) {
	seen := make(map[string]struct{})
	for range 200 {
		code, err := GenerateCode()
		require.NoError(t, err)
		assert.Regexp(t, `^\d{6}$`, code)
		seen[code] = struct{}{}
	}
	// 200 кодов из миллиона почти наверняка различны
	assert.Greater(t, len(seen), 190)
}

func TestGenerateToken(t *testing.T) {
	token, err := GenerateToken(32)
	require.NoError(t, err)
	assert.Len(t, token, 64)
	assert.Regexp(t, "^[a-f0-9]{64}$", token)

	other, err := GenerateToken(32)
	require.NoError(t, err)
	assert.NotEqual(t, token, other)

	_, err = GenerateToken(0)
	assert.Error(t, err)
}

func TestEqualCodes(t *testing.T) {
	assert.True(t, EqualCodes("012345", "012345"))
	assert.False(t, EqualCodes("012345", "012346"))
	assert.False(t, EqualCodes("012345", "12345"))
	assert.False(t, EqualCodes("", "012345"))
}
