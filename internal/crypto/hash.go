package crypto

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"

	"golang.org/x/crypto/bcrypt"
)

// PasswordCost стоимость bcrypt для паролей пользователей
const PasswordCost = 12

// ErrPasswordMismatch возвращается, если пароль не соответствует хешу
var ErrPasswordMismatch = errors.New("password does not match")

// HashPassword хеширует пароль с использованием bcrypt (cost 12)
func HashPassword(password string) (string, error) {
	return HashPasswordCost(password, PasswordCost)
}

// HashPasswordCost хеширует пароль с заданной стоимостью bcrypt.
// cost вне допустимого диапазона заменяется на PasswordCost.
func HashPasswordCost(password string, cost int) (string, error) {
	if password == "" {
		return "", fmt.Errorf("password cannot be empty")
	}
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = PasswordCost
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hash), nil
}

// CheckPassword проверяет пароль по сохраненному bcrypt хешу
func CheckPassword(hash, password string) error {
	if hash == "" {
		return ErrPasswordMismatch
	}
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
		return ErrPasswordMismatch
	}
	if err != nil {
		return fmt.Errorf("failed to compare password: %w", err)
	}
	return nil
}

var codeMax = big.NewInt(1_000_000)

// GenerateCode возвращает криптографически случайный 6-значный код
// с ведущими нулями ("000000".."999999")
func GenerateCode() (string, error) {
	n, err := rand.Int(rand.Reader, codeMax)
	if err != nil {
		return "", fmt.Errorf("failed to generate code: %w", err)
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}

// GenerateToken возвращает n случайных байт в hex кодировке
func GenerateToken(n int) (string, error) {
	if n <= 0 {
		return "", fmt.Errorf("token length must be positive")
	}
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// EqualCodes сравнивает коды за постоянное время
func EqualCodes(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
