package validation

import (
	"fmt"
	"net/mail"
	"regexp"
	"strings"
	"unicode/utf8"
)

const (
	// MinUserNameLen минимальная длина отображаемого имени
	MinUserNameLen = 2
	// MaxUserNameLen максимальная длина отображаемого имени
	MaxUserNameLen = 64
	// MinPasswordLen минимальная длина пароля
	MinPasswordLen = 8
	// MaxPasswordLen bcrypt игнорирует всё после 72 байт
	MaxPasswordLen = 72
	// MaxEmailLen ограничение RFC 5321
	MaxEmailLen = 254
)

// CodePattern определяет формат кода подтверждения: ровно 6 цифр
var CodePattern = regexp.MustCompile(`^\d{6}$`)

// ValidateEmail проверяет, что email синтаксически корректен.
// Email сравнивается так, как был сохранен, поэтому здесь он не нормализуется.
func ValidateEmail(email string) error {
	if email == "" {
		return fmt.Errorf("email cannot be empty")
	}
	if len(email) > MaxEmailLen {
		return fmt.Errorf("email must not exceed %d characters", MaxEmailLen)
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email || !strings.Contains(email[strings.LastIndex(email, "@")+1:], ".") {
		return fmt.Errorf("email is not a valid address")
	}
	return nil
}

// ValidateUserName проверяет отображаемое имя пользователя
func ValidateUserName(userName string) error {
	if strings.TrimSpace(userName) == "" {
		return fmt.Errorf("userName cannot be empty")
	}

	n := utf8.RuneCountInString(userName)
	if n < MinUserNameLen {
		return fmt.Errorf("userName must be at least %d characters long", MinUserNameLen)
	}
	if n > MaxUserNameLen {
		return fmt.Errorf("userName must not exceed %d characters", MaxUserNameLen)
	}

	return nil
}

// ValidatePassword проверяет минимальные требования к паролю
func ValidatePassword(password string) error {
	if password == "" {
		return fmt.Errorf("password cannot be empty")
	}
	if len(password) < MinPasswordLen {
		return fmt.Errorf("password must be at least %d characters long", MinPasswordLen)
	}
	if len(password) > MaxPasswordLen {
		return fmt.Errorf("password must not exceed %d bytes", MaxPasswordLen)
	}
	return nil
}

// ValidateCode проверяет код подтверждения регистрации
func ValidateCode(code string) error {
	if !CodePattern.MatchString(code) {
		return fmt.Errorf("code must be exactly 6 digits")
	}
	return nil
}
