package validation

import (
	"net/mail"
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	minPasswordLength    = 12
	minDisplayNameLength = 3
)

// NormalizeEmail приводит email к виду, в котором он хранится.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// CredentialIssues проверяет данные регистрации и возвращает все нарушенные правила.
// email и displayName ожидаются уже нормализованными.
func CredentialIssues(email, displayName, password string) []string {
	var issues []string

	if addr, err := mail.ParseAddress(email); err != nil || addr.Address != email {
		issues = append(issues, "email is invalid")
	}
	if utf8.RuneCountInString(displayName) < minDisplayNameLength {
		issues = append(issues, "display name must be at least 3 characters")
	}
	if !IsStrongPassword(password) {
		issues = append(issues, "password must be at least 12 characters and contain lower and upper case letters, a digit and a symbol")
	}

	return issues
}

// IsStrongPassword проверяет длину пароля и наличие символов всех четырёх классов.
func IsStrongPassword(password string) bool {
	if utf8.RuneCountInString(password) < minPasswordLength {
		return false
	}

	var lower, upper, digit, symbol bool
	for _, r := range password {
		switch {
		case unicode.IsLower(r):
			lower = true
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsDigit(r):
			digit = true
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			symbol = true
		}
	}

	return lower && upper && digit && symbol
}
