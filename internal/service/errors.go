package service

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrValidation соответствует любой *ValidationError при сравнении через errors.Is.
	ErrValidation = errors.New("validation failed")
	// ErrNotFound возвращается, если ресурс не существует или не принадлежит пользователю.
	ErrNotFound = errors.New("not found")
	// ErrConflict возвращается, если операция противоречит текущему состоянию.
	ErrConflict = errors.New("conflict")
	// ErrProvider возвращается при отказе платёжного провайдера или неверной подписи уведомления.
	ErrProvider = errors.New("payment provider error")
	// ErrProviderNotConfigured возвращается, если платёжный провайдер не настроен.
	ErrProviderNotConfigured = errors.New("payment provider is not configured")
	// ErrTransient возвращается при сбое хранилища. Операцию можно безопасно повторить целиком.
	ErrTransient = errors.New("transient store error")
	// ErrInvalidCredentials возвращается при неверном email или пароле.
	ErrInvalidCredentials = errors.New("invalid credentials")
)

// ValidationError содержит все нарушенные правила входных данных.
type ValidationError struct {
	Issues []string
}

func (e *ValidationError) Error() string {
	return ErrValidation.Error() + ": " + strings.Join(e.Issues, "; ")
}

// Is позволяет проверять ошибку через errors.Is(err, ErrValidation).
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

func invalid(issues ...string) error {
	return &ValidationError{Issues: issues}
}

func transient(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrTransient, err)
}
