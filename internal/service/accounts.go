package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/mmeshcher/workflow-market/internal/repository"
	"github.com/mmeshcher/workflow-market/internal/validation"
)

// RegisterUser регистрирует нового пользователя и возвращает его идентификатор.
func (s *Service) RegisterUser(ctx context.Context, email, displayName, password string) (int64, error) {
	email = validation.NormalizeEmail(email)
	displayName = strings.TrimSpace(displayName)

	if issues := validation.CredentialIssues(email, displayName, password); len(issues) > 0 {
		return 0, invalid(issues...)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		if errors.Is(err, bcrypt.ErrPasswordTooLong) {
			return 0, invalid("password must be at most 72 bytes")
		}
		return 0, fmt.Errorf("hash password: %w", err)
	}

	id, err := s.repo.CreateUser(ctx, email, displayName, hash)
	if err != nil {
		if errors.Is(err, repository.ErrUserExists) {
			return 0, fmt.Errorf("%w: email or display name already taken", ErrConflict)
		}
		return 0, transient("create user", err)
	}
	return id, nil
}

// AuthenticateUser проверяет email и пароль и возвращает идентификатор пользователя.
func (s *Service) AuthenticateUser(ctx context.Context, email, password string) (int64, error) {
	u, err := s.repo.GetUserByEmail(ctx, validation.NormalizeEmail(email))
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return 0, ErrInvalidCredentials
		}
		return 0, transient("get user", err)
	}

	if err := bcrypt.CompareHashAndPassword(u.PasswordHash, []byte(password)); err != nil {
		return 0, ErrInvalidCredentials
	}

	return u.ID, nil
}
