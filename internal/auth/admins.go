package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sumanism/ECA2/internal/store"
)

// AdminCreator persists operator accounts.
type AdminCreator interface {
	AdminStore
	CreateAdmin(ctx context.Context, a *store.AdminUser) error
}

// EnsureAdmin creates an active admin with the given credentials unless one
// with that email already exists. It reports whether an account was created.
func EnsureAdmin(ctx context.Context, st AdminCreator, email, password string) (bool, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || password == "" {
		return false, errors.New("admin email and password are required")
	}

	_, err := st.GetAdminByEmail(ctx, email)
	if err == nil {
		return false, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return false, fmt.Errorf("lookup admin: %w", err)
	}

	hash, err := HashPassword(password)
	if err != nil {
		return false, err
	}
	if err := st.CreateAdmin(ctx, &store.AdminUser{Email: email, HashedPassword: hash, IsActive: true}); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return false, nil
		}
		return false, fmt.Errorf("create admin: %w", err)
	}
	return true, nil
}
