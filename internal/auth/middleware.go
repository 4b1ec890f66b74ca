package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/sumanism/ECA2/internal/store"
)

// contextKey is a custom type for context keys to avoid collisions
type contextKey string

// ContextKeyPrincipal stores the authenticated Principal.
const ContextKeyPrincipal contextKey = "principal"

// Principal kinds.
const (
	KindAPIKey = "api_key"
	KindAdmin  = "admin_user"
)

// Principal identifies who made a request.
type Principal struct {
	Kind  string
	Email string // set for admin users
}

// Display is a short label for logs.
func (p Principal) Display() string {
	if p.Email != "" {
		return p.Kind + ":" + p.Email
	}
	return p.Kind
}

// AdminStore looks up operator accounts.
type AdminStore interface {
	GetAdminByEmail(ctx context.Context, email string) (*store.AdminUser, error)
}

// DenyFunc writes the rejection response; RequireAdmin falls back to
// http.Error when nil.
type DenyFunc func(w http.ResponseWriter, r *http.Request, status int, message string)

// Authenticator checks admin credentials: the configured bearer key, or basic
// credentials of an active admin user.
type Authenticator struct {
	admins   AdminStore
	adminKey string
	deny     DenyFunc
}

// NewAuthenticator creates a new Authenticator. admins may be nil to accept
// only the bearer key.
func NewAuthenticator(admins AdminStore, adminKey string, deny DenyFunc) *Authenticator {
	return &Authenticator{admins: admins, adminKey: adminKey, deny: deny}
}

// Enabled reports whether any credential source is configured.
func (a *Authenticator) Enabled() bool {
	return a.adminKey != "" || a.admins != nil
}

// AuthResult contains the result of an authentication attempt
type AuthResult struct {
	Authenticated bool
	Principal     Principal
	Status        int
	Error         string
}

// Authenticate checks the request's Authorization header.
func (a *Authenticator) Authenticate(r *http.Request) AuthResult {
	header := r.Header.Get("Authorization")
	if header == "" {
		return AuthResult{Status: http.StatusUnauthorized, Error: "missing credentials"}
	}

	if email, password, ok := r.BasicAuth(); ok {
		return a.authenticateAdmin(r.Context(), email, password)
	}

	token := ExtractBearerToken(header)
	if token == "" {
		return AuthResult{Status: http.StatusUnauthorized, Error: "missing bearer token"}
	}
	if a.adminKey != "" && VerifyKeyConstantTime(token, a.adminKey) {
		return AuthResult{Authenticated: true, Principal: Principal{Kind: KindAPIKey}}
	}
	return AuthResult{Status: http.StatusUnauthorized, Error: "invalid token"}
}

func (a *Authenticator) authenticateAdmin(ctx context.Context, email, password string) AuthResult {
	if a.admins == nil {
		return AuthResult{Status: http.StatusUnauthorized, Error: "basic authentication is not enabled"}
	}

	admin, err := a.admins.GetAdminByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	switch {
	case errors.Is(err, store.ErrNotFound):
		return AuthResult{Status: http.StatusUnauthorized, Error: "invalid credentials"}
	case err != nil:
		return AuthResult{Status: http.StatusServiceUnavailable, Error: "authentication service unavailable"}
	}

	if !VerifyPassword(password, admin.HashedPassword) {
		return AuthResult{Status: http.StatusUnauthorized, Error: "invalid credentials"}
	}
	if !admin.IsActive {
		return AuthResult{Status: http.StatusForbidden, Error: "admin account is disabled"}
	}
	return AuthResult{Authenticated: true, Principal: Principal{Kind: KindAdmin, Email: admin.Email}}
}

// RequireAdmin rejects requests without admin credentials. When no
// credential source is configured every request passes.
func (a *Authenticator) RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !a.Enabled() {
			next.ServeHTTP(w, r)
			return
		}

		result := a.Authenticate(r)
		if !result.Authenticated {
			if a.deny != nil {
				a.deny(w, r, result.Status, result.Error)
			} else {
				http.Error(w, result.Error, result.Status)
			}
			return
		}

		ctx := context.WithValue(r.Context(), ContextKeyPrincipal, result.Principal)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// PrincipalFromContext extracts the principal from the request context
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(ContextKeyPrincipal).(Principal)
	return p, ok
}

// ClientIP extracts the client address, preferring proxy headers.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	return r.RemoteAddr
}
