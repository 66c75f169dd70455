package auth

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/odyssey-erp/gatekeeper/internal/platform/httpx"
	"github.com/odyssey-erp/gatekeeper/internal/shared"
)

// IdentityResolver extracts the caller's user id from a request. A zero id
// with a nil error means the resolver found no credentials.
type IdentityResolver interface {
	Resolve(r *http.Request) (int64, error)
}

// SessionResolver reads the user id from the session loaded by the session
// middleware.
type SessionResolver struct{}

// Resolve implements IdentityResolver.
func (SessionResolver) Resolve(r *http.Request) (int64, error) {
	return shared.SessionFromContext(r.Context()).User(), nil
}

// BearerResolver verifies an Authorization: Bearer token.
type BearerResolver struct {
	Tokens *TokenIssuer
}

// Resolve implements IdentityResolver.
func (b BearerResolver) Resolve(r *http.Request) (int64, error) {
	header := r.Header.Get("Authorization")
	if header == "" || b.Tokens == nil {
		return 0, nil
	}
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return 0, nil
	}
	return b.Tokens.Verify(strings.TrimSpace(token))
}

// Identify resolves the caller once per request and stores the user id in
// the context. The first resolver returning an id wins. Invalid bearer
// tokens are rejected with 401.
func Identify(logger *slog.Logger, resolvers ...IdentityResolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			for _, resolver := range resolvers {
				id, err := resolver.Resolve(r)
				if err != nil {
					if errors.Is(err, shared.ErrInvalidToken) {
						httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "invalid bearer token")
						return
					}
					if logger != nil {
						logger.Error("resolve identity", slog.Any("error", err))
					}
					httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
					return
				}
				if id > 0 {
					r = r.WithContext(shared.ContextWithUserID(r.Context(), id))
					break
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireAuthenticated rejects anonymous requests with 401.
func RequireAuthenticated(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := shared.UserIDFromContext(r.Context()); !ok {
			httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "authentication required")
			return
		}
		next.ServeHTTP(w, r)
	})
}
