package auth_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/bcrypt"

	"github.com/odyssey-erp/gatekeeper/internal/auth"
	"github.com/odyssey-erp/gatekeeper/internal/rbac"
	"github.com/odyssey-erp/gatekeeper/internal/shared"
	"github.com/odyssey-erp/gatekeeper/internal/users"
	_ "github.com/odyssey-erp/gatekeeper/testing"
)

const testPassword = "correct-horse"

type authEnv struct {
	store    *rbac.MemoryRepository
	sessions *shared.SessionManager
	tokens   *auth.TokenIssuer
	router   http.Handler
	user     rbac.User
}

func newAuthEnv(t *testing.T, withSessions, withTokens bool) *authEnv {
	t.Helper()
	store, err := rbac.NewMemoryRepository()
	if err != nil {
		t.Fatalf("memory store: %v", err)
	}
	hasher := users.BcryptHasher{Cost: bcrypt.MinCost}
	hash, err := hasher.Hash(testPassword)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	env := &authEnv{store: store}
	err = store.WithTx(context.Background(), func(ctx context.Context, tx rbac.Tx) error {
		role, err := tx.InsertRole(ctx, rbac.Role{Name: "emp", Permissions: rbac.NewPermissionSet("document_view")})
		if err != nil {
			return err
		}
		env.user, err = tx.InsertUser(ctx, rbac.User{
			Username: "jdoe", Email: "jdoe@example.com", FirstName: "Jane", LastName: "Doe",
			PasswordHash: hash, IsActive: true,
		})
		if err != nil {
			return err
		}
		_, err = tx.AddUserRole(ctx, env.user.ID, role.ID)
		return err
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	if withSessions {
		mr := miniredis.RunT(t)
		client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		t.Cleanup(func() { _ = client.Close() })
		env.sessions = shared.NewSessionManager(client, "test_session", "secret", time.Hour, false)
	}
	if withTokens {
		env.tokens, err = auth.NewTokenIssuer("jwt-secret", time.Hour)
		if err != nil {
			t.Fatalf("token issuer: %v", err)
		}
	}

	service := auth.NewService(store, hasher, rbac.NewAuthorizer(store, nil))
	csrf := shared.NewCSRFManager("csrf-secret")
	handler := auth.NewHandler(nil, service, env.sessions, csrf, env.tokens)
	r := chi.NewRouter()
	if env.sessions != nil {
		r.Use(sessionMiddleware(t, env.sessions))
	}
	r.Use(auth.Identify(nil, auth.BearerResolver{Tokens: env.tokens}, auth.SessionResolver{}))
	r.Use(auth.CSRFProtect(csrf, nil))
	r.Route("/auth", handler.MountRoutes)
	env.router = r
	return env
}

// sessionMiddleware loads the session before the handler and commits it
// before the response is flushed.
func sessionMiddleware(t *testing.T, sm *shared.SessionManager) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sess, err := sm.Load(r.Context(), r)
			if err != nil {
				t.Fatalf("load session: %v", err)
			}
			ctx := shared.ContextWithSession(r.Context(), sess)
			rec := httptest.NewRecorder()
			next.ServeHTTP(rec, r.WithContext(ctx))
			if err := sm.Commit(ctx, w, sess); err != nil {
				t.Fatalf("commit session: %v", err)
			}
			for k, v := range rec.Header() {
				w.Header()[k] = v
			}
			w.WriteHeader(rec.Code)
			_, _ = w.Write(rec.Body.Bytes())
		})
	}
}

func (e *authEnv) do(method, path, body string, mutate func(*http.Request)) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if mutate != nil {
		mutate(req)
	}
	res := httptest.NewRecorder()
	e.router.ServeHTTP(res, req)
	return res
}

func withCookies(cookies []*http.Cookie) func(*http.Request) {
	return func(r *http.Request) {
		for _, c := range cookies {
			r.AddCookie(c)
		}
	}
}

func TestLoginSessionFlow(t *testing.T) {
	env := newAuthEnv(t, true, false)

	res := env.do(http.MethodPost, "/auth/login", `{"login":"jdoe","password":"`+testPassword+`"}`, nil)
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", res.Code, res.Body.String())
	}
	var profile struct {
		Username    string   `json:"username"`
		FullName    string   `json:"full_name"`
		Roles       []string `json:"roles"`
		Permissions []string `json:"permissions"`
	}
	if err := json.Unmarshal(res.Body.Bytes(), &profile); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if profile.Username != "jdoe" || profile.FullName != "Jane Doe" {
		t.Fatalf("unexpected profile %+v", profile)
	}
	if len(profile.Permissions) != 1 || profile.Permissions[0] != "document_view" {
		t.Fatalf("unexpected permissions %v", profile.Permissions)
	}
	cookies := res.Result().Cookies()
	if len(cookies) == 0 {
		t.Fatalf("expected session cookie")
	}
	csrfToken := res.Header().Get(shared.CSRFHeader)
	if csrfToken == "" {
		t.Fatalf("expected csrf token header on login")
	}

	me := env.do(http.MethodGet, "/auth/me", "", withCookies(cookies))
	if me.Code != http.StatusOK {
		t.Fatalf("expected /me 200, got %d", me.Code)
	}

	issued := env.do(http.MethodGet, "/auth/csrf", "", withCookies(cookies))
	if issued.Code != http.StatusOK || !strings.Contains(issued.Body.String(), csrfToken) {
		t.Fatalf("expected stored csrf token, got %d %s", issued.Code, issued.Body.String())
	}

	if forged := env.do(http.MethodPost, "/auth/logout", "", withCookies(cookies)); forged.Code != http.StatusForbidden {
		t.Fatalf("expected 403 without csrf token, got %d", forged.Code)
	}

	logout := env.do(http.MethodPost, "/auth/logout", "", func(r *http.Request) {
		withCookies(cookies)(r)
		r.Header.Set(shared.CSRFHeader, csrfToken)
	})
	if logout.Code != http.StatusNoContent {
		t.Fatalf("expected logout 204, got %d", logout.Code)
	}

	after := env.do(http.MethodGet, "/auth/me", "", withCookies(cookies))
	if after.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 after logout, got %d", after.Code)
	}
}

func TestLoginByEmail(t *testing.T) {
	env := newAuthEnv(t, true, false)
	res := env.do(http.MethodPost, "/auth/login", `{"login":"JDOE@example.com","password":"`+testPassword+`"}`, nil)
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Code)
	}
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	env := newAuthEnv(t, true, false)

	cases := map[string]string{
		"wrong password": `{"login":"jdoe","password":"nope"}`,
		"unknown user":   `{"login":"ghost","password":"` + testPassword + `"}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			res := env.do(http.MethodPost, "/auth/login", body, nil)
			if res.Code != http.StatusUnauthorized {
				t.Fatalf("expected 401, got %d", res.Code)
			}
			if len(res.Result().Cookies()) != 0 {
				t.Fatalf("failed login must not set a session cookie")
			}
		})
	}

	res := env.do(http.MethodPost, "/auth/login", `{"login":""}`, nil)
	if res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing fields, got %d", res.Code)
	}
}

func TestLoginRejectsInactiveUser(t *testing.T) {
	env := newAuthEnv(t, true, false)
	err := env.store.WithTx(context.Background(), func(ctx context.Context, tx rbac.Tx) error {
		u := env.user
		u.IsActive = false
		_, err := tx.UpdateUser(ctx, u)
		return err
	})
	if err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	res := env.do(http.MethodPost, "/auth/login", `{"login":"jdoe","password":"`+testPassword+`"}`, nil)
	if res.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", res.Code)
	}
}

func TestBearerTokenFlow(t *testing.T) {
	env := newAuthEnv(t, false, true)

	res := env.do(http.MethodPost, "/auth/token", `{"login":"jdoe","password":"`+testPassword+`"}`, nil)
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", res.Code, res.Body.String())
	}
	var token struct {
		AccessToken string `json:"access_token"`
		TokenType   string `json:"token_type"`
	}
	if err := json.Unmarshal(res.Body.Bytes(), &token); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if token.TokenType != "Bearer" || token.AccessToken == "" {
		t.Fatalf("unexpected token response %+v", token)
	}

	bearer := func(v string) func(*http.Request) {
		return func(r *http.Request) { r.Header.Set("Authorization", v) }
	}
	if me := env.do(http.MethodGet, "/auth/me", "", bearer("Bearer "+token.AccessToken)); me.Code != http.StatusOK {
		t.Fatalf("expected /me 200, got %d", me.Code)
	}
	if me := env.do(http.MethodGet, "/auth/me", "", bearer("Bearer garbage")); me.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for bad token, got %d", me.Code)
	}

	if login := env.do(http.MethodPost, "/auth/login", `{"login":"jdoe","password":"`+testPassword+`"}`, nil); login.Code != http.StatusNotFound {
		t.Fatalf("expected session login disabled, got %d", login.Code)
	}
}

func TestTokenDisabled(t *testing.T) {
	env := newAuthEnv(t, true, false)
	res := env.do(http.MethodPost, "/auth/token", `{"login":"jdoe","password":"`+testPassword+`"}`, nil)
	if res.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", res.Code)
	}
}
