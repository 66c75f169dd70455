package auth

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/odyssey-erp/gatekeeper/internal/platform/httpx"
	"github.com/odyssey-erp/gatekeeper/internal/rbac"
	"github.com/odyssey-erp/gatekeeper/internal/shared"
)

// Handler wires HTTP endpoints for authentication flows.
type Handler struct {
	logger         *slog.Logger
	service        *Service
	sessionManager *shared.SessionManager
	csrf           *shared.CSRFManager
	tokens         *TokenIssuer
	validator      *validator.Validate
}

// NewHandler constructs a Handler instance. sessions and tokens may be nil to
// disable cookie login or bearer token issuance.
func NewHandler(logger *slog.Logger, service *Service, sessions *shared.SessionManager, csrf *shared.CSRFManager, tokens *TokenIssuer) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		logger:         logger,
		service:        service,
		sessionManager: sessions,
		csrf:           csrf,
		tokens:         tokens,
		validator:      httpx.NewValidator(),
	}
}

// MountRoutes registers auth routes on provided router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/login", h.handleLogin)
	r.Post("/logout", h.handleLogout)
	r.Post("/token", h.handleToken)
	r.With(RequireAuthenticated).Get("/me", h.handleMe)
	r.With(RequireAuthenticated).Get("/csrf", h.handleCSRF)
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	if h.sessionManager == nil {
		httpx.Problem(w, http.StatusNotFound, "Not Found", "session login disabled")
		return
	}
	user, ok := h.authenticate(w, r)
	if !ok {
		return
	}
	sess := shared.SessionFromContext(r.Context())
	if sess == nil {
		h.logger.Error("session missing during login")
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
		return
	}
	if err := h.sessionManager.Renew(r.Context(), sess); err != nil {
		h.logger.Error("renew session", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
		return
	}
	sess.SetUser(user.ID)
	if h.csrf != nil {
		token, err := h.csrf.EnsureToken(r.Context(), sess)
		if err != nil {
			h.logger.Error("issue csrf token", slog.Any("error", err))
			httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
			return
		}
		w.Header().Set(shared.CSRFHeader, token)
	}
	h.respondProfile(w, r, user.ID)
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	if sess := shared.SessionFromContext(r.Context()); sess != nil {
		h.sessionManager.Destroy(sess)
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleToken(w http.ResponseWriter, r *http.Request) {
	if h.tokens == nil {
		httpx.Problem(w, http.StatusNotFound, "Not Found", "token issuance disabled")
		return
	}
	user, ok := h.authenticate(w, r)
	if !ok {
		return
	}
	token, expires, err := h.tokens.Issue(user.ID)
	if err != nil {
		h.logger.Error("issue token", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
		return
	}
	httpx.JSON(w, http.StatusOK, tokenResponse{AccessToken: token, TokenType: "Bearer", ExpiresAt: expires.UTC()})
}

func (h *Handler) handleMe(w http.ResponseWriter, r *http.Request) {
	userID, _ := shared.UserIDFromContext(r.Context())
	h.respondProfile(w, r, userID)
}

func (h *Handler) handleCSRF(w http.ResponseWriter, r *http.Request) {
	sess := shared.SessionFromContext(r.Context())
	if h.csrf == nil || sess == nil {
		httpx.Problem(w, http.StatusNotFound, "Not Found", "csrf tokens disabled")
		return
	}
	token, err := h.csrf.EnsureToken(r.Context(), sess)
	if err != nil {
		h.logger.Error("issue csrf token", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]string{"csrf_token": token})
}

func (h *Handler) authenticate(w http.ResponseWriter, r *http.Request) (rbac.User, bool) {
	var req loginRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return rbac.User{}, false
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.FieldProblem(w, httpx.ValidationFields(err))
		return rbac.User{}, false
	}
	user, err := h.service.Authenticate(r.Context(), req.Login, req.Password)
	if err != nil {
		if errors.Is(err, shared.ErrInvalidCredentials) {
			httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "invalid username or password")
			return rbac.User{}, false
		}
		h.logger.Error("authenticate", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
		return rbac.User{}, false
	}
	return user, true
}

func (h *Handler) respondProfile(w http.ResponseWriter, r *http.Request, userID int64) {
	profile, err := h.service.Profile(r.Context(), userID)
	if err != nil {
		if errors.Is(err, rbac.ErrNotFound) {
			httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "unknown user")
			return
		}
		h.logger.Error("load profile", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
		return
	}
	httpx.JSON(w, http.StatusOK, toProfileResponse(profile))
}
