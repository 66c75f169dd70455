package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/odyssey-erp/gatekeeper/internal/audit"
	audithttp "github.com/odyssey-erp/gatekeeper/internal/audit/http"
	"github.com/odyssey-erp/gatekeeper/internal/auth"
	"github.com/odyssey-erp/gatekeeper/internal/observability"
	"github.com/odyssey-erp/gatekeeper/internal/platform/db"
	"github.com/odyssey-erp/gatekeeper/internal/rbac"
	"github.com/odyssey-erp/gatekeeper/internal/roles"
	"github.com/odyssey-erp/gatekeeper/internal/shared"
	"github.com/odyssey-erp/gatekeeper/internal/users"
)

// StoreBundle is an opened store with its audit sink and timeline reader.
type StoreBundle struct {
	Store    rbac.Store
	Audit    shared.AuditRecorder
	Timeline audit.Repository
	Pool     *pgxpool.Pool
}

// Close releases the pool, if any.
func (b *StoreBundle) Close() {
	if b != nil && b.Pool != nil {
		b.Pool.Close()
	}
}

// OpenStore opens the store selected by STORE_DRIVER.
func OpenStore(ctx context.Context, cfg *Config, logger *slog.Logger) (*StoreBundle, error) {
	switch cfg.StoreDriver {
	case StoreDriverMemory:
		store, err := rbac.NewMemoryRepository()
		if err != nil {
			return nil, fmt.Errorf("open memory store: %w", err)
		}
		memLog := audit.NewMemoryLog(shared.NewLogAuditRecorder(logger), audit.DefaultMemoryCapacity)
		return &StoreBundle{Store: store, Audit: memLog, Timeline: memLog}, nil
	case StoreDriverPostgres:
		pool, err := db.New(ctx, cfg.PGDSN, db.PoolOptions{MaxConns: cfg.PGMaxConns, MaxConnLifetime: cfg.PGMaxConnLife})
		if err != nil {
			return nil, err
		}
		return &StoreBundle{
			Store:    rbac.NewRepository(pool),
			Audit:    shared.NewAuditLogger(pool),
			Timeline: audit.NewRepository(pool),
			Pool:     pool,
		}, nil
	default:
		return nil, fmt.Errorf("unsupported store driver %q", cfg.StoreDriver)
	}
}

// Options carries the collaborators of an Application.
type Options struct {
	Config   *Config
	Logger   *slog.Logger
	Store    rbac.Store
	Audit    shared.AuditRecorder
	Timeline audit.Repository
	Registry *rbac.Registry
	Redis    *redis.Client
	Hasher   users.CredentialHasher
	Metrics  *observability.Metrics
}

// Application is the assembled service graph.
type Application struct {
	Config     *Config
	Logger     *slog.Logger
	Registry   *rbac.Registry
	Authorizer *rbac.Authorizer
	Roles      *roles.Service
	Users      *users.Service
	Auth       *auth.Service
	Audit      *audit.Service
	Metrics    *observability.Metrics
	Handler    http.Handler
}

// New wires services, handlers and the router.
func New(opts Options) (*Application, error) {
	if opts.Config == nil {
		return nil, errors.New("app: config is required")
	}
	if opts.Store == nil {
		return nil, errors.New("app: store is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = NewLogger(opts.Config)
	}
	registry := opts.Registry
	if registry == nil {
		var err error
		if registry, err = rbac.LoadRegistry(opts.Config.PermissionCatalog); err != nil {
			return nil, err
		}
	}
	hasher := opts.Hasher
	if hasher == nil {
		hasher = users.BcryptHasher{}
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = observability.NewMetrics()
	}

	authorizer := rbac.NewAuthorizer(opts.Store, metrics)
	guard := rbac.NewGuard(rbac.PermAdminAccess, logger)
	rbacMiddleware := rbac.Middleware{Authorizer: authorizer, Logger: logger}

	rolesService := roles.NewService(opts.Store, registry, guard, opts.Audit, logger)
	usersService := users.NewService(opts.Store, registry, guard, hasher, opts.Audit, logger)
	authService := auth.NewService(opts.Store, hasher, authorizer)
	var (
		auditService *audit.Service
		auditHandler *audithttp.Handler
	)
	if opts.Timeline != nil {
		auditService = audit.NewService(opts.Timeline)
		auditHandler = audithttp.NewHandler(logger, auditService, rbacMiddleware)
	}

	var (
		sessions *shared.SessionManager
		csrf     *shared.CSRFManager
	)
	if opts.Redis != nil {
		sessions = shared.NewSessionManager(opts.Redis, opts.Config.SessionCookie, opts.Config.SessionSecret, opts.Config.SessionTTL, opts.Config.IsProduction())
		csrf = shared.NewCSRFManager(opts.Config.CSRFKey())
	}
	var tokens *auth.TokenIssuer
	if opts.Config.JWTSecret != "" {
		var err error
		if tokens, err = auth.NewTokenIssuer(opts.Config.JWTSecret, opts.Config.JWTTTL); err != nil {
			return nil, err
		}
	}

	handler := NewRouter(RouterParams{
		Logger:             logger,
		Config:             opts.Config,
		SessionManager:     sessions,
		CSRFManager:        csrf,
		Tokens:             tokens,
		AuthHandler:        auth.NewHandler(logger, authService, sessions, csrf, tokens),
		RolesHandler:       roles.NewHandler(logger, rolesService, rbacMiddleware),
		UsersHandler:       users.NewHandler(logger, usersService, rbacMiddleware),
		PermissionsHandler: rbac.NewPermissionsHandler(logger, registry, rbacMiddleware),
		AuditHandler:       auditHandler,
		RBACMiddleware:     rbacMiddleware,
		Metrics:            metrics,
		RequestLogging:     !InTestMode(),
	})

	return &Application{
		Config:     opts.Config,
		Logger:     logger,
		Registry:   registry,
		Authorizer: authorizer,
		Roles:      rolesService,
		Users:      usersService,
		Auth:       authService,
		Audit:      auditService,
		Metrics:    metrics,
		Handler:    handler,
	}, nil
}
