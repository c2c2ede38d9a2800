package app

import (
	"context"
	"fmt"

	"github.com/upb/auth-gateway/auth"
	"github.com/upb/auth-gateway/config"
	"github.com/upb/auth-gateway/handlers"
	"github.com/upb/auth-gateway/middleware"
	"github.com/upb/auth-gateway/repositories/postgres"
	"github.com/upb/auth-gateway/supabase"
	"go.uber.org/zap"
)

// Dependencies holds all application dependencies.
// This is the central wiring point for dependency injection.
type Dependencies struct {
	// Infrastructure
	Config *config.Config
	DB     *postgres.DB // nil unless SUPABASE_DB_URL is set
	Logger *zap.Logger

	// Identity provider
	Identity *supabase.Client

	// Auth
	authHandler    *auth.Handler
	AuthMiddleware *middleware.AuthMiddleware
}

// AuthHandler returns the auth handler for route wiring (implements handlers.AuthDeps)
func (d *Dependencies) AuthHandler() *auth.Handler {
	return d.authHandler
}

// ServiceLogger returns the application logger (implements handlers.AuthDeps)
func (d *Dependencies) ServiceLogger() *zap.Logger {
	return d.Logger
}

// HealthCheckers lists what the readiness check checks (implements handlers.ReadinessDeps)
func (d *Dependencies) HealthCheckers() map[string]handlers.HealthChecker {
	checkers := map[string]handlers.HealthChecker{
		"identity_provider": d.Identity,
	}
	if d.DB != nil {
		checkers["database"] = d.DB
	}
	return checkers
}

// NewDependencies creates and wires up all application dependencies.
func NewDependencies(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Dependencies, error) {
	deps := &Dependencies{
		Config: cfg,
		Logger: logger,
	}

	if err := deps.initDatabase(ctx, cfg); err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	deps.initAuth(cfg)

	logger.Info("all dependencies initialized successfully")
	return deps, nil
}

// initDatabase opens the optional Postgres pool used by the readiness check
func (d *Dependencies) initDatabase(ctx context.Context, cfg *config.Config) error {
	if !cfg.Database.Enabled() {
		d.Logger.Info("database not configured, readiness will skip it")
		return nil
	}

	db, err := postgres.NewDB(ctx, cfg.Database, d.Logger)
	if err != nil {
		return err
	}
	d.DB = db
	return nil
}

func (d *Dependencies) initAuth(cfg *config.Config) {
	if cfg.Supabase.URL == "" || cfg.Supabase.AnonKey == "" {
		// Calls still go through the client and fail as not configured
		d.Logger.Warn("identity provider not configured, auth endpoints will answer 503")
	}

	d.Identity = supabase.NewClient(cfg.Supabase, d.Logger)
	d.AuthMiddleware = middleware.NewAuthMiddleware(
		&identityValidatorAdapter{client: d.Identity},
		cfg.Auth.ExemptPaths,
		d.Logger,
	)
	d.authHandler = auth.NewHandler(d.Identity, d.Logger)
	d.Logger.Info("auth handler initialized",
		zap.Strings("exempt_paths", cfg.Auth.ExemptPaths))
}

// identityValidatorAdapter adapts supabase.Client to middleware.IdentityValidator
type identityValidatorAdapter struct {
	client *supabase.Client
}

func (a *identityValidatorAdapter) ValidateToken(ctx context.Context, token string) (*middleware.Identity, error) {
	identity, err := a.client.GetUserIdentity(ctx, token)
	if err != nil {
		return nil, err
	}
	return &middleware.Identity{
		UserID: identity.UserID,
		Email:  identity.Email,
	}, nil
}

// Close gracefully shuts down all dependencies
func (d *Dependencies) Close(ctx context.Context) error {
	d.Logger.Info("shutting down dependencies")

	var errs []error

	if d.DB != nil {
		if err := d.DB.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close database: %w", err))
		} else {
			d.Logger.Info("database connection closed")
		}
	}

	// Sync logger
	if d.Logger != nil {
		_ = d.Logger.Sync()
	}

	if len(errs) > 0 {
		return fmt.Errorf("errors during shutdown: %v", errs)
	}

	return nil
}
