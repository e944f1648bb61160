// Package api exposes the HTTP interface: authentication, scan trigger and
// polling, the library document, folder details, stream redirects and
// runtime settings.
package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/sydlexius/reelsync/internal/api/middleware"
	"github.com/sydlexius/reelsync/internal/auth"
	"github.com/sydlexius/reelsync/internal/detail"
	"github.com/sydlexius/reelsync/internal/logging"
	"github.com/sydlexius/reelsync/internal/maintenance"
	"github.com/sydlexius/reelsync/internal/metadata"
	"github.com/sydlexius/reelsync/internal/scanner"
	"github.com/sydlexius/reelsync/internal/settings"
	"github.com/sydlexius/reelsync/internal/store"
)

// RouterDeps bundles all dependencies needed by the HTTP router.
type RouterDeps struct {
	AuthService        *auth.Service
	ScannerService     *scanner.Service
	DetailService      *detail.Service
	SettingsService    *settings.Service
	MaintenanceService *maintenance.Service
	Store              *store.Service
	Loader             *metadata.Loader
	LogManager         *logging.Manager
	Logger             *slog.Logger
	BasePath           string
	// LoginAttemptsPerMinute bounds setup and login attempts per client IP.
	LoginAttemptsPerMinute int
}

// Router sets up all HTTP routes for the application.
type Router struct {
	authService        *auth.Service
	scannerService     *scanner.Service
	detailService      *detail.Service
	settingsService    *settings.Service
	maintenanceService *maintenance.Service
	store              *store.Service
	loader             *metadata.Loader
	logManager         *logging.Manager
	logger             *slog.Logger
	basePath           string
	loginPerMinute     int
}

// NewRouter creates a Router.
func NewRouter(deps RouterDeps) *Router {
	return &Router{
		authService:        deps.AuthService,
		scannerService:     deps.ScannerService,
		detailService:      deps.DetailService,
		settingsService:    deps.SettingsService,
		maintenanceService: deps.MaintenanceService,
		store:              deps.Store,
		loader:             deps.Loader,
		logManager:         deps.LogManager,
		logger:             deps.Logger.With(slog.String("component", "api")),
		basePath:           deps.BasePath,
		loginPerMinute:     deps.LoginAttemptsPerMinute,
	}
}

// Handler returns the fully configured HTTP handler. ctx bounds background
// work owned by the handler (rate limiter sweeps).
func (r *Router) Handler(ctx context.Context) http.Handler {
	authMw := middleware.Auth(r.authService)
	loginLimiter := middleware.NewLoginRateLimiter(ctx, r.loginPerMinute)
	mux := http.NewServeMux()
	bp := r.basePath + "/api/v1"

	// Public routes
	mux.HandleFunc("GET "+bp+"/health", r.handleHealth)
	mux.Handle("POST "+bp+"/auth/setup", loginLimiter.Middleware(http.HandlerFunc(r.handleSetup)))
	mux.Handle("POST "+bp+"/auth/login", loginLimiter.Middleware(http.HandlerFunc(r.handleLogin)))

	// Protected routes
	mux.HandleFunc("POST "+bp+"/auth/logout", wrapAuth(r.handleLogout, authMw))
	mux.HandleFunc("GET "+bp+"/auth/me", wrapAuth(r.handleMe, authMw))

	mux.HandleFunc("POST "+bp+"/scan", wrapAuth(r.handleScanTrigger, authMw))
	mux.HandleFunc("GET "+bp+"/scan/{id}", wrapAuth(r.handleScanStatus, authMw))

	mux.HandleFunc("GET "+bp+"/library", wrapAuth(r.handleLibrary, authMw))
	mux.HandleFunc("GET "+bp+"/library/{folder}", wrapAuth(r.handleFolderDetail, authMw))
	mux.HandleFunc("GET "+bp+"/stream", wrapAuth(r.handleStream, authMw))

	mux.HandleFunc("GET "+bp+"/settings", wrapAuth(r.handleGetSettings, authMw))
	mux.HandleFunc("PUT "+bp+"/settings", wrapAuth(r.handleUpdateSettings, authMw))

	mux.HandleFunc("GET "+bp+"/maintenance", wrapAuth(r.handleMaintenanceStatus, authMw))
	mux.HandleFunc("POST "+bp+"/maintenance/optimize", wrapAuth(r.handleOptimize, authMw))
	mux.HandleFunc("POST "+bp+"/maintenance/backup", wrapAuth(r.handleBackup, authMw))

	return middleware.Logging(r.logger)(middleware.SecurityHeaders(mux))
}

// wrapAuth wraps a handler function with auth middleware.
func wrapAuth(fn http.HandlerFunc, authMw func(http.Handler) http.Handler) http.HandlerFunc {
	return authMw(fn).ServeHTTP
}
