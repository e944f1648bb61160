package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"golang.org/x/term"

	"github.com/sydlexius/reelsync/internal/api"
	"github.com/sydlexius/reelsync/internal/auth"
	"github.com/sydlexius/reelsync/internal/config"
	"github.com/sydlexius/reelsync/internal/database"
	"github.com/sydlexius/reelsync/internal/detail"
	"github.com/sydlexius/reelsync/internal/encryption"
	"github.com/sydlexius/reelsync/internal/event"
	"github.com/sydlexius/reelsync/internal/gateway"
	"github.com/sydlexius/reelsync/internal/logging"
	"github.com/sydlexius/reelsync/internal/maintenance"
	"github.com/sydlexius/reelsync/internal/metadata"
	"github.com/sydlexius/reelsync/internal/scanner"
	"github.com/sydlexius/reelsync/internal/settings"
	"github.com/sydlexius/reelsync/internal/store"
	"github.com/sydlexius/reelsync/internal/version"
)

func main() {
	// Handle subcommands before starting the server
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "reset-credentials":
			if err := resetCredentials(os.Stdin, os.Stdout); err != nil {
				fmt.Fprintf(os.Stderr, "error: %v\n", err)
				os.Exit(1)
			}
			return
		case "version":
			fmt.Printf("reelsync %s (%s, %s)\n", version.Version, version.Commit, version.Date)
			return
		}
	}

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load(config.PathFromEnv())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logManager, logger := logging.NewManager(cfg.Logging)
	defer logManager.Close() //nolint:errcheck
	slog.SetDefault(logger)

	db, err := database.Open(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			logger.Error("closing database", "error", err)
		}
	}()

	if err := database.Migrate(db); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	logger.Info("database ready", slog.String("path", cfg.Database.Path))

	st := store.NewService(db)

	// A level saved through the settings API overrides the config file.
	if level, ok, err := st.GetGlobalValue(context.Background(), api.KeyLogLevel); err != nil {
		logger.Warn("reading stored log level", "error", err)
	} else if ok {
		if err := logManager.SetLevel(level); err != nil {
			logger.Warn("ignoring stored log level", "level", level, "error", err)
		} else {
			logger.Info("applied stored log level", "level", level)
		}
	}

	encKey, err := resolveEncryptionKey(cfg, logger)
	if err != nil {
		return fmt.Errorf("resolving encryption key: %w", err)
	}
	encryptor, _, err := encryption.NewEncryptor(encKey)
	if err != nil {
		return fmt.Errorf("creating encryptor: %w", err)
	}

	// Graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	eventBus := event.NewBus(logger, 256)
	for _, t := range event.AllTypes() {
		eventBus.Subscribe(t, event.LogHandler(logger))
	}
	go eventBus.Run(ctx)

	authService := auth.NewService(db)
	settingsService := settings.NewService(st, encryptor, cfg.SettingsDefaults())
	gateways := gateway.NewFactory(logger)
	loader := metadata.NewLoader(metadata.NewCache(), st, store.KeyMetadataDocument, logger)

	scannerService := scanner.NewService(scanner.Deps{
		Loader:      loader,
		Store:       st,
		Registry:    scanner.NewRegistry(cfg.TaskRetention()),
		Settings:    settingsService,
		Gateways:    gateways,
		Events:      eventBus,
		Logger:      logger,
		BaseContext: ctx,
	})
	detailService := detail.NewService(loader, settingsService, gateways, logger, detail.WithBasePath(cfg.Server.BasePath))
	maintenanceService := maintenance.NewService(db, st, maintenance.Options{
		DBPath:      cfg.Database.Path,
		BackupDir:   cfg.BackupDir(),
		Retention:   cfg.Maintenance.BackupRetention,
		DocumentKey: store.KeyMetadataDocument,
	}, logger)

	logger.Info("starting reelsync",
		slog.String("version", version.Version),
		slog.String("commit", version.Commit),
		slog.String("logging", logManager.Config().String()),
	)

	router := api.NewRouter(api.RouterDeps{
		AuthService:            authService,
		ScannerService:         scannerService,
		DetailService:          detailService,
		SettingsService:        settingsService,
		MaintenanceService:     maintenanceService,
		Store:                  st,
		Loader:                 loader,
		LogManager:             logManager,
		Logger:                 logger,
		BasePath:               cfg.Server.BasePath,
		LoginAttemptsPerMinute: cfg.Server.LoginAttemptsPerMinute,
	})

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           router.Handler(ctx),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	if interval := cfg.ScanInterval(); interval > 0 {
		scannerService.StartScheduler(ctx, interval)
	}
	maintenanceService.StartScheduler(ctx, cfg.MaintenanceInterval())

	// Start session cleanup goroutine
	go func() {
		ticker := time.NewTicker(1 * time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				n, err := authService.CleanExpiredSessions(ctx)
				if err != nil {
					logger.Error("session cleanup failed", "error", err)
					continue
				}
				if n > 0 {
					logger.Debug("removed expired sessions", "count", n)
				}
			}
		}
	}()

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("server starting", slog.String("addr", addr), slog.String("base_path", cfg.Server.BasePath))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-serverErr:
		stop()
		return fmt.Errorf("server: %w", err)
	}
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	err = srv.Shutdown(shutdownCtx)
	// Workers observe ctx and record their task as failed before exiting.
	scannerService.Wait()
	return err
}

// resolveEncryptionKey determines the encryption key to use.
// Priority: RS_ENCRYPTION_KEY > encryption.key next to the database > generate new.
func resolveEncryptionKey(cfg *config.Config, logger *slog.Logger) (string, error) {
	if cfg.Encryption.Key != "" {
		return cfg.Encryption.Key, nil
	}

	keyFile := filepath.Join(filepath.Dir(cfg.Database.Path), "encryption.key")
	key, created, err := encryption.LoadOrCreateKey(keyFile)
	if err != nil {
		return "", err
	}
	if created {
		logger.Warn("generated new encryption key -- back up this file", slog.String("path", keyFile))
	} else {
		logger.Debug("loaded encryption key from file", slog.String("path", keyFile))
	}
	return key, nil
}

// resetCredentials replaces the admin account and drops every session.
// It is an offline recovery operation for a forgotten password.
func resetCredentials(in *os.File, out io.Writer) error {
	cfg, err := config.Load(config.PathFromEnv())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	db, err := database.Open(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer db.Close() //nolint:errcheck

	if err := database.Migrate(db); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}

	reader := bufio.NewReader(in)
	fmt.Fprint(out, "New admin username: ")
	username, err := reader.ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("reading username: %w", err)
	}
	username = strings.TrimSpace(username)
	if username == "" {
		return errors.New("username must not be empty")
	}

	password, err := readPassword(in, reader, out)
	if err != nil {
		return err
	}

	if err := auth.NewService(db).ResetCredentials(context.Background(), username, password); err != nil {
		return fmt.Errorf("resetting credentials: %w", err)
	}

	fmt.Fprintln(out, "Credentials reset successfully.")
	fmt.Fprintln(out, "All sessions have been signed out.")
	return nil
}

// readPassword prompts without echo on a terminal and falls back to a plain
// line read when input is piped.
func readPassword(in *os.File, reader *bufio.Reader, out io.Writer) (string, error) {
	fmt.Fprint(out, "New admin password: ")
	fd := int(in.Fd()) //nolint:gosec // G115: file descriptors fit in int
	if !term.IsTerminal(fd) {
		line, err := reader.ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return "", fmt.Errorf("reading password: %w", err)
		}
		return strings.TrimRight(line, "\r\n"), nil
	}

	first, err := term.ReadPassword(fd)
	fmt.Fprintln(out)
	if err != nil {
		return "", fmt.Errorf("reading password: %w", err)
	}
	fmt.Fprint(out, "Confirm password: ")
	second, err := term.ReadPassword(fd)
	fmt.Fprintln(out)
	if err != nil {
		return "", fmt.Errorf("reading password: %w", err)
	}
	if string(first) != string(second) {
		return "", errors.New("passwords do not match")
	}
	return string(first), nil
}
