// Package config loads process configuration from a YAML file and RS_*
// environment variables. Values that can be edited at runtime are only
// defaults here; the settings table overrides them.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/sydlexius/reelsync/internal/logging"
	"github.com/sydlexius/reelsync/internal/settings"
)

// DefaultPath is used when RS_CONFIG_PATH is unset.
const DefaultPath = "/data/config.yaml"

// Config holds all application configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	Encryption EncryptionConfig `yaml:"encryption"`
	Listing    ListingConfig    `yaml:"listing"`
	Catalog    CatalogConfig    `yaml:"catalog"`
	Scan        ScanConfig        `yaml:"scan"`
	Maintenance MaintenanceConfig `yaml:"maintenance"`
	Logging     logging.Config    `yaml:"logging"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port     int    `yaml:"port"`
	BasePath string `yaml:"base_path"`
	// LoginAttemptsPerMinute bounds login attempts per client IP.
	LoginAttemptsPerMinute int `yaml:"login_attempts_per_minute"`
}

// DatabaseConfig holds SQLite settings.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// EncryptionConfig holds the key sealing stored secrets. When empty the key
// is read from (or generated into) encryption.key next to the database.
type EncryptionConfig struct {
	Key string `yaml:"key"`
}

// ListingConfig describes the remote file-listing service.
type ListingConfig struct {
	URL   string `yaml:"url"`
	Token string `yaml:"token"`
	Root  string `yaml:"root"`
}

// CatalogConfig describes the TMDB catalog.
type CatalogConfig struct {
	APIKey         string `yaml:"api_key"`
	Language       string `yaml:"language"`
	Proxy          string `yaml:"proxy"`
	ImageBaseURL   string `yaml:"image_base_url"`
	RequestDelayMS int    `yaml:"request_delay_ms"`
}

// ScanConfig controls scan scheduling and task bookkeeping.
type ScanConfig struct {
	IntervalHours    int  `yaml:"interval_hours"`
	RetryFailed      bool `yaml:"retry_failed"`
	RetentionMinutes int  `yaml:"retention_minutes"`
}

// MaintenanceConfig schedules database optimize and snapshot runs.
type MaintenanceConfig struct {
	IntervalHours int `yaml:"interval_hours"`
	// BackupDir defaults to "backups" next to the database.
	BackupDir       string `yaml:"backup_dir"`
	BackupRetention int    `yaml:"backup_retention"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:                   8080,
			LoginAttemptsPerMinute: 5,
		},
		Database: DatabaseConfig{
			Path: "/data/reelsync.db",
		},
		Listing: ListingConfig{
			Root: "/",
		},
		Catalog: CatalogConfig{
			Language:       "zh-CN",
			ImageBaseURL:   "https://image.tmdb.org/t/p/w500",
			RequestDelayMS: 250,
		},
		Scan: ScanConfig{
			RetentionMinutes: 60,
		},
		Maintenance: MaintenanceConfig{
			IntervalHours:   24,
			BackupRetention: 7,
		},
		Logging: logging.DefaultConfig(),
	}
}

// Load reads the YAML file at path (a missing file is fine), then applies
// environment overrides and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if err := cfg.loadFromFile(path); err != nil {
			return nil, fmt.Errorf("loading config file: %w", err)
		}
	}

	cfg.loadFromEnv()

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

// PathFromEnv returns RS_CONFIG_PATH or DefaultPath.
func PathFromEnv() string {
	if v := os.Getenv("RS_CONFIG_PATH"); v != "" {
		return v
	}
	return DefaultPath
}

// SettingsDefaults maps the file values onto runtime settings defaults.
func (c *Config) SettingsDefaults() settings.Settings {
	return settings.Settings{
		ListingURL:      c.Listing.URL,
		ListingToken:    c.Listing.Token,
		Root:            c.Listing.Root,
		CatalogAPIKey:   c.Catalog.APIKey,
		CatalogLanguage: c.Catalog.Language,
		CatalogProxy:    c.Catalog.Proxy,
		ImageBaseURL:    c.Catalog.ImageBaseURL,
		RequestDelay:    time.Duration(c.Catalog.RequestDelayMS) * time.Millisecond,
		RetryFailed:     c.Scan.RetryFailed,
	}
}

// ScanInterval is the scheduled scan period; zero disables scheduling.
func (c *Config) ScanInterval() time.Duration {
	return time.Duration(c.Scan.IntervalHours) * time.Hour
}

// MaintenanceInterval is the optimize/backup period; zero disables it.
func (c *Config) MaintenanceInterval() time.Duration {
	return time.Duration(c.Maintenance.IntervalHours) * time.Hour
}

// BackupDir returns the snapshot directory.
func (c *Config) BackupDir() string {
	if c.Maintenance.BackupDir != "" {
		return c.Maintenance.BackupDir
	}
	return filepath.Join(filepath.Dir(c.Database.Path), "backups")
}

// TaskRetention is how long finished scan tasks stay queryable.
func (c *Config) TaskRetention() time.Duration {
	return time.Duration(c.Scan.RetentionMinutes) * time.Minute
}

func (c *Config) loadFromFile(path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // G304: operator-supplied config path
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return yaml.Unmarshal(data, c)
}

func (c *Config) loadFromEnv() {
	envInt("RS_PORT", &c.Server.Port)
	envString("RS_BASE_PATH", &c.Server.BasePath)
	envString("RS_DB_PATH", &c.Database.Path)
	envString("RS_ENCRYPTION_KEY", &c.Encryption.Key)
	envString("RS_LISTING_URL", &c.Listing.URL)
	envString("RS_LISTING_TOKEN", &c.Listing.Token)
	envString("RS_ROOT", &c.Listing.Root)
	envString("RS_TMDB_API_KEY", &c.Catalog.APIKey)
	envString("RS_TMDB_LANGUAGE", &c.Catalog.Language)
	envString("RS_TMDB_PROXY", &c.Catalog.Proxy)
	envInt("RS_TMDB_REQUEST_DELAY_MS", &c.Catalog.RequestDelayMS)
	envInt("RS_SCAN_INTERVAL_HOURS", &c.Scan.IntervalHours)
	if v := os.Getenv("RS_SCAN_RETRY_FAILED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Scan.RetryFailed = b
		}
	}
	envInt("RS_MAINTENANCE_INTERVAL_HOURS", &c.Maintenance.IntervalHours)
	envString("RS_BACKUP_DIR", &c.Maintenance.BackupDir)
	envInt("RS_BACKUP_RETENTION", &c.Maintenance.BackupRetention)
	envString("RS_LOG_LEVEL", &c.Logging.Level)
	envString("RS_LOG_FORMAT", &c.Logging.Format)
	envString("RS_LOG_FILE", &c.Logging.FilePath)
}

func envString(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func envInt(key string, dst *int) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func (c *Config) validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Server.Port)
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database path is required")
	}
	if c.Catalog.RequestDelayMS < 0 {
		return fmt.Errorf("catalog request delay must not be negative: %d", c.Catalog.RequestDelayMS)
	}
	if c.Scan.IntervalHours < 0 {
		return fmt.Errorf("scan interval must not be negative: %d", c.Scan.IntervalHours)
	}
	if c.Maintenance.IntervalHours < 0 {
		return fmt.Errorf("maintenance interval must not be negative: %d", c.Maintenance.IntervalHours)
	}
	if c.Maintenance.BackupRetention < 1 {
		c.Maintenance.BackupRetention = 1
	}
	if c.Server.LoginAttemptsPerMinute <= 0 {
		c.Server.LoginAttemptsPerMinute = 5
	}
	if err := c.Logging.Validate(); err != nil {
		return err
	}
	c.Server.BasePath = strings.TrimRight(c.Server.BasePath, "/")
	if c.Listing.Root == "" {
		c.Listing.Root = "/"
	}
	return nil
}
