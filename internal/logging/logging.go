// Package logging builds the process logger: slog over JSON or text, a
// runtime-adjustable level, optional rotated file output and redaction of
// credentials that would otherwise leak through request URLs and attrs.
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"slices"
	"strings"
	"sync"
	"sync/atomic"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Redacted replaces secret values in log output.
const Redacted = "REDACTED"

// sensitiveKeys are attribute and query parameter names whose values are
// never logged.
var sensitiveKeys = map[string]bool{
	"api_key":       true,
	"token":         true,
	"password":      true,
	"authorization": true,
	"cookie":        true,
	"sign":          true,
}

// Config describes the desired logging configuration.
type Config struct {
	Level          string `yaml:"level" json:"level"`
	Format         string `yaml:"format" json:"format"`
	FilePath       string `yaml:"file_path" json:"file_path,omitempty"`
	FileMaxSizeMB  int    `yaml:"file_max_size_mb" json:"file_max_size_mb,omitempty"`
	FileMaxFiles   int    `yaml:"file_max_files" json:"file_max_files,omitempty"`
	FileMaxAgeDays int    `yaml:"file_max_age_days" json:"file_max_age_days,omitempty"`
}

// DefaultConfig returns JSON output at info level, no file.
func DefaultConfig() Config {
	return Config{
		Level:          "info",
		Format:         "json",
		FileMaxSizeMB:  100,
		FileMaxFiles:   3,
		FileMaxAgeDays: 30,
	}
}

func (c Config) String() string {
	s := fmt.Sprintf("level=%s format=%s", c.Level, c.Format)
	if c.FilePath != "" {
		s += fmt.Sprintf(" file=%s max_size=%dMB max_files=%d max_age=%dd",
			c.FilePath, c.FileMaxSizeMB, c.FileMaxFiles, c.FileMaxAgeDays)
	}
	return s
}

// Validate rejects unknown levels and formats.
func (c Config) Validate() error {
	if c.Level != "" && !ValidLevel(c.Level) {
		return fmt.Errorf("invalid log level %q", c.Level)
	}
	if c.Format != "" && !ValidFormat(c.Format) {
		return fmt.Errorf("invalid log format %q", c.Format)
	}
	return nil
}

// SwappableHandler delegates to an inner handler that can be replaced while
// loggers derived from it stay valid. Derived handlers share the parent's
// inner pointer and replay their WithAttrs/WithGroup chain onto whatever
// handler is current.
type SwappableHandler struct {
	inner *atomic.Pointer[slog.Handler]
	ops   []func(slog.Handler) slog.Handler
	built atomic.Pointer[builtHandler]
}

// builtHandler memoizes ops applied to one inner handler.
type builtHandler struct {
	base *slog.Handler
	h    slog.Handler
}

// NewSwappableHandler creates a SwappableHandler wrapping h.
func NewSwappableHandler(h slog.Handler) *SwappableHandler {
	s := &SwappableHandler{inner: &atomic.Pointer[slog.Handler]{}}
	s.inner.Store(&h)
	return s
}

// Swap replaces the inner handler for s and every handler derived from it.
func (s *SwappableHandler) Swap(h slog.Handler) {
	s.inner.Store(&h)
}

func (s *SwappableHandler) current() slog.Handler {
	base := s.inner.Load()
	if len(s.ops) == 0 {
		return *base
	}
	if b := s.built.Load(); b != nil && b.base == base {
		return b.h
	}
	h := *base
	for _, op := range s.ops {
		h = op(h)
	}
	s.built.Store(&builtHandler{base: base, h: h})
	return h
}

func (s *SwappableHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return s.current().Enabled(ctx, level)
}

func (s *SwappableHandler) Handle(ctx context.Context, r slog.Record) error {
	return s.current().Handle(ctx, r)
}

func (s *SwappableHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	if len(attrs) == 0 {
		return s
	}
	attrs = slices.Clone(attrs)
	return s.derive(func(h slog.Handler) slog.Handler { return h.WithAttrs(attrs) })
}

func (s *SwappableHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return s
	}
	return s.derive(func(h slog.Handler) slog.Handler { return h.WithGroup(name) })
}

func (s *SwappableHandler) derive(op func(slog.Handler) slog.Handler) *SwappableHandler {
	ops := make([]func(slog.Handler) slog.Handler, 0, len(s.ops)+1)
	ops = append(ops, s.ops...)
	return &SwappableHandler{inner: s.inner, ops: append(ops, op)}
}

// Manager owns the logger lifecycle.
type Manager struct {
	mu       sync.Mutex
	levelVar *slog.LevelVar
	handler  *SwappableHandler
	config   Config
	out      io.Writer
	closer   io.Closer
}

// NewManager creates a Manager writing to stdout (plus the configured file)
// and returns it with a ready logger.
func NewManager(cfg Config) (*Manager, *slog.Logger) {
	return newManager(cfg, os.Stdout)
}

func newManager(cfg Config, out io.Writer) (*Manager, *slog.Logger) {
	lvl := &slog.LevelVar{}
	lvl.Set(parseLevel(cfg.Level))

	w, closer := buildWriter(cfg, out)
	m := &Manager{
		levelVar: lvl,
		handler:  NewSwappableHandler(buildHandler(w, lvl, cfg.Format)),
		config:   cfg,
		out:      out,
		closer:   closer,
	}
	return m, slog.New(m.handler)
}

// Reconfigure applies cfg. A level change is instant; format or file changes
// rebuild the handler.
func (m *Manager) Reconfigure(cfg Config) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.levelVar.Set(parseLevel(cfg.Level))

	rebuild := cfg.Format != m.config.Format ||
		cfg.FilePath != m.config.FilePath ||
		cfg.FileMaxSizeMB != m.config.FileMaxSizeMB ||
		cfg.FileMaxFiles != m.config.FileMaxFiles ||
		cfg.FileMaxAgeDays != m.config.FileMaxAgeDays
	if rebuild {
		if m.closer != nil {
			m.closer.Close() //nolint:errcheck
			m.closer = nil
		}
		w, closer := buildWriter(cfg, m.out)
		m.handler.Swap(buildHandler(w, m.levelVar, cfg.Format))
		m.closer = closer
	}
	m.config = cfg
}

// SetLevel changes only the level.
func (m *Manager) SetLevel(level string) error {
	if !ValidLevel(level) {
		return fmt.Errorf("invalid log level %q", level)
	}
	cfg := m.Config()
	cfg.Level = level
	m.Reconfigure(cfg)
	return nil
}

// Config returns the current configuration.
func (m *Manager) Config() Config {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.config
}

// Close releases the log file, if any. It is safe to call more than once.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closer == nil {
		return nil
	}
	err := m.closer.Close()
	m.closer = nil
	return err
}

// ScrubURL returns raw with the values of sensitive query parameters
// replaced. Unparseable input is returned without its query string.
func ScrubURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		if i := strings.IndexByte(raw, '?'); i >= 0 {
			return raw[:i]
		}
		return raw
	}
	if u.RawQuery == "" {
		return raw
	}
	q := u.Query()
	changed := false
	for k := range q {
		if sensitiveKeys[strings.ToLower(k)] {
			q.Set(k, Redacted)
			changed = true
		}
	}
	if !changed {
		return raw
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// redact hides sensitive attribute values.
func redact(_ []string, a slog.Attr) slog.Attr {
	if sensitiveKeys[strings.ToLower(a.Key)] {
		return slog.String(a.Key, Redacted)
	}
	return a
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ValidLevel reports whether s is a recognized level name.
func ValidLevel(s string) bool {
	switch s {
	case "debug", "info", "warn", "error":
		return true
	}
	return false
}

// ValidFormat reports whether s is a recognized output format.
func ValidFormat(s string) bool {
	return s == "text" || s == "json"
}

// buildWriter tees out into a rotated file when one is configured.
func buildWriter(cfg Config, out io.Writer) (io.Writer, io.Closer) {
	if cfg.FilePath == "" {
		return out, nil
	}

	def := DefaultConfig()
	lj := &lumberjack.Logger{
		Filename:   cfg.FilePath,
		MaxSize:    positiveOr(cfg.FileMaxSizeMB, def.FileMaxSizeMB),
		MaxBackups: positiveOr(cfg.FileMaxFiles, def.FileMaxFiles),
		MaxAge:     positiveOr(cfg.FileMaxAgeDays, def.FileMaxAgeDays),
	}
	return io.MultiWriter(out, lj), lj
}

func buildHandler(w io.Writer, leveler slog.Leveler, format string) slog.Handler {
	opts := &slog.HandlerOptions{Level: leveler, ReplaceAttr: redact}
	if format == "text" {
		return slog.NewTextHandler(w, opts)
	}
	return slog.NewJSONHandler(w, opts)
}

func positiveOr(v, fallback int) int {
	if v > 0 {
		return v
	}
	return fallback
}
