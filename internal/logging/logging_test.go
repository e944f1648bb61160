package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNewManager_DefaultConfig(t *testing.T) {
	mgr, logger := newManager(DefaultConfig(), io.Discard)
	defer mgr.Close() //nolint:errcheck

	if logger == nil {
		t.Fatal("expected non-nil logger")
	}
	if got := mgr.Config(); got.Level != "info" || got.Format != "json" {
		t.Errorf("config = %+v", got)
	}
}

func TestManager_LevelChanges(t *testing.T) {
	mgr, logger := newManager(Config{Level: "info", Format: "json"}, io.Discard)
	defer mgr.Close() //nolint:errcheck
	ctx := context.Background()

	if !logger.Enabled(ctx, slog.LevelInfo) || logger.Enabled(ctx, slog.LevelDebug) {
		t.Fatal("info logger has wrong levels enabled")
	}

	if err := mgr.SetLevel("debug"); err != nil {
		t.Fatalf("SetLevel: %v", err)
	}
	if !logger.Enabled(ctx, slog.LevelDebug) {
		t.Error("debug not enabled after SetLevel")
	}

	derived := logger.With(slog.String("component", "scanner"))
	mgr.Reconfigure(Config{Level: "error", Format: "json"})
	if derived.Enabled(ctx, slog.LevelWarn) {
		t.Error("derived logger missed the level change")
	}

	if err := mgr.SetLevel("verbose"); err == nil {
		t.Error("expected error for unknown level")
	}
}

func TestManager_FormatSwapKeepsDerivedLoggers(t *testing.T) {
	var buf bytes.Buffer
	mgr, logger := newManager(Config{Level: "info", Format: "json"}, &buf)
	defer mgr.Close() //nolint:errcheck

	derived := logger.With(slog.String("component", "api"))
	derived.Info("first")
	if !strings.HasPrefix(buf.String(), "{") {
		t.Fatalf("expected JSON output, got %q", buf.String())
	}

	buf.Reset()
	mgr.Reconfigure(Config{Level: "info", Format: "text"})
	derived.Info("second")
	out := buf.String()
	if strings.HasPrefix(out, "{") || !strings.Contains(out, "msg=second") {
		t.Errorf("expected text output, got %q", out)
	}
	if !strings.Contains(out, "component=api") {
		t.Errorf("derived attrs lost after swap: %q", out)
	}
}

func TestSwappableHandler_DerivedFollowSwap(t *testing.T) {
	var first, second bytes.Buffer
	root := NewSwappableHandler(slog.NewJSONHandler(&first, nil))
	derived := slog.New(root).With(slog.String("component", "scanner")).WithGroup("scan")

	derived.Info("started", "task_id", "t1")
	if !strings.Contains(first.String(), `"scan":{"task_id":"t1"}`) {
		t.Fatalf("first handler output = %q", first.String())
	}

	root.Swap(slog.NewTextHandler(&second, nil))
	derived.Info("completed", "task_id", "t1")
	out := second.String()
	if !strings.Contains(out, "component=scanner") || !strings.Contains(out, "scan.task_id=t1") {
		t.Errorf("derived logger after swap wrote %q", out)
	}
	if strings.Contains(first.String(), "completed") {
		t.Error("derived logger kept writing to the replaced handler")
	}
}

func TestManager_FileOutput(t *testing.T) {
	logFile := filepath.Join(t.TempDir(), "reelsync.log")
	mgr, logger := newManager(Config{
		Level:          "info",
		Format:         "json",
		FilePath:       logFile,
		FileMaxSizeMB:  1,
		FileMaxFiles:   1,
		FileMaxAgeDays: 1,
	}, io.Discard)

	logger.Info("hello from test")
	if err := mgr.Close(); err != nil {
		t.Fatalf("closing manager: %v", err)
	}
	if err := mgr.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}

	data, err := os.ReadFile(logFile)
	if err != nil {
		t.Fatalf("reading log file: %v", err)
	}
	if !bytes.Contains(data, []byte("hello from test")) {
		t.Errorf("log file = %q", data)
	}
}

func TestRedactsSensitiveAttrs(t *testing.T) {
	var buf bytes.Buffer
	mgr, logger := newManager(Config{Level: "info", Format: "json"}, &buf)
	defer mgr.Close() //nolint:errcheck

	logger.Info("request", "api_key", "abc123", "Token", "t0k", "folder", "Inception (2010)")

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("decoding log line: %v", err)
	}
	if rec["api_key"] != Redacted || rec["Token"] != Redacted {
		t.Errorf("secrets not redacted: %v", rec)
	}
	if rec["folder"] != "Inception (2010)" {
		t.Errorf("folder = %v", rec["folder"])
	}
}

func TestScrubURL(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"/api/v1/library", "/api/v1/library"},
		{"/api/v1/stream?path=%2Fmedia%2Fa.mkv", "/api/v1/stream?path=%2Fmedia%2Fa.mkv"},
		{"https://api.themoviedb.org/3/search/multi?api_key=secret&query=x", "https://api.themoviedb.org/3/search/multi?api_key=REDACTED&query=x"},
		{"/login?password=hunter2", "/login?password=REDACTED"},
		{"%zz?token=abc", "%zz"},
	}
	for _, tt := range tests {
		if got := ScrubURL(tt.in); got != tt.want {
			t.Errorf("ScrubURL(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestConfigValidate(t *testing.T) {
	if err := (Config{Level: "debug", Format: "text"}).Validate(); err != nil {
		t.Errorf("valid config: %v", err)
	}
	if err := (Config{}).Validate(); err != nil {
		t.Errorf("empty config: %v", err)
	}
	if err := (Config{Level: "trace"}).Validate(); err == nil {
		t.Error("expected error for trace level")
	}
	if err := (Config{Format: "xml"}).Validate(); err == nil {
		t.Error("expected error for xml format")
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in  string
		out slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
		{"bogus", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := parseLevel(tt.in); got != tt.out {
			t.Errorf("parseLevel(%q) = %v, want %v", tt.in, got, tt.out)
		}
	}
}
