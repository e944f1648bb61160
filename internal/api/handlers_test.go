package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sydlexius/reelsync/internal/auth"
	"github.com/sydlexius/reelsync/internal/catalog"
	"github.com/sydlexius/reelsync/internal/database"
	"github.com/sydlexius/reelsync/internal/detail"
	"github.com/sydlexius/reelsync/internal/encryption"
	"github.com/sydlexius/reelsync/internal/listing"
	"github.com/sydlexius/reelsync/internal/logging"
	"github.com/sydlexius/reelsync/internal/maintenance"
	"github.com/sydlexius/reelsync/internal/metadata"
	"github.com/sydlexius/reelsync/internal/scanner"
	"github.com/sydlexius/reelsync/internal/settings"
	"github.com/sydlexius/reelsync/internal/store"
)

// fakeGateway serves listing, stream resolution and catalog lookups from
// fixed tables.
type fakeGateway struct {
	mu      sync.Mutex
	dirs    map[string][]listing.Entry
	matches map[string]*catalog.Match
	raw     map[string]string
	block   chan struct{}
}

func (g *fakeGateway) List(ctx context.Context, dir string) ([]listing.Entry, error) {
	g.mu.Lock()
	block := g.block
	entries, ok := g.dirs[dir]
	g.mu.Unlock()
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if !ok {
		return nil, &listing.ErrStatus{Path: dir, StatusCode: http.StatusInternalServerError, Message: "object not found"}
	}
	return entries, nil
}

func (g *fakeGateway) RawURL(_ context.Context, filePath string) (string, error) {
	if u, ok := g.raw[filePath]; ok {
		return u, nil
	}
	return "", &listing.ErrStatus{Path: filePath, StatusCode: http.StatusNotFound, Message: "object not found"}
}

func (g *fakeGateway) Search(_ context.Context, query string) (*catalog.Match, error) {
	if m, ok := g.matches[query]; ok {
		c := *m
		return &c, nil
	}
	return nil, &catalog.ErrNoMatch{Query: query}
}

func (g *fakeGateway) Lister(settings.Settings) (listing.Lister, error)     { return g, nil }
func (g *fakeGateway) Resolver(settings.Settings) (listing.Resolver, error) { return g, nil }
func (g *fakeGateway) Searcher(settings.Settings) (catalog.Searcher, error) { return g, nil }

type testEnv struct {
	router   *Router
	handler  http.Handler
	auth     *auth.Service
	store    *store.Service
	settings *settings.Service
	scanner  *scanner.Service
	gateway  *fakeGateway
	logs     *logging.Manager
	token    string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	return newTestEnvAt(t, "")
}

// newTestEnvAt mounts the API under basePath.
func newTestEnvAt(t *testing.T, basePath string) *testEnv {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("opening test db: %v", err)
	}
	if err := database.Migrate(db); err != nil {
		t.Fatalf("running migrations: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	enc, _, err := encryption.NewEncryptor("")
	if err != nil {
		t.Fatalf("creating encryptor: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	st := store.NewService(db)
	settingsSvc := settings.NewService(st, enc, settings.Settings{
		Root:         "/",
		ImageBaseURL: "https://image.tmdb.org/t/p/w500",
	})
	loader := metadata.NewLoader(metadata.NewCache(), st, store.KeyMetadataDocument, logger)
	poster := "/inception.jpg"
	gw := &fakeGateway{
		dirs: map[string][]listing.Entry{
			"/": {
				{Name: "Inception (2010)", IsDir: true},
				{Name: "readme.txt"},
			},
			"/Inception (2010)": {
				{Name: "Inception.mkv", Size: 4 << 30},
			},
		},
		matches: map[string]*catalog.Match{
			"Inception (2010)": {ID: 27205, Title: "Inception", PosterPath: &poster, ReleaseDate: "2010-07-15", Rating: 8.4, MediaType: catalog.MediaMovie},
		},
		raw: map[string]string{"/Inception (2010)/Inception.mkv": "https://cdn.example.com/inception.mkv"},
	}
	scannerSvc := scanner.NewService(scanner.Deps{
		Loader:      loader,
		Store:       st,
		Registry:    scanner.NewRegistry(scanner.DefaultRetention),
		Settings:    settingsSvc,
		Gateways:    gw,
		Logger:      logger,
		BaseContext: ctx,
	})
	t.Cleanup(scannerSvc.Wait)
	t.Cleanup(cancel)

	logMgr, _ := logging.NewManager(logging.DefaultConfig())
	t.Cleanup(func() { _ = logMgr.Close() })

	maint := maintenance.NewService(db, st, maintenance.Options{
		DBPath:      ":memory:",
		BackupDir:   filepath.Join(t.TempDir(), "backups"),
		Retention:   2,
		DocumentKey: store.KeyMetadataDocument,
	}, logger)

	authSvc := auth.NewService(db)
	r := NewRouter(RouterDeps{
		AuthService:            authSvc,
		ScannerService:         scannerSvc,
		DetailService:          detail.NewService(loader, settingsSvc, gw, logger, detail.WithBasePath(basePath)),
		SettingsService:        settingsSvc,
		MaintenanceService:     maint,
		Store:                  st,
		Loader:                 loader,
		LogManager:             logMgr,
		Logger:                 logger,
		BasePath:               basePath,
		LoginAttemptsPerMinute: 100,
	})

	env := &testEnv{
		router:   r,
		handler:  r.Handler(ctx),
		auth:     authSvc,
		store:    st,
		settings: settingsSvc,
		scanner:  scannerSvc,
		gateway:  gw,
		logs:     logMgr,
	}

	if _, err := authSvc.Setup(context.Background(), "admin", "correct-horse"); err != nil {
		t.Fatalf("setup: %v", err)
	}
	env.token, err = authSvc.Login(context.Background(), "admin", "correct-horse")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	return env
}

func (e *testEnv) configure(t *testing.T) {
	t.Helper()
	url, key := "https://alist.example.com", "tmdb-key"
	if err := e.settings.Apply(context.Background(), settings.Update{ListingURL: &url, CatalogAPIKey: &key}); err != nil {
		t.Fatalf("applying settings: %v", err)
	}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		rdr = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, rdr)
	req.RemoteAddr = "192.0.2.10:5000"
	if e.token != "" {
		req.Header.Set("Authorization", "Bearer "+e.token)
	}
	w := httptest.NewRecorder()
	e.handler.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(w.Body).Decode(&v); err != nil {
		t.Fatalf("decoding response %q: %v", w.Body.String(), err)
	}
	return v
}

func (e *testEnv) waitTask(t *testing.T, id string) scanner.Task {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		w := e.do(t, http.MethodGet, "/api/v1/scan/"+id, nil)
		if w.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200", w.Code)
		}
		task := decode[scanner.Task](t, w)
		if task.Terminal() {
			return task
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("task %s did not finish", id)
	return scanner.Task{}
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)
	env.token = ""
	w := env.do(t, http.MethodGet, "/api/v1/health", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	body := decode[map[string]string](t, w)
	if body["status"] != "ok" {
		t.Errorf("status = %q", body["status"])
	}
	if w.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Error("security headers missing")
	}
}

func TestSetup_AlreadyDone(t *testing.T) {
	env := newTestEnv(t)
	w := env.do(t, http.MethodPost, "/api/v1/auth/setup", credentials{Username: "other", Password: "long-enough"})
	if w.Code != http.StatusConflict {
		t.Errorf("status = %d, want 409", w.Code)
	}
}

func TestLoginLogout(t *testing.T) {
	env := newTestEnv(t)
	env.token = ""

	w := env.do(t, http.MethodPost, "/api/v1/auth/login", credentials{Username: "admin", Password: "wrong-password"})
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("bad login status = %d, want 401", w.Code)
	}

	w = env.do(t, http.MethodPost, "/api/v1/auth/login", credentials{Username: "admin", Password: "correct-horse"})
	if w.Code != http.StatusOK {
		t.Fatalf("login status = %d, want 200", w.Code)
	}
	var cookie *http.Cookie
	for _, c := range w.Result().Cookies() {
		if c.Name == "session" {
			cookie = c
		}
	}
	if cookie == nil || !cookie.HttpOnly {
		t.Fatalf("session cookie = %+v, want HttpOnly cookie", cookie)
	}
	body := decode[map[string]string](t, w)
	env.token = body["token"]

	w = env.do(t, http.MethodGet, "/api/v1/auth/me", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("me status = %d, want 200", w.Code)
	}
	if u := decode[auth.User](t, w); u.Username != "admin" {
		t.Errorf("username = %q, want admin", u.Username)
	}

	if w = env.do(t, http.MethodPost, "/api/v1/auth/logout", nil); w.Code != http.StatusOK {
		t.Fatalf("logout status = %d, want 200", w.Code)
	}
	if w = env.do(t, http.MethodGet, "/api/v1/auth/me", nil); w.Code != http.StatusUnauthorized {
		t.Errorf("me after logout status = %d, want 401", w.Code)
	}
}

func TestProtectedRoutesRequireSession(t *testing.T) {
	env := newTestEnv(t)
	env.token = ""
	for _, path := range []string{"/api/v1/library", "/api/v1/settings", "/api/v1/scan/abc"} {
		if w := env.do(t, http.MethodGet, path, nil); w.Code != http.StatusUnauthorized {
			t.Errorf("GET %s status = %d, want 401", path, w.Code)
		}
	}
}

func TestScanTrigger_NotConfigured(t *testing.T) {
	env := newTestEnv(t)
	w := env.do(t, http.MethodPost, "/api/v1/scan", nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
	if !strings.Contains(w.Body.String(), "not configured") {
		t.Errorf("body = %s", w.Body.String())
	}
}

func TestScanThenLibraryAndDetail(t *testing.T) {
	env := newTestEnv(t)
	env.configure(t)

	w := env.do(t, http.MethodPost, "/api/v1/scan", nil)
	if w.Code != http.StatusAccepted {
		t.Fatalf("trigger status = %d, want 202: %s", w.Code, w.Body.String())
	}
	id := decode[map[string]string](t, w)["task_id"]
	if id == "" {
		t.Fatal("empty task id")
	}

	task := env.waitTask(t, id)
	if task.Status != scanner.StatusCompleted {
		t.Fatalf("task status = %s, error = %v", task.Status, task.Error)
	}
	want := scanner.Summary{Total: 1, New: 1}
	if task.Result == nil || *task.Result != want {
		t.Fatalf("result = %+v, want %+v", task.Result, want)
	}

	w = env.do(t, http.MethodGet, "/api/v1/library", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("library status = %d", w.Code)
	}
	lib := decode[libraryResponse](t, w)
	if lib.ResourceCount != 1 || lib.Resolved != 1 || lib.LastRefresh == nil {
		t.Errorf("library = %+v", lib)
	}
	if len(lib.Folders) != 1 {
		t.Fatalf("folders = %+v", lib.Folders)
	}
	f := lib.Folders[0]
	if f.Folder != "Inception (2010)" || f.Year != "2010" || f.PosterURL != "https://image.tmdb.org/t/p/w500/inception.jpg" {
		t.Errorf("folder = %+v", f)
	}

	w = env.do(t, http.MethodGet, "/api/v1/library/"+"Inception%20%282010%29", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("detail status = %d: %s", w.Code, w.Body.String())
	}
	d := decode[detail.Detail](t, w)
	if d.Title != "Inception" || len(d.Items) != 1 || d.Items[0].Name != "Inception.mkv" {
		t.Errorf("detail = %+v", d)
	}
}

func TestScanTrigger_Overlap(t *testing.T) {
	env := newTestEnv(t)
	env.configure(t)
	release := make(chan struct{})
	env.gateway.mu.Lock()
	env.gateway.block = release
	env.gateway.mu.Unlock()

	w := env.do(t, http.MethodPost, "/api/v1/scan", nil)
	if w.Code != http.StatusAccepted {
		t.Fatalf("first trigger status = %d", w.Code)
	}
	first := decode[map[string]string](t, w)["task_id"]

	w = env.do(t, http.MethodPost, "/api/v1/scan", nil)
	if w.Code != http.StatusConflict {
		t.Fatalf("second trigger status = %d, want 409", w.Code)
	}
	if got := decode[map[string]string](t, w)["task_id"]; got != first {
		t.Errorf("conflict task_id = %q, want %q", got, first)
	}

	close(release)
	env.waitTask(t, first)
}

func TestScanStatus_NotFound(t *testing.T) {
	env := newTestEnv(t)
	if w := env.do(t, http.MethodGet, "/api/v1/scan/does-not-exist", nil); w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

func TestLibrary_Empty(t *testing.T) {
	env := newTestEnv(t)
	w := env.do(t, http.MethodGet, "/api/v1/library", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	lib := decode[libraryResponse](t, w)
	if len(lib.Folders) != 0 || lib.LastRefresh != nil {
		t.Errorf("library = %+v", lib)
	}
}

func TestFolderDetail_ListingError(t *testing.T) {
	env := newTestEnv(t)
	if w := env.do(t, http.MethodGet, "/api/v1/library/Missing", nil); w.Code != http.StatusBadGateway {
		t.Errorf("status = %d, want 502", w.Code)
	}
}

func TestStream(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodGet, "/api/v1/stream?path=/Inception%20(2010)/Inception.mkv", nil)
	if w.Code != http.StatusFound {
		t.Fatalf("status = %d, want 302: %s", w.Code, w.Body.String())
	}
	if loc := w.Header().Get("Location"); loc != "https://cdn.example.com/inception.mkv" {
		t.Errorf("Location = %q", loc)
	}

	if w = env.do(t, http.MethodGet, "/api/v1/stream?path=/Inception%20(2010)/gone.mkv", nil); w.Code != http.StatusNotFound {
		t.Errorf("missing file status = %d, want 404", w.Code)
	}
	if w = env.do(t, http.MethodGet, "/api/v1/stream", nil); w.Code != http.StatusBadRequest {
		t.Errorf("empty path status = %d, want 400", w.Code)
	}
}

func TestSettings_RoundTrip(t *testing.T) {
	env := newTestEnv(t)

	url, key, level := "https://alist.example.com", "tmdb-secret", "debug"
	w := env.do(t, http.MethodPut, "/api/v1/settings", settingsRequest{
		Update:   settings.Update{ListingURL: &url, CatalogAPIKey: &key},
		LogLevel: &level,
	})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	got := decode[settingsResponse](t, w)
	if got.ListingURL != url {
		t.Errorf("listing_url = %q", got.ListingURL)
	}
	if got.CatalogAPIKey == key || got.CatalogAPIKey == "" {
		t.Errorf("catalog_api_key = %q, want masked", got.CatalogAPIKey)
	}
	if got.LogLevel != "debug" {
		t.Errorf("log_level = %q, want debug", got.LogLevel)
	}

	stored, ok, err := env.store.GetGlobalValue(context.Background(), KeyLogLevel)
	if err != nil || !ok || stored != "debug" {
		t.Errorf("stored level = %q, %v, %v", stored, ok, err)
	}

	s, err := env.settings.Get(context.Background())
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if s.CatalogAPIKey != key {
		t.Errorf("decrypted key = %q, want %q", s.CatalogAPIKey, key)
	}
}

func TestSettings_InvalidInput(t *testing.T) {
	env := newTestEnv(t)
	level := "loud"
	if w := env.do(t, http.MethodPut, "/api/v1/settings", settingsRequest{LogLevel: &level}); w.Code != http.StatusBadRequest {
		t.Errorf("bad level status = %d, want 400", w.Code)
	}

	req := httptest.NewRequest(http.MethodPut, "/api/v1/settings", strings.NewReader(`{"unknown_field": 1}`))
	req.Header.Set("Authorization", "Bearer "+env.token)
	w := httptest.NewRecorder()
	env.handler.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Errorf("unknown field status = %d, want 400", w.Code)
	}
}

func TestMaintenance_BackupAndStatus(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodPost, "/api/v1/maintenance/backup", nil)
	if w.Code != http.StatusCreated {
		t.Fatalf("backup status = %d: %s", w.Code, w.Body.String())
	}
	snap := decode[maintenance.Snapshot](t, w)
	if snap.Filename == "" || snap.Size == 0 {
		t.Errorf("snapshot = %+v", snap)
	}

	if w = env.do(t, http.MethodPost, "/api/v1/maintenance/optimize", nil); w.Code != http.StatusOK {
		t.Fatalf("optimize status = %d: %s", w.Code, w.Body.String())
	}

	w = env.do(t, http.MethodGet, "/api/v1/maintenance", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	st := decode[maintenance.Status](t, w)
	if len(st.Snapshots) != 1 || st.LastBackupAt == "" || st.LastOptimizeAt == "" {
		t.Errorf("maintenance status = %+v", st)
	}
}

func TestFolderDetail_StreamRefUnderBasePath(t *testing.T) {
	env := newTestEnvAt(t, "/rs")

	w := env.do(t, http.MethodGet, "/rs/api/v1/library/Inception%20%282010%29", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("detail status = %d: %s", w.Code, w.Body.String())
	}
	d := decode[detail.Detail](t, w)
	if len(d.Items) != 1 {
		t.Fatalf("items = %+v", d.Items)
	}
	ref := d.Items[0].StreamRef
	if !strings.HasPrefix(ref, "/rs/api/v1/stream?") {
		t.Fatalf("StreamRef = %q, want it under the base path", ref)
	}

	w = env.do(t, http.MethodGet, ref, nil)
	if w.Code != http.StatusFound {
		t.Fatalf("following StreamRef: status = %d, want 302", w.Code)
	}
	if loc := w.Header().Get("Location"); loc != "https://cdn.example.com/inception.mkv" {
		t.Errorf("Location = %q", loc)
	}
}
