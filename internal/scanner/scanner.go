// Package scanner runs library scans: it lists the remote root, resolves
// unseen folders against the catalog and merges the results into the
// stored metadata document.
package scanner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/sydlexius/reelsync/internal/catalog"
	"github.com/sydlexius/reelsync/internal/event"
	"github.com/sydlexius/reelsync/internal/listing"
	"github.com/sydlexius/reelsync/internal/metadata"
	"github.com/sydlexius/reelsync/internal/settings"
	"github.com/sydlexius/reelsync/internal/store"
)

var (
	// ErrNotConfigured is returned by Trigger when required settings are
	// missing. No task is allocated.
	ErrNotConfigured = errors.New("scan not configured")
	// ErrScanInProgress is returned by Trigger when a scan of the same root
	// is pending or running.
	ErrScanInProgress = errors.New("scan already in progress")
)

// SettingsSource provides the effective runtime settings.
type SettingsSource interface {
	Get(ctx context.Context) (settings.Settings, error)
}

// Gateways builds the external clients for a scan.
type Gateways interface {
	Lister(s settings.Settings) (listing.Lister, error)
	Searcher(s settings.Settings) (catalog.Searcher, error)
}

// DocumentStore persists the metadata document and library statistics.
type DocumentStore interface {
	SetGlobalValue(ctx context.Context, key, value string) error
	SetGlobalValues(ctx context.Context, values map[string]string) error
}

// Job is one scan of one root.
type Job struct {
	TaskID   string
	Root     string
	Lister   listing.Lister
	Searcher catalog.Searcher
	// Delay is the fixed pause after every catalog lookup attempt.
	Delay time.Duration
	// RetryFailed re-queries folders whose entry is a failed sentinel.
	RetryFailed bool
}

// Deps holds the collaborators of a Service.
type Deps struct {
	Loader   *metadata.Loader
	Store    DocumentStore
	Registry *Registry
	Settings SettingsSource
	Gateways Gateways
	Events   event.Publisher
	Logger   *slog.Logger
	// BaseContext bounds every worker. It is canceled on shutdown.
	BaseContext context.Context
}

// Service triggers and runs scans.
type Service struct {
	loader   *metadata.Loader
	store    DocumentStore
	registry *Registry
	settings SettingsSource
	gateways Gateways
	events   event.Publisher
	logger   *slog.Logger
	baseCtx  context.Context

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error

	wg sync.WaitGroup
}

// NewService creates a scanner service.
func NewService(d Deps) *Service {
	if d.Registry == nil {
		d.Registry = NewRegistry(DefaultRetention)
	}
	if d.BaseContext == nil {
		d.BaseContext = context.Background()
	}
	return &Service{
		loader:   d.Loader,
		store:    d.Store,
		registry: d.Registry,
		settings: d.Settings,
		gateways: d.Gateways,
		events:   d.Events,
		logger:   d.Logger.With(slog.String("component", "scanner")),
		baseCtx:  d.BaseContext,
		now:      func() time.Time { return time.Now().UTC().Round(0) },
		sleep:    sleepContext,
	}
}

// Registry returns the task registry.
func (s *Service) Registry() *Registry { return s.registry }

// Task returns a snapshot of a scan task.
func (s *Service) Task(id string) (Task, bool) {
	return s.registry.Get(id)
}

// Wait blocks until all running workers have returned.
func (s *Service) Wait() {
	s.wg.Wait()
}

// Trigger starts a background scan of the configured root and returns the
// task ID immediately.
func (s *Service) Trigger(ctx context.Context) (string, error) {
	cfg, err := s.settings.Get(ctx)
	if err != nil {
		return "", fmt.Errorf("loading settings: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return "", fmt.Errorf("%w: %w", ErrNotConfigured, err)
	}

	lister, err := s.gateways.Lister(cfg)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrNotConfigured, err)
	}
	searcher, err := s.gateways.Searcher(cfg)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrNotConfigured, err)
	}

	id, err := s.registry.TryCreate(cfg.Root)
	if err != nil {
		return "", err
	}

	job := Job{
		TaskID:      id,
		Root:        cfg.Root,
		Lister:      lister,
		Searcher:    searcher,
		Delay:       cfg.RequestDelay,
		RetryFailed: cfg.RetryFailed,
	}
	s.wg.Add(1)
	go s.run(s.baseCtx, job)

	return id, nil
}

// run is the worker. A panic anywhere in the scan is recorded as a task
// failure here and nowhere else.
func (s *Service) run(ctx context.Context, job Job) {
	defer s.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			msg := fmt.Sprintf("scan panicked: %v", r)
			if err := s.registry.Fail(job.TaskID, msg); err != nil && !errors.Is(err, ErrTaskFinished) {
				s.logger.Error("recording scan failure", "task_id", job.TaskID, "error", err)
			}
			s.logger.Error("scan panicked", "task_id", job.TaskID, "root", job.Root, "panic", r)
			s.publish(event.ScanFailed, job, map[string]any{"error": msg})
		}
	}()

	s.logger.Info("scan started", "task_id", job.TaskID, "root", job.Root)
	s.publish(event.ScanStarted, job, nil)

	if err := s.RunScan(ctx, job); err != nil {
		s.logger.Error("scan failed", "task_id", job.TaskID, "root", job.Root, "error", err)
		s.publish(event.ScanFailed, job, map[string]any{"error": err.Error()})
		return
	}

	data := map[string]any{}
	if t, ok := s.registry.Get(job.TaskID); ok && t.Result != nil {
		data["total"] = t.Result.Total
		data["new"] = t.Result.New
		data["existing"] = t.Result.Existing
		data["errors"] = t.Result.Errors
	}
	s.publish(event.ScanCompleted, job, data)
}

func (s *Service) publish(t event.Type, job Job, data map[string]any) {
	if s.events == nil {
		return
	}
	if data == nil {
		data = map[string]any{}
	}
	data["task_id"] = job.TaskID
	data["root"] = job.Root
	s.events.Publish(event.Event{Type: t, Data: data})
}

// RunScan executes one scan synchronously and records the outcome on the
// task. Folders already present in the document are never looked up again
// (except failed ones when job.RetryFailed is set). Lookup failures are
// isolated to their folder; listing and store failures fail the task
// without writing a partial document.
func (s *Service) RunScan(ctx context.Context, job Job) error {
	fail := func(err error) error {
		if ferr := s.registry.Fail(job.TaskID, err.Error()); ferr != nil {
			s.logger.Warn("recording scan failure", "task_id", job.TaskID, "error", ferr)
		}
		return err
	}

	current, err := s.loader.Load(ctx, job.Root)
	if err != nil {
		return fail(fmt.Errorf("loading metadata: %w", err))
	}
	doc := current.Clone()

	entries, err := job.Lister.List(ctx, job.Root)
	if err != nil {
		return fail(fmt.Errorf("listing %s: %w", job.Root, err))
	}
	folders := listing.Dirs(entries)
	total := len(folders)
	s.registry.UpdateProgress(job.TaskID, 0, total, "")

	summary := Summary{Total: total}
	for i, f := range folders {
		if ctx.Err() != nil {
			return fail(errors.New("scan canceled"))
		}
		s.registry.UpdateProgress(job.TaskID, i+1, total, f.Name)

		if existing, ok := doc.Folders[f.Name]; ok && !(job.RetryFailed && existing.Failed) {
			summary.Existing++
			continue
		}

		pause := job.Delay
		m, err := job.Searcher.Search(ctx, catalog.QueryFromFolder(f.Name))
		now := s.now()
		if err == nil {
			doc.Folders[f.Name] = EntryFromMatch(f.Name, m, now)
			summary.New++
			s.logger.Debug("folder resolved", "folder", f.Name, "catalog_id", m.ID)
		} else {
			var noMatch *catalog.ErrNoMatch
			if errors.As(err, &noMatch) {
				s.logger.Info("no catalog match", "folder", f.Name)
			} else {
				s.logger.Warn("catalog lookup failed", "folder", f.Name, "error", err)
			}
			// Back off for as long as the catalog asked before the next lookup.
			var unavailable *catalog.ErrUnavailable
			if errors.As(err, &unavailable) && unavailable.RetryAfter > pause {
				pause = unavailable.RetryAfter
			}
			doc.Folders[f.Name] = metadata.SentinelEntry(f.Name, now)
			summary.Errors++
		}

		if err := s.sleep(ctx, pause); err != nil {
			return fail(errors.New("scan canceled"))
		}
	}

	doc.LastRefresh = s.now()
	raw, err := metadata.Encode(doc)
	if err != nil {
		return fail(fmt.Errorf("encoding metadata: %w", err))
	}
	if err := s.store.SetGlobalValue(ctx, s.loader.Key(), raw); err != nil {
		return fail(fmt.Errorf("saving metadata: %w", err))
	}

	cache := s.loader.Cache()
	cache.Invalidate(job.Root)
	cache.Set(job.Root, doc)

	stats := map[string]string{
		store.KeyLastRefreshTime: doc.LastRefresh.Format(time.RFC3339),
		store.KeyResourceCount:   strconv.Itoa(len(doc.Folders)),
	}
	if err := s.store.SetGlobalValues(ctx, stats); err != nil {
		return fail(fmt.Errorf("saving library stats: %w", err))
	}

	if err := s.registry.Complete(job.TaskID, summary); err != nil {
		return err
	}
	s.logger.Info("scan completed", "task_id", job.TaskID, "root", job.Root,
		"total", summary.Total, "new", summary.New,
		"existing", summary.Existing, "errors", summary.Errors)
	return nil
}

// EntryFromMatch converts a catalog match into a folder entry.
func EntryFromMatch(folder string, m *catalog.Match, now time.Time) metadata.FolderEntry {
	title := m.Title
	if title == "" {
		title = folder
	}
	var poster *string
	if m.PosterPath != nil {
		p := *m.PosterPath
		poster = &p
	}
	var kind metadata.MediaKind
	switch m.MediaType {
	case catalog.MediaMovie:
		kind = metadata.KindMovie
	case catalog.MediaTV:
		kind = metadata.KindTV
	}
	return metadata.FolderEntry{
		CatalogID:   m.ID,
		Title:       title,
		PosterRef:   poster,
		ReleaseDate: m.ReleaseDate,
		Overview:    m.Overview,
		Rating:      m.Rating,
		MediaKind:   kind,
		LastUpdated: now,
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
