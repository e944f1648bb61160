// Package detail assembles the per-folder view: descriptive metadata from
// the cached document plus the live file listing with deferred stream
// references.
package detail

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"path"
	"sort"
	"strings"

	"github.com/sydlexius/reelsync/internal/catalog"
	"github.com/sydlexius/reelsync/internal/listing"
	"github.com/sydlexius/reelsync/internal/metadata"
	"github.com/sydlexius/reelsync/internal/settings"
)

// StreamPath is the API route that resolves a stream reference, relative to
// the HTTP base path.
const StreamPath = "/api/v1/stream"

// ErrInvalidFolder is returned for folder names that are empty or try to
// escape the library root.
var ErrInvalidFolder = errors.New("invalid folder name")

// ErrInvalidPath is returned by Resolve for paths outside the library root.
var ErrInvalidPath = errors.New("invalid stream path")

var videoExtensions = map[string]bool{
	".mkv": true, ".mp4": true, ".avi": true, ".mov": true, ".wmv": true,
	".flv": true, ".m4v": true, ".ts": true, ".m2ts": true, ".webm": true,
	".rmvb": true, ".mpg": true, ".mpeg": true, ".iso": true,
}

// Item is one playable file.
type Item struct {
	Name   string `json:"name"`
	Path   string `json:"path"`
	Size   int64  `json:"size"`
	Season string `json:"season,omitempty"`
	// StreamRef is resolved to a raw URL only when requested.
	StreamRef string `json:"stream_ref"`
}

// Detail is the assembled view of one folder.
type Detail struct {
	Folder      string             `json:"folder"`
	Title       string             `json:"title"`
	Year        string             `json:"year"`
	ReleaseDate string             `json:"release_date"`
	Overview    string             `json:"overview"`
	Rating      float64            `json:"rating"`
	MediaKind   metadata.MediaKind `json:"media_kind"`
	CatalogID   int64              `json:"catalog_id"`
	PosterURL   string             `json:"poster_url"`
	Known       bool               `json:"known"`
	Failed      bool               `json:"failed"`
	Items       []Item             `json:"items"`
}

// SettingsSource provides the effective runtime settings.
type SettingsSource interface {
	Get(ctx context.Context) (settings.Settings, error)
}

// Gateways builds listing clients from settings.
type Gateways interface {
	Lister(s settings.Settings) (listing.Lister, error)
	Resolver(s settings.Settings) (listing.Resolver, error)
}

// DocumentLoader returns the metadata document for a root.
type DocumentLoader interface {
	Load(ctx context.Context, root string) (*metadata.Document, error)
}

// Service assembles folder details.
type Service struct {
	loader   DocumentLoader
	settings SettingsSource
	gateways Gateways
	// streamPath is the route stream references point at.
	streamPath string
	logger     *slog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithBasePath prefixes stream references with the HTTP base path the API
// is mounted under.
func WithBasePath(basePath string) Option {
	return func(s *Service) {
		s.streamPath = strings.TrimRight(basePath, "/") + StreamPath
	}
}

// NewService creates a detail service.
func NewService(loader DocumentLoader, settings SettingsSource, gateways Gateways, logger *slog.Logger, opts ...Option) *Service {
	s := &Service{
		loader:     loader,
		settings:   settings,
		gateways:   gateways,
		streamPath: StreamPath,
		logger:     logger.With(slog.String("component", "detail")),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Assemble builds the detail view for folder. A folder that has not been
// scanned yet is not an error: its descriptive fields are left empty and
// the title falls back to the folder name.
func (s *Service) Assemble(ctx context.Context, folder string) (*Detail, error) {
	if !validFolder(folder) {
		return nil, ErrInvalidFolder
	}
	cfg, err := s.settings.Get(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading settings: %w", err)
	}

	d := &Detail{Folder: folder, Title: folder, Items: []Item{}}

	doc, err := s.loader.Load(ctx, cfg.Root)
	if err != nil {
		s.logger.Warn("metadata unavailable, showing folder without details", "folder", folder, "error", err)
	} else if e, ok := doc.Entry(folder); ok {
		applyEntry(d, e, cfg.ImageBaseURL)
	}

	lister, err := s.gateways.Lister(cfg)
	if err != nil {
		return nil, err
	}
	folderPath := listing.Join(cfg.Root, folder)
	entries, err := lister.List(ctx, folderPath)
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", folderPath, err)
	}

	for _, e := range entries {
		if !e.IsDir {
			if isVideo(e.Name) {
				d.Items = append(d.Items, s.newItem(folderPath, e, ""))
			}
			continue
		}
		// Season folders are expanded one level deep.
		seasonPath := path.Join(folderPath, e.Name)
		children, err := lister.List(ctx, seasonPath)
		if err != nil {
			s.logger.Warn("listing season folder", "path", seasonPath, "error", err)
			continue
		}
		for _, c := range children {
			if !c.IsDir && isVideo(c.Name) {
				d.Items = append(d.Items, s.newItem(seasonPath, c, e.Name))
			}
		}
	}

	sort.SliceStable(d.Items, func(i, j int) bool {
		if d.Items[i].Season != d.Items[j].Season {
			return d.Items[i].Season < d.Items[j].Season
		}
		return d.Items[i].Name < d.Items[j].Name
	})
	return d, nil
}

// Resolve turns a stream reference path into a raw playable URL.
func (s *Service) Resolve(ctx context.Context, filePath string) (string, error) {
	cfg, err := s.settings.Get(ctx)
	if err != nil {
		return "", fmt.Errorf("loading settings: %w", err)
	}
	clean := path.Clean("/" + filePath)
	root := path.Clean("/" + cfg.Root)
	if filePath == "" || (root != "/" && !strings.HasPrefix(clean, root+"/")) {
		return "", ErrInvalidPath
	}

	resolver, err := s.gateways.Resolver(cfg)
	if err != nil {
		return "", err
	}
	return resolver.RawURL(ctx, clean)
}

func applyEntry(d *Detail, e metadata.FolderEntry, imageBase string) {
	d.Known = true
	d.Failed = e.Failed
	if e.Title != "" {
		d.Title = e.Title
	}
	d.Year = e.Year()
	d.ReleaseDate = e.ReleaseDate
	d.Overview = e.Overview
	d.Rating = e.Rating
	d.MediaKind = e.MediaKind
	d.CatalogID = e.CatalogID
	d.PosterURL = catalog.PosterURL(imageBase, e.PosterRef)
}

func (s *Service) newItem(dir string, e listing.Entry, season string) Item {
	p := path.Join(dir, e.Name)
	return Item{
		Name:      e.Name,
		Path:      p,
		Size:      e.Size,
		Season:    season,
		StreamRef: s.streamPath + "?path=" + url.QueryEscape(p),
	}
}

func isVideo(name string) bool {
	return videoExtensions[strings.ToLower(path.Ext(name))]
}

func validFolder(folder string) bool {
	if strings.TrimSpace(folder) == "" || folder == "." || folder == ".." {
		return false
	}
	return !strings.ContainsAny(folder, "/\\")
}
