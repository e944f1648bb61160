// Package metadata holds the per-root metadata document, its wire codec and
// the in-memory cache that keeps it warm between scans.
package metadata

import (
	"maps"
	"time"
)

// MediaKind classifies a resolved folder.
type MediaKind string

// Known media kinds. Sentinel entries carry an empty kind.
const (
	KindMovie MediaKind = "movie"
	KindTV    MediaKind = "tv"
)

// FolderEntry is the resolved (or failed) metadata for one library folder.
type FolderEntry struct {
	CatalogID   int64     `json:"catalog_id"`
	Title       string    `json:"title"`
	PosterRef   *string   `json:"poster_ref"`
	ReleaseDate string    `json:"release_date"`
	Overview    string    `json:"overview"`
	Rating      float64   `json:"rating"`
	MediaKind   MediaKind `json:"media_kind"`
	LastUpdated time.Time `json:"last_updated"`
	Failed      bool      `json:"failed"`
}

// SentinelEntry returns the placeholder recorded for a folder whose catalog
// lookup did not produce a match.
func SentinelEntry(folder string, now time.Time) FolderEntry {
	return FolderEntry{
		Title:       folder,
		LastUpdated: now,
		Failed:      true,
	}
}

// Year returns the four-digit year of the release date, or "".
func (e FolderEntry) Year() string {
	if len(e.ReleaseDate) < 4 {
		return ""
	}
	return e.ReleaseDate[:4]
}

// Document is the durable metadata index for one root. Documents stored in
// the Cache are shared between readers and must not be mutated; writers
// work on a Clone.
type Document struct {
	Folders     map[string]FolderEntry `json:"folders"`
	LastRefresh time.Time              `json:"last_refresh"`
}

// New returns an empty document.
func New() *Document {
	return &Document{Folders: make(map[string]FolderEntry)}
}

// Clone returns a deep copy of d.
func (d *Document) Clone() *Document {
	c := &Document{
		Folders:     make(map[string]FolderEntry, len(d.Folders)),
		LastRefresh: d.LastRefresh,
	}
	maps.Copy(c.Folders, d.Folders)
	for name, e := range c.Folders {
		if e.PosterRef != nil {
			p := *e.PosterRef
			e.PosterRef = &p
			c.Folders[name] = e
		}
	}
	return c
}

// Entry returns the entry recorded for folder.
func (d *Document) Entry(folder string) (FolderEntry, bool) {
	e, ok := d.Folders[folder]
	return e, ok
}

// Counts returns the number of resolved and failed entries.
func (d *Document) Counts() (resolved, failed int) {
	for _, e := range d.Folders {
		if e.Failed {
			failed++
		} else {
			resolved++
		}
	}
	return resolved, failed
}
