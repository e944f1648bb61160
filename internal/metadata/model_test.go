package metadata

import (
	"testing"
	"time"
)

func TestClone_IsDeep(t *testing.T) {
	poster := "/a.jpg"
	doc := New()
	doc.Folders["A"] = FolderEntry{CatalogID: 1, Title: "A", PosterRef: &poster}

	c := doc.Clone()
	c.Folders["B"] = FolderEntry{Title: "B"}
	*c.Folders["A"].PosterRef = "/changed.jpg"

	if _, ok := doc.Folders["B"]; ok {
		t.Error("adding to clone leaked into original")
	}
	if *doc.Folders["A"].PosterRef != "/a.jpg" {
		t.Errorf("poster ref shared with clone: %s", *doc.Folders["A"].PosterRef)
	}
}

func TestSentinelEntry(t *testing.T) {
	now := time.Now().UTC()
	e := SentinelEntry("Some Folder", now)
	if !e.Failed {
		t.Error("sentinel must be failed")
	}
	if e.Title != "Some Folder" {
		t.Errorf("Title = %q", e.Title)
	}
	if e.CatalogID != 0 || e.PosterRef != nil || e.ReleaseDate != "" || e.Rating != 0 || e.MediaKind != "" {
		t.Errorf("sentinel has non-zero fields: %+v", e)
	}
	if !e.LastUpdated.Equal(now) {
		t.Errorf("LastUpdated = %v, want %v", e.LastUpdated, now)
	}
}

func TestYear(t *testing.T) {
	if y := (FolderEntry{ReleaseDate: "2010-07-15"}).Year(); y != "2010" {
		t.Errorf("Year = %q, want 2010", y)
	}
	if y := (FolderEntry{}).Year(); y != "" {
		t.Errorf("Year = %q, want empty", y)
	}
}

func TestCounts(t *testing.T) {
	doc := New()
	doc.Folders["a"] = FolderEntry{CatalogID: 1}
	doc.Folders["b"] = FolderEntry{CatalogID: 2}
	doc.Folders["c"] = SentinelEntry("c", time.Now())
	resolved, failed := doc.Counts()
	if resolved != 2 || failed != 1 {
		t.Errorf("Counts = (%d, %d), want (2, 1)", resolved, failed)
	}
}
