package metadata

import (
	"errors"
	"reflect"
	"testing"
	"time"
)

func TestParse_Empty(t *testing.T) {
	for _, in := range []string{"", "   ", "\n"} {
		doc, err := Parse(in)
		if err != nil {
			t.Errorf("Parse(%q): %v", in, err)
		}
		if doc == nil || len(doc.Folders) != 0 {
			t.Errorf("Parse(%q) = %+v, want empty document", in, doc)
		}
	}
}

func TestParse_NullFolders(t *testing.T) {
	doc, err := Parse(`{"folders": null, "last_refresh": "2026-03-01T10:00:00Z"}`)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(doc.Folders) != 0 {
		t.Errorf("expected no folders, got %d", len(doc.Folders))
	}
	if doc.LastRefresh.IsZero() {
		t.Error("expected last_refresh to be kept")
	}
}

func TestParse_InvalidFoldersResetsToEmpty(t *testing.T) {
	cases := []string{
		`{"folders": [1, 2, 3]}`,
		`{"folders": "oops"}`,
		`{"folders": {"Alien (1979)": "not an entry"}}`,
	}
	for _, in := range cases {
		doc, err := Parse(in)
		if !errors.Is(err, ErrMalformed) {
			t.Errorf("Parse(%s): err = %v, want ErrMalformed", in, err)
		}
		if doc == nil {
			t.Fatalf("Parse(%s) returned nil document", in)
		}
		if len(doc.Folders) != 0 {
			t.Errorf("Parse(%s): folders = %v, want empty", in, doc.Folders)
		}
	}
}

func TestParse_Garbage(t *testing.T) {
	doc, err := Parse(`not json at all`)
	if !errors.Is(err, ErrMalformed) {
		t.Errorf("err = %v, want ErrMalformed", err)
	}
	if doc == nil || doc.Folders == nil {
		t.Fatal("expected usable empty document")
	}
}

func TestEncodeParse_PreservesEntries(t *testing.T) {
	poster := "/qmDpIHrmpJINaRKAfWQfftjCdyi.jpg"
	now := time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC)
	doc := New()
	doc.LastRefresh = now
	doc.Folders["Inception (2010)"] = FolderEntry{
		CatalogID:   27205,
		Title:       "盗梦空间",
		PosterRef:   &poster,
		ReleaseDate: "2010-07-15",
		Overview:    "dreams within dreams",
		Rating:      8.4,
		MediaKind:   KindMovie,
		LastUpdated: now,
	}
	doc.Folders["Unknown Junk Folder"] = SentinelEntry("Unknown Junk Folder", now)

	raw, err := Encode(doc)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	got, err := Parse(raw)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if !reflect.DeepEqual(got, doc) {
		t.Errorf("document changed across encode/parse:\n got %+v\nwant %+v", got, doc)
	}
}

func TestEncode_NilFolders(t *testing.T) {
	raw, err := Encode(&Document{})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if raw != `{"folders":{},"last_refresh":"0001-01-01T00:00:00Z"}` {
		t.Errorf("unexpected encoding: %s", raw)
	}
}
