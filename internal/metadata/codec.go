package metadata

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrMalformed reports that part of a stored document was discarded while
// parsing. The document returned alongside it is still usable.
var ErrMalformed = errors.New("malformed metadata document")

// wireDocument defers decoding of folders so a bad folders field can be
// dropped without losing the rest of the document.
type wireDocument struct {
	Folders     json.RawMessage `json:"folders"`
	LastRefresh *time.Time      `json:"last_refresh"`
}

// Parse decodes a serialized document. It never returns a nil document: an
// empty input yields an empty document, and an unparseable input or an
// invalid folders field yields empty folders together with an error
// wrapping ErrMalformed.
func Parse(data string) (*Document, error) {
	doc := New()
	if strings.TrimSpace(data) == "" {
		return doc, nil
	}

	var wire wireDocument
	if err := json.Unmarshal([]byte(data), &wire); err != nil {
		return doc, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if wire.LastRefresh != nil {
		doc.LastRefresh = *wire.LastRefresh
	}

	raw := strings.TrimSpace(string(wire.Folders))
	if raw == "" || raw == "null" {
		return doc, nil
	}

	var folders map[string]FolderEntry
	if err := json.Unmarshal(wire.Folders, &folders); err != nil {
		return doc, fmt.Errorf("%w: folders: %v", ErrMalformed, err)
	}
	for name, e := range folders {
		doc.Folders[name] = e
	}
	return doc, nil
}

// Encode serializes a document for the store.
func Encode(d *Document) (string, error) {
	folders := d.Folders
	if folders == nil {
		folders = map[string]FolderEntry{}
	}
	data, err := json.Marshal(Document{Folders: folders, LastRefresh: d.LastRefresh})
	if err != nil {
		return "", fmt.Errorf("encoding metadata document: %w", err)
	}
	return string(data), nil
}
