// Package catalog resolves free-text folder names to descriptive records
// from an external catalog (TMDB).
package catalog

import (
	"context"
	"fmt"
	"time"
)

// MediaType is the catalog's classification of a match.
type MediaType string

// Media types a match can carry.
const (
	MediaMovie MediaType = "movie"
	MediaTV    MediaType = "tv"
)

// Match is the canonical shape of a catalog hit, independent of whether the
// catalog reported it as a movie or a show.
type Match struct {
	ID          int64     `json:"id"`
	Title       string    `json:"title"`
	PosterPath  *string   `json:"poster_path,omitempty"`
	ReleaseDate string    `json:"release_date,omitempty"`
	Overview    string    `json:"overview,omitempty"`
	Rating      float64   `json:"rating"`
	MediaType   MediaType `json:"media_type"`
}

// Searcher returns the single best match for a query. It returns
// *ErrNoMatch when the catalog has nothing for the query.
type Searcher interface {
	Search(ctx context.Context, query string) (*Match, error)
}

// ErrNoMatch indicates the catalog answered but had no usable result.
type ErrNoMatch struct {
	Query string
}

func (e *ErrNoMatch) Error() string {
	return fmt.Sprintf("catalog: no match for %q", e.Query)
}

// ErrUnavailable indicates a failed call (transport error, rate limit,
// unexpected status).
type ErrUnavailable struct {
	Cause      error
	StatusCode int
	RetryAfter time.Duration
}

func (e *ErrUnavailable) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("catalog unavailable (HTTP %d): %v", e.StatusCode, e.Cause)
	}
	return fmt.Sprintf("catalog unavailable: %v", e.Cause)
}

func (e *ErrUnavailable) Unwrap() error { return e.Cause }
