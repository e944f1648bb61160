package catalog

import (
	"strings"

	"golang.org/x/text/unicode/norm"
)

// searchResult is one entry of a TMDB multi-search response. Movies carry
// title/release_date; shows carry name/first_air_date.
type searchResult struct {
	ID            int64   `json:"id"`
	Title         string  `json:"title"`
	Name          string  `json:"name"`
	OriginalTitle string  `json:"original_title"`
	OriginalName  string  `json:"original_name"`
	PosterPath    *string `json:"poster_path"`
	ReleaseDate   string  `json:"release_date"`
	FirstAirDate  string  `json:"first_air_date"`
	Overview      string  `json:"overview"`
	VoteAverage   float64 `json:"vote_average"`
	MediaType     string  `json:"media_type"`
}

type searchResponse struct {
	Page         int            `json:"page"`
	Results      []searchResult `json:"results"`
	TotalResults int            `json:"total_results"`
}

// normalize maps a raw result onto Match. ok is false for media types other
// than movie and tv (people, collections).
func normalize(r searchResult) (Match, bool) {
	var m Match
	switch MediaType(r.MediaType) {
	case MediaMovie:
		m = Match{
			MediaType:   MediaMovie,
			Title:       firstNonEmpty(r.Title, r.OriginalTitle, r.Name),
			ReleaseDate: firstNonEmpty(r.ReleaseDate, r.FirstAirDate),
		}
	case MediaTV:
		m = Match{
			MediaType:   MediaTV,
			Title:       firstNonEmpty(r.Name, r.OriginalName, r.Title),
			ReleaseDate: firstNonEmpty(r.FirstAirDate, r.ReleaseDate),
		}
	default:
		return Match{}, false
	}
	m.ID = r.ID
	m.Overview = r.Overview
	m.Rating = r.VoteAverage
	if r.PosterPath != nil && *r.PosterPath != "" {
		p := *r.PosterPath
		m.PosterPath = &p
	}
	return m, true
}

// first returns the first movie or tv result in catalog order.
func first(results []searchResult) (*Match, bool) {
	for _, r := range results {
		if m, ok := normalize(r); ok {
			return &m, true
		}
	}
	return nil, false
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

// QueryFromFolder turns a folder name into a search term: NFC-normalized,
// with runs of whitespace collapsed.
func QueryFromFolder(name string) string {
	return strings.Join(strings.Fields(norm.NFC.String(name)), " ")
}
