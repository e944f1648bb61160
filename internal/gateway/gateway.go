// Package gateway builds the external service clients from the current
// runtime settings.
package gateway

import (
	"fmt"
	"log/slog"

	"github.com/sydlexius/reelsync/internal/catalog"
	"github.com/sydlexius/reelsync/internal/listing"
	"github.com/sydlexius/reelsync/internal/settings"
)

// Factory creates listing and catalog clients on demand so settings edits
// take effect on the next scan or request without a restart.
type Factory struct {
	logger *slog.Logger
}

// NewFactory creates a Factory.
func NewFactory(logger *slog.Logger) *Factory {
	return &Factory{logger: logger}
}

// Lister returns a listing client for s.
func (f *Factory) Lister(s settings.Settings) (listing.Lister, error) {
	c, err := f.listing(s)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// Resolver returns a raw-URL resolver for s.
func (f *Factory) Resolver(s settings.Settings) (listing.Resolver, error) {
	c, err := f.listing(s)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// Searcher returns a catalog client for s.
func (f *Factory) Searcher(s settings.Settings) (catalog.Searcher, error) {
	c, err := catalog.New(s.CatalogAPIKey, f.logger,
		catalog.WithLanguage(s.CatalogLanguage),
		catalog.WithProxy(s.CatalogProxy),
	)
	if err != nil {
		return nil, fmt.Errorf("catalog client: %w", err)
	}
	return c, nil
}

func (f *Factory) listing(s settings.Settings) (*listing.Client, error) {
	c, err := listing.New(s.ListingURL, s.ListingToken, f.logger)
	if err != nil {
		return nil, fmt.Errorf("listing client: %w", err)
	}
	return c, nil
}
