package metadata

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/singleflight"
)

// ValueReader is the read side of the metadata store.
type ValueReader interface {
	GetGlobalValue(ctx context.Context, key string) (string, bool, error)
}

// Loader resolves a root's document from the cache, falling back to the
// store on a miss and warming the cache with the parsed result.
type Loader struct {
	cache  *Cache
	store  ValueReader
	key    string
	logger *slog.Logger
	group  singleflight.Group
}

// NewLoader creates a Loader reading the serialized document stored under key.
func NewLoader(cache *Cache, store ValueReader, key string, logger *slog.Logger) *Loader {
	return &Loader{
		cache:  cache,
		store:  store,
		key:    key,
		logger: logger.With(slog.String("component", "metadata")),
	}
}

// Cache returns the cache the loader warms.
func (l *Loader) Cache() *Cache { return l.cache }

// Key returns the store key holding the serialized document.
func (l *Loader) Key() string { return l.key }

// Load returns the document for root. The returned document is shared and
// must be cloned before mutation. Only a store read error is returned; a
// missing or malformed stored value yields an empty document.
func (l *Loader) Load(ctx context.Context, root string) (*Document, error) {
	if doc, ok := l.cache.Get(root); ok {
		return doc, nil
	}

	// Joined callers share one store read, so it must not inherit any single
	// caller's cancellation. Each caller still stops waiting on its own ctx.
	readCtx := context.WithoutCancel(ctx)
	ch := l.group.DoChan(root, func() (any, error) {
		gen := l.cache.Generation(root)

		raw, found, err := l.store.GetGlobalValue(readCtx, l.key)
		if err != nil {
			return nil, fmt.Errorf("loading metadata document: %w", err)
		}

		doc := New()
		if found {
			var perr error
			doc, perr = Parse(raw)
			if errors.Is(perr, ErrMalformed) {
				l.logger.Warn("stored metadata document is malformed, starting from empty folders",
					slog.String("root", root), slog.Any("error", perr))
			}
		}

		if !l.cache.SetIfGeneration(root, doc, gen) {
			// A writer replaced the entry while we were reading the store.
			if fresh, ok := l.cache.Get(root); ok {
				return fresh, nil
			}
		}
		return doc, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Document), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
