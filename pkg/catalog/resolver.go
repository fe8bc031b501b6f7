package catalog

import (
	"context"
	"log/slog"
)

// Resolver maps an external identifier to the canonical resource
// identifier used for queueing and rule lookup. Resolve never fails; an
// identifier it cannot map is returned unchanged.
type Resolver interface {
	Resolve(ctx context.Context, id string) string
}

// ResolverFunc adapts a function to the Resolver interface.
type ResolverFunc func(ctx context.Context, id string) string

// Resolve calls f.
func (f ResolverFunc) Resolve(ctx context.Context, id string) string {
	return f(ctx, id)
}

// Identity returns identifiers unchanged.
var Identity Resolver = ResolverFunc(func(_ context.Context, id string) string { return id })

// Source looks up canonical identifiers.
type Source interface {
	// Lookup returns the canonical identifier for id. ok is false when
	// the source has no mapping for id.
	Lookup(ctx context.Context, id string) (canonical string, ok bool, err error)
}

// CachedResolver resolves identifiers through a Source and caches the
// answers. Source failures are logged and resolve to the identifier itself;
// they are not cached.
type CachedResolver struct {
	source Source
	cache  *Cache
	logger *slog.Logger
}

// NewCachedResolver creates a resolver over source. The cache is owned by
// the caller so it can be invalidated when the source changes.
func NewCachedResolver(source Source, cache *Cache, logger *slog.Logger) *CachedResolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &CachedResolver{
		source: source,
		cache:  cache,
		logger: logger.With("component", "catalog.resolver"),
	}
}

// Resolve implements Resolver.
func (r *CachedResolver) Resolve(ctx context.Context, id string) string {
	if canonical, ok := r.cache.Get(id); ok {
		return canonical
	}

	canonical, ok, err := r.source.Lookup(ctx, id)
	if err != nil {
		r.logger.Warn("resource lookup failed, using identifier as given",
			"id", id,
			"error", err,
		)
		return id
	}
	if !ok {
		canonical = id
	}

	r.cache.Set(id, canonical)
	return canonical
}
