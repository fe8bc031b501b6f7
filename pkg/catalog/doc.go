// Package catalog resolves external resource identifiers to the canonical
// identifiers that rate limit rules and scheduler queues are keyed on.
//
// Resolution is best effort. A failing source degrades to the identifier as
// given and never surfaces an error to the scheduler.
//
// Resolved identifiers are kept in an explicit Cache owned by the caller:
//
//	cache := catalog.NewCache(10 * time.Minute)
//	source, err := catalog.NewFileSource("aliases.yaml", logger)
//	if err != nil {
//	    return err
//	}
//	resolver := catalog.NewCachedResolver(source, cache, logger)
//
//	go source.Watch(ctx, cache.Flush)
package catalog
