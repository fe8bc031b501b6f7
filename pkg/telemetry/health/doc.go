// Package health serves liveness, readiness and version endpoints next to
// the metrics endpoint.
//
// Readiness runs the registered checks concurrently, each bounded by the
// checker timeout. The usage journal is the only external dependency, so
// JournalCheck is normally the only check:
//
//	checker := health.New(0)
//	checker.Register("journal", health.JournalCheck(backend))
//	checker.Mount(mux, version, commit, buildTime)
package health
