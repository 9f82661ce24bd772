// Package registry provides the shared context plugins use to publish debug
// state, plus the generic thread-safe map it is built on.
//
// A pipeline creates one Shared at construction and hands it to every plugin
// implementing plugin.SharedConsumer. Each plugin writes under its own
// namespace:
//
//	ns := shared.Namespace("buffer")
//	ns.Append("events", e)
//	ns.Set("threshold", "2s")
//
// The HTTP bridge exposes the same context read-only:
//
//	snap := shared.Snapshot() // map[namespace]map[key]value
//
// Shared is cleared when the pipeline closes, so state never outlives the
// pipeline that created it.
//
// # Thread Safety
//
// All methods are safe for concurrent use. Range and Snapshot operate on a
// copy taken under the read lock, so callbacks may mutate the registry.
package registry
