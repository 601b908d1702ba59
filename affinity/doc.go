// Package affinity tracks which goroutine may touch an engine state.
//
// The engine is single-threaded: its API may only be used from the goroutine
// that drives it. Code that can run on any goroutine (handle releases,
// finalizers) consults Current to decide between touching the engine
// directly and deferring work through the mailbox.
//
// The cell is confined to this package. Everything else receives the state
// explicitly and only asks affinity whether it is on the right goroutine.
package affinity
