// Package mailbox queues work for the goroutine that owns the engine.
//
// Any goroutine may Send. Only the owner calls Drain, typically from a
// periodic host callback, which runs queued operations one at a time in the
// order they were received. Operations from a single producer keep their
// order; operations from different producers interleave.
//
// The mailbox is unbounded. If the owner stops draining, work accumulates
// until Close, which discards it.
package mailbox
