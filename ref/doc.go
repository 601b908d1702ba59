// Package ref provides handles that own entries in the engine reference
// table and may be created on the owning goroutine, then carried to and
// released from any goroutine.
//
//	Owned  - single owner, released once
//	Shared - reference counted, released by the last clone
//	Atomic - shared slot whose id can be swapped with Replace
//
// Every release is routed by Table: on the owning goroutine the id is freed
// immediately, elsewhere a free operation is queued in the mailbox and
// applied by the next drain pass. Handles dropped without Release are
// reclaimed the same way by a runtime cleanup.
package ref
