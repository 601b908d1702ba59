// Package wasm is an extension module that runs WebAssembly exports through
// wazero. Calls either run inline on the engine goroutine or on a worker
// goroutine that delivers results back through the bridge mailbox.
package wasm
