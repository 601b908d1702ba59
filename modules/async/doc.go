// Package async is an extension module that runs slow work on worker
// goroutines and reports back to scripts through callbacks invoked on the
// engine goroutine.
package async
