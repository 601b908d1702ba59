// Package socket is an extension module exposing TCP connections to scripts
// as native objects. Connections are read and written on worker goroutines;
// every callback is delivered on the engine goroutine through the bridge
// mailbox.
package socket
