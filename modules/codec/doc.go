// Package codec is an extension module for CBOR encoding of engine values.
package codec
