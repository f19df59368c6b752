// Package bson implements the self-describing binary document encoding used
// by the Honk-RPC wire protocol.
//
// The format is a subset of BSON supporting the wire types double (0x01),
// UTF-8 string (0x02), embedded document (0x03), array (0x04), binary (0x05),
// boolean (0x08), null (0x0A), int32 (0x10) and int64 (0x12). Length prefixes
// are little-endian int32 values; a document's prefix counts the prefix bytes
// and the terminating 0x00, a string's prefix counts the terminating NUL.
//
// Decoding is single-pass and bounded: callers supply a maximum encoded size
// and the decoder enforces a nesting limit of 32 levels.
package bson
