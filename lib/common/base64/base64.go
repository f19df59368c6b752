// Package base64 implements utilities for encoding and decoding the key
// material gosling puts inside documents and key blobs
package base64

import (
	b64 "encoding/base64"
)

// KeyEncoding is the standard RFC 4648 base64 encoding Tor uses for
// ED25519-V3 key blobs and x25519 client-auth keys.
var KeyEncoding *b64.Encoding = b64.StdEncoding

// EncodeToString encodes []byte to a base64 string using KeyEncoding
func EncodeToString(data []byte) string {
	return KeyEncoding.EncodeToString(data)
}

// DecodeString decodes base64 string to []byte using KeyEncoding
func DecodeString(str string) ([]byte, error) {
	return KeyEncoding.DecodeString(str)
}
