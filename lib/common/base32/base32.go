// Package base32 implements utilities for encoding and decoding text using Tor's onion-address alphabet
package base32

import (
	b32 "encoding/base32"
)

// OnionEncodeAlphabet is the base32 encoding used for v3 onion service addresses.
// RFC 4648 using lowercase characters.
const OnionEncodeAlphabet = "abcdefghijklmnopqrstuvwxyz234567"

// OnionEncoding is the standard base32 encoding used for onion addresses.
var OnionEncoding *b32.Encoding = b32.NewEncoding(OnionEncodeAlphabet).WithPadding(b32.NoPadding)

// EncodeToString encodes []byte to a base32 string using OnionEncoding
func EncodeToString(data []byte) string {
	return OnionEncoding.EncodeToString(data)
}

// DecodeString decodes base32 string to []byte using OnionEncoding
func DecodeString(data string) ([]byte, error) {
	return OnionEncoding.DecodeString(data)
}
