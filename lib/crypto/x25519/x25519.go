// Package x25519 implements the client-authorization keypairs used by v3
// onion services. A server registers a client's public key with Tor; the
// client proves possession of the matching private key at rendezvous time.
package x25519

import (
	"crypto/rand"

	"github.com/go-i2p/logger"
	"github.com/gosling-project/go-gosling/lib/common/base64"
	"github.com/samber/oops"
	stepx25519 "go.step.sm/crypto/x25519"
	"golang.org/x/crypto/curve25519"
)

var log = logger.GetGoI2PLogger()

const (
	// PrivateKeySize is the size of an x25519 private key in bytes.
	PrivateKeySize = 32
	// PublicKeySize is the size of an x25519 public key in bytes.
	PublicKeySize = 32
)

var (
	ErrInvalidPrivateKey = oops.Errorf("x25519: private key must be %d bytes", PrivateKeySize)
	ErrInvalidPublicKey  = oops.Errorf("x25519: public key must be %d bytes", PublicKeySize)
)

// PublicKey is a 32-byte x25519 public key.
type PublicKey [PublicKeySize]byte

// PrivateKey is a 32-byte x25519 private key.
type PrivateKey [PrivateKeySize]byte

// GeneratePrivateKey creates a fresh client-authorization key.
func GeneratePrivateKey() (*PrivateKey, error) {
	_, priv, err := stepx25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, oops.Errorf("x25519: failed to generate keypair: %w", err)
	}
	key := &PrivateKey{}
	copy(key[:], priv)
	log.Debug("generated x25519 client auth key")
	return key, nil
}

// PrivateKeyFromBytes copies data into a PrivateKey.
func PrivateKeyFromBytes(data []byte) (*PrivateKey, error) {
	if len(data) != PrivateKeySize {
		return nil, ErrInvalidPrivateKey
	}
	key := &PrivateKey{}
	copy(key[:], data)
	return key, nil
}

// PublicKeyFromBytes copies data into a PublicKey.
func PublicKeyFromBytes(data []byte) (PublicKey, error) {
	var pub PublicKey
	if len(data) != PublicKeySize {
		return pub, ErrInvalidPublicKey
	}
	copy(pub[:], data)
	return pub, nil
}

// PublicKey derives the public key for this private key.
func (k *PrivateKey) PublicKey() (PublicKey, error) {
	var pub PublicKey
	raw, err := curve25519.X25519(k[:], curve25519.Basepoint)
	if err != nil {
		return pub, oops.Errorf("x25519: public key derivation failed: %w", err)
	}
	copy(pub[:], raw)
	return pub, nil
}

// Bytes returns the private key as a fresh slice.
func (k *PrivateKey) Bytes() []byte {
	out := make([]byte, PrivateKeySize)
	copy(out, k[:])
	return out
}

// Base64 returns the standard encoding used for transport fields.
func (k *PrivateKey) Base64() string {
	return base64.EncodeToString(k[:])
}

// PrivateKeyFromBase64 parses the transport encoding.
func PrivateKeyFromBase64(encoded string) (*PrivateKey, error) {
	raw, err := base64.DecodeString(encoded)
	if err != nil {
		return nil, oops.Errorf("x25519: base64 decode failed: %w", ErrInvalidPrivateKey)
	}
	return PrivateKeyFromBytes(raw)
}

// Zero wipes the private key in place.
func (k *PrivateKey) Zero() {
	for i := range k {
		k[i] = 0
	}
}

// Bytes returns the public key as a fresh slice.
func (k PublicKey) Bytes() []byte {
	out := make([]byte, PublicKeySize)
	copy(out, k[:])
	return out
}

// Base64 returns the standard encoding used for transport fields.
func (k PublicKey) Base64() string {
	return base64.EncodeToString(k[:])
}
