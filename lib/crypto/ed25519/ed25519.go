// Package ed25519 implements the identity keys behind v3 onion services.
//
// Tor stores onion service keys in their expanded form: the 64-byte output
// of SHA-512 over a 32-byte seed, with the first half clamped. Signing
// therefore works from the expanded secret directly rather than from a
// seed, which keeps keys parsed from ED25519-V3 key blobs usable.
package ed25519

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha512"
	"strings"

	"filippo.io/edwards25519"
	"github.com/go-i2p/logger"
	"github.com/gosling-project/go-gosling/lib/common/base64"
	"github.com/samber/oops"
)

var log = logger.GetGoI2PLogger()

const (
	// PublicKeySize is the size of an ed25519 public key in bytes.
	PublicKeySize = 32
	// SignatureSize is the size of an ed25519 signature in bytes.
	SignatureSize = 64
	// SeedSize is the size of the private seed in bytes.
	SeedSize = 32
	// ExpandedSecretKeySize is the size of the expanded secret in bytes.
	ExpandedSecretKeySize = 64
	// KeyBlobHeader prefixes the serialized form Tor understands.
	KeyBlobHeader = "ED25519-V3:"
)

var (
	ErrInvalidSeed    = oops.Errorf("ed25519: seed must be %d bytes", SeedSize)
	ErrInvalidKeyBlob = oops.Errorf("ed25519: malformed ED25519-V3 key blob")
)

// PublicKey is a 32-byte ed25519 public key.
type PublicKey [PublicKeySize]byte

// Bytes returns the key as a fresh slice.
func (k PublicKey) Bytes() []byte {
	out := make([]byte, PublicKeySize)
	copy(out, k[:])
	return out
}

// PublicKeyFromBytes copies data into a PublicKey.
func PublicKeyFromBytes(data []byte) (PublicKey, error) {
	var pub PublicKey
	if len(data) != PublicKeySize {
		return pub, oops.Errorf("ed25519: public key must be %d bytes, got %d", PublicKeySize, len(data))
	}
	copy(pub[:], data)
	return pub, nil
}

// PrivateKey is an expanded ed25519 secret: clamped scalar followed by the
// 32-byte hash prefix used for nonce derivation.
type PrivateKey struct {
	secret [ExpandedSecretKeySize]byte
}

// GeneratePrivateKey creates a key from a fresh random seed.
func GeneratePrivateKey() (*PrivateKey, error) {
	seed := make([]byte, SeedSize)
	if _, err := rand.Read(seed); err != nil {
		return nil, oops.Errorf("ed25519: failed to read random seed: %w", err)
	}
	return PrivateKeyFromSeed(seed)
}

// PrivateKeyFromSeed expands a 32-byte seed into a private key.
func PrivateKeyFromSeed(seed []byte) (*PrivateKey, error) {
	if len(seed) != SeedSize {
		return nil, ErrInvalidSeed
	}
	h := sha512.Sum512(seed)
	h[0] &= 248
	h[31] &= 127
	h[31] |= 64

	key := &PrivateKey{}
	copy(key.secret[:], h[:])
	return key, nil
}

// PrivateKeyFromKeyBlob parses the ED25519-V3 serialization.
func PrivateKeyFromKeyBlob(blob string) (*PrivateKey, error) {
	if !strings.HasPrefix(blob, KeyBlobHeader) {
		return nil, ErrInvalidKeyBlob
	}
	raw, err := base64.DecodeString(blob[len(KeyBlobHeader):])
	if err != nil {
		return nil, oops.Errorf("ed25519: key blob base64 decode failed: %w", ErrInvalidKeyBlob)
	}
	if len(raw) != ExpandedSecretKeySize {
		return nil, ErrInvalidKeyBlob
	}
	// expanded secrets are always clamped
	if raw[0]&7 != 0 || raw[31]&128 != 0 || raw[31]&64 == 0 {
		return nil, ErrInvalidKeyBlob
	}
	key := &PrivateKey{}
	copy(key.secret[:], raw)
	return key, nil
}

// KeyBlob serializes the key in the form Tor's ADD_ONION accepts.
func (k *PrivateKey) KeyBlob() string {
	return KeyBlobHeader + base64.EncodeToString(k.secret[:])
}

// Bytes returns the expanded secret as a fresh slice.
func (k *PrivateKey) Bytes() []byte {
	out := make([]byte, ExpandedSecretKeySize)
	copy(out, k.secret[:])
	return out
}

// Zero wipes the secret in place.
func (k *PrivateKey) Zero() {
	for i := range k.secret {
		k.secret[i] = 0
	}
}

func (k *PrivateKey) scalar() (*edwards25519.Scalar, error) {
	s, err := edwards25519.NewScalar().SetBytesWithClamping(k.secret[:32])
	if err != nil {
		return nil, oops.Errorf("ed25519: bad secret scalar: %w", err)
	}
	return s, nil
}

// PublicKey derives the public key from the expanded secret.
func (k *PrivateKey) PublicKey() (PublicKey, error) {
	var pub PublicKey
	s, err := k.scalar()
	if err != nil {
		return pub, err
	}
	point := new(edwards25519.Point).ScalarBaseMult(s)
	copy(pub[:], point.Bytes())
	return pub, nil
}

// Sign produces a standard ed25519 signature over message using the
// expanded secret.
func (k *PrivateKey) Sign(message []byte) ([]byte, error) {
	a, err := k.scalar()
	if err != nil {
		return nil, err
	}
	prefix := k.secret[32:]

	nonceHash := sha512.New()
	nonceHash.Write(prefix)
	nonceHash.Write(message)
	r, err := edwards25519.NewScalar().SetUniformBytes(nonceHash.Sum(nil))
	if err != nil {
		return nil, oops.Errorf("ed25519: nonce reduction failed: %w", err)
	}

	bigR := new(edwards25519.Point).ScalarBaseMult(r)
	bigA := new(edwards25519.Point).ScalarBaseMult(a)

	challengeHash := sha512.New()
	challengeHash.Write(bigR.Bytes())
	challengeHash.Write(bigA.Bytes())
	challengeHash.Write(message)
	c, err := edwards25519.NewScalar().SetUniformBytes(challengeHash.Sum(nil))
	if err != nil {
		return nil, oops.Errorf("ed25519: challenge reduction failed: %w", err)
	}

	s := edwards25519.NewScalar().MultiplyAdd(c, a, r)

	sig := make([]byte, 0, SignatureSize)
	sig = append(sig, bigR.Bytes()...)
	sig = append(sig, s.Bytes()...)
	log.WithField("message_length", len(message)).Debug("message signed")
	return sig, nil
}

// Verify reports whether sig is a valid signature over message by pub.
func Verify(pub PublicKey, message, sig []byte) bool {
	if len(sig) != SignatureSize {
		return false
	}
	return ed25519.Verify(ed25519.PublicKey(pub[:]), message, sig)
}
