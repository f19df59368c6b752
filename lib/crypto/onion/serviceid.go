// Package onion implements v3 onion service identifiers: the 56-character
// base32 rendering of an ed25519 public key plus checksum and version byte.
package onion

import (
	"strings"

	"github.com/go-i2p/logger"
	"github.com/gosling-project/go-gosling/lib/common/base32"
	"github.com/gosling-project/go-gosling/lib/crypto/ed25519"
	"github.com/samber/oops"
	"golang.org/x/crypto/sha3"
)

var log = logger.GetGoI2PLogger()

const (
	// ServiceIdLength is the number of base32 characters in a service id.
	ServiceIdLength = 56
	// rawLength is pubkey(32) + checksum(2) + version(1)
	rawLength = 35
	// serviceIdVersion is the onion address version byte.
	serviceIdVersion = 0x03
	// checksumPrefix salts the checksum hash, per rend-spec-v3.
	checksumPrefix = ".onion checksum"
)

var (
	ErrInvalidServiceId = oops.Errorf("onion: invalid v3 onion service id")
)

// V3OnionServiceId is the public identity of a peer. Values are comparable
// with == and immutable once constructed.
type V3OnionServiceId struct {
	id string
}

// FromPublicKey derives the service id for an ed25519 public key.
func FromPublicKey(pub ed25519.PublicKey) V3OnionServiceId {
	sum := checksum(pub)
	raw := make([]byte, 0, rawLength)
	raw = append(raw, pub.Bytes()...)
	raw = append(raw, sum[:]...)
	raw = append(raw, serviceIdVersion)
	return V3OnionServiceId{id: base32.EncodeToString(raw)}
}

// FromPrivateKey derives the service id for the public half of key.
func FromPrivateKey(key *ed25519.PrivateKey) (V3OnionServiceId, error) {
	pub, err := key.PublicKey()
	if err != nil {
		return V3OnionServiceId{}, err
	}
	return FromPublicKey(pub), nil
}

// FromString validates and wraps a 56-character service id.
func FromString(s string) (V3OnionServiceId, error) {
	if len(s) != ServiceIdLength || s != strings.ToLower(s) {
		return V3OnionServiceId{}, ErrInvalidServiceId
	}
	raw, err := base32.DecodeString(s)
	if err != nil || len(raw) != rawLength {
		return V3OnionServiceId{}, ErrInvalidServiceId
	}
	if raw[rawLength-1] != serviceIdVersion {
		return V3OnionServiceId{}, ErrInvalidServiceId
	}
	pub, err := ed25519.PublicKeyFromBytes(raw[:ed25519.PublicKeySize])
	if err != nil {
		return V3OnionServiceId{}, ErrInvalidServiceId
	}
	sum := checksum(pub)
	if raw[32] != sum[0] || raw[33] != sum[1] {
		log.WithField("service_id", s).Debug("service id checksum mismatch")
		return V3OnionServiceId{}, ErrInvalidServiceId
	}
	return V3OnionServiceId{id: s}, nil
}

// IsValid reports whether s parses as a v3 onion service id.
func IsValid(s string) bool {
	_, err := FromString(s)
	return err == nil
}

// String returns the 56-character base32 form.
func (i V3OnionServiceId) String() string {
	return i.id
}

// IsZero reports whether the id is the useless zero value.
func (i V3OnionServiceId) IsZero() bool {
	return i.id == ""
}

// PublicKey recovers the ed25519 public key the id encodes.
func (i V3OnionServiceId) PublicKey() (ed25519.PublicKey, error) {
	raw, err := base32.DecodeString(i.id)
	if err != nil || len(raw) != rawLength {
		return ed25519.PublicKey{}, ErrInvalidServiceId
	}
	return ed25519.PublicKeyFromBytes(raw[:ed25519.PublicKeySize])
}

func checksum(pub ed25519.PublicKey) [2]byte {
	h := sha3.New256()
	h.Write([]byte(checksumPrefix))
	h.Write(pub.Bytes())
	h.Write([]byte{serviceIdVersion})
	var sum [2]byte
	copy(sum[:], h.Sum(nil)[:2])
	return sum
}
