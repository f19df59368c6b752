package gosling

import (
	"crypto/rand"

	"github.com/gosling-project/go-gosling/lib/crypto/onion"
	"github.com/samber/oops"
)

// ServerCookieSize is the size of the random nonce a server binds each
// handshake signature to.
const ServerCookieSize = 32

// ServerCookie forces the client's proof signature to be fresh and
// session-bound.
type ServerCookie [ServerCookieSize]byte

func newServerCookie() (ServerCookie, error) {
	var cookie ServerCookie
	if _, err := rand.Read(cookie[:]); err != nil {
		return cookie, oops.Errorf("gosling: failed to generate server cookie: %w", err)
	}
	return cookie, nil
}

// domainSeparator keeps identity and endpoint proofs from ever verifying
// against each other.
type domainSeparator string

const (
	domainSeparatorIdentity domainSeparator = "gosling-identity"
	domainSeparatorEndpoint domainSeparator = "gosling-endpoint"
)

// buildClientProof assembles the byte string a client signs: the domain
// separator, a zero stage byte, both identities, the server cookie and the
// requested endpoint or channel name. The challenge document is deliberately
// not part of the signed buffer.
func buildClientProof(sep domainSeparator, clientId, serverId onion.V3OnionServiceId, cookie ServerCookie, name string) []byte {
	proof := make([]byte, 0, len(sep)+1+2*onion.ServiceIdLength+ServerCookieSize+len(name))
	proof = append(proof, sep...)
	proof = append(proof, 0x00)
	proof = append(proof, clientId.String()...)
	proof = append(proof, serverId.String()...)
	proof = append(proof, cookie[:]...)
	proof = append(proof, name...)
	return proof
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] > 0x7f {
			return false
		}
	}
	return true
}

// validName reports whether an endpoint or channel name is usable inside a
// signed proof: non-empty printable ASCII.
func validName(name string) bool {
	if name == "" || !isASCII(name) {
		return false
	}
	for i := 0; i < len(name); i++ {
		if name[i] < 0x20 || name[i] == 0x7f {
			return false
		}
	}
	return true
}
