// Package tor defines the backend interface the gosling Context drives: the
// small slice of a Tor controller needed to publish client-authorized onion
// services and open streams to them. A real control-port implementation
// lives outside this module; the in-process mock in this package covers
// offline development and the test suite.
package tor

import (
	"net"

	"github.com/gosling-project/go-gosling/lib/crypto/ed25519"
	"github.com/gosling-project/go-gosling/lib/crypto/onion"
	"github.com/gosling-project/go-gosling/lib/crypto/x25519"
	"github.com/samber/oops"
)

var (
	// ErrServiceNotFound is returned when connecting to an unpublished onion.
	ErrServiceNotFound = oops.Errorf("tor: onion service not found")
	// ErrNotAuthorized is returned when client authorization fails at the
	// transport layer.
	ErrNotAuthorized = oops.Errorf("tor: client not authorized for onion service")
	// ErrNotBootstrapped is returned for operations that need a bootstrapped
	// Tor instance.
	ErrNotBootstrapped = oops.Errorf("tor: not bootstrapped")
	// ErrProviderClosed is returned by operations on a closed provider.
	ErrProviderClosed = oops.Errorf("tor: provider closed")
)

// ProviderEvent is an asynchronous notification from the backend, drained
// through Provider.Events.
type ProviderEvent interface {
	providerEvent()
}

// BootstrapStatus reports bootstrap progress from 0 to 100.
type BootstrapStatus struct {
	Progress int
	Tag      string
	Summary  string
}

// BootstrapComplete reports that the backend reached 100%.
type BootstrapComplete struct{}

// BootstrapError reports a failed bootstrap.
type BootstrapError struct {
	Err error
}

// OnionServicePublished reports that a service's descriptor is reachable.
type OnionServicePublished struct {
	ServiceId onion.V3OnionServiceId
}

// LogLine carries a line of backend log output.
type LogLine struct {
	Line string
}

func (BootstrapStatus) providerEvent()       {}
func (BootstrapComplete) providerEvent()     {}
func (BootstrapError) providerEvent()        {}
func (OnionServicePublished) providerEvent() {}
func (LogLine) providerEvent()               {}

// OnionListener accepts connections arriving at a published onion service.
// Accept never blocks for long and returns (nil, nil) when no connection is
// waiting.
type OnionListener interface {
	Accept() (net.Conn, error)
	Close() error
}

// Provider is the Tor controller surface the Context consumes. All methods
// are safe for use from the Context's poll loop; Events may also be fed by
// backend worker threads.
type Provider interface {
	// Bootstrap starts bootstrapping. Progress arrives via Events.
	Bootstrap() error
	// AddOnion publishes an onion service for key at virtPort. A non-empty
	// authorizedClients list restricts rendezvous to holders of the
	// matching x25519 private keys.
	AddOnion(key *ed25519.PrivateKey, virtPort uint16, authorizedClients []x25519.PublicKey) (onion.V3OnionServiceId, OnionListener, error)
	// DeleteOnion takes a published service offline.
	DeleteOnion(id onion.V3OnionServiceId) error
	// Connect opens a stream to a remote onion service, presenting
	// clientAuth when the target requires authorization.
	Connect(target onion.V3OnionServiceId, virtPort uint16, clientAuth *x25519.PrivateKey) (net.Conn, error)
	// Events drains pending backend events without blocking.
	Events() []ProviderEvent
	// Close tears down every published service and the backend itself.
	Close() error
}
