package tor

import (
	"errors"
	"net"
	"os"
	"sync"
	"time"

	"github.com/go-i2p/logger"
	"github.com/gosling-project/go-gosling/lib/crypto/ed25519"
	"github.com/gosling-project/go-gosling/lib/crypto/onion"
	"github.com/gosling-project/go-gosling/lib/crypto/x25519"
	"github.com/hashicorp/go-multierror"
	"github.com/samber/oops"
)

var log = logger.GetGoI2PLogger()

// acceptPollInterval bounds how long a mock listener waits per Accept call.
const acceptPollInterval = time.Millisecond

type serviceKey struct {
	id       string
	virtPort uint16
}

type mockService struct {
	addr       string
	authorized []x25519.PublicKey
	listener   net.Listener
}

// MockNetwork is an in-process rendezvous of mock onion services over
// loopback TCP. Every participating peer gets its own provider from
// NewProvider; services published through one provider are reachable from
// all of them, with client authorization enforced the way Tor enforces it:
// the wrong key is refused before any bytes flow.
type MockNetwork struct {
	mu       sync.Mutex
	services map[serviceKey]*mockService
}

// NewMockNetwork creates an empty network.
func NewMockNetwork() *MockNetwork {
	return &MockNetwork{services: make(map[serviceKey]*mockService)}
}

func (n *MockNetwork) publish(key serviceKey, svc *mockService) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if _, exists := n.services[key]; exists {
		return oops.Errorf("tor: onion service %s already published", key.id)
	}
	n.services[key] = svc
	return nil
}

func (n *MockNetwork) unpublish(key serviceKey) *mockService {
	n.mu.Lock()
	defer n.mu.Unlock()
	svc := n.services[key]
	delete(n.services, key)
	return svc
}

func (n *MockNetwork) lookup(key serviceKey) (*mockService, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	svc, ok := n.services[key]
	return svc, ok
}

// MockProvider implements Provider against a MockNetwork.
type MockProvider struct {
	network *MockNetwork

	mu           sync.Mutex
	events       []ProviderEvent
	bootstrapped bool
	closed       bool
	owned        []serviceKey
}

// NewProvider creates a provider attached to the network.
func (n *MockNetwork) NewProvider() *MockProvider {
	return &MockProvider{network: n}
}

// Bootstrap emits the synthetic progress sequence and completes immediately.
func (p *MockProvider) Bootstrap() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrProviderClosed
	}
	p.events = append(p.events,
		BootstrapStatus{Progress: 0, Tag: "starting", Summary: "Starting"},
		BootstrapStatus{Progress: 50, Tag: "loading_descriptors", Summary: "Loading relay descriptors"},
		BootstrapStatus{Progress: 100, Tag: "done", Summary: "Done"},
		BootstrapComplete{},
	)
	p.bootstrapped = true
	log.Debug("mock tor bootstrap complete")
	return nil
}

// AddOnion publishes the service on a loopback listener.
func (p *MockProvider) AddOnion(key *ed25519.PrivateKey, virtPort uint16, authorizedClients []x25519.PublicKey) (onion.V3OnionServiceId, OnionListener, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return onion.V3OnionServiceId{}, nil, ErrProviderClosed
	}

	serviceId, err := onion.FromPrivateKey(key)
	if err != nil {
		return onion.V3OnionServiceId{}, nil, err
	}

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return onion.V3OnionServiceId{}, nil, oops.Errorf("tor: mock listener bind failed: %w", err)
	}

	svcKey := serviceKey{id: serviceId.String(), virtPort: virtPort}
	svc := &mockService{
		addr:       listener.Addr().String(),
		authorized: append([]x25519.PublicKey(nil), authorizedClients...),
		listener:   listener,
	}
	if err := p.network.publish(svcKey, svc); err != nil {
		_ = listener.Close()
		return onion.V3OnionServiceId{}, nil, err
	}
	p.owned = append(p.owned, svcKey)
	p.events = append(p.events, OnionServicePublished{ServiceId: serviceId})

	log.WithFields(logger.Fields{
		"at":         "tor.AddOnion",
		"service_id": serviceId.String(),
		"virt_port":  virtPort,
		"authorized": len(authorizedClients),
	}).Debug("mock onion service published")
	return serviceId, &mockOnionListener{listener: listener}, nil
}

// DeleteOnion takes the service offline at every virtual port it occupies.
func (p *MockProvider) DeleteOnion(id onion.V3OnionServiceId) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrProviderClosed
	}

	found := false
	kept := p.owned[:0]
	for _, key := range p.owned {
		if key.id == id.String() {
			if svc := p.network.unpublish(key); svc != nil {
				_ = svc.listener.Close()
			}
			found = true
			continue
		}
		kept = append(kept, key)
	}
	p.owned = kept
	if !found {
		return oops.Errorf("tor: onion service %s not published by this provider: %w", id.String(), ErrServiceNotFound)
	}
	return nil
}

// Connect dials the target service, enforcing client authorization.
func (p *MockProvider) Connect(target onion.V3OnionServiceId, virtPort uint16, clientAuth *x25519.PrivateKey) (net.Conn, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrProviderClosed
	}
	bootstrapped := p.bootstrapped
	p.mu.Unlock()
	if !bootstrapped {
		return nil, ErrNotBootstrapped
	}

	svc, ok := p.network.lookup(serviceKey{id: target.String(), virtPort: virtPort})
	if !ok {
		return nil, ErrServiceNotFound
	}
	if len(svc.authorized) > 0 {
		if clientAuth == nil {
			return nil, ErrNotAuthorized
		}
		pub, err := clientAuth.PublicKey()
		if err != nil {
			return nil, err
		}
		allowed := false
		for _, candidate := range svc.authorized {
			if candidate == pub {
				allowed = true
				break
			}
		}
		if !allowed {
			log.WithField("service_id", target.String()).Debug("rejecting unauthorized mock rendezvous")
			return nil, ErrNotAuthorized
		}
	}

	conn, err := net.Dial("tcp", svc.addr)
	if err != nil {
		return nil, oops.Errorf("tor: mock rendezvous dial failed: %w", err)
	}
	return conn, nil
}

// Events drains the pending event queue.
func (p *MockProvider) Events() []ProviderEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	events := p.events
	p.events = nil
	return events
}

// Close unpublishes everything this provider owns.
func (p *MockProvider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true

	var result *multierror.Error
	for _, key := range p.owned {
		if svc := p.network.unpublish(key); svc != nil {
			if err := svc.listener.Close(); err != nil {
				result = multierror.Append(result, err)
			}
		}
	}
	p.owned = nil
	return result.ErrorOrNil()
}

type mockOnionListener struct {
	listener net.Listener
}

// Accept waits at most the poll interval for an incoming rendezvous.
func (l *mockOnionListener) Accept() (net.Conn, error) {
	type deadlineListener interface {
		SetDeadline(t time.Time) error
	}
	if dl, ok := l.listener.(deadlineListener); ok {
		if err := dl.SetDeadline(time.Now().Add(acceptPollInterval)); err != nil {
			return nil, err
		}
	}
	conn, err := l.listener.Accept()
	if err != nil {
		if isAcceptTimeout(err) {
			return nil, nil
		}
		return nil, err
	}
	return conn, nil
}

func (l *mockOnionListener) Close() error {
	return l.listener.Close()
}

func isAcceptTimeout(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
