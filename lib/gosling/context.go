package gosling

import (
	"net"
	"sort"
	"sync"

	"github.com/go-i2p/logger"
	"github.com/gosling-project/go-gosling/lib/config"
	"github.com/gosling-project/go-gosling/lib/crypto/ed25519"
	"github.com/gosling-project/go-gosling/lib/crypto/onion"
	"github.com/gosling-project/go-gosling/lib/crypto/x25519"
	"github.com/gosling-project/go-gosling/lib/honkrpc"
	"github.com/gosling-project/go-gosling/lib/tor"
	"github.com/hashicorp/go-multierror"
	"github.com/samber/oops"
)

type endpointListenerRecord struct {
	name          string
	allowedClient onion.V3OnionServiceId
	key           *ed25519.PrivateKey
	listener      tor.OnionListener
}

// Context owns one peer's gosling state: the Tor backend, the identity
// service, per-client endpoint services, every in-flight handshake and the
// event queue. All operations are safe to call from the consumer thread;
// everything advances inside PollEvents.
type Context struct {
	mu sync.Mutex

	cfg      *config.Config
	provider tor.Provider

	identityKey       *ed25519.PrivateKey
	identityServiceId onion.V3OnionServiceId
	clientHooks       *IdentityClientHooks
	serverHooks       *ServerHooks
	blocked           map[onion.V3OnionServiceId]struct{}

	bootstrapComplete bool
	closed            bool

	nextHandle      HandshakeHandle
	identityClients map[HandshakeHandle]*IdentityClient
	identityServers map[HandshakeHandle]*IdentityServer
	endpointClients map[HandshakeHandle]*EndpointClient
	endpointServers map[HandshakeHandle]*EndpointServer

	identityListener  tor.OnionListener
	endpointListeners map[onion.V3OnionServiceId]*endpointListenerRecord

	events []Event
}

// NewContext assembles a peer around its long-lived identity key. A nil cfg
// uses the built-in defaults; nil hook bundles accept everything.
func NewContext(cfg *config.Config, provider tor.Provider, identityKey *ed25519.PrivateKey, blockedClients []onion.V3OnionServiceId, clientHooks *IdentityClientHooks, serverHooks *ServerHooks) (*Context, error) {
	if provider == nil {
		return nil, oops.Errorf("gosling: context requires a tor provider")
	}
	if identityKey == nil {
		return nil, oops.Errorf("gosling: context requires an identity key")
	}
	if cfg == nil {
		cfg = config.DefaultConfig()
	}

	identityServiceId, err := onion.FromPrivateKey(identityKey)
	if err != nil {
		return nil, err
	}

	blocked := make(map[onion.V3OnionServiceId]struct{}, len(blockedClients))
	for _, id := range blockedClients {
		blocked[id] = struct{}{}
	}

	log.WithFields(logger.Fields{
		"at":          "gosling.NewContext",
		"identity":    identityServiceId.String(),
		"block_count": len(blocked),
	}).Debug("context created")

	return &Context{
		cfg:               cfg,
		provider:          provider,
		identityKey:       identityKey,
		identityServiceId: identityServiceId,
		clientHooks:       clientHooks,
		serverHooks:       serverHooks,
		blocked:           blocked,
		identityClients:   make(map[HandshakeHandle]*IdentityClient),
		identityServers:   make(map[HandshakeHandle]*IdentityServer),
		endpointClients:   make(map[HandshakeHandle]*EndpointClient),
		endpointServers:   make(map[HandshakeHandle]*EndpointServer),
		endpointListeners: make(map[onion.V3OnionServiceId]*endpointListenerRecord),
	}, nil
}

// IdentityServiceId returns this peer's stable public identity.
func (c *Context) IdentityServiceId() onion.V3OnionServiceId {
	return c.identityServiceId
}

// BootstrapTor starts the backend bootstrap; progress arrives as events.
func (c *Context) BootstrapTor() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrContextClosed
	}
	return c.provider.Bootstrap()
}

// StartIdentityServer publishes the identity onion service and begins
// accepting identity handshakes.
func (c *Context) StartIdentityServer() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrContextClosed
	}
	if !c.bootstrapComplete {
		return ErrNotBootstrapped
	}
	if c.identityListener != nil {
		return oops.Errorf("gosling: identity server already started")
	}

	_, listener, err := c.provider.AddOnion(c.identityKey, c.cfg.IdentityPort, nil)
	if err != nil {
		return err
	}
	c.identityListener = listener
	return nil
}

// StopIdentityServer unpublishes the identity service and aborts every
// handshake it was serving.
func (c *Context) StopIdentityServer() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrContextClosed
	}
	if c.identityListener == nil {
		return oops.Errorf("gosling: identity server not started")
	}

	err := c.provider.DeleteOnion(c.identityServiceId)
	_ = c.identityListener.Close()
	c.identityListener = nil

	for handle, server := range c.identityServers {
		server.Close()
		delete(c.identityServers, handle)
		c.events = append(c.events, IdentityServerHandshakeFailed{Handle: handle, Err: ErrHandshakeAborted})
	}
	return err
}

// RequestRemoteEndpoint opens a client-role identity handshake toward a
// peer's identity service.
func (c *Context) RequestRemoteEndpoint(target onion.V3OnionServiceId, endpointName string) (HandshakeHandle, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return 0, ErrContextClosed
	}
	if !c.bootstrapComplete {
		return 0, ErrNotBootstrapped
	}
	if !validName(endpointName) {
		return 0, oops.Errorf("gosling: invalid endpoint name %q", endpointName)
	}

	conn, err := c.provider.Connect(target, c.cfg.IdentityPort, nil)
	if err != nil {
		return 0, err
	}

	handle := c.allocHandle()
	client, err := NewIdentityClient(c.newSession(conn), target, endpointName, c.identityKey, c.clientHooks, handle)
	if err != nil {
		_ = conn.Close()
		return 0, err
	}
	client.SetConn(conn)
	c.identityClients[handle] = client
	c.clientHooks.started(handle)
	return handle, nil
}

// StartEndpointServer publishes an endpoint onion service restricted to one
// client. Used to bring previously issued endpoint credentials back online.
func (c *Context) StartEndpointServer(endpointKey *ed25519.PrivateKey, endpointName string, allowedClient onion.V3OnionServiceId, allowedClientAuth x25519.PublicKey) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrContextClosed
	}
	if !c.bootstrapComplete {
		return ErrNotBootstrapped
	}
	return c.startEndpointServerLocked(endpointKey, endpointName, allowedClient, allowedClientAuth)
}

func (c *Context) startEndpointServerLocked(endpointKey *ed25519.PrivateKey, endpointName string, allowedClient onion.V3OnionServiceId, allowedClientAuth x25519.PublicKey) error {
	endpointServiceId, err := onion.FromPrivateKey(endpointKey)
	if err != nil {
		return err
	}
	if _, exists := c.endpointListeners[endpointServiceId]; exists {
		return oops.Errorf("gosling: endpoint server %s already started", endpointServiceId.String())
	}

	_, listener, err := c.provider.AddOnion(endpointKey, c.cfg.EndpointPort, []x25519.PublicKey{allowedClientAuth})
	if err != nil {
		return err
	}
	c.endpointListeners[endpointServiceId] = &endpointListenerRecord{
		name:          endpointName,
		allowedClient: allowedClient,
		key:           endpointKey,
		listener:      listener,
	}
	log.WithFields(logger.Fields{
		"at":       "gosling.startEndpointServer",
		"endpoint": endpointServiceId.String(),
		"client":   allowedClient.String(),
	}).Debug("endpoint server started")
	return nil
}

// StopEndpointServer unpublishes the endpoint service behind endpointKey
// and aborts its in-flight channel handshakes.
func (c *Context) StopEndpointServer(endpointKey *ed25519.PrivateKey) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrContextClosed
	}

	endpointServiceId, err := onion.FromPrivateKey(endpointKey)
	if err != nil {
		return err
	}
	record, ok := c.endpointListeners[endpointServiceId]
	if !ok {
		return oops.Errorf("gosling: endpoint server %s not started", endpointServiceId.String())
	}
	delete(c.endpointListeners, endpointServiceId)

	err = c.provider.DeleteOnion(endpointServiceId)
	_ = record.listener.Close()

	for handle, server := range c.endpointServers {
		if server.serverId != endpointServiceId {
			continue
		}
		server.Close()
		delete(c.endpointServers, handle)
		c.events = append(c.events, EndpointServerChannelRequestFailed{Handle: handle, Err: ErrHandshakeAborted})
	}
	return err
}

// OpenEndpointChannel opens a client-role endpoint handshake for a named
// channel, presenting the issued client-auth key at the transport layer.
func (c *Context) OpenEndpointChannel(endpointId onion.V3OnionServiceId, clientAuth *x25519.PrivateKey, channelName string) (HandshakeHandle, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return 0, ErrContextClosed
	}
	if !c.bootstrapComplete {
		return 0, ErrNotBootstrapped
	}
	if !validName(channelName) {
		return 0, oops.Errorf("gosling: invalid channel name %q", channelName)
	}

	conn, err := c.provider.Connect(endpointId, c.cfg.EndpointPort, clientAuth)
	if err != nil {
		return 0, err
	}

	handle := c.allocHandle()
	client, err := NewEndpointClient(c.newSession(conn), endpointId, channelName, c.identityKey, handle)
	if err != nil {
		_ = conn.Close()
		return 0, err
	}
	client.SetConn(conn)
	c.endpointClients[handle] = client
	return handle, nil
}

// AbortHandshake abandons an in-flight handshake without emitting an event.
func (c *Context) AbortHandshake(handle HandshakeHandle) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrContextClosed
	}

	if client, ok := c.identityClients[handle]; ok {
		client.Close()
		delete(c.identityClients, handle)
		return nil
	}
	if server, ok := c.identityServers[handle]; ok {
		server.Close()
		delete(c.identityServers, handle)
		return nil
	}
	if client, ok := c.endpointClients[handle]; ok {
		client.Close()
		delete(c.endpointClients, handle)
		return nil
	}
	if server, ok := c.endpointServers[handle]; ok {
		server.Close()
		delete(c.endpointServers, handle)
		return nil
	}
	return ErrUnknownHandle
}

// BlockClient adds an identity to the blocklist consulted by new identity
// handshakes.
func (c *Context) BlockClient(id onion.V3OnionServiceId) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.blocked[id] = struct{}{}
}

// UnblockClient removes an identity from the blocklist.
func (c *Context) UnblockClient(id onion.V3OnionServiceId) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.blocked, id)
}

// PollEvents advances every in-flight handshake as far as the available
// bytes allow and drains the pending events. It never blocks for long and
// is the only place consumer hooks run.
func (c *Context) PollEvents() []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}

	c.drainProviderEvents()
	c.acceptIncoming()
	c.updateIdentityClients()
	c.updateIdentityServers()
	c.updateEndpointClients()
	c.updateEndpointServers()

	events := c.events
	c.events = nil
	return events
}

// Close tears down every service, session and the backend. Pending local
// calls resolve internally and produce no further events.
func (c *Context) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true

	var result *multierror.Error

	if c.identityListener != nil {
		if err := c.provider.DeleteOnion(c.identityServiceId); err != nil {
			result = multierror.Append(result, err)
		}
		_ = c.identityListener.Close()
		c.identityListener = nil
	}
	for id, record := range c.endpointListeners {
		if err := c.provider.DeleteOnion(id); err != nil {
			result = multierror.Append(result, err)
		}
		_ = record.listener.Close()
		delete(c.endpointListeners, id)
	}

	for handle, client := range c.identityClients {
		client.Close()
		delete(c.identityClients, handle)
	}
	for handle, server := range c.identityServers {
		server.Close()
		delete(c.identityServers, handle)
	}
	for handle, client := range c.endpointClients {
		client.Close()
		delete(c.endpointClients, handle)
	}
	for handle, server := range c.endpointServers {
		server.Close()
		delete(c.endpointServers, handle)
	}

	if err := c.provider.Close(); err != nil {
		result = multierror.Append(result, err)
	}
	c.events = nil
	return result.ErrorOrNil()
}

func (c *Context) allocHandle() HandshakeHandle {
	handle := c.nextHandle
	c.nextHandle++
	return handle
}

func (c *Context) newSession(conn net.Conn) *honkrpc.Session {
	session := honkrpc.NewSession(conn)
	session.SetMaxMessageSize(c.cfg.MaxMessageSize)
	session.SetMaxPendingRequests(c.cfg.MaxPendingRequests)
	session.SetCallTimeout(c.cfg.CallTimeout())
	return session
}

func (c *Context) drainProviderEvents() {
	for _, event := range c.provider.Events() {
		switch ev := event.(type) {
		case tor.BootstrapStatus:
			c.events = append(c.events, TorBootstrapStatus{Progress: ev.Progress, Tag: ev.Tag, Summary: ev.Summary})
		case tor.BootstrapComplete:
			c.bootstrapComplete = true
			c.events = append(c.events, TorBootstrapCompleted{})
		case tor.BootstrapError:
			c.events = append(c.events, TorBootstrapError{Err: ev.Err})
		case tor.LogLine:
			c.events = append(c.events, TorLogReceived{Line: ev.Line})
		case tor.OnionServicePublished:
			if ev.ServiceId == c.identityServiceId {
				c.events = append(c.events, IdentityServerPublished{})
			} else if record, ok := c.endpointListeners[ev.ServiceId]; ok {
				c.events = append(c.events, EndpointServerPublished{
					EndpointServiceId: ev.ServiceId,
					EndpointName:      record.name,
				})
			}
		}
	}
}

func (c *Context) acceptIncoming() {
	if c.identityListener != nil {
		for {
			conn, err := c.identityListener.Accept()
			if err != nil || conn == nil {
				break
			}
			handle := c.allocHandle()
			server := NewIdentityServer(
				c.newSession(conn),
				c.identityServiceId,
				c.serverHooks,
				func(id onion.V3OnionServiceId) bool {
					_, blocked := c.blocked[id]
					return blocked
				},
				c.startEndpointServerLocked,
				handle,
			)
			server.SetConn(conn)
			c.identityServers[handle] = server
			log.WithField("handle", int(handle)).Debug("identity handshake accepted")
		}
	}

	for endpointServiceId, record := range c.endpointListeners {
		for {
			conn, err := record.listener.Accept()
			if err != nil || conn == nil {
				break
			}
			handle := c.allocHandle()
			server := NewEndpointServer(c.newSession(conn), endpointServiceId, record.allowedClient, c.serverHooks, handle)
			server.SetConn(conn)
			c.endpointServers[handle] = server
			log.WithField("handle", int(handle)).Debug("endpoint handshake accepted")
		}
	}
}

func sortedHandles[T any](machines map[HandshakeHandle]T) []HandshakeHandle {
	handles := make([]HandshakeHandle, 0, len(machines))
	for handle := range machines {
		handles = append(handles, handle)
	}
	sort.Slice(handles, func(i, j int) bool { return handles[i] < handles[j] })
	return handles
}

func (c *Context) updateIdentityClients() {
	for _, handle := range sortedHandles(c.identityClients) {
		client := c.identityClients[handle]
		event, err := client.Update()
		if err != nil {
			c.events = append(c.events, EndpointClientRequestFailed{Handle: handle, Err: err})
		}
		if event != nil {
			c.events = append(c.events, event)
		}
		if client.IsTerminal() {
			client.Close()
			delete(c.identityClients, handle)
		}
	}
}

func (c *Context) updateIdentityServers() {
	for _, handle := range sortedHandles(c.identityServers) {
		server := c.identityServers[handle]
		event, err := server.Update()
		if err != nil {
			c.events = append(c.events, IdentityServerHandshakeFailed{Handle: handle, Err: err})
		}
		if event != nil {
			c.events = append(c.events, event)
		}
		if server.IsTerminal() {
			server.Close()
			delete(c.identityServers, handle)
		}
	}
}

func (c *Context) updateEndpointClients() {
	for _, handle := range sortedHandles(c.endpointClients) {
		client := c.endpointClients[handle]
		event, err := client.Update()
		if err != nil {
			c.events = append(c.events, EndpointClientChannelRequestFailed{Handle: handle, Err: err})
		}
		if event != nil {
			c.events = append(c.events, event)
		}
		if client.IsTerminal() {
			client.Close()
			delete(c.endpointClients, handle)
		}
	}
}

func (c *Context) updateEndpointServers() {
	for _, handle := range sortedHandles(c.endpointServers) {
		server := c.endpointServers[handle]
		event, err := server.Update()
		if err != nil {
			c.events = append(c.events, EndpointServerChannelRequestFailed{Handle: handle, Err: err})
		}
		if event != nil {
			c.events = append(c.events, event)
		}
		if server.IsTerminal() {
			server.Close()
			delete(c.endpointServers, handle)
		}
	}
}
