package gosling

import (
	"net"
	"time"

	"github.com/go-i2p/logger"
	"github.com/gosling-project/go-gosling/lib/bson"
	"github.com/gosling-project/go-gosling/lib/crypto/ed25519"
	"github.com/gosling-project/go-gosling/lib/crypto/onion"
	"github.com/gosling-project/go-gosling/lib/honkrpc"
	"github.com/samber/oops"
)

type endpointClientState int

const (
	endpointClientStateBegin endpointClientState = iota
	endpointClientStateAwaitingCookie
	endpointClientStateAwaitingVerdict
	endpointClientStateDone
	endpointClientStateFailed
)

// EndpointClient drives the client role of the endpoint handshake: prove
// our identity to an endpoint service we are authorized for and promote the
// connection to a named channel.
type EndpointClient struct {
	rpc    *honkrpc.Session
	conn   net.Conn
	handle HandshakeHandle

	endpointId  onion.V3OnionServiceId
	clientId    onion.V3OnionServiceId
	clientKey   *ed25519.PrivateKey
	channelName string

	state        endpointClientState
	beginCookie  honkrpc.RequestCookie
	sendCookie   honkrpc.RequestCookie
	serverCookie ServerCookie
}

// NewEndpointClient prepares a channel request over an established session.
func NewEndpointClient(rpc *honkrpc.Session, endpointId onion.V3OnionServiceId, channelName string, clientKey *ed25519.PrivateKey, handle HandshakeHandle) (*EndpointClient, error) {
	clientId, err := onion.FromPrivateKey(clientKey)
	if err != nil {
		return nil, err
	}
	return &EndpointClient{
		rpc:         rpc,
		handle:      handle,
		endpointId:  endpointId,
		clientId:    clientId,
		clientKey:   clientKey,
		channelName: channelName,
	}, nil
}

// SetConn attaches the transport connection that becomes the channel on
// success.
func (c *EndpointClient) SetConn(conn net.Conn) {
	c.conn = conn
}

// IsTerminal reports whether the handshake has finished either way.
func (c *EndpointClient) IsTerminal() bool {
	return c.state == endpointClientStateDone || c.state == endpointClientStateFailed
}

// Close releases the session; the connection is only closed when it was not
// promoted to a channel.
func (c *EndpointClient) Close() {
	_ = c.rpc.Close()
	if c.conn != nil && c.state != endpointClientStateDone {
		_ = c.conn.Close()
	}
}

// Update advances the handshake and returns at most one terminal event.
func (c *EndpointClient) Update() (Event, error) {
	if c.IsTerminal() {
		return nil, nil
	}

	if err := c.rpc.Update(nil); err != nil {
		c.state = endpointClientStateFailed
		return nil, err
	}

	switch c.state {
	case endpointClientStateBegin:
		return nil, c.sendBeginHandshake()
	case endpointClientStateAwaitingCookie:
		return c.handleCookieResponse()
	case endpointClientStateAwaitingVerdict:
		return c.handleVerdictResponse()
	default:
		return nil, nil
	}
}

func (c *EndpointClient) sendBeginHandshake() error {
	args := bson.NewDocument()
	for _, err := range []error{
		args.Set(fieldVersion, handshakeVersion),
		args.Set(fieldClientIdentity, c.clientId.String()),
		args.Set(fieldChannel, c.channelName),
	} {
		if err != nil {
			c.state = endpointClientStateFailed
			return err
		}
	}

	cookie, err := c.rpc.Call(endpointNamespace, beginHandshakeFunction, handshakeApiVersion, args)
	if err != nil {
		c.state = endpointClientStateFailed
		return err
	}
	c.beginCookie = cookie
	c.state = endpointClientStateAwaitingCookie

	log.WithFields(logger.Fields{
		"at":      "gosling.EndpointClient.sendBeginHandshake",
		"server":  c.endpointId.String(),
		"channel": c.channelName,
	}).Debug("endpoint handshake started")
	return nil
}

func (c *EndpointClient) handleCookieResponse() (Event, error) {
	resp, ok := c.rpc.NextResponse()
	if !ok {
		return nil, nil
	}
	if resp.Cookie != c.beginCookie {
		c.state = endpointClientStateFailed
		return nil, oops.Errorf("gosling: response for cookie %d while awaiting server cookie: %w", resp.Cookie, ErrUnexpectedResponse)
	}
	if resp.State == honkrpc.ResponseStateError {
		c.state = endpointClientStateFailed
		return EndpointClientChannelRequestFailed{Handle: c.handle, Code: resp.ErrorCode, Err: resp.Err()}, nil
	}

	result, ok := resp.Result.(*bson.Document)
	if !ok {
		c.state = endpointClientStateFailed
		return nil, oops.Errorf("gosling: begin_handshake result is %T: %w", resp.Result, ErrUnexpectedResponse)
	}
	cookieBytes, err := result.GetBinary(fieldServerCookie)
	if err != nil || len(cookieBytes) != ServerCookieSize {
		c.state = endpointClientStateFailed
		return nil, oops.Errorf("gosling: bad server cookie: %w", ErrUnexpectedResponse)
	}
	copy(c.serverCookie[:], cookieBytes)

	proof := buildClientProof(domainSeparatorEndpoint, c.clientId, c.endpointId, c.serverCookie, c.channelName)
	signature, err := c.clientKey.Sign(proof)
	if err != nil {
		c.state = endpointClientStateFailed
		return nil, err
	}

	args := bson.NewDocument()
	if err := args.Set(fieldClientIdentityProof, signature); err != nil {
		c.state = endpointClientStateFailed
		return nil, err
	}
	sendCookie, err := c.rpc.Call(endpointNamespace, sendResponseFunction, handshakeApiVersion, args)
	if err != nil {
		c.state = endpointClientStateFailed
		return nil, err
	}
	c.sendCookie = sendCookie
	c.state = endpointClientStateAwaitingVerdict
	return nil, nil
}

func (c *EndpointClient) handleVerdictResponse() (Event, error) {
	resp, ok := c.rpc.NextResponse()
	if !ok {
		return nil, nil
	}
	if resp.Cookie != c.sendCookie {
		c.state = endpointClientStateFailed
		return nil, oops.Errorf("gosling: response for cookie %d while awaiting verdict: %w", resp.Cookie, ErrUnexpectedResponse)
	}
	if resp.State == honkrpc.ResponseStateError {
		c.state = endpointClientStateFailed
		return EndpointClientChannelRequestFailed{Handle: c.handle, Code: resp.ErrorCode, Err: resp.Err()}, nil
	}

	// both sides stop speaking Honk-RPC; the stream is the channel now
	c.state = endpointClientStateDone
	_ = c.rpc.Close()
	if c.conn != nil {
		_ = c.conn.SetReadDeadline(time.Time{})
	}
	log.WithFields(logger.Fields{
		"at":      "gosling.EndpointClient.handleVerdictResponse",
		"channel": c.channelName,
	}).Debug("channel open")
	return EndpointClientChannelRequestCompleted{
		Handle:            c.handle,
		EndpointServiceId: c.endpointId,
		ChannelName:       c.channelName,
		Stream:            c.conn,
	}, nil
}
