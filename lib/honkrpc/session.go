package honkrpc

import (
	"errors"
	"io"
	"net"
	"os"
	"time"

	"github.com/go-i2p/logger"
	"github.com/gosling-project/go-gosling/lib/bson"
	"github.com/samber/oops"
	"golang.org/x/time/rate"
)

var log = logger.GetGoI2PLogger()

// Defaults for the session budgets. Handshake traffic is tiny, so the
// envelope budget is deliberately small.
const (
	DefaultMaxMessageSize     = 16 * 1024
	DefaultMaxPendingRequests = 32
	DefaultCallTimeout        = 60 * time.Second
)

// inbound message rate budget; far above anything a well-behaved handshake
// produces
const (
	defaultMessageRate  = 512
	defaultMessageBurst = 1024
)

// readPollInterval bounds how long a single Update may wait on the stream.
const readPollInterval = time.Millisecond

type pendingCall struct {
	namespace string
	function  string
	deadline  time.Time
	cancelled bool
}

type inboundRequest struct {
	cancelled bool
}

// Session multiplexes Honk-RPC requests and responses over one reliable
// ordered byte stream. Sessions are not safe for concurrent use; all methods
// must be called from the owning poll loop.
type Session struct {
	stream io.ReadWriter

	maxMessageSize     int
	maxPendingRequests int
	callTimeout        time.Duration
	limiter            *rate.Limiter
	now                func() time.Time

	nextCookie RequestCookie
	pending    map[RequestCookie]*pendingCall
	inbound    map[RequestCookie]*inboundRequest
	responses  []Response

	readBuf []byte
	scratch []byte
	closed  bool
}

// NewSession wraps stream in a session with default budgets. If the stream
// supports read deadlines (net.Conn does) reads are polled and never block
// longer than a millisecond; otherwise the stream's Read must be
// non-blocking and signal "no data" with a timeout error.
func NewSession(stream io.ReadWriter) *Session {
	return &Session{
		stream:             stream,
		maxMessageSize:     DefaultMaxMessageSize,
		maxPendingRequests: DefaultMaxPendingRequests,
		callTimeout:        DefaultCallTimeout,
		limiter:            rate.NewLimiter(rate.Limit(defaultMessageRate), defaultMessageBurst),
		now:                time.Now,
		pending:            make(map[RequestCookie]*pendingCall),
		inbound:            make(map[RequestCookie]*inboundRequest),
		scratch:            make([]byte, 4096),
	}
}

// SetMaxMessageSize overrides the envelope size budget.
func (s *Session) SetMaxMessageSize(size int) {
	if size > 0 {
		s.maxMessageSize = size
	}
}

// SetMaxPendingRequests overrides the concurrent inbound request budget.
func (s *Session) SetMaxPendingRequests(limit int) {
	if limit > 0 {
		s.maxPendingRequests = limit
	}
}

// SetCallTimeout overrides the per-call deadline for outbound calls.
func (s *Session) SetCallTimeout(d time.Duration) {
	if d > 0 {
		s.callTimeout = d
	}
}

// IsClosed reports whether the session has shut down.
func (s *Session) IsClosed() bool {
	return s.closed
}

// Call issues a request and returns the cookie its response will carry.
func (s *Session) Call(namespace, function string, version int32, args *bson.Document) (RequestCookie, error) {
	if s.closed {
		return 0, ErrClosed
	}

	cookie := s.nextCookie
	s.nextCookie++

	sec, err := buildRequestSection(cookie, namespace, function, version, args)
	if err != nil {
		return 0, err
	}
	if err := s.writeEnvelope(sec); err != nil {
		return 0, err
	}

	s.pending[cookie] = &pendingCall{
		namespace: namespace,
		function:  function,
		deadline:  s.now().Add(s.callTimeout),
	}

	log.WithFields(logger.Fields{
		"at":        "honkrpc.Call",
		"namespace": namespace,
		"function":  function,
		"cookie":    int64(cookie),
	}).Debug("request_sent")
	return cookie, nil
}

// CancelCall tells the peer to terminate the handler for cookie and stops
// expecting its response. Unknown cookies are a no-op.
func (s *Session) CancelCall(cookie RequestCookie) error {
	if s.closed {
		return ErrClosed
	}
	if _, ok := s.pending[cookie]; !ok {
		return nil
	}
	sec, err := buildCancelSection(cookie)
	if err != nil {
		return err
	}
	if err := s.writeEnvelope(sec); err != nil {
		return err
	}
	delete(s.pending, cookie)
	return nil
}

// NextResponse pops the oldest response to an outbound call.
func (s *Session) NextResponse() (*Response, bool) {
	if len(s.responses) == 0 {
		return nil, false
	}
	resp := s.responses[0]
	s.responses = s.responses[1:]
	return &resp, true
}

// Update consumes whatever the stream has buffered, dispatches request
// sections to apisets, matches response sections against pending calls,
// drains async handler results and sweeps call deadlines. It never blocks
// for longer than the read poll interval. A returned error means the
// session is dead.
func (s *Session) Update(apisets []ApiSet) error {
	if s.closed {
		return ErrClosed
	}

	// frames that arrived before a stream failure are still dispatched; the
	// failure is reported by an Update that has no complete frame to deliver
	readErr := s.readAvailable()
	delivered := false

	for {
		if len(s.readBuf) < 4 {
			break
		}
		declared, err := bson.DocumentSize(s.readBuf)
		if err != nil || declared > s.maxMessageSize {
			s.sendErrorSection(ErrorCodeFailure, "message exceeds size budget")
			s.abortPending()
			s.closed = true
			return ErrMessageTooBig
		}
		if len(s.readBuf) < declared {
			break
		}
		if !s.limiter.Allow() {
			// over the rate budget; leave the frame for a later poll
			break
		}

		frame := s.readBuf[:declared]
		s.readBuf = s.readBuf[declared:]

		env, err := bson.Decode(frame, s.maxMessageSize)
		if err != nil {
			s.sendErrorSection(ErrorCodeFailure, "undecodable envelope")
			s.abortPending()
			s.closed = true
			return oops.Errorf("honkrpc: envelope decode failed: %w", err)
		}
		if err := s.handleEnvelope(env, apisets); err != nil {
			s.abortPending()
			s.closed = true
			return err
		}
		delivered = true
	}

	if readErr != nil && !delivered {
		s.abortPending()
		s.closed = true
		return oops.Errorf("honkrpc: session stream failed: %w", readErr)
	}

	if err := s.drainResults(apisets); err != nil {
		s.abortPending()
		s.closed = true
		return err
	}

	s.sweepDeadlines()
	return nil
}

// Close shuts the session down. Outstanding local calls resolve aborted.
func (s *Session) Close() error {
	if s.closed {
		return nil
	}
	s.abortPending()
	s.closed = true
	return nil
}

func (s *Session) handleEnvelope(env *bson.Document, apisets []ApiSet) error {
	version, err := env.GetInt32("honk_rpc")
	if err != nil || version != ProtocolVersion {
		s.sendErrorSection(ErrorCodeBadVersion, "unsupported honk_rpc version")
		return oops.Errorf("honkrpc: bad envelope version: %w", ErrBadEnvelope)
	}
	sections, err := env.GetArray("sections")
	if err != nil {
		s.sendErrorSection(ErrorCodeFailure, "envelope without sections")
		return oops.Errorf("honkrpc: envelope without sections: %w", ErrBadEnvelope)
	}

	for _, raw := range sections {
		sec, ok := raw.(*bson.Document)
		if !ok {
			s.sendErrorSection(ErrorCodeFailure, "non-document section")
			return oops.Errorf("honkrpc: section is %T: %w", raw, ErrBadEnvelope)
		}
		id, err := sec.GetInt32("id")
		if err != nil {
			s.sendErrorSection(ErrorCodeFailure, "section without id")
			return oops.Errorf("honkrpc: section without id: %w", ErrBadEnvelope)
		}
		switch id {
		case sectionError:
			code := ErrorCodeFailure
			if c, err := sec.GetInt32("code"); err == nil {
				code = ErrorCode(c)
			}
			message, _ := sec.GetString("message")
			log.WithFields(logger.Fields{
				"at":      "honkrpc.handleEnvelope",
				"code":    code.String(),
				"message": message,
			}).Debug("fatal_error_section_received")
			return &RemoteError{Code: code, Message: message}
		case sectionRequest:
			if err := s.handleRequest(sec, apisets); err != nil {
				return err
			}
		case sectionResponse:
			s.handleResponse(sec)
		default:
			// unknown section ids are reserved for protocol extensions
			log.WithField("id", id).Debug("skipping unknown section id")
		}
	}
	return nil
}

func (s *Session) handleRequest(sec *bson.Document, apisets []ApiSet) error {
	req, err := parseRequestSection(sec)
	if err != nil {
		s.sendErrorSection(ErrorCodeFailure, "malformed request section")
		return err
	}

	if req.cancel {
		// cancelling an unknown cookie is a no-op
		if req.hasCookie {
			if inflight, ok := s.inbound[req.cookie]; ok {
				inflight.cancelled = true
				log.WithField("cookie", int64(req.cookie)).Debug("inbound request cancelled")
			}
		}
		return nil
	}

	if !req.hasCookie {
		log.WithFields(logger.Fields{
			"at":       "honkrpc.handleRequest",
			"function": req.function,
		}).Debug("dropping request without cookie")
		return nil
	}

	if len(s.inbound) >= s.maxPendingRequests {
		return s.sendResponse(req.cookie, ResponseStateError, nil, ErrorCodeBusy, "")
	}

	var target ApiSet
	for _, apiset := range apisets {
		if apiset.Namespace() == req.namespace {
			target = apiset
			break
		}
	}
	if target == nil {
		return s.sendResponse(req.cookie, ResponseStateError, nil, ErrorCodeUnknownFunction, "")
	}

	result, pending, code := target.ExecFunction(req.function, req.version, req.arguments, req.cookie)
	switch {
	case code != ErrorCodeSuccess:
		return s.sendResponse(req.cookie, ResponseStateError, nil, code, "")
	case pending:
		s.inbound[req.cookie] = &inboundRequest{}
		// keepalive so the caller knows the request landed
		return s.sendResponse(req.cookie, ResponseStatePending, nil, ErrorCodeSuccess, "")
	default:
		return s.sendResponse(req.cookie, ResponseStateComplete, result, ErrorCodeSuccess, "")
	}
}

func (s *Session) handleResponse(sec *bson.Document) {
	resp, err := parseResponseSection(sec)
	if err != nil {
		log.WithError(err).Debug("dropping malformed response section")
		return
	}
	call, ok := s.pending[resp.Cookie]
	if !ok {
		log.WithField("cookie", int64(resp.Cookie)).Debug("dropping response for unknown cookie")
		return
	}
	if resp.State == ResponseStatePending {
		// keepalive; push the deadline out
		call.deadline = s.now().Add(s.callTimeout)
		return
	}
	delete(s.pending, resp.Cookie)
	if call.cancelled {
		return
	}
	s.responses = append(s.responses, *resp)
}

func (s *Session) drainResults(apisets []ApiSet) error {
	for _, apiset := range apisets {
		for {
			cookie, result, code, ok := apiset.NextResult()
			if !ok {
				break
			}
			inflight, tracked := s.inbound[cookie]
			if tracked {
				delete(s.inbound, cookie)
				if inflight.cancelled {
					// the peer cancelled; its response is discarded
					continue
				}
			}
			state := ResponseStateComplete
			if code != ErrorCodeSuccess {
				state = ResponseStateError
			}
			if err := s.sendResponse(cookie, state, result, code, ""); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *Session) sweepDeadlines() {
	now := s.now()
	for cookie, call := range s.pending {
		if now.After(call.deadline) {
			delete(s.pending, cookie)
			s.responses = append(s.responses, Response{
				Cookie:    cookie,
				State:     ResponseStateError,
				ErrorCode: ErrorCodeTimeout,
			})
			log.WithFields(logger.Fields{
				"at":       "honkrpc.sweepDeadlines",
				"cookie":   int64(cookie),
				"function": call.function,
			}).Debug("call_timed_out")
		}
	}
}

func (s *Session) abortPending() {
	for cookie := range s.pending {
		s.responses = append(s.responses, Response{
			Cookie:    cookie,
			State:     ResponseStateError,
			ErrorCode: ErrorCodeAborted,
		})
		delete(s.pending, cookie)
	}
}

func (s *Session) sendResponse(cookie RequestCookie, state ResponseState, result bson.Value, code ErrorCode, message string) error {
	sec, err := buildResponseSection(cookie, state, result, code, message)
	if err != nil {
		return err
	}
	return s.writeEnvelope(sec)
}

// sendErrorSection is best effort: the peer may already be gone. It writes
// directly so a fatal report is never stopped by the budget it reports on.
func (s *Session) sendErrorSection(code ErrorCode, message string) {
	sec, err := buildErrorSection(code, message)
	if err != nil {
		return
	}
	env, err := buildEnvelope(sec)
	if err != nil {
		return
	}
	enc, err := bson.Encode(env)
	if err != nil {
		return
	}
	if _, err := s.stream.Write(enc); err != nil {
		log.WithError(err).Debug("failed to send error section")
	}
}

func (s *Session) writeEnvelope(sections ...*bson.Document) error {
	if s.closed {
		return ErrClosed
	}
	env, err := buildEnvelope(sections...)
	if err != nil {
		return err
	}
	enc, err := bson.Encode(env)
	if err != nil {
		return err
	}
	if len(enc) > s.maxMessageSize {
		return ErrMessageTooBig
	}
	if _, err := s.stream.Write(enc); err != nil {
		return oops.Errorf("honkrpc: envelope write failed: %w", err)
	}
	return nil
}

type deadlineReader interface {
	SetReadDeadline(t time.Time) error
}

// readAvailable pulls buffered bytes off the stream without blocking past
// the poll interval. Timeout errors mean "no more data for now".
func (s *Session) readAvailable() error {
	if dr, ok := s.stream.(deadlineReader); ok {
		if err := dr.SetReadDeadline(s.now().Add(readPollInterval)); err != nil {
			return err
		}
	}
	for len(s.readBuf) < 4*s.maxMessageSize {
		n, err := s.stream.Read(s.scratch)
		if n > 0 {
			s.readBuf = append(s.readBuf, s.scratch[:n]...)
		}
		if err != nil {
			if isTimeout(err) {
				return nil
			}
			if errors.Is(err, io.EOF) {
				return oops.Errorf("honkrpc: peer closed the stream: %w", err)
			}
			return err
		}
	}
	return nil
}

func isTimeout(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
