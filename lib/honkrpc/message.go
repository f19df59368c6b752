package honkrpc

import (
	"github.com/gosling-project/go-gosling/lib/bson"
	"github.com/samber/oops"
)

// ProtocolVersion is the honk_rpc envelope version this package speaks.
const ProtocolVersion = 1

// section ids inside an envelope
const (
	sectionError    = 0
	sectionRequest  = 1
	sectionResponse = 2
)

// ResponseState is the state field of a response section.
type ResponseState int32

const (
	ResponseStatePending  ResponseState = 0
	ResponseStateComplete ResponseState = 1
	ResponseStateError    ResponseState = 2
)

// RequestCookie correlates a request with its response. Cookies are unique
// per direction while the call is pending.
type RequestCookie int64

// Response is a terminal answer to an outbound call (complete, error, or a
// local timeout or abort), surfaced to the session consumer through
// NextResponse. Pending keepalives only extend the call's deadline and are
// not surfaced.
type Response struct {
	Cookie    RequestCookie
	State     ResponseState
	Result    bson.Value
	ErrorCode ErrorCode
	Message   string
}

// Err returns nil for a complete response and a descriptive error otherwise.
func (r *Response) Err() error {
	if r.State == ResponseStateComplete {
		return nil
	}
	return &RemoteError{Code: r.ErrorCode, Message: r.Message}
}

func buildEnvelope(sections ...*bson.Document) (*bson.Document, error) {
	arr := make(bson.Array, 0, len(sections))
	for _, sec := range sections {
		arr = append(arr, sec)
	}
	env := bson.NewDocument()
	if err := env.Set("honk_rpc", int32(ProtocolVersion)); err != nil {
		return nil, err
	}
	if err := env.Set("sections", arr); err != nil {
		return nil, err
	}
	return env, nil
}

func buildRequestSection(cookie RequestCookie, namespace, function string, version int32, args *bson.Document) (*bson.Document, error) {
	if args == nil {
		args = bson.NewDocument()
	}
	sec := bson.NewDocument()
	for _, err := range []error{
		sec.Set("id", int32(sectionRequest)),
		sec.Set("cookie", int64(cookie)),
		sec.Set("namespace", namespace),
		sec.Set("function", function),
		sec.Set("version", version),
		sec.Set("arguments", args),
	} {
		if err != nil {
			return nil, err
		}
	}
	return sec, nil
}

func buildCancelSection(cookie RequestCookie) (*bson.Document, error) {
	sec := bson.NewDocument()
	for _, err := range []error{
		sec.Set("id", int32(sectionRequest)),
		sec.Set("cookie", int64(cookie)),
		sec.Set("cancel", true),
	} {
		if err != nil {
			return nil, err
		}
	}
	return sec, nil
}

func buildResponseSection(cookie RequestCookie, state ResponseState, result bson.Value, code ErrorCode, message string) (*bson.Document, error) {
	sec := bson.NewDocument()
	for _, err := range []error{
		sec.Set("id", int32(sectionResponse)),
		sec.Set("cookie", int64(cookie)),
		sec.Set("state", int32(state)),
	} {
		if err != nil {
			return nil, err
		}
	}
	if state == ResponseStateComplete {
		if err := sec.Set("result", result); err != nil {
			return nil, err
		}
	}
	if state == ResponseStateError {
		if err := sec.Set("error_code", int32(code)); err != nil {
			return nil, err
		}
		if message != "" {
			if err := sec.Set("message", message); err != nil {
				return nil, err
			}
		}
	}
	return sec, nil
}

func buildErrorSection(code ErrorCode, message string) (*bson.Document, error) {
	sec := bson.NewDocument()
	if err := sec.Set("id", int32(sectionError)); err != nil {
		return nil, err
	}
	if err := sec.Set("code", int32(code)); err != nil {
		return nil, err
	}
	if message != "" {
		if err := sec.Set("message", message); err != nil {
			return nil, err
		}
	}
	return sec, nil
}

// parsedRequest is a request section lifted off the wire.
type parsedRequest struct {
	cookie    RequestCookie
	hasCookie bool
	namespace string
	function  string
	version   int32
	arguments *bson.Document
	cancel    bool
}

func parseRequestSection(sec *bson.Document) (*parsedRequest, error) {
	req := &parsedRequest{arguments: bson.NewDocument()}

	if v, ok := sec.Get("cookie"); ok {
		n, isInt := v.(int64)
		if !isInt {
			return nil, oops.Errorf("honkrpc: request cookie is %T: %w", v, ErrBadEnvelope)
		}
		req.cookie = RequestCookie(n)
		req.hasCookie = true
	}
	if v, ok := sec.Get("cancel"); ok {
		b, isBool := v.(bool)
		if !isBool {
			return nil, oops.Errorf("honkrpc: request cancel is %T: %w", v, ErrBadEnvelope)
		}
		req.cancel = b
	}
	if req.cancel {
		return req, nil
	}

	if v, ok := sec.Get("namespace"); ok {
		s, isStr := v.(string)
		if !isStr {
			return nil, oops.Errorf("honkrpc: request namespace is %T: %w", v, ErrBadEnvelope)
		}
		req.namespace = s
	}
	fn, err := sec.GetString("function")
	if err != nil {
		return nil, oops.Errorf("honkrpc: request without function: %w", ErrBadEnvelope)
	}
	req.function = fn
	if v, ok := sec.Get("version"); ok {
		n, isInt := v.(int32)
		if !isInt {
			return nil, oops.Errorf("honkrpc: request version is %T: %w", v, ErrBadEnvelope)
		}
		req.version = n
	}
	if v, ok := sec.Get("arguments"); ok {
		doc, isDoc := v.(*bson.Document)
		if !isDoc {
			return nil, oops.Errorf("honkrpc: request arguments is %T: %w", v, ErrBadEnvelope)
		}
		req.arguments = doc
	}
	return req, nil
}

func parseResponseSection(sec *bson.Document) (*Response, error) {
	cookie, err := sec.GetInt64("cookie")
	if err != nil {
		return nil, oops.Errorf("honkrpc: response without cookie: %w", ErrBadEnvelope)
	}
	state, err := sec.GetInt32("state")
	if err != nil {
		return nil, oops.Errorf("honkrpc: response without state: %w", ErrBadEnvelope)
	}
	resp := &Response{
		Cookie: RequestCookie(cookie),
		State:  ResponseState(state),
	}
	switch resp.State {
	case ResponseStatePending:
	case ResponseStateComplete:
		if v, ok := sec.Get("result"); ok {
			resp.Result = v
		}
	case ResponseStateError:
		code, err := sec.GetInt32("error_code")
		if err != nil {
			return nil, oops.Errorf("honkrpc: error response without error_code: %w", ErrBadEnvelope)
		}
		resp.ErrorCode = ErrorCode(code)
		if msg, err := sec.GetString("message"); err == nil {
			resp.Message = msg
		}
	default:
		return nil, oops.Errorf("honkrpc: response state %d: %w", state, ErrBadEnvelope)
	}
	return resp, nil
}
