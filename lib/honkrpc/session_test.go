package honkrpc

import (
	"testing"
	"time"

	"github.com/gosling-project/go-gosling/lib/bson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testApiSet answers echo requests, optionally asynchronously.
type testApiSet struct {
	namespace string
	async     bool
	held      []RequestCookie
	results   []RequestCookie
	calls     int
}

func (a *testApiSet) Namespace() string {
	return a.namespace
}

func (a *testApiSet) ExecFunction(name string, version int32, args *bson.Document, cookie RequestCookie) (bson.Value, bool, ErrorCode) {
	a.calls++
	if name != "echo" {
		return nil, false, ErrorCodeUnknownFunction
	}
	if version != 0 {
		return nil, false, ErrorCodeUnknownVersion
	}
	if a.async {
		a.held = append(a.held, cookie)
		return nil, true, ErrorCodeSuccess
	}
	msg, err := args.GetString("msg")
	if err != nil {
		return nil, false, ErrorCodeBadArguments
	}
	return bson.NewDocument().MustSet("msg", msg), false, ErrorCodeSuccess
}

func (a *testApiSet) NextResult() (RequestCookie, bson.Value, ErrorCode, bool) {
	if len(a.results) == 0 {
		return 0, nil, ErrorCodeSuccess, false
	}
	cookie := a.results[0]
	a.results = a.results[1:]
	return cookie, bson.NewDocument().MustSet("done", true), ErrorCodeSuccess, true
}

// release moves held requests into the result queue.
func (a *testApiSet) release() {
	a.results = append(a.results, a.held...)
	a.held = nil
}

func pump(t *testing.T, client, server *Session, apisets []ApiSet) {
	t.Helper()
	for i := 0; i < 8; i++ {
		require.NoError(t, server.Update(apisets))
		require.NoError(t, client.Update(nil))
	}
}

func TestCallResponse(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	clientStream, serverStream := newStreamPair()
	client := NewSession(clientStream)
	server := NewSession(serverStream)
	apiset := &testApiSet{namespace: "test"}

	args := bson.NewDocument().MustSet("msg", "ping")
	cookie, err := client.Call("test", "echo", 0, args)
	require.NoError(err)

	pump(t, client, server, []ApiSet{apiset})

	resp, ok := client.NextResponse()
	require.True(ok)
	assert.Equal(cookie, resp.Cookie)
	assert.Equal(ResponseStateComplete, resp.State)
	result, isDoc := resp.Result.(*bson.Document)
	require.True(isDoc)
	msg, err := result.GetString("msg")
	assert.Nil(err)
	assert.Equal("ping", msg)

	_, ok = client.NextResponse()
	assert.False(ok)
}

func TestUnknownNamespaceAndFunction(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	clientStream, serverStream := newStreamPair()
	client := NewSession(clientStream)
	server := NewSession(serverStream)
	apiset := &testApiSet{namespace: "test"}

	// unknown namespace
	_, err := client.Call("nope", "echo", 0, nil)
	require.NoError(err)
	// unknown function inside a known namespace
	_, err = client.Call("test", "nope", 0, nil)
	require.NoError(err)
	// unknown function version
	_, err = client.Call("test", "echo", 3, nil)
	require.NoError(err)

	pump(t, client, server, []ApiSet{apiset})

	codes := []ErrorCode{}
	for {
		resp, ok := client.NextResponse()
		if !ok {
			break
		}
		assert.Equal(ResponseStateError, resp.State)
		codes = append(codes, resp.ErrorCode)
	}
	assert.Equal([]ErrorCode{ErrorCodeUnknownFunction, ErrorCodeUnknownFunction, ErrorCodeUnknownVersion}, codes)

	// the session stays usable after protocol errors
	assert.False(client.IsClosed())
	assert.False(server.IsClosed())
}

func TestAsyncPendingResponse(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	clientStream, serverStream := newStreamPair()
	client := NewSession(clientStream)
	server := NewSession(serverStream)
	apiset := &testApiSet{namespace: "test", async: true}

	cookie, err := client.Call("test", "echo", 0, bson.NewDocument().MustSet("msg", "x"))
	require.NoError(err)

	// handler goes pending; only the keepalive reaches the client
	pump(t, client, server, []ApiSet{apiset})
	_, ok := client.NextResponse()
	assert.False(ok)

	apiset.release()
	pump(t, client, server, []ApiSet{apiset})

	resp, ok := client.NextResponse()
	require.True(ok)
	assert.Equal(cookie, resp.Cookie)
	assert.Equal(ResponseStateComplete, resp.State)
}

func TestPendingBudgetBusy(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	clientStream, serverStream := newStreamPair()
	client := NewSession(clientStream)
	server := NewSession(serverStream)
	server.SetMaxPendingRequests(1)
	apiset := &testApiSet{namespace: "test", async: true}

	_, err := client.Call("test", "echo", 0, nil)
	require.NoError(err)
	second, err := client.Call("test", "echo", 0, nil)
	require.NoError(err)

	pump(t, client, server, []ApiSet{apiset})

	resp, ok := client.NextResponse()
	require.True(ok)
	assert.Equal(second, resp.Cookie)
	assert.Equal(ResponseStateError, resp.State)
	assert.Equal(ErrorCodeBusy, resp.ErrorCode)

	// the budgeted handler was only invoked for the first call
	assert.Equal(1, apiset.calls)
	assert.Equal(1, len(apiset.held))
}

func TestOversizeFrameFatal(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	clientStream, serverStream := newStreamPair()
	server := NewSession(serverStream)
	server.SetMaxMessageSize(64)

	// hand-rolled frame whose declared length exceeds the budget
	_, err := clientStream.Write([]byte{0xff, 0xff, 0x00, 0x00})
	require.NoError(err)

	err = server.Update(nil)
	assert.ErrorIs(err, ErrMessageTooBig)
	assert.True(server.IsClosed())

	// the peer got a fatal error section
	client := NewSession(clientStream)
	err = client.Update(nil)
	require.Error(err)
	var remote *RemoteError
	require.ErrorAs(err, &remote)
	assert.Equal(ErrorCodeFailure, remote.Code)
}

func TestFrameAtSizeLimitDecodes(t *testing.T) {
	require := require.New(t)

	clientStream, serverStream := newStreamPair()
	client := NewSession(clientStream)
	server := NewSession(serverStream)
	apiset := &testApiSet{namespace: "test"}

	// grow the message until it lands exactly on the server's budget
	probe := func(padding int) []byte {
		args := bson.NewDocument().MustSet("msg", string(make([]byte, padding)))
		sec, err := buildRequestSection(0, "test", "echo", 0, args)
		require.NoError(err)
		env, err := buildEnvelope(sec)
		require.NoError(err)
		enc, err := bson.Encode(env)
		require.NoError(err)
		return enc
	}
	base := len(probe(0))
	limit := base + 32
	server.SetMaxMessageSize(limit)
	client.SetMaxMessageSize(limit)

	_, err := client.Call("test", "echo", 0, bson.NewDocument().MustSet("msg", string(make([]byte, 32))))
	require.NoError(err)
	pump(t, client, server, []ApiSet{apiset})

	resp, ok := client.NextResponse()
	require.True(ok)
	require.Equal(ResponseStateComplete, resp.State)
}

func TestCancelUnknownCookieIsNoOp(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	clientStream, serverStream := newStreamPair()
	client := NewSession(clientStream)
	server := NewSession(serverStream)
	apiset := &testApiSet{namespace: "test"}

	sec, err := buildCancelSection(RequestCookie(4242))
	require.NoError(err)
	env, err := buildEnvelope(sec)
	require.NoError(err)
	enc, err := bson.Encode(env)
	require.NoError(err)
	_, err = clientStream.Write(enc)
	require.NoError(err)

	require.NoError(server.Update([]ApiSet{apiset}))
	assert.False(server.IsClosed())

	// normal traffic still flows afterwards
	_, err = client.Call("test", "echo", 0, bson.NewDocument().MustSet("msg", "still alive"))
	require.NoError(err)
	pump(t, client, server, []ApiSet{apiset})
	resp, ok := client.NextResponse()
	require.True(ok)
	assert.Equal(ResponseStateComplete, resp.State)
}

func TestCancelledInboundResultDiscarded(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	clientStream, serverStream := newStreamPair()
	client := NewSession(clientStream)
	server := NewSession(serverStream)
	apiset := &testApiSet{namespace: "test", async: true}

	cookie, err := client.Call("test", "echo", 0, nil)
	require.NoError(err)
	pump(t, client, server, []ApiSet{apiset})

	require.NoError(client.CancelCall(cookie))
	pump(t, client, server, []ApiSet{apiset})

	apiset.release()
	pump(t, client, server, []ApiSet{apiset})

	// neither the result nor anything else reaches the caller
	_, ok := client.NextResponse()
	assert.False(ok)
}

func TestCallTimeout(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	clientStream, serverStream := newStreamPair()
	client := NewSession(clientStream)
	server := NewSession(serverStream)
	apiset := &testApiSet{namespace: "test", async: true}

	now := time.Now()
	client.now = func() time.Time { return now }
	client.SetCallTimeout(time.Second)

	cookie, err := client.Call("test", "echo", 0, nil)
	require.NoError(err)
	pump(t, client, server, []ApiSet{apiset})

	// the keepalive pushed the deadline out; expire it
	now = now.Add(2 * time.Second)
	require.NoError(client.Update(nil))

	resp, ok := client.NextResponse()
	require.True(ok)
	assert.Equal(cookie, resp.Cookie)
	assert.Equal(ResponseStateError, resp.State)
	assert.Equal(ErrorCodeTimeout, resp.ErrorCode)
}

func TestCloseAbortsPendingCalls(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	clientStream, _ := newStreamPair()
	client := NewSession(clientStream)

	cookie, err := client.Call("test", "echo", 0, nil)
	require.NoError(err)
	require.NoError(client.Close())

	resp, ok := client.NextResponse()
	require.True(ok)
	assert.Equal(cookie, resp.Cookie)
	assert.Equal(ErrorCodeAborted, resp.ErrorCode)

	// operations on a closed session report closed
	_, err = client.Call("test", "echo", 0, nil)
	assert.ErrorIs(err, ErrClosed)
	assert.ErrorIs(client.Update(nil), ErrClosed)
}

func TestPeerDisconnectAborts(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	clientStream, serverStream := newStreamPair()
	client := NewSession(clientStream)

	cookie, err := client.Call("test", "echo", 0, nil)
	require.NoError(err)

	_ = serverStream.Close()
	err = client.Update(nil)
	require.Error(err)
	assert.True(client.IsClosed())

	resp, ok := client.NextResponse()
	require.True(ok)
	assert.Equal(cookie, resp.Cookie)
	assert.Equal(ErrorCodeAborted, resp.ErrorCode)
}
