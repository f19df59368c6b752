package gosling

import (
	"io"
	"testing"
	"time"

	"github.com/gosling-project/go-gosling/lib/bson"
	"github.com/gosling-project/go-gosling/lib/crypto/ed25519"
	"github.com/gosling-project/go-gosling/lib/crypto/onion"
	"github.com/gosling-project/go-gosling/lib/tor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// eventLog gathers every event a set of contexts emits while polling.
type eventLog struct {
	events map[string][]Event
}

func newEventLog() *eventLog {
	return &eventLog{events: make(map[string][]Event)}
}

func (l *eventLog) pollAll(contexts map[string]*Context) {
	for name, ctx := range contexts {
		l.events[name] = append(l.events[name], ctx.PollEvents()...)
	}
}

// runUntil polls the contexts until cond holds or the deadline expires.
func runUntil(t *testing.T, contexts map[string]*Context, log *eventLog, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		log.pollAll(contexts)
		time.Sleep(2 * time.Millisecond)
	}
	require.FailNow(t, "timed out waiting for "+what)
}

func find[T Event](events []Event) (T, bool) {
	for _, event := range events {
		if match, ok := event.(T); ok {
			return match, true
		}
	}
	var zero T
	return zero, false
}

func newTestContext(t *testing.T, network *tor.MockNetwork, blocked []onion.V3OnionServiceId, clientHooks *IdentityClientHooks, serverHooks *ServerHooks) *Context {
	t.Helper()
	key, err := ed25519.GeneratePrivateKey()
	require.NoError(t, err)
	ctx, err := NewContext(nil, network.NewProvider(), key, blocked, clientHooks, serverHooks)
	require.NoError(t, err)
	return ctx
}

func bootstrapAll(t *testing.T, contexts map[string]*Context, log *eventLog) {
	t.Helper()
	for _, ctx := range contexts {
		require.NoError(t, ctx.BootstrapTor())
	}
	runUntil(t, contexts, log, "bootstrap", func() bool {
		for name := range contexts {
			if _, ok := find[TorBootstrapCompleted](log.events[name]); !ok {
				return false
			}
		}
		return true
	})
}

func TestContextHappyPathChannel(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	network := tor.NewMockNetwork()

	var challengeSeen *bson.Document
	aliceHooks := &IdentityClientHooks{
		BuildChallengeResponse: func(handle HandshakeHandle, endpointName string, challenge *bson.Document) (*bson.Document, error) {
			challengeSeen = challenge
			return bson.NewDocument(), nil
		},
	}
	bobHooks := &ServerHooks{
		EndpointSupported: func(endpointName string) bool { return endpointName == "default" },
		BuildChallenge: func(endpointName string) (*bson.Document, error) {
			return bson.NewDocument().MustSet("msg", "hello world"), nil
		},
		VerifyChallengeResponse: func(endpointName string, challenge, response *bson.Document) Verdict {
			if response.Equal(bson.NewDocument()) {
				return VerdictValid
			}
			return VerdictInvalid
		},
	}

	alice := newTestContext(t, network, nil, aliceHooks, nil)
	bob := newTestContext(t, network, nil, nil, bobHooks)
	defer alice.Close()
	defer bob.Close()

	contexts := map[string]*Context{"alice": alice, "bob": bob}
	log := newEventLog()
	bootstrapAll(t, contexts, log)

	require.NoError(bob.StartIdentityServer())
	runUntil(t, contexts, log, "identity server published", func() bool {
		_, ok := find[IdentityServerPublished](log.events["bob"])
		return ok
	})

	handle, err := alice.RequestRemoteEndpoint(bob.IdentityServiceId(), "default")
	require.NoError(err)

	runUntil(t, contexts, log, "identity handshake", func() bool {
		_, aliceDone := find[EndpointClientRequestCompleted](log.events["alice"])
		_, bobDone := find[IdentityServerHandshakeCompleted](log.events["bob"])
		return aliceDone && bobDone
	})

	aliceCompleted, _ := find[EndpointClientRequestCompleted](log.events["alice"])
	assert.Equal(handle, aliceCompleted.Handle)
	assert.Equal("default", aliceCompleted.EndpointName)
	assert.Equal(bob.IdentityServiceId(), aliceCompleted.IdentityServiceId)
	require.NotNil(aliceCompleted.ClientAuthPrivateKey)

	// the challenge the client saw is the server's exact document
	require.NotNil(challengeSeen)
	assert.True(challengeSeen.Equal(bson.NewDocument().MustSet("msg", "hello world")))

	bobCompleted, _ := find[IdentityServerHandshakeCompleted](log.events["bob"])
	assert.Equal(alice.IdentityServiceId(), bobCompleted.ClientServiceId)
	assert.Equal("default", bobCompleted.EndpointName)

	// bob's endpoint service reaches the network
	runUntil(t, contexts, log, "endpoint server published", func() bool {
		_, ok := find[EndpointServerPublished](log.events["bob"])
		return ok
	})
	published, _ := find[EndpointServerPublished](log.events["bob"])
	assert.Equal(aliceCompleted.EndpointServiceId, published.EndpointServiceId)

	// open the channel with the issued credentials
	channelHandle, err := alice.OpenEndpointChannel(aliceCompleted.EndpointServiceId, aliceCompleted.ClientAuthPrivateKey, "funky")
	require.NoError(err)

	runUntil(t, contexts, log, "channel open", func() bool {
		_, aliceOpen := find[EndpointClientChannelRequestCompleted](log.events["alice"])
		_, bobOpen := find[EndpointServerChannelRequestCompleted](log.events["bob"])
		return aliceOpen && bobOpen
	})

	aliceChannel, _ := find[EndpointClientChannelRequestCompleted](log.events["alice"])
	bobChannel, _ := find[EndpointServerChannelRequestCompleted](log.events["bob"])
	assert.Equal(channelHandle, aliceChannel.Handle)
	assert.Equal("funky", aliceChannel.ChannelName)
	assert.Equal("funky", bobChannel.ChannelName)
	assert.Equal(alice.IdentityServiceId(), bobChannel.ClientServiceId)
	require.NotNil(aliceChannel.Stream)
	require.NotNil(bobChannel.Stream)

	// the streams are a raw bidirectional channel now
	_, err = aliceChannel.Stream.Write([]byte("Hello Bob!\n"))
	require.NoError(err)

	require.NoError(bobChannel.Stream.SetReadDeadline(time.Now().Add(5 * time.Second)))
	received := make([]byte, len("Hello Bob!\n"))
	_, err = io.ReadFull(bobChannel.Stream, received)
	require.NoError(err)
	assert.Equal("Hello Bob!\n", string(received))

	aliceChannel.Stream.Close()
	bobChannel.Stream.Close()
}

func TestContextBlockedClient(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	network := tor.NewMockNetwork()

	aliceKey, err := ed25519.GeneratePrivateKey()
	require.NoError(err)
	aliceId, err := onion.FromPrivateKey(aliceKey)
	require.NoError(err)

	alice, err := NewContext(nil, network.NewProvider(), aliceKey, nil, nil, nil)
	require.NoError(err)
	bob := newTestContext(t, network, []onion.V3OnionServiceId{aliceId}, nil, nil)
	defer alice.Close()
	defer bob.Close()

	contexts := map[string]*Context{"alice": alice, "bob": bob}
	log := newEventLog()
	bootstrapAll(t, contexts, log)

	require.NoError(bob.StartIdentityServer())
	runUntil(t, contexts, log, "identity server published", func() bool {
		_, ok := find[IdentityServerPublished](log.events["bob"])
		return ok
	})

	handle, err := alice.RequestRemoteEndpoint(bob.IdentityServiceId(), "default")
	require.NoError(err)

	runUntil(t, contexts, log, "blocked rejection", func() bool {
		_, ok := find[EndpointClientRequestFailed](log.events["alice"])
		return ok
	})

	failed, _ := find[EndpointClientRequestFailed](log.events["alice"])
	assert.Equal(handle, failed.Handle)
	assert.Equal(ErrorCodeBlocked, failed.Code)

	// exactly one failure event, no success
	count := 0
	for _, event := range log.events["alice"] {
		if _, ok := event.(EndpointClientRequestFailed); ok {
			count++
		}
	}
	assert.Equal(1, count)
	_, completed := find[EndpointClientRequestCompleted](log.events["alice"])
	assert.False(completed)

	// bob published no endpoint service
	bob.mu.Lock()
	assert.Empty(bob.endpointListeners)
	bob.mu.Unlock()
}

func TestContextStopIdentityServerAbortsHandshakes(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	network := tor.NewMockNetwork()

	// a server that never resolves its challenge verdict keeps the
	// handshake in flight
	bobHooks := &ServerHooks{
		VerifyChallengeResponse: func(endpointName string, challenge, response *bson.Document) Verdict {
			return VerdictPending
		},
		PollChallengeResponseResult: func(handle HandshakeHandle) Verdict {
			return VerdictPending
		},
	}

	alice := newTestContext(t, network, nil, nil, nil)
	bob := newTestContext(t, network, nil, nil, bobHooks)
	defer alice.Close()
	defer bob.Close()

	contexts := map[string]*Context{"alice": alice, "bob": bob}
	log := newEventLog()
	bootstrapAll(t, contexts, log)

	require.NoError(bob.StartIdentityServer())
	runUntil(t, contexts, log, "identity server published", func() bool {
		_, ok := find[IdentityServerPublished](log.events["bob"])
		return ok
	})

	_, err := alice.RequestRemoteEndpoint(bob.IdentityServiceId(), "default")
	require.NoError(err)

	// wait until bob actually holds the in-flight handshake
	runUntil(t, contexts, log, "handshake in flight", func() bool {
		bob.mu.Lock()
		defer bob.mu.Unlock()
		return len(bob.identityServers) > 0
	})

	require.NoError(bob.StopIdentityServer())

	runUntil(t, contexts, log, "abort events", func() bool {
		_, bobAborted := find[IdentityServerHandshakeFailed](log.events["bob"])
		_, aliceFailed := find[EndpointClientRequestFailed](log.events["alice"])
		return bobAborted && aliceFailed
	})

	aborted, _ := find[IdentityServerHandshakeFailed](log.events["bob"])
	assert.ErrorIs(aborted.Err, ErrHandshakeAborted)

	bob.mu.Lock()
	assert.Empty(bob.identityServers)
	bob.mu.Unlock()
}

func TestContextOperationsRequireBootstrap(t *testing.T) {
	assert := assert.New(t)

	network := tor.NewMockNetwork()
	ctx := newTestContext(t, network, nil, nil, nil)
	defer ctx.Close()

	assert.ErrorIs(ctx.StartIdentityServer(), ErrNotBootstrapped)
	_, err := ctx.RequestRemoteEndpoint(testServiceId(t), "default")
	assert.ErrorIs(err, ErrNotBootstrapped)
}

func TestContextCloseIsFinal(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	network := tor.NewMockNetwork()
	ctx := newTestContext(t, network, nil, nil, nil)

	require.NoError(ctx.Close())
	require.NoError(ctx.Close())

	assert.Nil(ctx.PollEvents())
	assert.ErrorIs(ctx.BootstrapTor(), ErrContextClosed)
	_, err := ctx.RequestRemoteEndpoint(testServiceId(t), "default")
	assert.ErrorIs(err, ErrContextClosed)
}
