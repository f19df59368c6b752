package gosling

import (
	"testing"

	"github.com/gosling-project/go-gosling/lib/crypto/ed25519"
	"github.com/gosling-project/go-gosling/lib/crypto/onion"
	"github.com/gosling-project/go-gosling/lib/honkrpc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type endpointTestResult struct {
	clientComplete *EndpointClientChannelRequestCompleted
	clientFailed   *EndpointClientChannelRequestFailed
	serverComplete *EndpointServerChannelRequestCompleted
	serverFailed   *EndpointServerChannelRequestFailed
	clientId       onion.V3OnionServiceId
}

func runEndpointHandshake(t *testing.T, clientAllowed bool, hooks *ServerHooks, channelName string) endpointTestResult {
	t.Helper()
	require := require.New(t)

	clientStream, serverStream := newStreamPair()

	clientKey, err := ed25519.GeneratePrivateKey()
	require.NoError(err)
	clientId, err := onion.FromPrivateKey(clientKey)
	require.NoError(err)

	serverKey, err := ed25519.GeneratePrivateKey()
	require.NoError(err)
	serverId, err := onion.FromPrivateKey(serverKey)
	require.NoError(err)

	allowedClient := clientId
	if !clientAllowed {
		allowedClient = testServiceId(t)
	}

	server := NewEndpointServer(honkrpc.NewSession(serverStream), serverId, allowedClient, hooks, HandshakeHandle(1))
	client, err := NewEndpointClient(honkrpc.NewSession(clientStream), serverId, channelName, clientKey, HandshakeHandle(2))
	require.NoError(err)

	result := endpointTestResult{clientId: clientId}
	for round := 0; round < 64; round++ {
		if !server.IsTerminal() {
			event, err := server.Update()
			require.NoError(err)
			switch ev := event.(type) {
			case EndpointServerChannelRequestCompleted:
				result.serverComplete = &ev
			case EndpointServerChannelRequestFailed:
				result.serverFailed = &ev
			}
		}
		if !client.IsTerminal() {
			event, err := client.Update()
			require.NoError(err)
			switch ev := event.(type) {
			case EndpointClientChannelRequestCompleted:
				result.clientComplete = &ev
			case EndpointClientChannelRequestFailed:
				result.clientFailed = &ev
			}
		}
		if server.IsTerminal() && client.IsTerminal() {
			break
		}
	}
	require.True(server.IsTerminal())
	require.True(client.IsTerminal())
	return result
}

func TestEndpointHandshakeSuccess(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	result := runEndpointHandshake(t, true, nil, "channel")

	require.NotNil(result.serverComplete)
	require.NotNil(result.clientComplete)
	assert.Nil(result.serverFailed)
	assert.Nil(result.clientFailed)

	assert.Equal("channel", result.serverComplete.ChannelName)
	assert.Equal("channel", result.clientComplete.ChannelName)
	assert.Equal(result.clientId, result.serverComplete.ClientServiceId)
}

func TestEndpointHandshakeNotAuthorized(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	result := runEndpointHandshake(t, false, nil, "channel")

	require.NotNil(result.serverFailed)
	require.NotNil(result.clientFailed)
	assert.Nil(result.serverComplete)
	assert.Nil(result.clientComplete)
	assert.Equal(ErrorCodeNotAuthorized, result.clientFailed.Code)
}

func TestEndpointHandshakeUnsupportedChannel(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	hooks := &ServerHooks{
		ChannelSupported: func(channelName string) bool { return channelName == "good" },
	}
	result := runEndpointHandshake(t, true, hooks, "bad")

	require.NotNil(result.serverFailed)
	require.NotNil(result.clientFailed)
	assert.Equal(ErrorCodeInvalidChannel, result.clientFailed.Code)
}
