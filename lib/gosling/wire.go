package gosling

// RPC surface shared by both handshakes.
const (
	identityNamespace = "gosling_identity"
	endpointNamespace = "gosling_endpoint"

	beginHandshakeFunction = "begin_handshake"
	sendResponseFunction   = "send_response"

	// handshakeApiVersion is the only RPC function version either side speaks.
	handshakeApiVersion int32 = 0

	// handshakeVersion is the protocol version argument of begin_handshake.
	handshakeVersion int32 = 0
)

// argument and result field names
const (
	fieldVersion              = "version"
	fieldClientIdentity       = "client_identity"
	fieldEndpoint             = "endpoint"
	fieldChannel              = "channel"
	fieldServerCookie         = "server_cookie"
	fieldEndpointChallenge    = "endpoint_challenge"
	fieldClientIdentityProof  = "client_identity_proof"
	fieldChallengeResponse    = "challenge_response"
	fieldEndpointServiceId    = "endpoint_service_id"
	fieldEndpointClientAuthId = "endpoint_client_auth_private_key"
)
