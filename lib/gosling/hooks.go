package gosling

import (
	"github.com/gosling-project/go-gosling/lib/bson"
)

// HandshakeHandle identifies one in-flight handshake so the consumer can
// correlate events with hook invocations.
type HandshakeHandle int

// Verdict is the outcome of challenge-response verification.
type Verdict int

const (
	// VerdictPending defers the decision to later PollChallengeResponseResult calls.
	VerdictPending Verdict = iota
	VerdictValid
	VerdictInvalid
)

func (v Verdict) String() string {
	switch v {
	case VerdictPending:
		return "pending"
	case VerdictValid:
		return "valid"
	case VerdictInvalid:
		return "invalid"
	default:
		return "unknown"
	}
}

// IdentityClientHooks is the client-side callback bundle. Every hook is
// optional; nil hooks fall back to permissive defaults. Hooks are pure
// functions of their inputs and must not call back into the Context.
// Started is invoked from RequestRemoteEndpoint; the others from PollEvents.
type IdentityClientHooks struct {
	// Started fires when a client handshake is created.
	Started func(handle HandshakeHandle)
	// ChallengeResponseSize may size a buffer before the response is built.
	ChallengeResponseSize func(handle HandshakeHandle, endpointName string) int
	// BuildChallengeResponse turns the server's challenge document into the
	// application's response document.
	BuildChallengeResponse func(handle HandshakeHandle, endpointName string, challenge *bson.Document) (*bson.Document, error)
}

func (h *IdentityClientHooks) started(handle HandshakeHandle) {
	if h != nil && h.Started != nil {
		h.Started(handle)
	}
}

func (h *IdentityClientHooks) challengeResponseSize(handle HandshakeHandle, endpointName string) int {
	if h != nil && h.ChallengeResponseSize != nil {
		return h.ChallengeResponseSize(handle, endpointName)
	}
	return 0
}

func (h *IdentityClientHooks) buildChallengeResponse(handle HandshakeHandle, endpointName string, challenge *bson.Document) (*bson.Document, error) {
	if h != nil && h.BuildChallengeResponse != nil {
		return h.BuildChallengeResponse(handle, endpointName, challenge)
	}
	return bson.NewDocument(), nil
}

// ServerHooks is the server-side callback bundle, shared by the identity
// and endpoint services. Nil hooks accept everything and issue an empty
// challenge.
type ServerHooks struct {
	// EndpointSupported vets a requested endpoint name.
	EndpointSupported func(endpointName string) bool
	// BuildChallenge produces the application challenge document.
	BuildChallenge func(endpointName string) (*bson.Document, error)
	// VerifyChallengeResponse judges a client's challenge response; it may
	// answer VerdictPending to decide asynchronously.
	VerifyChallengeResponse func(endpointName string, challenge, response *bson.Document) Verdict
	// PollChallengeResponseResult is polled after a pending verdict until it
	// answers valid or invalid.
	PollChallengeResponseResult func(handle HandshakeHandle) Verdict
	// ChannelSupported vets a requested channel name on an endpoint service.
	ChannelSupported func(channelName string) bool
}

func (h *ServerHooks) endpointSupported(endpointName string) bool {
	if h != nil && h.EndpointSupported != nil {
		return h.EndpointSupported(endpointName)
	}
	return true
}

func (h *ServerHooks) buildChallenge(endpointName string) (*bson.Document, error) {
	if h != nil && h.BuildChallenge != nil {
		return h.BuildChallenge(endpointName)
	}
	return bson.NewDocument(), nil
}

func (h *ServerHooks) verifyChallengeResponse(endpointName string, challenge, response *bson.Document) Verdict {
	if h != nil && h.VerifyChallengeResponse != nil {
		return h.VerifyChallengeResponse(endpointName, challenge, response)
	}
	return VerdictValid
}

func (h *ServerHooks) pollChallengeResponseResult(handle HandshakeHandle) Verdict {
	if h != nil && h.PollChallengeResponseResult != nil {
		return h.PollChallengeResponseResult(handle)
	}
	return VerdictValid
}

func (h *ServerHooks) channelSupported(channelName string) bool {
	if h != nil && h.ChannelSupported != nil {
		return h.ChannelSupported(channelName)
	}
	return true
}
