// Package honkrpc implements Honk-RPC, a length-framed request/response
// protocol over a reliable ordered byte stream.
//
// Every frame on the stream is one encoded bson document (the envelope)
// carrying a protocol version and an ordered array of sections: requests,
// responses and session-fatal errors. A Session multiplexes outbound calls
// and inbound requests over one stream, correlating responses by an int64
// cookie. Inbound requests are dispatched to registered ApiSets; a handler
// may complete immediately or go async and deliver its result on a later
// poll.
//
// Sessions never block: Update consumes whatever bytes the stream has
// buffered and returns. Budgets bound the envelope size, the number of
// concurrently pending inbound requests and the inbound message rate.
package honkrpc
