// Package gosling implements the gosling peer-to-peer authentication
// protocol over Tor v3 onion services: the identity handshake (a peer
// proves ownership of its onion identity and is issued fresh endpoint
// credentials), the endpoint handshake (an authorized peer opens a named
// byte-stream channel), and the Context that orchestrates both over a Tor
// backend.
//
// A Context is single-threaded cooperative: state mutations and consumer
// callbacks happen on the goroutine that calls the Context's methods. Backend
// worker threads only feed the provider event queue. Consumer hooks are
// invoked from inside PollEvents (the client Started hook from inside
// RequestRemoteEndpoint) and must not call back into the Context.
package gosling
