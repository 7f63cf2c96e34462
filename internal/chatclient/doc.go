// Package chatclient owns the client side of the relay wire protocol.
//
// Ownership boundary:
// - dial, reconnect backoff and the username handshake
// - the receive loop decoding timestamp/author/body triples
// - the outbound queue drained by a dedicated writer goroutine
//
// Presentation is left to callers through the deliver callback.
package chatclient
