// Package relay owns the chat relay server.
//
// Ownership boundary:
// - connection lifecycle (pending -> registered -> closed)
// - username registry and its uniqueness policy
// - broadcast fan-out of join, leave and chat messages
// - admin HTTP surface (health, members, metrics)
//
// One loop goroutine owns the registry and every write to a client socket.
// Accept and reader goroutines only turn socket readiness into events for that
// loop, so registry state is never touched concurrently.
package relay
