// Package frame owns the chat relay wire envelope.
//
// Ownership boundary:
// - fixed-width ASCII decimal header encode/decode
// - envelope read/write against byte streams
// - chat message triple (timestamp, author, body)
//
// An envelope carries no type tag. Its role is positional within a chat message,
// so both peers must agree on HeaderWidth or framing desynchronizes for the
// remainder of the connection.
package frame
