// Package session owns connection timing shared by the relay server and its clients.
//
// Ownership boundary:
// - connect/handshake/write deadlines
// - receive poll interval
// - reconnect backoff
package session
