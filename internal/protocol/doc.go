// Package protocol owns the ownet wire contract shared by every client layer.
//
// Ownership boundary:
// - error taxonomy (connection, malformed header, short I/O, timeout, server)
// - well-known server paths and path/list encoding
// - frame/header primitives live in protocol/frame
// - single-connection request/reply exchange lives in protocol/session
package protocol
