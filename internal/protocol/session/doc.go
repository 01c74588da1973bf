// Package session owns a single ownet TCP connection.
//
// Ownership boundary:
// - dialing and socket-level deadlines
// - header+payload request write with short-write detection
// - exact-count reply reads, header validation, keep-alive absorption
// - reconnect backoff helpers for long-running callers
//
// A Conn carries one request at a time; callers serialize access.
package session
