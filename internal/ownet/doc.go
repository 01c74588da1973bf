// Package ownet is the owserver client: stateless and persistent proxies
// exposing the protocol operations, and the connector that resolves,
// probes and clones them.
//
// A StatelessProxy opens one TCP connection per call and is safe for
// concurrent use. A PersistentProxy keeps at most one connection across
// calls for as long as the server grants persistence; it must be used from
// one goroutine at a time.
package ownet
