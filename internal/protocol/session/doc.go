// Package session owns one client session with a cryptol-remote-api server.
//
// Ownership boundary:
// - HTTP JSON-RPC transport (TLS, HTTP/2, gzip)
// - state handle threading and load history
// - correlation via the pending-request table
// - bootstrap retry/backoff and caller-driven resync
//
// A Session serializes its requests: at most one is in flight at a time.
package session
