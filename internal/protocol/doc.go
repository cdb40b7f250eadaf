// Package protocol owns the cryptol-remote-api wire contract.
//
// Ownership boundary:
// - JSON-RPC 2.0 request and response envelopes
// - method names and their parameter objects
// - response interpretation and error classification
// - decoding of method answers into typed results
package protocol
