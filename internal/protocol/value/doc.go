// Package value owns the typed value model exchanged with cryptol-remote-api
// and its JSON expression encoding.
//
// Ownership boundary:
// - Value and Shape types
// - JSON expression encode/decode (bits, sequence, tuple, record, unit)
// - server type schema parsing and rendering
//
// The package is pure: no I/O and no shared state.
package value
