// Package digest computes the content keys used for incremental decisions.
//
// Hash inputs are serialized with RFC 8785 canonical JSON and hashed with
// BLAKE3 under a domain prefix. Keys are lowercase hex strings so they can be
// compared directly against keys recorded by a prior build.
package digest
