// Package canon provides deterministic, key-order-insensitive content
// hashing.
//
// Every input and output fingerprint in the runtime (proposal input
// hashes, connector request/response hashes, audit export payload hashes,
// snapshot source hashes) goes through Marshal so that logically equal
// documents always produce the same digest.
//
// The encoding follows RFC 8785: UTF-16 key ordering, NFC string
// normalisation, no HTML escaping, ECMAScript number formatting.
package canon
