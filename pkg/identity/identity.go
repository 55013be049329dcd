// Copyright (C) 2025 TrackMed (engineering@trackmed.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package identity implements wallet identities for supply-chain actors.
//
// An identity is the hex encoding of an ed25519 public key. Actors never
// hand the service a private key: they prove control of an identity by
// signing each request, and the service verifies the signature against the
// identity string carried alongside it.
package identity

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
)

var (
	// ErrInvalidIdentity indicates a string that is not a hex-encoded
	// ed25519 public key of the right length.
	ErrInvalidIdentity = errors.New("identity: invalid identity string")

	// ErrBadSignature indicates a signature that does not verify against
	// the claimed identity.
	ErrBadSignature = errors.New("identity: signature verification failed")
)

// Identity is the string form of a wallet identity (hex public key).
type Identity string

// Keypair holds a wallet identity together with its signing key.
// Used by tests and by tooling that exercises the signed endpoints.
type Keypair struct {
	Identity Identity
	Private  ed25519.PrivateKey
}

// Generate creates a fresh wallet keypair.
func Generate() (*Keypair, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("identity: generate keypair: %w", err)
	}
	return &Keypair{
		Identity: Identity(hex.EncodeToString(pub)),
		Private:  priv,
	}, nil
}

// Parse decodes an identity string into its public key.
//
// # Inputs
//
//   - s: hex-encoded ed25519 public key (64 hex chars)
//
// # Outputs
//
//   - ed25519.PublicKey: the decoded key
//   - error: ErrInvalidIdentity if the string is malformed
func Parse(s string) (ed25519.PublicKey, error) {
	raw, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidIdentity, err)
	}
	if len(raw) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("%w: got %d bytes, want %d", ErrInvalidIdentity, len(raw), ed25519.PublicKeySize)
	}
	return ed25519.PublicKey(raw), nil
}

// Bytes returns the raw public key bytes for an identity string.
// Falls back to the literal string bytes when the value is not a valid
// identity, so address derivation stays total over legacy records.
func Bytes(s string) []byte {
	if pub, err := Parse(s); err == nil {
		return pub
	}
	return []byte(s)
}

// RequestDigest computes the message that request signatures cover:
// SHA-256 over method, path, and body, separated by newlines. Binding the
// method and path prevents a captured signature from being replayed
// against a different endpoint.
func RequestDigest(method, path string, body []byte) []byte {
	h := sha256.New()
	h.Write([]byte(method))
	h.Write([]byte{'\n'})
	h.Write([]byte(path))
	h.Write([]byte{'\n'})
	h.Write(body)
	return h.Sum(nil)
}

// SignRequest produces the hex signature for a request. Counterpart of
// VerifyRequest; used by tests and client tooling.
func SignRequest(priv ed25519.PrivateKey, method, path string, body []byte) string {
	sig := ed25519.Sign(priv, RequestDigest(method, path, body))
	return hex.EncodeToString(sig)
}

// VerifyRequest checks a hex signature over a request against the claimed
// identity.
//
// # Outputs
//
//   - error: nil when the signature verifies; ErrInvalidIdentity or
//     ErrBadSignature otherwise.
func VerifyRequest(id string, method, path string, body []byte, sigHex string) error {
	pub, err := Parse(id)
	if err != nil {
		return err
	}
	sig, err := hex.DecodeString(sigHex)
	if err != nil {
		return fmt.Errorf("%w: malformed signature encoding", ErrBadSignature)
	}
	if len(sig) != ed25519.SignatureSize {
		return fmt.Errorf("%w: signature length %d", ErrBadSignature, len(sig))
	}
	if !ed25519.Verify(pub, RequestDigest(method, path, body), sig) {
		return ErrBadSignature
	}
	return nil
}
