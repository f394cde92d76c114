package driftmq

import (
	"crypto/rand"

	"golang.org/x/crypto/curve25519"
)

// generateKeypair produces an ephemeral x25519 keypair for an instance
// constructed with empty pubkey/privkey, matching lokimq.h's
// constructor doc: "can be empty strings to automatically generate an
// ephemeral keypair."
func generateKeypair() (pub, priv [32]byte, err error) {
	if _, err = rand.Read(priv[:]); err != nil {
		return pub, priv, err
	}
	// Clamp per RFC 7748 so the scalar is a valid X25519 private key.
	priv[0] &= 248
	priv[31] &= 127
	priv[31] |= 64

	pubSlice, err := curve25519.X25519(priv[:], curve25519.Basepoint)
	if err != nil {
		return pub, priv, err
	}
	copy(pub[:], pubSlice)
	return pub, priv, nil
}

// DerivePubkey computes the x25519 public key matching a given private key,
// for callers that supply their own private key (e.g. from a saved config)
// and need the corresponding public key without generating a new pair.
func DerivePubkey(priv [32]byte) ([32]byte, error) {
	var pub [32]byte
	pubSlice, err := curve25519.X25519(priv[:], curve25519.Basepoint)
	if err != nil {
		return pub, err
	}
	copy(pub[:], pubSlice)
	return pub, nil
}
