// Package core implements the Digital Lira consensus, state, mempool, P2P,
// governance, and identity-registry subsystems.
package core

// crypto.go — Ed25519 sign/verify and secret zeroisation. Adapted from
// Synnergy's HD-wallet key layer (core/wallet.go): that file additionally
// does BIP-39/SLIP-0010 derivation, which is out of scope here (spec.md §1
// treats wallet key storage and HD derivation as an external collaborator).
// What remains is the bare keypair/sign/verify surface the rest of the
// chain actually consumes.

import (
	"crypto/ed25519"
	crand "crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
)

// KeyPair holds an Ed25519 private key alongside its derived public key.
// Private-key bytes are scoped to this struct only; callers that need to
// persist or transmit a key must go through Wipe when done with the value.
type KeyPair struct {
	Private ed25519.PrivateKey
	Public  PublicKey
}

// GenerateKeypair creates a fresh random Ed25519 keypair.
func GenerateKeypair() (*KeyPair, error) {
	pub, priv, err := ed25519.GenerateKey(crand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate ed25519 key: %w", err)
	}
	kp := &KeyPair{Private: priv}
	copy(kp.Public[:], pub)
	return kp, nil
}

// KeypairFromSeed deterministically derives a keypair from a 32-byte seed.
// Used by tests and by CLI-adjacent tooling that imports a raw seed; it is
// the caller's responsibility to Wipe the seed afterward.
func KeypairFromSeed(seed []byte) (*KeyPair, error) {
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("seed must be %d bytes, got %d", ed25519.SeedSize, len(seed))
	}
	priv := ed25519.NewKeyFromSeed(seed)
	pub := priv.Public().(ed25519.PublicKey)
	kp := &KeyPair{Private: priv}
	copy(kp.Public[:], pub)
	return kp, nil
}

// Sign signs bytes with the given Ed25519 private key, narrowly materialised
// for the duration of this call by the caller.
func Sign(priv ed25519.PrivateKey, message []byte) (Signature, error) {
	var sig Signature
	if len(priv) != ed25519.PrivateKeySize {
		return sig, errors.New("invalid private key length")
	}
	raw := ed25519.Sign(priv, message)
	copy(sig[:], raw)
	return sig, nil
}

// Verify checks an Ed25519 signature over message by pub.
func Verify(pub PublicKey, message []byte, sig Signature) bool {
	return ed25519.Verify(pub[:], message, sig[:])
}

// SHA256 hashes bytes with SHA-256.
func SHA256(data []byte) Hash {
	return sha256.Sum256(data)
}

// Wipe zeroes a byte slice in place. Used to scrub private-key material
// (seeds, raw ed25519.PrivateKey bytes) from memory as soon as a caller is
// done with it; best-effort, since the Go GC may have produced copies before
// this runs, but it removes the most obvious residency window.
func Wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

// WipeKeyPair overwrites the private key bytes held by kp.
func WipeKeyPair(kp *KeyPair) {
	if kp == nil {
		return
	}
	Wipe(kp.Private)
}
