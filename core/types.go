package core

import (
	"encoding/hex"
	"fmt"
)

// PublicKey is a 32-byte Ed25519 verifying key. The all-zero key denotes the
// coinbase sender (see Transaction.Verify).
type PublicKey [32]byte

// Address is an account identifier. Unlike many UTXO chains, Digital Lira
// addresses senders and recipients directly by their Ed25519 public key —
// there is no separate hashing step.
type Address = PublicKey

// Signature is a 64-byte Ed25519 signature.
type Signature [64]byte

// Hash is a 32-byte SHA-256 digest.
type Hash [32]byte

// ZeroAddress is the coinbase sender.
var ZeroAddress Address

// IsZero reports whether the address is the all-zero coinbase sender.
func (a Address) IsZero() bool { return a == ZeroAddress }

// Hex returns the full hex encoding of the public key.
func (a Address) Hex() string { return hex.EncodeToString(a[:]) }

// Short returns a shortened hex representation for logging.
func (a Address) Short() string {
	full := hex.EncodeToString(a[:])
	if len(full) <= 8 {
		return full
	}
	return fmt.Sprintf("%s..%s", full[:4], full[len(full)-4:])
}

// Hex returns the full hex encoding of the hash.
func (h Hash) Hex() string { return hex.EncodeToString(h[:]) }

func (h Hash) String() string { return h.Hex() }

// Short returns a shortened hex representation for logging.
func (h Hash) Short() string {
	full := hex.EncodeToString(h[:])
	if len(full) <= 8 {
		return full
	}
	return fmt.Sprintf("%s..%s", full[:4], full[len(full)-4:])
}

// Less gives a deterministic total order over hashes, used to break fee
// ties in mempool priority ordering (P8).
func (h Hash) Less(o Hash) bool {
	for i := range h {
		if h[i] != o[i] {
			return h[i] < o[i]
		}
	}
	return false
}

// HashFromHex decodes a 64-char hex string into a Hash.
func HashFromHex(s string) (Hash, error) {
	var h Hash
	b, err := hex.DecodeString(s)
	if err != nil {
		return h, fmt.Errorf("decode hash hex: %w", err)
	}
	if len(b) != len(h) {
		return h, fmt.Errorf("hash hex must decode to %d bytes, got %d", len(h), len(b))
	}
	copy(h[:], b)
	return h, nil
}
