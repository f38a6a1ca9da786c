package core

// transaction.go — value-transfer transaction model, canonical encoding and
// hashing. Adapted from Synnergy's core/transactions.go HashTx/Sign pattern
// (SHA-256 over a little-endian field concatenation) but bound to the
// spec's exact wire format instead of the teacher's gas/type/payload fields:
// this encoding is consensus-critical and must be bit-identical across
// implementations (spec.md §6, §9).

import (
	"bytes"
	"crypto/ed25519"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// Transaction is a signed value transfer.
type Transaction struct {
	From      Address
	To        Address
	Amount    uint64
	Fee       uint64
	Nonce     uint64
	Signature Signature
	Data      []byte
}

var (
	ErrInvalidSignature   = errors.New("invalid signature")
	ErrAmountFeeOverflow  = errors.New("amount+fee overflows")
	ErrCoinbaseNotAllowed = errors.New("coinbase transaction cannot be verified as a value transfer")
)

// SigningHash is SHA-256 over from ‖ to ‖ amount(LE) ‖ fee(LE) ‖ nonce(LE) ‖
// data, per spec.md §3.
func (tx *Transaction) SigningHash() Hash {
	buf := bytes.Buffer{}
	buf.Write(tx.From[:])
	buf.Write(tx.To[:])
	var le [8]byte
	binary.LittleEndian.PutUint64(le[:], tx.Amount)
	buf.Write(le[:])
	binary.LittleEndian.PutUint64(le[:], tx.Fee)
	buf.Write(le[:])
	binary.LittleEndian.PutUint64(le[:], tx.Nonce)
	buf.Write(le[:])
	buf.Write(tx.Data)
	return SHA256(buf.Bytes())
}

// Hash is the transaction-hash: the signing-hash with the signature folded
// in, making it a unique identifier including witness data (spec.md §3).
func (tx *Transaction) Hash() Hash {
	sh := tx.SigningHash()
	buf := bytes.Buffer{}
	buf.Write(sh[:])
	buf.Write(tx.Signature[:])
	return SHA256(buf.Bytes())
}

// IsCoinbase reports whether this transaction is a coinbase mint (zero
// sender — spec.md §4.2).
func (tx *Transaction) IsCoinbase() bool { return tx.From.IsZero() }

// Sign computes the signing hash and signs it with priv, setting From to the
// derived public key and Signature to the resulting signature.
func (tx *Transaction) Sign(priv ed25519.PrivateKey) error {
	pub, ok := priv.Public().(ed25519.PublicKey)
	if !ok || len(pub) != len(tx.From) {
		return errors.New("invalid ed25519 private key")
	}
	copy(tx.From[:], pub)
	sig, err := Sign(priv, tx.signingHashBytes())
	if err != nil {
		return err
	}
	tx.Signature = sig
	return nil
}

func (tx *Transaction) signingHashBytes() []byte {
	h := tx.SigningHash()
	return h[:]
}

// Verify checks that a non-coinbase transaction's signature validates under
// From and that amount+fee does not overflow uint64. Coinbase transactions
// are exempt from signature verification (spec.md §4.2) and must be checked
// with VerifyCoinbase instead.
func (tx *Transaction) Verify() error {
	if tx.IsCoinbase() {
		return ErrCoinbaseNotAllowed
	}
	if tx.Amount > math.MaxUint64-tx.Fee {
		return ErrAmountFeeOverflow
	}
	h := tx.SigningHash()
	if !Verify(tx.From, h[:], tx.Signature) {
		return ErrInvalidSignature
	}
	return nil
}

// CoinbaseData encodes the block height discriminator carried in a coinbase
// transaction's Data field, per spec.md §4.2's anti-replay requirement.
func CoinbaseData(height uint64) []byte {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], height)
	return b[:]
}

// VerifyCoinbase checks that a coinbase transaction declares the expected
// block height and mints exactly reward+fees.
func VerifyCoinbase(tx *Transaction, height uint64, reward, fees uint64) error {
	if !tx.IsCoinbase() {
		return errors.New("not a coinbase transaction")
	}
	want := CoinbaseData(height)
	if !bytes.Equal(tx.Data, want) {
		return fmt.Errorf("coinbase height mismatch: tx declares %x, block is at height %d", tx.Data, height)
	}
	if reward > math.MaxUint64-fees {
		return ErrAmountFeeOverflow
	}
	if tx.Amount != reward+fees {
		return fmt.Errorf("coinbase amount %d != reward(%d)+fees(%d)", tx.Amount, reward, fees)
	}
	return nil
}

// Encode produces the canonical wire encoding of a transaction per spec.md
// §6: from(32) ‖ to(32) ‖ amount(8 LE) ‖ fee(8 LE) ‖ nonce(8 LE) ‖
// sig_len(u16) ‖ sig ‖ data_len(u32) ‖ data.
func (tx *Transaction) Encode() []byte {
	buf := bytes.Buffer{}
	buf.Write(tx.From[:])
	buf.Write(tx.To[:])
	var le8 [8]byte
	binary.LittleEndian.PutUint64(le8[:], tx.Amount)
	buf.Write(le8[:])
	binary.LittleEndian.PutUint64(le8[:], tx.Fee)
	buf.Write(le8[:])
	binary.LittleEndian.PutUint64(le8[:], tx.Nonce)
	buf.Write(le8[:])
	var le2 [2]byte
	binary.LittleEndian.PutUint16(le2[:], uint16(len(tx.Signature)))
	buf.Write(le2[:])
	buf.Write(tx.Signature[:])
	var le4 [4]byte
	binary.LittleEndian.PutUint32(le4[:], uint32(len(tx.Data)))
	buf.Write(le4[:])
	buf.Write(tx.Data)
	return buf.Bytes()
}

// DecodeTransaction parses the canonical wire encoding produced by Encode.
func DecodeTransaction(b []byte) (*Transaction, int, error) {
	const fixed = 32 + 32 + 8 + 8 + 8 + 2
	if len(b) < fixed {
		return nil, 0, errors.New("transaction: short buffer")
	}
	tx := &Transaction{}
	off := 0
	copy(tx.From[:], b[off:off+32])
	off += 32
	copy(tx.To[:], b[off:off+32])
	off += 32
	tx.Amount = binary.LittleEndian.Uint64(b[off:])
	off += 8
	tx.Fee = binary.LittleEndian.Uint64(b[off:])
	off += 8
	tx.Nonce = binary.LittleEndian.Uint64(b[off:])
	off += 8
	sigLen := int(binary.LittleEndian.Uint16(b[off:]))
	off += 2
	if sigLen != len(tx.Signature) {
		return nil, 0, fmt.Errorf("transaction: unexpected signature length %d", sigLen)
	}
	if len(b) < off+sigLen+4 {
		return nil, 0, errors.New("transaction: short buffer (signature)")
	}
	copy(tx.Signature[:], b[off:off+sigLen])
	off += sigLen
	dataLen := int(binary.LittleEndian.Uint32(b[off:]))
	off += 4
	if len(b) < off+dataLen {
		return nil, 0, errors.New("transaction: short buffer (data)")
	}
	if dataLen > 0 {
		tx.Data = append([]byte(nil), b[off:off+dataLen]...)
	}
	off += dataLen
	return tx, off, nil
}
