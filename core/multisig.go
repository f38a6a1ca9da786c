package core

// multisig.go — multisig account registry and multisig transaction
// validation. Adapted from Synnergy's core/access_control.go role-set
// pattern (a per-address set of authorised entries checked against a
// threshold) generalised to the spec's {signers, threshold} account model
// and its (account, signature-list) transaction shape.

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"sort"
)

// MultisigConfig describes an m-of-n multisig account.
type MultisigConfig struct {
	Signers   []PublicKey
	Threshold int
}

// Address computes the multisig account's address: SHA-256 of the
// sorted-and-concatenated signers plus the threshold byte (spec.md §3).
func (c MultisigConfig) Address() (Address, error) {
	if c.Threshold < 1 || c.Threshold > len(c.Signers) {
		return Address{}, fmt.Errorf("threshold %d out of range for %d signers", c.Threshold, len(c.Signers))
	}
	sorted := append([]PublicKey(nil), c.Signers...)
	sort.Slice(sorted, func(i, j int) bool { return bytes.Compare(sorted[i][:], sorted[j][:]) < 0 })

	buf := bytes.Buffer{}
	for _, s := range sorted {
		buf.Write(s[:])
	}
	buf.WriteByte(byte(c.Threshold))
	return SHA256(buf.Bytes()), nil
}

// isSigner reports whether pk is one of the account's authorised signers.
func (c MultisigConfig) isSigner(pk PublicKey) bool {
	for _, s := range c.Signers {
		if s == pk {
			return true
		}
	}
	return false
}

// MultisigSignature pairs a signer's public key with their signature over
// the transaction's signing hash.
type MultisigSignature struct {
	Signer    PublicKey
	Signature Signature
}

// MultisigTransaction is a value transfer from a multisig account requiring
// threshold-many authorised signatures.
type MultisigTransaction struct {
	Account      MultisigConfig
	To           Address
	Amount       uint64
	Fee          uint64
	Nonce        uint64
	Signatures   []MultisigSignature
	Data         []byte
	ExpiryHeight *uint64
}

var (
	ErrInsufficientSignatures = errors.New("insufficient signatures")
	ErrDuplicateSignature     = errors.New("duplicate signature")
	ErrUnauthorizedSigner     = errors.New("unauthorized signer")
	ErrExpired                = errors.New("multisig transaction expired")
)

// InsufficientSignaturesError carries the required/provided counts for
// scenario 5 of spec.md §8.
type InsufficientSignaturesError struct {
	Required int
	Provided int
}

func (e *InsufficientSignaturesError) Error() string {
	return fmt.Sprintf("insufficient signatures: required %d, provided %d", e.Required, e.Provided)
}

func (e *InsufficientSignaturesError) Unwrap() error { return ErrInsufficientSignatures }

// SigningHash is SHA-256 over account-address ‖ to ‖ amount ‖ fee ‖ nonce ‖
// data (spec.md §3).
func (mtx *MultisigTransaction) SigningHash() (Hash, error) {
	addr, err := mtx.Account.Address()
	if err != nil {
		return Hash{}, err
	}
	buf := bytes.Buffer{}
	buf.Write(addr[:])
	buf.Write(mtx.To[:])
	var le8 [8]byte
	binary.LittleEndian.PutUint64(le8[:], mtx.Amount)
	buf.Write(le8[:])
	binary.LittleEndian.PutUint64(le8[:], mtx.Fee)
	buf.Write(le8[:])
	binary.LittleEndian.PutUint64(le8[:], mtx.Nonce)
	buf.Write(le8[:])
	buf.Write(mtx.Data)
	return SHA256(buf.Bytes()), nil
}

// Verify checks that the transaction carries at least Threshold distinct,
// valid signatures from authorised signers (the transaction is "ready" per
// spec.md §3). Signature order of presentation matters for the duplicate
// and unauthorized-signer error scenarios in spec.md §8 scenario 5: each
// signature is validated in the order supplied, and the first bad one
// short-circuits.
func (mtx *MultisigTransaction) Verify(currentHeight uint64) error {
	if mtx.ExpiryHeight != nil && currentHeight > *mtx.ExpiryHeight {
		return ErrExpired
	}
	sh, err := mtx.SigningHash()
	if err != nil {
		return err
	}

	seen := make(map[PublicKey]struct{}, len(mtx.Signatures))
	validCount := 0
	for _, s := range mtx.Signatures {
		if !mtx.Account.isSigner(s.Signer) {
			return ErrUnauthorizedSigner
		}
		if _, dup := seen[s.Signer]; dup {
			return ErrDuplicateSignature
		}
		seen[s.Signer] = struct{}{}
		if !Verify(s.Signer, sh[:], s.Signature) {
			return fmt.Errorf("signer %s: %w", s.Signer.Short(), ErrInvalidSignature)
		}
		validCount++
	}
	if validCount < mtx.Account.Threshold {
		return &InsufficientSignaturesError{Required: mtx.Account.Threshold, Provided: validCount}
	}
	return nil
}
