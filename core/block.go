package core

// block.go — block header, Merkle root and proof-of-work target check.
// Adapted from Synnergy's core/common_structs.go BlockHeader/Block shape and
// core/consensus.go's difficulty framing, narrowed to the spec's six-field
// header (version, previous_hash, merkle_root, timestamp, difficulty,
// nonce) instead of the teacher's sub-block/PoH hybrid header.

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math/bits"
)

// BlockHeader is the fixed-size, consensus-critical block header.
type BlockHeader struct {
	Version      uint32
	PreviousHash Hash
	MerkleRoot   Hash
	Timestamp    uint64
	Difficulty   uint32 // required leading zero bits
	Nonce        uint64
}

// Block is a header plus its ordered transaction list.
type Block struct {
	Header       BlockHeader
	Transactions []*Transaction
}

// Encode produces the canonical six-field little-endian concatenation that
// is hashed to form the block hash (spec.md §3).
func (h *BlockHeader) Encode() []byte {
	buf := bytes.Buffer{}
	var le4 [4]byte
	binary.LittleEndian.PutUint32(le4[:], h.Version)
	buf.Write(le4[:])
	buf.Write(h.PreviousHash[:])
	buf.Write(h.MerkleRoot[:])
	var le8 [8]byte
	binary.LittleEndian.PutUint64(le8[:], h.Timestamp)
	buf.Write(le8[:])
	binary.LittleEndian.PutUint32(le4[:], h.Difficulty)
	buf.Write(le4[:])
	binary.LittleEndian.PutUint64(le8[:], h.Nonce)
	buf.Write(le8[:])
	return buf.Bytes()
}

// Hash computes the SHA-256 block hash over the header encoding.
func (h *BlockHeader) Hash() Hash {
	return SHA256(h.Encode())
}

// Hash is a convenience wrapper over the header hash.
func (b *Block) Hash() Hash { return b.Header.Hash() }

// LeadingZeroBits returns the number of leading zero bits of h, interpreted
// as a big-endian integer (spec.md §3, P2).
func (h Hash) LeadingZeroBits() int {
	count := 0
	for _, by := range h {
		if by == 0 {
			count += 8
			continue
		}
		count += bits.LeadingZeros8(by)
		break
	}
	return count
}

// MeetsDifficulty reports whether the block's hash has at least
// Header.Difficulty leading zero bits.
func (b *Block) MeetsDifficulty() bool {
	return b.Hash().LeadingZeroBits() >= int(b.Header.Difficulty)
}

// merklePair hashes two 32-byte nodes together.
func merklePair(a, b Hash) Hash {
	buf := make([]byte, 64)
	copy(buf[:32], a[:])
	copy(buf[32:], b[:])
	return SHA256(buf)
}

// ComputeMerkleRoot iteratively pairwise-hashes transaction hashes; odd
// levels duplicate the last element before pairing. The empty list's root
// is all-zero (spec.md §3).
func ComputeMerkleRoot(txs []*Transaction) Hash {
	if len(txs) == 0 {
		return Hash{}
	}
	level := make([]Hash, len(txs))
	for i, tx := range txs {
		level[i] = tx.Hash()
	}
	for len(level) > 1 {
		if len(level)%2 == 1 {
			level = append(level, level[len(level)-1])
		}
		next := make([]Hash, len(level)/2)
		for i := 0; i < len(next); i++ {
			next[i] = merklePair(level[2*i], level[2*i+1])
		}
		level = next
	}
	return level[0]
}

// VerifyMerkleRoot reports whether the block's declared Merkle root matches
// its transaction list.
func (b *Block) VerifyMerkleRoot() bool {
	return b.Header.MerkleRoot == ComputeMerkleRoot(b.Transactions)
}

// VerifyTransactions checks each non-coinbase transaction's signature
// individually. The first transaction, if present, is expected to be a
// coinbase and is skipped here; callers validate it separately with
// VerifyCoinbase since that requires block-level context (height, fees).
func (b *Block) VerifyTransactions() error {
	for i, tx := range b.Transactions {
		if i == 0 && tx.IsCoinbase() {
			continue
		}
		if tx.IsCoinbase() {
			return fmt.Errorf("tx %d: coinbase transaction not in first position", i)
		}
		if err := tx.Verify(); err != nil {
			return fmt.Errorf("tx %d (%s): %w", i, tx.Hash().Short(), err)
		}
	}
	return nil
}

// Encode produces the canonical block wire encoding: header ‖ u32 len ‖ len
// repetitions of tx (spec.md §6).
func (b *Block) Encode() []byte {
	buf := bytes.Buffer{}
	buf.Write(b.Header.Encode())
	var le4 [4]byte
	binary.LittleEndian.PutUint32(le4[:], uint32(len(b.Transactions)))
	buf.Write(le4[:])
	for _, tx := range b.Transactions {
		buf.Write(tx.Encode())
	}
	return buf.Bytes()
}

const blockHeaderEncodedLen = 4 + 32 + 32 + 8 + 4 + 8

// DecodeBlock parses the canonical wire encoding produced by Encode.
func DecodeBlock(b []byte) (*Block, error) {
	if len(b) < blockHeaderEncodedLen+4 {
		return nil, errors.New("block: short buffer")
	}
	off := 0
	hdr := BlockHeader{}
	hdr.Version = binary.LittleEndian.Uint32(b[off:])
	off += 4
	copy(hdr.PreviousHash[:], b[off:off+32])
	off += 32
	copy(hdr.MerkleRoot[:], b[off:off+32])
	off += 32
	hdr.Timestamp = binary.LittleEndian.Uint64(b[off:])
	off += 8
	hdr.Difficulty = binary.LittleEndian.Uint32(b[off:])
	off += 4
	hdr.Nonce = binary.LittleEndian.Uint64(b[off:])
	off += 8

	count := binary.LittleEndian.Uint32(b[off:])
	off += 4
	txs := make([]*Transaction, 0, count)
	for i := uint32(0); i < count; i++ {
		tx, n, err := DecodeTransaction(b[off:])
		if err != nil {
			return nil, fmt.Errorf("block: tx %d: %w", i, err)
		}
		txs = append(txs, tx)
		off += n
	}
	return &Block{Header: hdr, Transactions: txs}, nil
}
