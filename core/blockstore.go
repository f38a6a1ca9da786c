package core

// blockstore.go — content-addressed block store plus the secondary indexes
// from spec.md §4.3 (height→hash, hash→height, tx-hash→location,
// address→[tx_hash], chain_tip, chain_height). Adapted from Synnergy's
// core/ledger.go, which persists blocks behind a write-ahead log and keeps
// an in-memory blockIndex map; this store keeps that WAL shape (see
// NewBlockStore) but replaces the teacher's ad-hoc `State map[string][]byte`
// blob with the typed indexes the spec requires, and adds the atomic-batch
// discipline spec.md §4.3 and §9 demand: every multi-key mutation commits
// as one in-memory critical section guarded by a single mutex, and is
// appended to the WAL before any index mutation is visible to readers.
//
// Height is not part of the hashed block header (spec.md §3 fixes the
// header at exactly six fields); it is implied by chain position. The store
// assigns each appended block the height immediately following its current
// tip, which is sound because the consensus engine (consensus.go) rejects
// any block whose PreviousHash does not equal the current tip before ever
// calling Append.

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"
)

// TxLocation identifies where a confirmed transaction lives.
type TxLocation struct {
	BlockHeight uint64
	TxIndex     int
}

// StoredBlock pairs a block with the height it was confirmed at.
type StoredBlock struct {
	Height uint64
	Block  *Block
}

// BlockStore is the append-only, indexed block store.
type BlockStore struct {
	mu sync.RWMutex

	blocksByHash map[Hash]*StoredBlock
	heightToHash map[uint64]Hash
	hashToHeight map[Hash]uint64
	txLocation   map[Hash]TxLocation
	addressTxs   map[Address][]Hash // insertion-ordered, deduplicated

	tip    Hash
	height uint64
	hasTip bool

	walFile *os.File
	walPath string

	log *logrus.Entry
}

// NewBlockStore opens (creating if absent) a block store rooted at dir,
// replaying its write-ahead log of appended blocks.
func NewBlockStore(dir string) (*BlockStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("blockstore: mkdir: %w", err)
	}
	walPath := dir + "/blocks.wal"
	f, err := os.OpenFile(walPath, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o600)
	if err != nil {
		return nil, fmt.Errorf("blockstore: open wal: %w", err)
	}

	bs := &BlockStore{
		blocksByHash: make(map[Hash]*StoredBlock),
		heightToHash: make(map[uint64]Hash),
		hashToHeight: make(map[Hash]uint64),
		txLocation:   make(map[Hash]TxLocation),
		addressTxs:   make(map[Address][]Hash),
		walFile:      f,
		walPath:      walPath,
		log:          logrus.WithField("component", "blockstore"),
	}

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 1<<20), 64<<20)
	for scanner.Scan() {
		blk, err := decodeWALLine(scanner.Bytes())
		if err != nil {
			_ = f.Close()
			return nil, fmt.Errorf("blockstore: wal replay: %w", err)
		}
		bs.indexBlockLocked(blk)
	}
	if err := scanner.Err(); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("blockstore: wal scan: %w", err)
	}
	return bs, nil
}

type walLine struct {
	Block []byte `json:"block"`
}

func decodeWALLine(line []byte) (*Block, error) {
	var wl walLine
	if err := json.Unmarshal(line, &wl); err != nil {
		return nil, err
	}
	return DecodeBlock(wl.Block)
}

// Close releases the underlying WAL file handle.
func (bs *BlockStore) Close() error {
	bs.mu.Lock()
	defer bs.mu.Unlock()
	return bs.walFile.Close()
}

// Height returns the current chain height (0 if empty).
func (bs *BlockStore) Height() uint64 {
	bs.mu.RLock()
	defer bs.mu.RUnlock()
	return bs.height
}

// Tip returns the current chain tip hash and whether the store is non-empty.
func (bs *BlockStore) Tip() (Hash, bool) {
	bs.mu.RLock()
	defer bs.mu.RUnlock()
	return bs.tip, bs.hasTip
}

// BlockByHash fetches a block by its hash.
func (bs *BlockStore) BlockByHash(h Hash) (*Block, uint64, bool) {
	bs.mu.RLock()
	defer bs.mu.RUnlock()
	sb, ok := bs.blocksByHash[h]
	if !ok {
		return nil, 0, false
	}
	return sb.Block, sb.Height, true
}

// BlockByHeight fetches a block at a given height.
func (bs *BlockStore) BlockByHeight(height uint64) (*Block, bool) {
	bs.mu.RLock()
	defer bs.mu.RUnlock()
	h, ok := bs.heightToHash[height]
	if !ok {
		return nil, false
	}
	return bs.blocksByHash[h].Block, true
}

// TxByHash fetches a confirmed transaction and its location in O(1).
func (bs *BlockStore) TxByHash(h Hash) (*Transaction, TxLocation, bool) {
	bs.mu.RLock()
	defer bs.mu.RUnlock()
	loc, ok := bs.txLocation[h]
	if !ok {
		return nil, TxLocation{}, false
	}
	blkHash := bs.heightToHash[loc.BlockHeight]
	blk := bs.blocksByHash[blkHash].Block
	if loc.TxIndex >= len(blk.Transactions) {
		return nil, TxLocation{}, false
	}
	return blk.Transactions[loc.TxIndex], loc, true
}

// AddressHistory returns the deduplicated tx-hash history for an address,
// paginated: the minimum guarantee is 100 rows per page plus a total count
// (spec.md §4.3).
func (bs *BlockStore) AddressHistory(addr Address, offset, limit int) (hashes []Hash, total int, err error) {
	if limit <= 0 {
		limit = 100
	}
	bs.mu.RLock()
	defer bs.mu.RUnlock()
	all := bs.addressTxs[addr]
	total = len(all)
	if offset < 0 || offset >= total {
		return nil, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	out := make([]Hash, end-offset)
	copy(out, all[offset:end])
	return out, total, nil
}

// indexBlockLocked updates every in-memory index for an already-validated
// block at the given implied height. Caller holds bs.mu.
func (bs *BlockStore) indexBlockLocked(b *Block) {
	height := uint64(0)
	if bs.hasTip {
		height = bs.height + 1
	}
	bs.indexBlockAtLocked(b, height)
}

func (bs *BlockStore) indexBlockAtLocked(b *Block, height uint64) {
	h := b.Hash()
	bs.blocksByHash[h] = &StoredBlock{Height: height, Block: b}
	bs.heightToHash[height] = h
	bs.hashToHeight[h] = height
	bs.tip = h
	bs.hasTip = true
	bs.height = height

	for i, tx := range b.Transactions {
		th := tx.Hash()
		bs.txLocation[th] = TxLocation{BlockHeight: height, TxIndex: i}
		bs.appendAddressTx(tx.From, th)
		bs.appendAddressTx(tx.To, th)
	}
}

func (bs *BlockStore) appendAddressTx(addr Address, txHash Hash) {
	list := bs.addressTxs[addr]
	for _, existing := range list {
		if existing == txHash {
			return
		}
	}
	bs.addressTxs[addr] = append(list, txHash)
}

// Append writes the block plus every secondary index in one WAL append +
// in-memory critical section. Failures leave the store byte-for-byte as it
// was (spec.md §4.3, §9). It does not itself enforce consensus rules
// (linkage, PoW, timestamps) — see Consensus.Validate / Consensus.Append for
// that; this method is the atomic-write primitive those call.
func (bs *BlockStore) Append(b *Block) error {
	bs.mu.Lock()
	defer bs.mu.Unlock()

	line, err := encodeWALLine(b)
	if err != nil {
		return fmt.Errorf("blockstore: encode: %w", err)
	}
	if _, err := bs.walFile.Write(line); err != nil {
		return fmt.Errorf("blockstore: wal write: %w", err)
	}
	if err := bs.walFile.Sync(); err != nil {
		return fmt.Errorf("blockstore: wal sync: %w", err)
	}
	bs.indexBlockLocked(b)
	bs.log.WithFields(logrus.Fields{"height": bs.height, "hash": b.Hash().Short()}).Info("block appended")
	return nil
}

// RevertTo deletes every block, height mapping and index entry strictly
// above targetHeight, republishes chain_tip/chain_height, and returns the
// reverted blocks in ascending height order so the state store can reverse
// their effects (spec.md §4.3).
func (bs *BlockStore) RevertTo(targetHeight uint64) ([]*Block, error) {
	bs.mu.Lock()
	defer bs.mu.Unlock()

	if !bs.hasTip {
		return nil, nil
	}

	var reverted []*Block
	for h := bs.height; h > targetHeight; h-- {
		hash, ok := bs.heightToHash[h]
		if !ok {
			break
		}
		blk := bs.blocksByHash[hash].Block
		reverted = append(reverted, blk)

		delete(bs.blocksByHash, hash)
		delete(bs.heightToHash, h)
		delete(bs.hashToHeight, hash)
		for _, tx := range blk.Transactions {
			th := tx.Hash()
			delete(bs.txLocation, th)
			bs.removeAddressTx(tx.From, th)
			bs.removeAddressTx(tx.To, th)
		}
	}
	// reverse to ascending order
	for i, j := 0, len(reverted)-1; i < j; i, j = i+1, j-1 {
		reverted[i], reverted[j] = reverted[j], reverted[i]
	}

	if newTipHash, ok := bs.heightToHash[targetHeight]; ok {
		bs.tip = newTipHash
		bs.height = targetHeight
		bs.hasTip = true
	} else {
		bs.tip = Hash{}
		bs.height = 0
		bs.hasTip = false
	}

	if err := bs.rewriteWALLocked(); err != nil {
		return nil, err
	}
	return reverted, nil
}

// removeAddressTx removes a single occurrence of txHash from addr's history.
func (bs *BlockStore) removeAddressTx(addr Address, txHash Hash) {
	list := bs.addressTxs[addr]
	for i, existing := range list {
		if existing == txHash {
			bs.addressTxs[addr] = append(list[:i], list[i+1:]...)
			return
		}
	}
}

// rewriteWALLocked rewrites the WAL file to contain exactly the blocks
// currently indexed, in height order. Called after RevertTo so a crash
// mid-revert cannot resurrect reverted blocks on replay. Caller holds bs.mu.
func (bs *BlockStore) rewriteWALLocked() error {
	tmpPath := bs.walPath + ".tmp"
	tmp, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("blockstore: open tmp wal: %w", err)
	}
	heights := make([]uint64, 0, len(bs.heightToHash))
	for h := range bs.heightToHash {
		heights = append(heights, h)
	}
	sort.Slice(heights, func(i, j int) bool { return heights[i] < heights[j] })
	buf := bytes.Buffer{}
	for _, h := range heights {
		blk := bs.blocksByHash[bs.heightToHash[h]].Block
		line, err := encodeWALLine(blk)
		if err != nil {
			tmp.Close()
			return err
		}
		buf.Write(line)
	}
	if _, err := tmp.Write(buf.Bytes()); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := bs.walFile.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpPath, bs.walPath); err != nil {
		return err
	}
	f, err := os.OpenFile(bs.walPath, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o600)
	if err != nil {
		return err
	}
	bs.walFile = f
	return nil
}

func encodeWALLine(b *Block) ([]byte, error) {
	wl := walLine{Block: b.Encode()}
	out, err := json.Marshal(wl)
	if err != nil {
		return nil, err
	}
	return append(out, '\n'), nil
}

// Reorganize composes RevertTo(forkHeight) with sequential Append on
// newBlocks (spec.md §4.3).
func (bs *BlockStore) Reorganize(forkHeight uint64, newBlocks []*Block) ([]*Block, error) {
	reverted, err := bs.RevertTo(forkHeight)
	if err != nil {
		return nil, fmt.Errorf("blockstore: reorg revert: %w", err)
	}
	for _, nb := range newBlocks {
		if err := bs.Append(nb); err != nil {
			return reverted, fmt.Errorf("blockstore: reorg append: %w", err)
		}
	}
	return reverted, nil
}

// Digest returns a deterministic hash of the entire store's visible state,
// used by tests to assert reorg reversibility (P9: reverting and
// re-appending the originally reverted blocks yields a byte-identical
// store).
func (bs *BlockStore) Digest() Hash {
	bs.mu.RLock()
	defer bs.mu.RUnlock()
	buf := bytes.Buffer{}
	for h := uint64(0); h <= bs.height; h++ {
		hash, ok := bs.heightToHash[h]
		if !ok {
			continue
		}
		buf.Write(bs.blocksByHash[hash].Block.Encode())
	}
	return SHA256(buf.Bytes())
}
