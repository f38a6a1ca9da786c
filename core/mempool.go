package core

// mempool.go — the fee-prioritised pending transaction set (spec.md §4.6).
// Adapted from Synnergy's core/txpool_stub.go queue-plus-index shape (a
// slice of pending entries alongside a map for O(1) lookup) generalised
// with the spec's per-sender nonce queue and fee/hash priority ordering,
// and from core/governance.go's snapshot-on-mutation persistence habit for
// the orphan pool's TTL bookkeeping.

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

var (
	ErrMempoolFull = errors.New("mempool full")
	ErrDuplicateTx = errors.New("duplicate transaction")
	ErrFeeTooLow   = errors.New("fee too low")
	ErrNonceTooLow = errors.New("nonce below sender's on-disk nonce")
)

// MempoolEntry is a pending transaction plus its insertion time.
type MempoolEntry struct {
	Tx         *Transaction
	Hash       Hash
	InsertedAt time.Time
}

// MempoolConfig bounds mempool admission.
type MempoolConfig struct {
	MaxSize    int
	MinFee     uint64
	MaxAgeSecs int64
}

// Mempool is the single-writer pending transaction set described by
// spec.md §4.6. Concurrent readers obtain point-in-time snapshots; the
// orchestrator's task is the sole writer (spec.md §5).
type Mempool struct {
	mu sync.RWMutex

	cfg   MempoolConfig
	state *StateStore

	byHash   map[Hash]*MempoolEntry
	bySender map[Address]map[uint64]Hash // nonce -> tx hash, per spec.md §4.6 nonce queue

	orphans *OrphanPool
}

// NewMempool wires a mempool over the given state store (consulted for
// on-disk nonce/balance during validation).
func NewMempool(cfg MempoolConfig, state *StateStore) *Mempool {
	if cfg.MaxAgeSecs <= 0 {
		cfg.MaxAgeSecs = 3600
	}
	return &Mempool{
		cfg:      cfg,
		state:    state,
		byHash:   make(map[Hash]*MempoolEntry),
		bySender: make(map[Address]map[uint64]Hash),
		orphans:  NewOrphanPool(),
	}
}

// SetMinFee updates the minimum fee new entries must meet, used by the
// orchestrator when a MinimumFee governance proposal executes (spec.md
// §4.8).
func (m *Mempool) SetMinFee(fee uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cfg.MinFee = fee
}

// Len returns the number of pending entries.
func (m *Mempool) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.byHash)
}

// Has reports whether a transaction hash is already pending.
func (m *Mempool) Has(h Hash) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.byHash[h]
	return ok
}

// projectedBalanceLocked computes sender's balance minus the amount+fee of
// every pending entry from that sender, so a burst of transactions from one
// account can be admitted against the single on-disk balance (spec.md
// §4.6's "projected balance" validation rule). Caller holds m.mu (read or
// write).
func (m *Mempool) projectedBalanceLocked(sender Address) uint64 {
	bal := m.state.Balance(sender)
	for _, h := range m.bySender[sender] {
		e := m.byHash[h]
		spend := e.Tx.Amount + e.Tx.Fee
		if spend > bal {
			return 0
		}
		bal -= spend
	}
	return bal
}

// validateLocked runs the admission checks from spec.md §4.6. Caller holds
// m.mu for writing.
func (m *Mempool) validateLocked(tx *Transaction) error {
	if tx.IsCoinbase() {
		return ErrCoinbaseNotAllowed
	}
	if err := tx.Verify(); err != nil {
		return err
	}
	if tx.Fee < m.cfg.MinFee {
		return fmt.Errorf("%w: fee %d < min %d", ErrFeeTooLow, tx.Fee, m.cfg.MinFee)
	}
	onDisk := m.state.Nonce(tx.From)
	if tx.Nonce < onDisk {
		return fmt.Errorf("%w: tx nonce %d < on-disk %d", ErrNonceTooLow, tx.Nonce, onDisk)
	}
	projected := m.projectedBalanceLocked(tx.From)
	if projected < tx.Amount+tx.Fee {
		return fmt.Errorf("%w: sender %s", ErrInsufficientBalance, tx.From.Short())
	}
	return nil
}

// lowestFeeLocked returns the hash of the lowest-fee entry currently
// pending (ties broken by larger hash, so the deterministic "first" loser
// under Less is evicted last). Caller holds m.mu.
func (m *Mempool) lowestFeeLocked() (Hash, bool) {
	var worst Hash
	var worstFee uint64
	found := false
	for h, e := range m.byHash {
		if !found || e.Tx.Fee < worstFee || (e.Tx.Fee == worstFee && worst.Less(h)) {
			worst = h
			worstFee = e.Tx.Fee
			found = true
		}
	}
	return worst, found
}

// Add validates and inserts tx, evicting the lowest-fee entry if the pool
// is full and tx's fee exceeds it (spec.md §4.6). Returns the transaction
// hash on success.
func (m *Mempool) Add(tx *Transaction) (Hash, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	h := tx.Hash()
	if _, dup := m.byHash[h]; dup {
		return h, ErrDuplicateTx
	}
	if err := m.validateLocked(tx); err != nil {
		return h, err
	}

	if len(m.byHash) >= m.cfg.MaxSize {
		worstHash, ok := m.lowestFeeLocked()
		if !ok || tx.Fee <= m.byHash[worstHash].Tx.Fee {
			return h, ErrMempoolFull
		}
		m.removeLocked(worstHash)
	}

	entry := &MempoolEntry{Tx: tx, Hash: h, InsertedAt: time.Now()}
	m.byHash[h] = entry
	if m.bySender[tx.From] == nil {
		m.bySender[tx.From] = make(map[uint64]Hash)
	}
	m.bySender[tx.From][tx.Nonce] = h
	return h, nil
}

func (m *Mempool) removeLocked(h Hash) {
	e, ok := m.byHash[h]
	if !ok {
		return
	}
	delete(m.byHash, h)
	if senderNonces := m.bySender[e.Tx.From]; senderNonces != nil {
		if senderNonces[e.Tx.Nonce] == h {
			delete(senderNonces, e.Tx.Nonce)
		}
		if len(senderNonces) == 0 {
			delete(m.bySender, e.Tx.From)
		}
	}
}

// Remove discards a transaction by hash without checking for a replacement,
// used when a transaction confirms or becomes otherwise invalid.
func (m *Mempool) Remove(h Hash) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.removeLocked(h)
}

// RemoveConfirmed removes every transaction in txs (by hash) from the pool,
// called by the import pipeline after a block commits (spec.md §4.10 step
// 4). It also drives orphan-pool promotion against each removed hash.
func (m *Mempool) RemoveConfirmed(txs []*Transaction) []*Transaction {
	m.mu.Lock()
	hashes := make([]Hash, 0, len(txs))
	for _, tx := range txs {
		if tx.IsCoinbase() {
			continue
		}
		h := tx.Hash()
		m.removeLocked(h)
		hashes = append(hashes, h)
	}
	m.mu.Unlock()

	var promoted []*Transaction
	for _, h := range hashes {
		promoted = append(promoted, m.orphans.Promote(h)...)
	}
	for _, tx := range promoted {
		_, _ = m.Add(tx)
	}
	return promoted
}

// GetPriorityTransactions returns up to limit pending transactions sorted
// by descending fee, with ascending-hash tie-break (spec.md §4.6, P8). This
// is the raw priority view across every sender; AssembleCandidates applies
// the additional one-per-sender nonce-contiguity rule for block assembly.
func (m *Mempool) GetPriorityTransactions(limit int) []*Transaction {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entries := make([]*MempoolEntry, 0, len(m.byHash))
	for _, e := range m.byHash {
		entries = append(entries, e)
	}
	sortByPriority(entries)
	if limit > 0 && limit < len(entries) {
		entries = entries[:limit]
	}
	out := make([]*Transaction, len(entries))
	for i, e := range entries {
		out[i] = e.Tx
	}
	return out
}

func sortByPriority(entries []*MempoolEntry) {
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Tx.Fee != entries[j].Tx.Fee {
			return entries[i].Tx.Fee > entries[j].Tx.Fee
		}
		return entries[i].Hash.Less(entries[j].Hash)
	})
}

// AssembleCandidates picks at most one transaction per sender — the entry
// whose nonce equals that sender's current on-disk nonce — in descending
// fee order, up to limit transactions total (spec.md §4.6 "nonce queue").
// This is what the miner loop (C10) drains to build a candidate block.
func (m *Mempool) AssembleCandidates(limit int) []*Transaction {
	m.mu.RLock()
	defer m.mu.RUnlock()

	type candidate struct {
		tx   *Transaction
		hash Hash
	}
	var pool []candidate
	for sender, nonces := range m.bySender {
		onDisk := m.state.Nonce(sender)
		h, ok := nonces[onDisk]
		if !ok {
			continue
		}
		pool = append(pool, candidate{tx: m.byHash[h].Tx, hash: h})
	}
	sort.Slice(pool, func(i, j int) bool {
		if pool[i].tx.Fee != pool[j].tx.Fee {
			return pool[i].tx.Fee > pool[j].tx.Fee
		}
		return pool[i].hash.Less(pool[j].hash)
	})
	if limit > 0 && limit < len(pool) {
		pool = pool[:limit]
	}
	out := make([]*Transaction, len(pool))
	for i, c := range pool {
		out[i] = c.tx
	}
	return out
}

// EvictExpired removes every entry older than cfg.MaxAgeSecs, called by a
// periodic sweep (spec.md §4.6).
func (m *Mempool) EvictExpired(now time.Time) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	cutoff := now.Add(-time.Duration(m.cfg.MaxAgeSecs) * time.Second)
	removed := 0
	for h, e := range m.byHash {
		if e.InsertedAt.Before(cutoff) {
			m.removeLocked(h)
			removed++
		}
	}
	return removed
}

// Orphans exposes the orphan pool for callers that need to offer a
// transaction whose parent is not yet known (spec.md §4.6).
func (m *Mempool) Orphans() *OrphanPool { return m.orphans }

// AddOrOrphan attempts to add tx directly; if the submitter declares a
// parent transaction hash that is neither confirmed nor present in the main
// pool, tx is parked in the orphan pool instead of being rejected outright
// (spec.md §4.6). The parent hash is submission metadata, not a consensus-
// critical transaction field — spec.md §9's resolved `data` framing (see
// DESIGN.md) keeps Transaction.Data opaque and uninterpreted for non-
// coinbase transactions, so dependency declaration travels alongside the
// transaction rather than inside it.
func (m *Mempool) AddOrOrphan(tx *Transaction, parent *Hash, confirmed func(Hash) bool) (Hash, error) {
	if parent != nil {
		if !confirmed(*parent) && !m.Has(*parent) {
			m.orphans.Add(*parent, tx)
			return tx.Hash(), nil
		}
	}
	return m.Add(tx)
}
