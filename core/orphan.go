package core

// orphan.go — the bounded orphan-transaction pool (spec.md §4.6). Adapted
// from Synnergy's core/connection_pool.go capacity-plus-eviction shape,
// backed here by golang-lru's size-bounded cache (used elsewhere in the
// sibling example pack for exactly this "bounded set with oldest/least-
// recently-touched eviction" need) instead of a hand-rolled ring buffer.

import (
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

const (
	orphanPoolMaxSize = 1000
	orphanPoolTTL     = 10 * time.Minute
)

type orphanEntry struct {
	tx      *Transaction
	arrived time.Time
}

// OrphanPool holds transactions whose declared parent transaction hash is
// not yet known, keyed by that parent hash. Eviction at capacity is
// oldest-first; entries also expire after orphanPoolTTL (spec.md §4.6).
type OrphanPool struct {
	mu       sync.Mutex
	byParent map[Hash][]*orphanEntry
	cache    *lru.Cache[Hash, struct{}] // tracks insertion order for capacity eviction
	count    int
}

// NewOrphanPool creates an empty orphan pool.
func NewOrphanPool() *OrphanPool {
	// The LRU's OnEvict fires on capacity eviction, which for a
	// write-once-per-child key (each orphan txn's hash is added exactly
	// once) gives FIFO oldest-first behaviour. It also fires on
	// cache.Remove; Promote and EvictExpired take the entry out of
	// byParent before calling Remove, so dropChild then finds nothing.
	p := &OrphanPool{byParent: make(map[Hash][]*orphanEntry)}
	c, _ := lru.NewWithEvict[Hash, struct{}](orphanPoolMaxSize, func(childHash Hash, _ struct{}) {
		p.dropChild(childHash)
	})
	p.cache = c
	return p
}

// dropChild removes a single orphan transaction (identified by its own
// hash) from whichever parent-bucket holds it. Called from the lru
// eviction callback, which lru invokes synchronously but outside of Add's
// own critical section (see Add), so it is free to take p.mu itself.
func (p *OrphanPool) dropChild(childHash Hash) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for parent, list := range p.byParent {
		for i, e := range list {
			if e.tx.Hash() == childHash {
				p.byParent[parent] = append(list[:i], list[i+1:]...)
				if len(p.byParent[parent]) == 0 {
					delete(p.byParent, parent)
				}
				p.count--
				return
			}
		}
	}
}

// Add parks tx, keyed by the hash of the parent transaction it depends on.
// The lru capacity-eviction callback takes p.mu itself, so the insert into
// byParent/count must be committed and unlocked before cache.Add runs.
func (p *OrphanPool) Add(parent Hash, tx *Transaction) {
	childHash := tx.Hash()
	p.mu.Lock()
	p.byParent[parent] = append(p.byParent[parent], &orphanEntry{tx: tx, arrived: time.Now()})
	p.count++
	p.mu.Unlock()
	p.cache.Add(childHash, struct{}{})
}

// Promote removes and returns every orphan transaction waiting on
// parentHash, recursively: if a promoted transaction is itself depended on
// by further orphans (tx1 -> tx2 -> tx3), those are promoted too (spec.md
// §4.6).
func (p *OrphanPool) Promote(parentHash Hash) []*Transaction {
	p.mu.Lock()
	ready := p.byParent[parentHash]
	delete(p.byParent, parentHash)
	p.mu.Unlock()

	var out []*Transaction
	for _, e := range ready {
		p.mu.Lock()
		p.count--
		p.mu.Unlock()
		p.cache.Remove(e.tx.Hash())
		out = append(out, e.tx)
		out = append(out, p.Promote(e.tx.Hash())...)
	}
	return out
}

// EvictExpired drops every orphan older than orphanPoolTTL. The lru's
// eviction callback takes p.mu itself, so expired hashes are collected
// under the lock and removed from the cache only after it is released.
func (p *OrphanPool) EvictExpired(now time.Time) int {
	p.mu.Lock()
	cutoff := now.Add(-orphanPoolTTL)
	removed := 0
	var expiredHashes []Hash
	for parent, list := range p.byParent {
		kept := list[:0]
		for _, e := range list {
			if e.arrived.Before(cutoff) {
				expiredHashes = append(expiredHashes, e.tx.Hash())
				p.count--
				removed++
				continue
			}
			kept = append(kept, e)
		}
		if len(kept) == 0 {
			delete(p.byParent, parent)
		} else {
			p.byParent[parent] = kept
		}
	}
	p.mu.Unlock()

	for _, h := range expiredHashes {
		p.cache.Remove(h)
	}
	return removed
}

// Len returns the number of pending orphan transactions.
func (p *OrphanPool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.count
}
