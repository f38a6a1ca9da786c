package core

// reputation.go — per-peer reputation, rate limiting, and bans (spec.md
// §4.7). Adapted from Synnergy's core/connection_pool.go per-key counter
// map (a mutex-guarded map of bookkeeping structs, periodically swept) and
// from core/consensus_weights.go's additive/decaying score pattern, wired
// here against golang.org/x/time/rate for the byte/message-count limiter
// instead of a hand-rolled token bucket.

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Reputation event deltas (spec.md §4.7).
const (
	RepValidBlock         = 2
	RepValidTransaction   = 1
	RepInvalidBlock       = -10
	RepInvalidTx          = -2
	RepRateLimitViolation = -5
	RepOversizedMessage   = -15

	repBanThreshold  = -100
	repDecayPerTick  = 2
	repDecayInterval = 5 * time.Minute
	repBanDuration   = 1 * time.Hour
	repBanResetFloor = -50
)

// PeerReputation tracks one peer's score and ban state.
type PeerReputation struct {
	Score     int
	BannedAt  time.Time
	IsBanned  bool
	lastDecay time.Time
}

// peerLimiter pairs the per-second block/tx/byte rate limiters for one peer
// (spec.md §4.7's "per peer, per 1-second window" budgets).
type peerLimiter struct {
	blocks *rate.Limiter
	txs    *rate.Limiter
	bytes  *rate.Limiter
}

func newPeerLimiter() *peerLimiter {
	return &peerLimiter{
		blocks: rate.NewLimiter(rate.Limit(10), 10),
		txs:    rate.NewLimiter(rate.Limit(100), 100),
		bytes:  rate.NewLimiter(rate.Limit(5<<20), 5<<20),
	}
}

// ReputationManager is the single P2P-task owner of every peer's reputation
// and rate-limiter state (spec.md §5: "updated only by the P2P task").
type ReputationManager struct {
	mu    sync.Mutex
	peers map[NodeID]*PeerReputation
	rates map[NodeID]*peerLimiter
	now   func() time.Time
}

// NewReputationManager creates an empty reputation manager.
func NewReputationManager() *ReputationManager {
	return &ReputationManager{
		peers: make(map[NodeID]*PeerReputation),
		rates: make(map[NodeID]*peerLimiter),
		now:   time.Now,
	}
}

func (rm *ReputationManager) peerLocked(id NodeID) *PeerReputation {
	p, ok := rm.peers[id]
	if !ok {
		p = &PeerReputation{lastDecay: rm.now()}
		rm.peers[id] = p
	}
	return p
}

func (rm *ReputationManager) limiterLocked(id NodeID) *peerLimiter {
	l, ok := rm.rates[id]
	if !ok {
		l = newPeerLimiter()
		rm.rates[id] = l
	}
	return l
}

// decayLocked applies the 2-point-per-5-minute decay toward zero, however
// many whole intervals have elapsed since the last decay or event.
func (rm *ReputationManager) decayLocked(p *PeerReputation) {
	elapsed := rm.now().Sub(p.lastDecay)
	ticks := int(elapsed / repDecayInterval)
	if ticks <= 0 {
		return
	}
	for i := 0; i < ticks; i++ {
		if p.Score > 0 {
			p.Score -= repDecayPerTick
			if p.Score < 0 {
				p.Score = 0
			}
		} else if p.Score < 0 {
			p.Score += repDecayPerTick
			if p.Score > 0 {
				p.Score = 0
			}
		}
	}
	p.lastDecay = p.lastDecay.Add(time.Duration(ticks) * repDecayInterval)
}

// IsBanned reports whether id is currently banned, expiring the ban (and
// resetting the score to the warning floor) if an hour has elapsed (spec.md
// §4.7, P13).
func (rm *ReputationManager) IsBanned(id NodeID) bool {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	p := rm.peerLocked(id)
	if !p.IsBanned {
		return false
	}
	if rm.now().Sub(p.BannedAt) >= repBanDuration {
		p.IsBanned = false
		p.Score = repBanResetFloor
		p.lastDecay = rm.now()
		return false
	}
	return true
}

// Apply records a reputation event and returns the peer's resulting score.
// A score dropping below -100 bans the peer for one hour (spec.md §4.7).
func (rm *ReputationManager) Apply(id NodeID, delta int) (score int, banned bool) {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	p := rm.peerLocked(id)
	rm.decayLocked(p)
	p.Score += delta
	p.lastDecay = rm.now()
	if !p.IsBanned && p.Score < repBanThreshold {
		p.IsBanned = true
		p.BannedAt = rm.now()
	}
	return p.Score, p.IsBanned
}

// Score returns id's current score without mutating ban state.
func (rm *ReputationManager) Score(id NodeID) int {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	p := rm.peerLocked(id)
	rm.decayLocked(p)
	return p.Score
}

// AllowBlock consumes one block-receipt token for id; false means the rate
// limit was exceeded and the message must be dropped with the rate-limit
// penalty applied.
func (rm *ReputationManager) AllowBlock(id NodeID) bool {
	rm.mu.Lock()
	l := rm.limiterLocked(id)
	rm.mu.Unlock()
	return l.blocks.Allow()
}

// AllowTransaction consumes one transaction-receipt token for id.
func (rm *ReputationManager) AllowTransaction(id NodeID) bool {
	rm.mu.Lock()
	l := rm.limiterLocked(id)
	rm.mu.Unlock()
	return l.txs.Allow()
}

// AllowBytes consumes n bytes of id's per-second byte budget.
func (rm *ReputationManager) AllowBytes(id NodeID, n int) bool {
	rm.mu.Lock()
	l := rm.limiterLocked(id)
	rm.mu.Unlock()
	return l.bytes.AllowN(rm.now(), n)
}
