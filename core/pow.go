package core

// pow.go — the proof-of-work miner (spec.md §4.5), both the serial search
// and the parallel worker-pool variant from original_source/crates/
// consensus/src/bin/miner.rs, which partitions the nonce space across
// worker threads behind a shared atomic stop flag. Adapted from Synnergy's
// core/consensus.go hash-rate bookkeeping style (counters plus a periodic
// callback) but against the spec's plain PoW loop rather than the teacher's
// PoH/PoS hybrid.

import (
	"math"
	"sync"
	"sync/atomic"
	"time"
)

// MiningStats reports progress/result statistics for a mining run.
type MiningStats struct {
	HashesComputed uint64
	Duration       time.Duration
	HashRate       float64
	NonceFound     uint64
	Exhausted      bool
}

// StatsCallback is invoked periodically (every K attempts) during mining.
type StatsCallback func(MiningStats)

// MineSerial iterates nonce from 0 upward on header (which must have every
// field but Nonce already filled in) until MeetsDifficulty is satisfied,
// invoking cb every statsEvery attempts. If the nonce space is exhausted
// (math.MaxUint64 attempts without success — vanishingly rare in practice)
// it returns with Exhausted set so the caller can re-timestamp and retry.
func MineSerial(candidate *Block, statsEvery uint64, cb StatsCallback) (*Block, MiningStats) {
	start := time.Now()
	if statsEvery == 0 {
		statsEvery = 100_000
	}
	var nonce uint64
	var hashes uint64
	for {
		candidate.Header.Nonce = nonce
		hashes++
		if candidate.MeetsDifficulty() {
			stats := MiningStats{
				HashesComputed: hashes,
				Duration:       time.Since(start),
				NonceFound:     nonce,
			}
			stats.HashRate = hashRate(stats.HashesComputed, stats.Duration)
			return candidate, stats
		}
		if hashes%statsEvery == 0 && cb != nil {
			d := time.Since(start)
			cb(MiningStats{HashesComputed: hashes, Duration: d, HashRate: hashRate(hashes, d)})
		}
		if nonce == math.MaxUint64 {
			return candidate, MiningStats{HashesComputed: hashes, Duration: time.Since(start), Exhausted: true}
		}
		nonce++
	}
}

func hashRate(hashes uint64, d time.Duration) float64 {
	if d <= 0 {
		return 0
	}
	return float64(hashes) / d.Seconds()
}

// MineParallel partitions the nonce space across workers goroutines. The
// first worker to find a solution sets a shared stop flag; the others exit
// within a bounded number of iterations (spec.md §4.5, §5 cancellation).
func MineParallel(candidate *Block, workers int, statsEvery uint64, cb StatsCallback) (*Block, MiningStats) {
	if workers < 1 {
		workers = 1
	}
	start := time.Now()
	var stop int32
	var totalHashes uint64
	type result struct {
		block *Block
		nonce uint64
		found bool
	}
	results := make(chan result, workers)
	var wg sync.WaitGroup

	stride := uint64(workers)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(startNonce uint64) {
			defer wg.Done()
			local := *candidate
			localTxs := make([]*Transaction, len(candidate.Transactions))
			copy(localTxs, candidate.Transactions)
			local.Transactions = localTxs

			nonce := startNonce
			var hashes uint64
			const checkInterval = 4096
			for {
				if hashes%checkInterval == 0 && atomic.LoadInt32(&stop) != 0 {
					atomic.AddUint64(&totalHashes, hashes)
					return
				}
				local.Header.Nonce = nonce
				hashes++
				if local.MeetsDifficulty() {
					atomic.StoreInt32(&stop, 1)
					atomic.AddUint64(&totalHashes, hashes)
					results <- result{block: &local, nonce: nonce, found: true}
					return
				}
				if nonce > math.MaxUint64-stride {
					atomic.AddUint64(&totalHashes, hashes)
					return
				}
				nonce += stride
			}
		}(uint64(w))
	}

	go func() {
		wg.Wait()
		close(results)
	}()

	var winner *result
	for r := range results {
		if r.found && winner == nil {
			rr := r
			winner = &rr
		}
	}

	d := time.Since(start)
	hashes := atomic.LoadUint64(&totalHashes)
	stats := MiningStats{HashesComputed: hashes, Duration: d, HashRate: hashRate(hashes, d)}
	if winner == nil {
		stats.Exhausted = true
		return candidate, stats
	}
	stats.NonceFound = winner.nonce
	return winner.block, stats
}
