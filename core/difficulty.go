package core

// difficulty.go — proof-of-work difficulty retargeting (spec.md §4.5).
// Adapted from Synnergy's core/consensus.go adjustment-window constants
// (RetargetWindow, BlockInterval) but replacing its 15-minute sub-block
// hybrid scheme with the spec's plain single-adjustment formula, computed in
// 128-bit-widened arithmetic via math/big to avoid intermediate overflow and
// floating-point drift, exactly as spec.md §4.5 requires.

import (
	"math/big"
	"time"
)

const (
	MinDifficulty uint32 = 1
	MaxDifficulty uint32 = 255
)

// RetargetDifficulty computes the next difficulty given the current
// difficulty, the actual wall-clock time taken for the adjustment interval,
// the target time for that interval, and the global difficulty bounds. The
// result is clamped to [current*0.75, current*1.25] and to [min, max]. A
// zero actualTime refuses to adjust, defeating timewarp manipulation
// (spec.md §4.5, P12).
func RetargetDifficulty(current uint32, actualTime, targetTime time.Duration, min, max uint32) uint32 {
	if actualTime <= 0 {
		return current
	}
	curBig := big.NewInt(int64(current))
	actual := big.NewInt(int64(actualTime))
	target := big.NewInt(int64(targetTime))

	// new = current * targetTime / actualTime, widened to avoid overflow.
	numerator := new(big.Int).Mul(curBig, target)
	newDiff := new(big.Int).Quo(numerator, actual)

	lowerBound := new(big.Int).Quo(new(big.Int).Mul(curBig, big.NewInt(750)), big.NewInt(1000))
	upperBound := new(big.Int).Quo(new(big.Int).Mul(curBig, big.NewInt(1250)), big.NewInt(1000))
	// Round the upper bound up, matching spec.md's "ceil" framing for the
	// +25% clamp so a current difficulty that isn't a multiple of 4 still
	// permits its full +25% move.
	if rem := new(big.Int).Mod(new(big.Int).Mul(curBig, big.NewInt(1250)), big.NewInt(1000)); rem.Sign() != 0 {
		upperBound.Add(upperBound, big.NewInt(1))
	}

	if newDiff.Cmp(lowerBound) < 0 {
		newDiff.Set(lowerBound)
	}
	if newDiff.Cmp(upperBound) > 0 {
		newDiff.Set(upperBound)
	}

	minBig := big.NewInt(int64(min))
	maxBig := big.NewInt(int64(max))
	if newDiff.Cmp(minBig) < 0 {
		newDiff.Set(minBig)
	}
	if newDiff.Cmp(maxBig) > 0 {
		newDiff.Set(maxBig)
	}

	result := newDiff.Uint64()
	if result > uint64(max) {
		result = uint64(max)
	}
	return uint32(result)
}
