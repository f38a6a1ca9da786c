package core

import (
	"testing"
	"time"
)

func TestReputationApplyAndScore(t *testing.T) {
	rm := NewReputationManager()
	id := NodeID("peer-1")
	score, banned := rm.Apply(id, RepValidBlock)
	if banned {
		t.Fatalf("peer should not be banned after a single valid block")
	}
	if score != RepValidBlock {
		t.Fatalf("expected score %d, got %d", RepValidBlock, score)
	}
	if got := rm.Score(id); got != RepValidBlock {
		t.Fatalf("Score mismatch: got %d", got)
	}
}

func TestReputationBanThreshold(t *testing.T) {
	rm := NewReputationManager()
	id := NodeID("peer-bad")
	var banned bool
	for i := 0; i < 11; i++ {
		_, banned = rm.Apply(id, RepInvalidBlock)
	}
	if !banned {
		t.Fatalf("expected peer to be banned after crossing -100")
	}
	if !rm.IsBanned(id) {
		t.Fatalf("IsBanned should report true")
	}
}

func TestReputationBanExpiresToFloor(t *testing.T) {
	rm := NewReputationManager()
	fakeNow := time.Now()
	rm.now = func() time.Time { return fakeNow }
	id := NodeID("peer-expiring")
	for i := 0; i < 11; i++ {
		rm.Apply(id, RepInvalidBlock)
	}
	if !rm.IsBanned(id) {
		t.Fatalf("expected peer banned")
	}
	fakeNow = fakeNow.Add(repBanDuration + time.Minute)
	if rm.IsBanned(id) {
		t.Fatalf("expected ban to expire after repBanDuration")
	}
	if got := rm.Score(id); got != repBanResetFloor {
		t.Fatalf("expected score reset to floor %d, got %d", repBanResetFloor, got)
	}
}

func TestReputationDecayTowardZero(t *testing.T) {
	rm := NewReputationManager()
	fakeNow := time.Now()
	rm.now = func() time.Time { return fakeNow }
	id := NodeID("peer-decay")
	rm.Apply(id, -10)

	fakeNow = fakeNow.Add(repDecayInterval)
	score := rm.Score(id)
	if score != -10+repDecayPerTick {
		t.Fatalf("expected one decay tick toward zero, got %d", score)
	}
}

func TestReputationAllowBlockRateLimit(t *testing.T) {
	rm := NewReputationManager()
	id := NodeID("peer-rate")
	allowedCount := 0
	for i := 0; i < 20; i++ {
		if rm.AllowBlock(id) {
			allowedCount++
		}
	}
	if allowedCount == 0 || allowedCount > 10 {
		t.Fatalf("expected the burst of 10 tokens to cap allowed calls, got %d", allowedCount)
	}
}

func TestReputationAllowBytesConsumesBudget(t *testing.T) {
	rm := NewReputationManager()
	id := NodeID("peer-bytes")
	if !rm.AllowBytes(id, 1<<20) {
		t.Fatalf("expected a 1MiB message within the 5MiB/s budget to be allowed")
	}
	if rm.AllowBytes(id, 100<<20) {
		t.Fatalf("expected a 100MiB message to exceed the byte budget")
	}
}
