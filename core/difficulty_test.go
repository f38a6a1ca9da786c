package core

import (
	"testing"
	"time"
)

func TestRetargetDifficultyNoAdjustmentOnTarget(t *testing.T) {
	got := RetargetDifficulty(100, 10*time.Minute, 10*time.Minute, MinDifficulty, MaxDifficulty)
	if got != 100 {
		t.Fatalf("expected no change when actual equals target, got %d", got)
	}
}

func TestRetargetDifficultyRefusesZeroActualTime(t *testing.T) {
	got := RetargetDifficulty(100, 0, 10*time.Minute, MinDifficulty, MaxDifficulty)
	if got != 100 {
		t.Fatalf("expected a zero actual time to refuse adjustment, got %d", got)
	}
}

func TestRetargetDifficultyClampsToPlus25Percent(t *testing.T) {
	// Blocks arrived far faster than target, which would imply a huge jump;
	// the result must not exceed current*1.25.
	got := RetargetDifficulty(100, 1*time.Minute, 10*time.Minute, MinDifficulty, MaxDifficulty)
	if got > 125 {
		t.Fatalf("expected difficulty capped at +25%%, got %d", got)
	}
	if got < 100 {
		t.Fatalf("expected difficulty to increase when blocks arrive faster than target, got %d", got)
	}
}

func TestRetargetDifficultyClampsToMinus25Percent(t *testing.T) {
	// Blocks arrived far slower than target, which would imply a huge drop;
	// the result must not fall below current*0.75.
	got := RetargetDifficulty(100, 40*time.Minute, 10*time.Minute, MinDifficulty, MaxDifficulty)
	if got < 75 {
		t.Fatalf("expected difficulty floored at -25%%, got %d", got)
	}
	if got > 100 {
		t.Fatalf("expected difficulty to decrease when blocks arrive slower than target, got %d", got)
	}
}

func TestRetargetDifficultyRespectsGlobalBounds(t *testing.T) {
	got := RetargetDifficulty(MinDifficulty, 100*time.Minute, 10*time.Minute, MinDifficulty, MaxDifficulty)
	if got < MinDifficulty {
		t.Fatalf("expected result to respect the global minimum, got %d", got)
	}

	got = RetargetDifficulty(MaxDifficulty, 1*time.Second, 10*time.Minute, MinDifficulty, MaxDifficulty)
	if got > MaxDifficulty {
		t.Fatalf("expected result to respect the global maximum, got %d", got)
	}
}
