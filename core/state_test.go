package core

import "testing"

func TestStateStoreBalanceAndNonceDefaults(t *testing.T) {
	s := NewStateStore(PruneConfig{Mode: PruneArchive})
	addr, _ := GenerateKeypair()
	if s.Balance(addr.Public) != 0 {
		t.Fatalf("expected zero balance for an untouched account")
	}
	if s.Nonce(addr.Public) != 0 {
		t.Fatalf("expected zero nonce for an untouched account")
	}
}

func TestStateStoreAddAndSubBalance(t *testing.T) {
	s := NewStateStore(PruneConfig{Mode: PruneArchive})
	addr, _ := GenerateKeypair()
	if err := s.AddBalance(addr.Public, 100); err != nil {
		t.Fatalf("AddBalance: %v", err)
	}
	if err := s.SubBalance(addr.Public, 40); err != nil {
		t.Fatalf("SubBalance: %v", err)
	}
	if got := s.Balance(addr.Public); got != 60 {
		t.Fatalf("expected balance 60, got %d", got)
	}
	if err := s.SubBalance(addr.Public, 1000); err != ErrInsufficientBalance {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
}

func TestStateStoreAddBalanceRejectsOverflow(t *testing.T) {
	s := NewStateStore(PruneConfig{Mode: PruneArchive})
	addr, _ := GenerateKeypair()
	if err := s.AddBalance(addr.Public, ^uint64(0)); err != nil {
		t.Fatalf("AddBalance: %v", err)
	}
	if err := s.AddBalance(addr.Public, 1); err != ErrBalanceOverflow {
		t.Fatalf("expected ErrBalanceOverflow, got %v", err)
	}
}

func TestStateStoreTransferAtomic(t *testing.T) {
	s := NewStateStore(PruneConfig{Mode: PruneArchive})
	from, _ := GenerateKeypair()
	to, _ := GenerateKeypair()
	if err := s.AddBalance(from.Public, 100); err != nil {
		t.Fatalf("AddBalance: %v", err)
	}
	if err := s.Transfer(from.Public, to.Public, 150); err != ErrInsufficientBalance {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
	if s.Balance(from.Public) != 100 {
		t.Fatalf("expected a failed transfer to leave the sender's balance unchanged")
	}
	if err := s.Transfer(from.Public, to.Public, 40); err != nil {
		t.Fatalf("Transfer: %v", err)
	}
	if s.Balance(from.Public) != 60 || s.Balance(to.Public) != 40 {
		t.Fatalf("expected balances 60/40, got %d/%d", s.Balance(from.Public), s.Balance(to.Public))
	}
}

func TestStateStoreIncrementNonceRejectsSkip(t *testing.T) {
	s := NewStateStore(PruneConfig{Mode: PruneArchive})
	addr, _ := GenerateKeypair()
	if err := s.IncrementNonce(addr.Public, 5); err == nil {
		t.Fatalf("expected incrementing from 0 with expected=5 to be rejected")
	}
	if err := s.IncrementNonce(addr.Public, 0); err != nil {
		t.Fatalf("IncrementNonce: %v", err)
	}
	if s.Nonce(addr.Public) != 1 {
		t.Fatalf("expected nonce 1 after increment, got %d", s.Nonce(addr.Public))
	}
}

func TestStateStoreDecrementNonceReversesIncrement(t *testing.T) {
	s := NewStateStore(PruneConfig{Mode: PruneArchive})
	addr, _ := GenerateKeypair()
	if err := s.IncrementNonce(addr.Public, 0); err != nil {
		t.Fatalf("IncrementNonce: %v", err)
	}
	if err := s.DecrementNonce(addr.Public); err != nil {
		t.Fatalf("DecrementNonce: %v", err)
	}
	if s.Nonce(addr.Public) != 0 {
		t.Fatalf("expected nonce back to 0, got %d", s.Nonce(addr.Public))
	}
	if err := s.DecrementNonce(addr.Public); err == nil {
		t.Fatalf("expected decrementing below zero to be rejected")
	}
}

func TestStateStoreMultisigRegistry(t *testing.T) {
	s := NewStateStore(PruneConfig{Mode: PruneArchive})
	kp1, _ := GenerateKeypair()
	kp2, _ := GenerateKeypair()
	cfg := MultisigConfig{Signers: []PublicKey{kp1.Public, kp2.Public}, Threshold: 2}
	addr, err := s.RegisterMultisig(cfg)
	if err != nil {
		t.Fatalf("RegisterMultisig: %v", err)
	}
	got, ok := s.MultisigConfigFor(addr)
	if !ok || got.Threshold != 2 {
		t.Fatalf("expected the registered multisig config to be retrievable")
	}
	if _, ok := s.MultisigConfigFor(kp1.Public); ok {
		t.Fatalf("expected a non-multisig address to report no config")
	}
}

func TestStateStoreSnapshotAndHistoricalBalance(t *testing.T) {
	s := NewStateStore(PruneConfig{Mode: PruneArchive})
	addr, _ := GenerateKeypair()
	if err := s.AddBalance(addr.Public, 500); err != nil {
		t.Fatalf("AddBalance: %v", err)
	}
	s.SnapshotBalance(10, addr.Public)
	if err := s.AddBalance(addr.Public, 250); err != nil {
		t.Fatalf("AddBalance: %v", err)
	}
	s.SnapshotBalance(20, addr.Public)

	bal, ok := s.HistoricalBalance(10, addr.Public)
	if !ok || bal != 500 {
		t.Fatalf("expected historical balance 500 at height 10, got %d (ok=%v)", bal, ok)
	}
	bal, ok = s.HistoricalBalance(20, addr.Public)
	if !ok || bal != 750 {
		t.Fatalf("expected historical balance 750 at height 20, got %d (ok=%v)", bal, ok)
	}
	if _, ok := s.HistoricalBalance(15, addr.Public); ok {
		t.Fatalf("expected no snapshot recorded at height 15")
	}
}

func TestStateStorePruneSnapshotsNoopUnderArchive(t *testing.T) {
	s := NewStateStore(PruneConfig{Mode: PruneArchive})
	addr, _ := GenerateKeypair()
	s.SnapshotBalance(1, addr.Public)
	if removed := s.PruneSnapshots(1000); removed != 0 {
		t.Fatalf("expected PruneArchive to never remove snapshots, removed %d", removed)
	}
}

func TestStateStorePruneSnapshotsUnderFull(t *testing.T) {
	s := NewStateStore(PruneConfig{Mode: PruneFull, KeepLastN: 5})
	addr, _ := GenerateKeypair()
	s.SnapshotBalance(1, addr.Public)
	s.SnapshotBalance(16, addr.Public)
	removed := s.PruneSnapshots(20)
	if removed != 1 {
		t.Fatalf("expected exactly the height-1 snapshot pruned at tip 20 keep-last 5, got %d", removed)
	}
	if _, ok := s.HistoricalBalance(16, addr.Public); !ok {
		t.Fatalf("expected the within-window snapshot to survive pruning")
	}
}

func TestStateStoreTotalBalanceAndAddresses(t *testing.T) {
	s := NewStateStore(PruneConfig{Mode: PruneArchive})
	a1, _ := GenerateKeypair()
	a2, _ := GenerateKeypair()
	if err := s.AddBalance(a1.Public, 100); err != nil {
		t.Fatalf("AddBalance: %v", err)
	}
	if err := s.AddBalance(a2.Public, 50); err != nil {
		t.Fatalf("AddBalance: %v", err)
	}
	if got := s.TotalBalance(); got != 150 {
		t.Fatalf("expected total balance 150, got %d", got)
	}
	if got := s.Addresses(); len(got) != 2 {
		t.Fatalf("expected 2 addresses with non-default state, got %d", len(got))
	}
}
