package core

// state.go — account balances, nonces, and the multisig registry (spec.md
// §4.4). Adapted from Synnergy's core/access_control.go prefix-keyed cache
// pattern (an in-memory map mirroring a persisted key space, refreshed
// lazily) generalised from role strings to balance/nonce/multisig-config
// records, plus historical snapshot pruning modelled on
// core/common_structs.go's LedgerConfig.PruneInterval field.

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
)

// Account is the per-public-key state record. A missing key implies the
// zero value (spec.md §3).
type Account struct {
	Balance uint64
	Nonce   uint64
}

var (
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrInvalidNonce        = errors.New("invalid nonce")
	ErrBalanceOverflow     = errors.New("balance overflow")
)

// PruneMode selects historical-snapshot retention behaviour (spec.md §4.4).
type PruneMode int

const (
	// PruneArchive never deletes historical balance snapshots.
	PruneArchive PruneMode = iota
	// PruneFull deletes snapshots older than tip_height-KeepLastN.
	PruneFull
)

// PruneConfig configures historical snapshot retention.
type PruneConfig struct {
	Mode      PruneMode
	KeepLastN uint64
}

type balanceSnapshotKey struct {
	Height uint64
	Addr   Address
}

// StateStore holds account balances, nonces, the multisig account registry,
// and optional historical balance snapshots.
type StateStore struct {
	mu sync.RWMutex

	accounts map[Address]*Account
	multisig map[Address]MultisigConfig

	snapshots map[balanceSnapshotKey]uint64
	prune     PruneConfig
}

// NewStateStore creates an empty state store with the given pruning policy.
func NewStateStore(prune PruneConfig) *StateStore {
	return &StateStore{
		accounts:  make(map[Address]*Account),
		multisig:  make(map[Address]MultisigConfig),
		snapshots: make(map[balanceSnapshotKey]uint64),
		prune:     prune,
	}
}

func (s *StateStore) accountLocked(addr Address) *Account {
	a, ok := s.accounts[addr]
	if !ok {
		a = &Account{}
		s.accounts[addr] = a
	}
	return a
}

// Balance returns addr's current balance.
func (s *StateStore) Balance(addr Address) uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if a, ok := s.accounts[addr]; ok {
		return a.Balance
	}
	return 0
}

// Nonce returns addr's current nonce (the value the next transaction from
// this address must declare).
func (s *StateStore) Nonce(addr Address) uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if a, ok := s.accounts[addr]; ok {
		return a.Nonce
	}
	return 0
}

// AddBalance credits amount to addr's balance. Overflow is rejected, not
// wrapped (spec.md §4.4).
func (s *StateStore) AddBalance(addr Address, amount uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a := s.accountLocked(addr)
	if a.Balance > math.MaxUint64-amount {
		return ErrBalanceOverflow
	}
	a.Balance += amount
	return nil
}

// SubBalance debits amount from addr's balance, failing (and leaving state
// unchanged) if the balance would go negative.
func (s *StateStore) SubBalance(addr Address, amount uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a := s.accountLocked(addr)
	if a.Balance < amount {
		return ErrInsufficientBalance
	}
	a.Balance -= amount
	return nil
}

// Transfer atomically debits `from` and credits `to`. Failure at the check
// leaves state unchanged (spec.md §4.4).
func (s *StateStore) Transfer(from, to Address, amount uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	fromAcc := s.accountLocked(from)
	if fromAcc.Balance < amount {
		return ErrInsufficientBalance
	}
	toAcc := s.accountLocked(to)
	if toAcc.Balance > math.MaxUint64-amount {
		return ErrBalanceOverflow
	}
	fromAcc.Balance -= amount
	toAcc.Balance += amount
	return nil
}

// IncrementNonce advances addr's nonce by exactly one, rejecting any attempt
// to skip (spec.md §4.4).
func (s *StateStore) IncrementNonce(addr Address, expected uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a := s.accountLocked(addr)
	if a.Nonce != expected {
		return fmt.Errorf("%w: account nonce %d != expected %d", ErrInvalidNonce, a.Nonce, expected)
	}
	a.Nonce++
	return nil
}

// DecrementNonce reverses a single IncrementNonce, used when reversing a
// block's effects during reorganisation.
func (s *StateStore) DecrementNonce(addr Address) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a := s.accountLocked(addr)
	if a.Nonce == 0 {
		return errors.New("state: cannot decrement nonce below zero")
	}
	a.Nonce--
	return nil
}

// RegisterMultisig records a multisig account's signer set and threshold,
// keyed by the account's derived address.
func (s *StateStore) RegisterMultisig(cfg MultisigConfig) (Address, error) {
	addr, err := cfg.Address()
	if err != nil {
		return Address{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.multisig[addr] = cfg
	return addr, nil
}

// MultisigConfigFor returns the registered multisig configuration for addr,
// if any. The consensus engine consults this to choose between single-
// signature and multisig validation rules (spec.md §4.4).
func (s *StateStore) MultisigConfigFor(addr Address) (MultisigConfig, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cfg, ok := s.multisig[addr]
	return cfg, ok
}

// SnapshotBalance records addr's balance at a given height for later
// historical lookup (spec.md §4.4: balance_history:{height}:{address}).
func (s *StateStore) SnapshotBalance(height uint64, addr Address) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[addr]
	bal := uint64(0)
	if ok {
		bal = a.Balance
	}
	s.snapshots[balanceSnapshotKey{Height: height, Addr: addr}] = bal
}

// HistoricalBalance looks up a previously recorded snapshot.
func (s *StateStore) HistoricalBalance(height uint64, addr Address) (uint64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	bal, ok := s.snapshots[balanceSnapshotKey{Height: height, Addr: addr}]
	return bal, ok
}

// PruneSnapshots deletes snapshots older than tipHeight-KeepLastN in one
// batch, a no-op under PruneArchive (spec.md §4.4).
func (s *StateStore) PruneSnapshots(tipHeight uint64) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.prune.Mode != PruneFull {
		return 0
	}
	if tipHeight <= s.prune.KeepLastN {
		return 0
	}
	cutoff := tipHeight - s.prune.KeepLastN
	removed := 0
	for k := range s.snapshots {
		if k.Height < cutoff {
			delete(s.snapshots, k)
			removed++
		}
	}
	return removed
}

// Addresses returns every address with non-default state, sorted, primarily
// for test assertions (P4/P6 supply/balance invariants).
func (s *StateStore) Addresses() []Address {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Address, 0, len(s.accounts))
	for a := range s.accounts {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Hex() < out[j].Hex() })
	return out
}

// TotalBalance sums every account's balance (P6 issuance identity).
func (s *StateStore) TotalBalance() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var total uint64
	for _, a := range s.accounts {
		total += a.Balance
	}
	return total
}
