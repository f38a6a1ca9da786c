package core

// consensus.go — network parameters, checkpoint set, ordered block
// validation, and the append/reorg driver. Adapted from Synnergy's
// core/consensus.go constants block (reward halving, adjustment window) and
// core/chain_fork_manager.go's fork-bookkeeping/longest-chain recovery,
// replaced with a cumulative-work comparison instead of the teacher's
// chain-length comparison, and with the teacher's PoH/PoS hybrid scheme
// dropped in favour of plain proof-of-work over a fixed six-field header.

import (
	"bytes"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/sirupsen/logrus"
)

// NetworkParams are the fixed-per-network consensus parameters.
type NetworkParams struct {
	ChainID            string
	TargetBlockTime    time.Duration
	AdjustmentInterval uint64
	MinDifficulty      uint32
	MaxDifficulty      uint32
	GenesisDifficulty  uint32
	BlockRewardInitial uint64
	RewardHalvingEvery uint64
	MaxTimestampDrift  time.Duration
	// Checkpoints is an ordered, compile-time-embedded list of (height,hash)
	// pairs that any valid chain must match.
	Checkpoints []Checkpoint
	// CoinbaseMaturity: see DESIGN.md open-question resolutions.
	CoinbaseMaturity uint64
}

// Checkpoint pins a (height, hash) pair.
type Checkpoint struct {
	Height uint64
	Hash   Hash
}

// MainnetParams and TestnetParams are the two network parameter sets
// embedded at compile time and loaded at node start.
var MainnetParams = NetworkParams{
	ChainID:            "digital-lira-mainnet",
	TargetBlockTime:    10 * time.Minute,
	AdjustmentInterval: 2016,
	MinDifficulty:      MinDifficulty,
	MaxDifficulty:      MaxDifficulty,
	GenesisDifficulty:  20,
	BlockRewardInitial: 50_00000000,
	RewardHalvingEvery: 210_000,
	MaxTimestampDrift:  2 * time.Hour,
	CoinbaseMaturity:   20,
	Checkpoints:        []Checkpoint{},
}

var TestnetParams = NetworkParams{
	ChainID:            "digital-lira-testnet",
	TargetBlockTime:    2 * time.Minute,
	AdjustmentInterval: 2016,
	MinDifficulty:      MinDifficulty,
	MaxDifficulty:      MaxDifficulty,
	GenesisDifficulty:  8,
	BlockRewardInitial: 50_00000000,
	RewardHalvingEvery: 210_000,
	MaxTimestampDrift:  2 * time.Hour,
	CoinbaseMaturity:   20,
	Checkpoints:        []Checkpoint{},
}

// BlockReward returns the block subsidy at a given height, halving every
// RewardHalvingEvery blocks.
func (p NetworkParams) BlockReward(height uint64) uint64 {
	halvings := height / p.RewardHalvingEvery
	if halvings >= 64 {
		return 0
	}
	return p.BlockRewardInitial >> halvings
}

// CheckpointAt returns the checkpoint pinned at height, if any.
func (p NetworkParams) CheckpointAt(height uint64) (Checkpoint, bool) {
	for _, c := range p.Checkpoints {
		if c.Height == height {
			return c, true
		}
	}
	return Checkpoint{}, false
}

var (
	ErrInvalidProofOfWork = errors.New("invalid proof of work")
	ErrInvalidMerkleRoot  = errors.New("invalid merkle root")
	ErrInvalidChain       = errors.New("invalid chain linkage or timestamp")
	ErrCheckpointMismatch = errors.New("checkpoint mismatch")
	ErrCoinbaseInvalid    = errors.New("invalid coinbase")
)

// Consensus ties network parameters to a block store and state store and
// implements validation, append, and reorganisation.
type Consensus struct {
	Params  NetworkParams
	Blocks  *BlockStore
	State   *StateStore
	Now     func() time.Time
	cumWork map[Hash]*big.Int
	log     *logrus.Entry
}

// NewConsensus wires a consensus engine over the given stores and rebuilds
// the state store's balances/nonces from any blocks the block store already
// holds (e.g. recovered from its WAL on node restart — spec.md §3's "account
// state lives with the key forever" and §6's persistent state_layout both
// require this to survive a restart). A freshly created, empty BlockStore
// makes RebuildState a no-op.
func NewConsensus(params NetworkParams, blocks *BlockStore, state *StateStore) (*Consensus, error) {
	c := &Consensus{
		Params:  params,
		Blocks:  blocks,
		State:   state,
		Now:     time.Now,
		cumWork: make(map[Hash]*big.Int),
		log:     logrus.WithField("component", "consensus"),
	}
	if err := c.RebuildState(); err != nil {
		return nil, fmt.Errorf("consensus: rebuild state: %w", err)
	}
	return c, nil
}

// RebuildState replays every block already held by the block store through
// the same state-effect logic Apply uses (without re-appending to the block
// store), recomputing account balances/nonces and cumulative chain work from
// scratch. Called once by NewConsensus; safe to call again on an empty
// store.
func (c *Consensus) RebuildState() error {
	if _, hasTip := c.Blocks.Tip(); !hasTip {
		return nil
	}
	for height := uint64(0); height <= c.Blocks.Height(); height++ {
		b, ok := c.Blocks.BlockByHeight(height)
		if !ok {
			continue
		}
		if err := c.applyStateEffects(b); err != nil {
			return fmt.Errorf("height %d: %w", height, err)
		}
		c.recordWork(b, height)
	}
	c.log.WithField("height", c.Blocks.Height()).Info("state rebuilt from block store")
	return nil
}

// workForDifficulty approximates chain work for a block at the given
// difficulty as 2^difficulty (more leading-zero-bits required means
// exponentially more expected work), monotonic in difficulty and sufficient
// for cumulative-work comparisons during reorganisation.
func workForDifficulty(difficulty uint32) *big.Int {
	return new(big.Int).Lsh(big.NewInt(1), uint(difficulty))
}

// Validate runs the ordered consensus checks, short-circuiting on the first
// failure. height is the height the block would occupy if accepted.
func (c *Consensus) Validate(b *Block, height uint64) error {
	isGenesis := height == 0

	// 1. PoW, unless genesis.
	if !isGenesis && !b.MeetsDifficulty() {
		return ErrInvalidProofOfWork
	}

	// 2. Signatures (coinbase exempt).
	if err := b.VerifyTransactions(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	// 3. Merkle root.
	if !b.VerifyMerkleRoot() {
		return ErrInvalidMerkleRoot
	}

	// 4. Linkage: previous_hash equals current tip (or zero at height 0).
	tip, hasTip := c.Blocks.Tip()
	if isGenesis {
		if !bytes.Equal(b.Header.PreviousHash[:], make([]byte, 32)) {
			return fmt.Errorf("%w: genesis previous_hash must be zero", ErrInvalidChain)
		}
	} else {
		if !hasTip || b.Header.PreviousHash != tip {
			return fmt.Errorf("%w: previous_hash does not match chain tip", ErrInvalidChain)
		}
	}

	// 5. Timestamp bounds.
	if !isGenesis {
		prev, ok := c.Blocks.BlockByHeight(height - 1)
		if ok && b.Header.Timestamp < prev.Header.Timestamp {
			return fmt.Errorf("%w: timestamp older than previous block", ErrInvalidChain)
		}
	}
	maxAllowed := uint64(c.Now().Add(c.Params.MaxTimestampDrift).Unix())
	if b.Header.Timestamp > maxAllowed {
		return fmt.Errorf("%w: timestamp too far in the future", ErrInvalidChain)
	}

	// 6 & 7: nonce/balance checks and coinbase accounting.
	if err := c.validateTransactionsAgainstState(b, height); err != nil {
		return err
	}

	// 8. Checkpoint pinning.
	if cp, ok := c.Params.CheckpointAt(height); ok {
		if b.Hash() != cp.Hash {
			return ErrCheckpointMismatch
		}
	}

	return nil
}

func (c *Consensus) validateTransactionsAgainstState(b *Block, height uint64) error {
	if len(b.Transactions) == 0 {
		return nil
	}
	var totalFees uint64
	seenNonce := make(map[Address]uint64)
	for i, tx := range b.Transactions {
		if i == 0 {
			continue // coinbase checked below
		}
		if tx.IsCoinbase() {
			return fmt.Errorf("%w: coinbase transaction not in first position", ErrCoinbaseInvalid)
		}
		expected, seen := seenNonce[tx.From]
		if !seen {
			expected = c.State.Nonce(tx.From)
		}
		if tx.Nonce != expected {
			return fmt.Errorf("%w: sender %s expected nonce %d, got %d", ErrInvalidNonce, tx.From.Short(), expected, tx.Nonce)
		}
		seenNonce[tx.From] = expected + 1

		bal := c.State.Balance(tx.From)
		if bal < tx.Amount+tx.Fee {
			return fmt.Errorf("%w: sender %s", ErrInsufficientBalance, tx.From.Short())
		}
		totalFees += tx.Fee
	}

	first := b.Transactions[0]
	if first.IsCoinbase() {
		reward := c.Params.BlockReward(height)
		if err := VerifyCoinbase(first, height, reward, totalFees); err != nil {
			return fmt.Errorf("%w: %v", ErrCoinbaseInvalid, err)
		}
	} else if height > 0 {
		return fmt.Errorf("%w: non-genesis block missing coinbase", ErrCoinbaseInvalid)
	}
	return nil
}

// Apply commits an already-Validate'd block's effects to the block store and
// state store: debit every sender, credit every recipient, credit the
// coinbase, and increment every sender's nonce. If the block-store write
// fails, no state mutation is applied.
func (c *Consensus) Apply(b *Block, height uint64) error {
	if err := c.Blocks.Append(b); err != nil {
		return fmt.Errorf("consensus: apply block store: %w", err)
	}
	if err := c.applyStateEffects(b); err != nil {
		return err
	}
	c.recordWork(b, height)
	c.log.WithFields(logrus.Fields{"height": height, "hash": b.Hash().Short()}).Info("block applied")
	return nil
}

// applyStateEffects mutates the state store for a single block's
// transactions (debit senders, credit recipients, credit coinbase, increment
// nonces) without touching the block store. Shared by Apply (fresh import)
// and RebuildState (replay of already-stored blocks on startup).
func (c *Consensus) applyStateEffects(b *Block) error {
	for _, tx := range b.Transactions {
		if tx.IsCoinbase() {
			if err := c.State.AddBalance(tx.To, tx.Amount); err != nil {
				return fmt.Errorf("consensus: credit coinbase: %w", err)
			}
			continue
		}
		if err := c.State.Transfer(tx.From, tx.To, tx.Amount); err != nil {
			return fmt.Errorf("consensus: transfer: %w", err)
		}
		if err := c.State.SubBalance(tx.From, tx.Fee); err != nil {
			return fmt.Errorf("consensus: fee debit: %w", err)
		}
		if err := c.State.IncrementNonce(tx.From, tx.Nonce); err != nil {
			return fmt.Errorf("consensus: nonce: %w", err)
		}
	}
	return nil
}

// recordWork folds height's block into the cumulative-work ledger used by
// Reorganize's greater-work comparison.
func (c *Consensus) recordWork(b *Block, height uint64) {
	h := b.Hash()
	c.cumWork[h] = new(big.Int).Add(c.cumulativeWorkAt(height), workForDifficulty(b.Header.Difficulty))
}

func (c *Consensus) cumulativeWorkAt(height uint64) *big.Int {
	if height == 0 {
		return big.NewInt(0)
	}
	prev, ok := c.Blocks.BlockByHeight(height - 1)
	if !ok {
		return big.NewInt(0)
	}
	if w, ok := c.cumWork[prev.Hash()]; ok {
		return new(big.Int).Set(w)
	}
	return big.NewInt(0)
}

// CumulativeWork returns the total proof-of-work committed to the chain
// ending at tipHash, or nil if unknown.
func (c *Consensus) CumulativeWork(tipHash Hash) *big.Int {
	if w, ok := c.cumWork[tipHash]; ok {
		return new(big.Int).Set(w)
	}
	return nil
}

// ValidateAndApply is the single entry point the node orchestrator's import
// pipeline calls: it validates then applies a candidate block at the
// store's current height+1 (or 0 for an empty store).
func (c *Consensus) ValidateAndApply(b *Block) error {
	height := uint64(0)
	if _, hasTip := c.Blocks.Tip(); hasTip {
		height = c.Blocks.Height() + 1
	}
	if err := c.Validate(b, height); err != nil {
		return err
	}
	return c.Apply(b, height)
}

// Reorganize replaces the canonical chain's suffix above forkHeight with
// newBlocks iff their cumulative work strictly exceeds the canonical
// cumulative work at the current tip. On acceptance it reverts the block
// store, reverses the state effects of every reverted block (in reverse
// order), then replays newBlocks forward through the normal Validate+Apply
// path. On equal cumulative work the existing chain is kept (first-seen
// wins — see DESIGN.md).
func (c *Consensus) Reorganize(forkHeight uint64, newBlocks []*Block, newChainWork *big.Int) ([]*Transaction, error) {
	currentTip, hasTip := c.Blocks.Tip()
	var currentWork *big.Int
	if hasTip {
		currentWork = c.CumulativeWork(currentTip)
	}
	if currentWork == nil {
		currentWork = big.NewInt(0)
	}
	if newChainWork.Cmp(currentWork) <= 0 {
		return nil, fmt.Errorf("consensus: candidate chain work %s does not exceed canonical work %s", newChainWork, currentWork)
	}

	reverted, err := c.Blocks.RevertTo(forkHeight)
	if err != nil {
		return nil, fmt.Errorf("consensus: reorg revert: %w", err)
	}

	// Reverse state effects of reverted blocks, most recent first.
	var displaced []*Transaction
	for i := len(reverted) - 1; i >= 0; i-- {
		blk := reverted[i]
		for j := len(blk.Transactions) - 1; j >= 0; j-- {
			tx := blk.Transactions[j]
			if tx.IsCoinbase() {
				if err := c.State.SubBalance(tx.To, tx.Amount); err != nil {
					return nil, fmt.Errorf("consensus: reverse coinbase: %w", err)
				}
				continue
			}
			if err := c.State.Transfer(tx.To, tx.From, tx.Amount); err != nil {
				return nil, fmt.Errorf("consensus: reverse transfer: %w", err)
			}
			if err := c.State.AddBalance(tx.From, tx.Fee); err != nil {
				return nil, fmt.Errorf("consensus: reverse fee: %w", err)
			}
			if err := c.State.DecrementNonce(tx.From); err != nil {
				return nil, fmt.Errorf("consensus: reverse nonce: %w", err)
			}
			displaced = append(displaced, tx)
		}
	}

	for i, nb := range newBlocks {
		height := forkHeight + 1 + uint64(i)
		if err := c.Validate(nb, height); err != nil {
			return displaced, fmt.Errorf("consensus: reorg validate new block %d: %w", i, err)
		}
		if err := c.Apply(nb, height); err != nil {
			return displaced, fmt.Errorf("consensus: reorg apply new block %d: %w", i, err)
		}
	}

	c.log.WithFields(logrus.Fields{"fork_height": forkHeight, "new_tip_height": c.Blocks.Height()}).Warn("chain reorganized")
	return displaced, nil
}
