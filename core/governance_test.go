package core

import (
	"path/filepath"
	"testing"
)

func newTestGovernance(t *testing.T) (*GovernanceEngine, *StateStore, Address) {
	t.Helper()
	state := NewStateStore(PruneConfig{Mode: PruneArchive})
	kp, err := GenerateKeypair()
	if err != nil {
		t.Fatalf("GenerateKeypair: %v", err)
	}
	if err := state.AddBalance(kp.Public, 1000); err != nil {
		t.Fatalf("AddBalance: %v", err)
	}
	path := filepath.Join(t.TempDir(), "governance.json")
	g, err := NewGovernanceEngine(path, state, GovernanceConfig{MinProposalStake: 100})
	if err != nil {
		t.Fatalf("NewGovernanceEngine: %v", err)
	}
	return g, state, kp.Public
}

func TestGovernanceCreateProposalRequiresStake(t *testing.T) {
	g, state, _ := newTestGovernance(t)
	poor, _ := GenerateKeypair()
	_ = state
	_, err := g.CreateProposal(poor.Public, ProposalText, "title", "a description long enough", ParamChange{}, 0, 1000, 100)
	if err != ErrInsufficientStake {
		t.Fatalf("expected ErrInsufficientStake, got %v", err)
	}
}

func TestGovernanceCreateProposalValidatesParams(t *testing.T) {
	g, _, proposer := newTestGovernance(t)
	_, err := g.CreateProposal(proposer, ProposalMinimumFee, "fee change", "a description long enough", ParamChange{TxFee: 0}, 0, 1000, 100)
	if err == nil {
		t.Fatalf("expected validation failure for zero tx fee")
	}
	_, err = g.CreateProposal(proposer, ProposalMinimumFee, "fee change", "a description long enough", ParamChange{TxFee: 50}, 0, 1000, 100)
	if err != nil {
		t.Fatalf("expected valid fee change to be accepted, got %v", err)
	}
}

func TestGovernanceTreasurySpendingRequiresLongDescription(t *testing.T) {
	g, _, proposer := newTestGovernance(t)
	_, err := g.CreateProposal(proposer, ProposalTreasurySpending, "spend", "too short", ParamChange{TreasuryAmount: 100}, 0, 1000, 100)
	if err == nil {
		t.Fatalf("expected short description to be rejected for treasury spending")
	}
	longDesc := "this description is long enough to satisfy the fifty character minimum length bound"
	_, err = g.CreateProposal(proposer, ProposalTreasurySpending, "spend", longDesc, ParamChange{TreasuryAmount: 100}, 0, 1000, 100)
	if err != nil {
		t.Fatalf("expected valid treasury proposal to be accepted, got %v", err)
	}
}

func TestGovernanceVoteWindowAndDuplicateVote(t *testing.T) {
	g, state, proposer := newTestGovernance(t)
	p, err := g.CreateProposal(proposer, ProposalText, "title", "a description long enough", ParamChange{}, 0, 1000, 100)
	if err != nil {
		t.Fatalf("CreateProposal: %v", err)
	}
	_ = state

	if err := g.Vote(p.ID, proposer, VoteYes, 0); err != nil {
		t.Fatalf("Vote: %v", err)
	}
	if err := g.Vote(p.ID, proposer, VoteYes, 1); err != ErrAlreadyVoted {
		t.Fatalf("expected ErrAlreadyVoted, got %v", err)
	}
	if err := g.Vote(p.ID, proposer, VoteYes, p.VotingEnd); err != ErrVotingClosed {
		t.Fatalf("expected ErrVotingClosed at VotingEnd, got %v", err)
	}
}

func TestGovernanceFinalizePassesWithQuorum(t *testing.T) {
	g, state, proposer := newTestGovernance(t)
	voter2, _ := GenerateKeypair()
	if err := state.AddBalance(voter2.Public, 4000); err != nil {
		t.Fatalf("AddBalance: %v", err)
	}

	p, err := g.CreateProposal(proposer, ProposalText, "title", "a description long enough", ParamChange{}, 0, 100, 10)
	if err != nil {
		t.Fatalf("CreateProposal: %v", err)
	}
	if err := g.Vote(p.ID, proposer, VoteYes, 0); err != nil {
		t.Fatalf("Vote: %v", err)
	}
	if err := g.Vote(p.ID, voter2.Public, VoteYes, 0); err != nil {
		t.Fatalf("Vote: %v", err)
	}

	finalized := g.Finalize(p.VotingEnd)
	if len(finalized) != 1 {
		t.Fatalf("expected 1 finalized proposal, got %d", len(finalized))
	}
	got, _ := g.Get(p.ID)
	if got.Status != StatusPassed {
		t.Fatalf("expected proposal to pass, got status %s", got.Status)
	}
}

func TestGovernanceAbstainCountsTowardQuorumNotYesShare(t *testing.T) {
	g, state, proposer := newTestGovernance(t)
	abstainer, _ := GenerateKeypair()
	if err := state.AddBalance(abstainer.Public, 4000); err != nil {
		t.Fatalf("AddBalance: %v", err)
	}

	// proposer holds 1000, abstainer holds 4000: total voting power 5000.
	// ProposalText needs 20% quorum / 50% yes-share.
	p, err := g.CreateProposal(proposer, ProposalText, "title", "a description long enough", ParamChange{}, 0, 100, 10)
	if err != nil {
		t.Fatalf("CreateProposal: %v", err)
	}
	if err := g.Vote(p.ID, proposer, VoteYes, 0); err != nil {
		t.Fatalf("Vote: %v", err)
	}
	if err := g.Vote(p.ID, abstainer.Public, VoteAbstain, 0); err != nil {
		t.Fatalf("Vote: %v", err)
	}

	got, _ := g.Get(p.ID)
	if got.AbstainPower != 4000 {
		t.Fatalf("expected abstain power 4000, got %d", got.AbstainPower)
	}

	g.Finalize(p.VotingEnd)
	got, _ = g.Get(p.ID)
	// Participation (yes+no+abstain)/total = 5000/5000 = 100% >= 20% quorum.
	// Yes-share excludes the abstain: yes/(yes+no) = 1000/1000 = 100% >= 50%.
	if got.Status != StatusPassed {
		t.Fatalf("expected proposal to pass with abstain counted toward quorum only, got %s", got.Status)
	}
}

func TestGovernanceFinalizeRejectsWithoutQuorum(t *testing.T) {
	g, state, proposer := newTestGovernance(t)
	other, _ := GenerateKeypair()
	if err := state.AddBalance(other.Public, 100000); err != nil {
		t.Fatalf("AddBalance: %v", err)
	}

	p, err := g.CreateProposal(proposer, ProposalText, "title", "a description long enough", ParamChange{}, 0, 100, 10)
	if err != nil {
		t.Fatalf("CreateProposal: %v", err)
	}
	if err := g.Vote(p.ID, proposer, VoteYes, 0); err != nil {
		t.Fatalf("Vote: %v", err)
	}

	g.Finalize(p.VotingEnd)
	got, _ := g.Get(p.ID)
	if got.Status != StatusRejected {
		t.Fatalf("expected proposal to be rejected for lack of quorum, got %s", got.Status)
	}
}

func TestGovernanceExecuteAppliesAfterDelay(t *testing.T) {
	g, _, proposer := newTestGovernance(t)
	p, err := g.CreateProposal(proposer, ProposalText, "title", "a description long enough", ParamChange{}, 0, 100, 10)
	if err != nil {
		t.Fatalf("CreateProposal: %v", err)
	}
	if err := g.Vote(p.ID, proposer, VoteYes, 0); err != nil {
		t.Fatalf("Vote: %v", err)
	}
	g.Finalize(p.VotingEnd)

	applied := false
	executed, err := g.Execute(p.VotingEnd, func(*Proposal) error { applied = true; return nil })
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if len(executed) != 0 || applied {
		t.Fatalf("expected no execution before the delay elapses")
	}

	executed, err = g.Execute(p.VotingEnd+p.ExecutionDelay, func(*Proposal) error { applied = true; return nil })
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if len(executed) != 1 || !applied {
		t.Fatalf("expected execution once the delay elapses")
	}
	got, _ := g.Get(p.ID)
	if got.Status != StatusExecuted {
		t.Fatalf("expected Executed status, got %s", got.Status)
	}
}

func TestGovernanceCancelOnlyByProposer(t *testing.T) {
	g, _, proposer := newTestGovernance(t)
	other, _ := GenerateKeypair()
	p, err := g.CreateProposal(proposer, ProposalText, "title", "a description long enough", ParamChange{}, 0, 1000, 100)
	if err != nil {
		t.Fatalf("CreateProposal: %v", err)
	}
	if err := g.Cancel(p.ID, other.Public); err != ErrNotProposer {
		t.Fatalf("expected ErrNotProposer, got %v", err)
	}
	if err := g.Cancel(p.ID, proposer); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	got, _ := g.Get(p.ID)
	if got.Status != StatusCancelled {
		t.Fatalf("expected Cancelled status, got %s", got.Status)
	}
}

func TestGovernancePersistsAcrossReload(t *testing.T) {
	g, state, proposer := newTestGovernance(t)
	p, err := g.CreateProposal(proposer, ProposalText, "title", "a description long enough", ParamChange{}, 0, 1000, 100)
	if err != nil {
		t.Fatalf("CreateProposal: %v", err)
	}

	reloaded, err := NewGovernanceEngine(g.path, state, g.cfg)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	got, ok := reloaded.Get(p.ID)
	if !ok {
		t.Fatalf("expected proposal %d to survive reload", p.ID)
	}
	if got.Title != p.Title {
		t.Fatalf("title mismatch after reload")
	}
}
