package core

import (
	"testing"
	"time"
)

func orphanTx(t *testing.T, nonce uint64) *Transaction {
	t.Helper()
	kp, err := GenerateKeypair()
	if err != nil {
		t.Fatalf("GenerateKeypair: %v", err)
	}
	to, _ := GenerateKeypair()
	tx := &Transaction{To: to.Public, Amount: 1, Fee: 1, Nonce: nonce}
	if err := tx.Sign(kp.Private); err != nil {
		t.Fatalf("Sign: %v", err)
	}
	return tx
}

func TestOrphanPoolAddAndPromote(t *testing.T) {
	p := NewOrphanPool()
	parentHash := SHA256([]byte("parent"))
	child := orphanTx(t, 0)
	p.Add(parentHash, child)

	if p.Len() != 1 {
		t.Fatalf("expected 1 orphan, got %d", p.Len())
	}
	promoted := p.Promote(parentHash)
	if len(promoted) != 1 || promoted[0].Hash() != child.Hash() {
		t.Fatalf("expected the parked child back, got %+v", promoted)
	}
	if p.Len() != 0 {
		t.Fatalf("expected pool empty after promotion, got %d", p.Len())
	}
}

func TestOrphanPoolPromoteIsRecursive(t *testing.T) {
	p := NewOrphanPool()
	grandparentHash := SHA256([]byte("grandparent"))
	parent := orphanTx(t, 0)
	child := orphanTx(t, 1)

	p.Add(grandparentHash, parent)
	p.Add(parent.Hash(), child)

	promoted := p.Promote(grandparentHash)
	if len(promoted) != 2 {
		t.Fatalf("expected both parent and child promoted transitively, got %d", len(promoted))
	}
	if p.Len() != 0 {
		t.Fatalf("expected pool fully drained, got %d", p.Len())
	}
}

func TestOrphanPoolPromoteUnknownParentIsNoop(t *testing.T) {
	p := NewOrphanPool()
	out := p.Promote(SHA256([]byte("nobody-waiting")))
	if len(out) != 0 {
		t.Fatalf("expected no promotions for an unknown parent, got %d", len(out))
	}
}

func TestOrphanPoolEvictExpired(t *testing.T) {
	p := NewOrphanPool()
	parentHash := SHA256([]byte("parent"))
	p.Add(parentHash, orphanTx(t, 0))

	removed := p.EvictExpired(time.Now().Add(orphanPoolTTL + time.Minute))
	if removed != 1 {
		t.Fatalf("expected 1 expired orphan removed, got %d", removed)
	}
	if p.Len() != 0 {
		t.Fatalf("expected pool empty after eviction, got %d", p.Len())
	}
}

func TestOrphanPoolMultipleChildrenSameParent(t *testing.T) {
	p := NewOrphanPool()
	parentHash := SHA256([]byte("shared-parent"))
	p.Add(parentHash, orphanTx(t, 0))
	p.Add(parentHash, orphanTx(t, 1))

	if p.Len() != 2 {
		t.Fatalf("expected 2 orphans waiting on the same parent, got %d", p.Len())
	}
	promoted := p.Promote(parentHash)
	if len(promoted) != 2 {
		t.Fatalf("expected both children promoted together, got %d", len(promoted))
	}
}
