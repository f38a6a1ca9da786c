package core

import "testing"

func TestValidateCID(t *testing.T) {
	if err := ValidateCID(""); err != nil {
		t.Fatalf("empty CID should be valid (not attached), got %v", err)
	}
	v0 := "QmWATWQ7fVPP2EFGu71UkfnqhYXDYH566qy47CnJDgvsRN"
	if err := ValidateCID(v0); err != nil {
		t.Fatalf("expected valid v0 CID, got %v", err)
	}
	v1 := "bafybeigdyrzt5sfp7udm7hu76uh7y26nf3efuylqabf3oclgtqy55fbzdi"
	if err := ValidateCID(v1); err != nil {
		t.Fatalf("expected valid v1 CID, got %v", err)
	}
	bad := []string{"Qm" + "short", "not-a-cid-at-all", "b1234"}
	for _, cid := range bad {
		if err := ValidateCID(cid); err == nil {
			t.Fatalf("expected %q to be rejected", cid)
		}
	}
}

func TestIdentityMintAndDuplicate(t *testing.T) {
	reg := NewIdentityRegistry(nil)
	owner, err := GenerateKeypair()
	if err != nil {
		t.Fatalf("GenerateKeypair: %v", err)
	}
	id := "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"[:64]

	tok, err := reg.Mint(id, "citizen", "", nil, owner.Public, owner.Public, 10, "", 1, Signature{})
	if err != nil {
		t.Fatalf("Mint: %v", err)
	}
	if tok.Owner != owner.Public {
		t.Fatalf("owner mismatch")
	}

	if _, err := reg.Mint(id, "citizen", "", nil, owner.Public, owner.Public, 10, "", 1, Signature{}); err != ErrDuplicateToken {
		t.Fatalf("expected ErrDuplicateToken, got %v", err)
	}
}

func TestIdentityMintRecordsCategoryMetadataAndHeight(t *testing.T) {
	reg := NewIdentityRegistry(nil)
	owner, _ := GenerateKeypair()
	id := "bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"[:64]

	tok, err := reg.Mint(id, "citizen", "founding", map[string]string{"name": "Amira"}, owner.Public, owner.Public, 10, "", 42, Signature{})
	if err != nil {
		t.Fatalf("Mint: %v", err)
	}
	if tok.Category != "founding" {
		t.Fatalf("expected category %q, got %q", "founding", tok.Category)
	}
	if tok.Metadata["name"] != "Amira" {
		t.Fatalf("expected metadata to carry through, got %v", tok.Metadata)
	}
	if tok.MintedAtHeight != 42 {
		t.Fatalf("expected minted_at_height 42, got %d", tok.MintedAtHeight)
	}
	if tok.CreatedAt == 0 {
		t.Fatalf("expected a non-zero created_at timestamp")
	}
}

func TestIdentityMintRejectsBadRoyalty(t *testing.T) {
	reg := NewIdentityRegistry(nil)
	owner, _ := GenerateKeypair()
	id := "cccccccccccccccccccccccccccccccccccccccccccccccccccccccccccccccc"
	if _, err := reg.Mint(id, "citizen", "", nil, owner.Public, owner.Public, 51, "", 1, Signature{}); err != ErrInvalidRoyalty {
		t.Fatalf("expected ErrInvalidRoyalty, got %v", err)
	}
}

func TestIdentityMintRequiresValidAuthoritySig(t *testing.T) {
	authority, _ := GenerateKeypair()
	reg := NewIdentityRegistry([]PublicKey{authority.Public})
	owner, _ := GenerateKeypair()
	id := "eeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeee"[:64]

	var garbage Signature
	garbage[0] = 1
	if _, err := reg.Mint(id, "citizen", "", nil, owner.Public, owner.Public, 0, "", 1, garbage); err != ErrInvalidAuthSig {
		t.Fatalf("expected ErrInvalidAuthSig, got %v", err)
	}

	msg := mintMessage(id, owner.Public, "citizen")
	sig, err := Sign(authority.Private, msg)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if _, err := reg.Mint(id, "citizen", "", nil, owner.Public, owner.Public, 0, "", 1, sig); err != nil {
		t.Fatalf("expected valid authority signature to mint, got %v", err)
	}
}

func TestSplitPayment(t *testing.T) {
	seller, royalty := SplitPayment(1000, 10)
	if royalty != 100 || seller != 900 {
		t.Fatalf("expected 900/100 split, got %d/%d", seller, royalty)
	}
	seller, royalty = SplitPayment(7, 50)
	if royalty != 3 || seller != 4 {
		t.Fatalf("expected floor division 4/3, got %d/%d", seller, royalty)
	}
}

func TestIdentityTransferAppendsProvenanceAndRoyalty(t *testing.T) {
	reg := NewIdentityRegistry(nil)
	creator, _ := GenerateKeypair()
	buyer, _ := GenerateKeypair()
	id := "1111111111111111111111111111111111111111111111111111111111111111"[:64]

	tok, err := reg.Mint(id, "citizen", "", nil, creator.Public, creator.Public, 20, "", 1, Signature{})
	if err != nil {
		t.Fatalf("Mint: %v", err)
	}

	sig, err := Sign(creator.Private, transferMessage(id, buyer.Public))
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	updated, royalty, err := reg.Transfer(id, buyer.Public, 1000, sig, 1)
	if err != nil {
		t.Fatalf("Transfer: %v", err)
	}
	if updated.Owner != buyer.Public {
		t.Fatalf("expected new owner to be buyer")
	}
	if royalty != 0 {
		t.Fatalf("expected no royalty on a sale by the original creator, got %d", royalty)
	}
	if len(updated.Provenance) != 1 {
		t.Fatalf("expected 1 provenance entry, got %d", len(updated.Provenance))
	}
	entry := updated.Provenance[0]
	if entry.BlockHeight != 1 {
		t.Fatalf("expected provenance block_height 1, got %d", entry.BlockHeight)
	}
	if entry.Timestamp == 0 {
		t.Fatalf("expected a non-zero provenance timestamp")
	}

	newBuyer, _ := GenerateKeypair()
	sig2, err := Sign(buyer.Private, transferMessage(id, newBuyer.Public))
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	updated2, royalty2, err := reg.Transfer(id, newBuyer.Public, 1000, sig2, 1)
	if err != nil {
		t.Fatalf("Transfer: %v", err)
	}
	if royalty2 != 200 {
		t.Fatalf("expected 20%% royalty (200) on a resale, got %d", royalty2)
	}
	if len(updated2.Provenance) != 2 {
		t.Fatalf("expected 2 provenance entries, got %d", len(updated2.Provenance))
	}
	_ = tok
}

func TestIdentityTransferRejectsBadSignature(t *testing.T) {
	reg := NewIdentityRegistry(nil)
	creator, _ := GenerateKeypair()
	buyer, _ := GenerateKeypair()
	id := "2222222222222222222222222222222222222222222222222222222222222222"[:64]
	if _, err := reg.Mint(id, "citizen", "", nil, creator.Public, creator.Public, 0, "", 1, Signature{}); err != nil {
		t.Fatalf("Mint: %v", err)
	}
	var badSig Signature
	if _, _, err := reg.Transfer(id, buyer.Public, 100, badSig, 1); err != ErrInvalidTransferSig {
		t.Fatalf("expected ErrInvalidTransferSig, got %v", err)
	}
}

func TestIdentityTransferUnknownToken(t *testing.T) {
	reg := NewIdentityRegistry(nil)
	buyer, _ := GenerateKeypair()
	var sig Signature
	if _, _, err := reg.Transfer("deadbeef", buyer.Public, 0, sig, 1); err != ErrTokenNotFound {
		t.Fatalf("expected ErrTokenNotFound, got %v", err)
	}
}
