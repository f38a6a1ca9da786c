package core

// identity.go — the identity NFT registry: mint, transfer, royalty
// accounting, and append-only provenance (spec.md §4.9). Adapted from
// Synnergy's core/identity_verification.go KYC-document record shape
// (hash-keyed record, issuer-signature verification over a canonical
// message string, zap logging) and from core/storage.go's IPFS CID
// handling (go-cid/multihash for computing CIDs, reused here as
// github.com/mr-tron/base58 for the syntactic validation spec.md §4.9
// requires of attached CIDs).

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/mr-tron/base58"
	"go.uber.org/zap"
)

var (
	ErrInvalidTokenID     = errors.New("identity: token id must be 64 lowercase hex characters")
	ErrDuplicateToken     = errors.New("identity: token id already minted")
	ErrTokenNotFound      = errors.New("identity: token not found")
	ErrInvalidAuthSig     = errors.New("identity: authority signature invalid")
	ErrInvalidRoyalty     = errors.New("identity: royalty percentage must be in [0, 50]")
	ErrInvalidTransferSig = errors.New("identity: transfer signature invalid")
	ErrNotOwner           = errors.New("identity: caller is not the current owner")
	ErrInvalidCID         = errors.New("identity: malformed IPFS CID")
)

// ProvenanceEntry is one append-only step in a token's ownership history
// (spec.md §3: "A transfer records {from, to, optional price, optional
// royalty_paid, timestamp, block_height}").
type ProvenanceEntry struct {
	From        Address `json:"from"`
	To          Address `json:"to"`
	Price       uint64  `json:"price"`
	Royalty     uint64  `json:"royalty"`
	Timestamp   uint64  `json:"timestamp"`
	BlockHeight uint64  `json:"block_height"`
}

// IdentityToken is one minted identity NFT (spec.md §3).
type IdentityToken struct {
	ID             string            `json:"id"`
	TokenType      string            `json:"type"`
	Category       string            `json:"category"`
	Metadata       map[string]string `json:"metadata,omitempty"`
	Owner          Address           `json:"owner"`
	Creator        Address           `json:"creator"`
	RoyaltyPct     uint8             `json:"royalty_pct"`
	CID            string            `json:"cid,omitempty"`
	CreatedAt      uint64            `json:"created_at"`
	MintedAtHeight uint64            `json:"minted_at_height"`
	Provenance     []ProvenanceEntry `json:"provenance"`
}

// IdentityRegistry is the in-memory, mutex-guarded store of minted tokens.
type IdentityRegistry struct {
	mu            sync.RWMutex
	tokens        map[string]*IdentityToken
	authorityKeys []PublicKey
	logger        *zap.SugaredLogger
	now           func() time.Time
}

// NewIdentityRegistry creates an empty registry. authorityKeys are the
// public keys accepted for authority-signed mints.
func NewIdentityRegistry(authorityKeys []PublicKey) *IdentityRegistry {
	return &IdentityRegistry{
		tokens:        make(map[string]*IdentityToken),
		authorityKeys: authorityKeys,
		logger:        zap.L().Sugar().With("component", "identity"),
		now:           time.Now,
	}
}

func isHex64Lower(s string) bool {
	if len(s) != 64 {
		return false
	}
	for _, r := range s {
		if !((r >= '0' && r <= '9') || (r >= 'a' && r <= 'f')) {
			return false
		}
	}
	return true
}

// mintMessage is the canonical message authority signatures are verified
// over (spec.md §4.9).
func mintMessage(id string, owner Address, tokenType string) []byte {
	return []byte(fmt.Sprintf("MINT:%s:%s:%s", id, owner.Hex(), tokenType))
}

// transferMessage is the canonical message transfer signatures are
// verified over (spec.md §4.9).
func transferMessage(id string, newOwner Address) []byte {
	return []byte(fmt.Sprintf("TRANSFER:%s:%s", id, newOwner.Hex()))
}

// ValidateCID performs the minimal syntactic check spec.md §4.9 requires:
// v0 CIDs start with "Qm", are 46 characters, and use base58 without
// 0/O/I/l; v1 CIDs start with "b" and are longer than 10 characters.
func ValidateCID(cid string) error {
	if cid == "" {
		return nil
	}
	switch {
	case len(cid) > 0 && cid[0:1] == "b":
		if len(cid) <= 10 {
			return fmt.Errorf("%w: v1 CID too short", ErrInvalidCID)
		}
		return nil
	case len(cid) == 46 && cid[:2] == "Qm":
		if _, err := base58.Decode(cid); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidCID, err)
		}
		return nil
	default:
		return fmt.Errorf("%w: unrecognised CID form", ErrInvalidCID)
	}
}

// Mint registers a new identity token. id must be a 64-character lowercase
// hex string and not already registered. If authoritySig is non-zero, it
// must verify under one of the registry's authority keys over the
// canonical mint message. mintedAtHeight is the block height the mint is
// confirmed at (spec.md §3's minted_at_height); created_at is stamped from
// the registry's clock.
func (r *IdentityRegistry) Mint(id string, tokenType, category string, metadata map[string]string, owner, creator Address, royaltyPct uint8, cid string, mintedAtHeight uint64, authoritySig Signature) (*IdentityToken, error) {
	if !isHex64Lower(id) {
		return nil, ErrInvalidTokenID
	}
	if royaltyPct > 50 {
		return nil, ErrInvalidRoyalty
	}
	if err := ValidateCID(cid); err != nil {
		return nil, err
	}

	if authoritySig != (Signature{}) {
		msg := mintMessage(id, owner, tokenType)
		verified := false
		for _, key := range r.authorityKeys {
			if Verify(key, msg, authoritySig) {
				verified = true
				break
			}
		}
		if !verified {
			return nil, ErrInvalidAuthSig
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tokens[id]; exists {
		return nil, ErrDuplicateToken
	}
	tok := &IdentityToken{
		ID:             id,
		TokenType:      tokenType,
		Category:       category,
		Metadata:       metadata,
		Owner:          owner,
		Creator:        creator,
		RoyaltyPct:     royaltyPct,
		CID:            cid,
		CreatedAt:      uint64(r.now().Unix()),
		MintedAtHeight: mintedAtHeight,
		Provenance:     nil,
	}
	r.tokens[id] = tok
	r.logger.Infow("token minted", "id", id, "owner", owner.Hex())
	return tok, nil
}

// SplitPayment returns (sellerProceeds, royalty) for a sale of total,
// attributing floor(total*royaltyPct/100) to the creator (spec.md §4.9).
func SplitPayment(total uint64, royaltyPct uint8) (sellerProceeds, royalty uint64) {
	royalty = total * uint64(royaltyPct) / 100
	return total - royalty, royalty
}

// Transfer moves ownership of id to newOwner. sig must verify under the
// current owner's key over the canonical transfer message. If price is
// non-zero and the current owner is not the token's original creator, a
// royalty is computed and recorded in the new provenance entry; free
// transfers (price == 0) record no royalty. blockHeight is the confirming
// block's height, recorded on the provenance entry alongside a timestamp
// from the registry's clock (spec.md §3).
func (r *IdentityRegistry) Transfer(id string, newOwner Address, price uint64, sig Signature, blockHeight uint64) (*IdentityToken, uint64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	tok, ok := r.tokens[id]
	if !ok {
		return nil, 0, ErrTokenNotFound
	}

	msg := transferMessage(id, newOwner)
	if !Verify(tok.Owner, msg, sig) {
		return nil, 0, ErrInvalidTransferSig
	}

	var royalty uint64
	if price > 0 && tok.Owner != tok.Creator {
		_, royalty = SplitPayment(price, tok.RoyaltyPct)
	}

	tok.Provenance = append(tok.Provenance, ProvenanceEntry{
		From:        tok.Owner,
		To:          newOwner,
		Price:       price,
		Royalty:     royalty,
		Timestamp:   uint64(r.now().Unix()),
		BlockHeight: blockHeight,
	})
	tok.Owner = newOwner
	r.logger.Infow("token transferred", "id", id, "to", newOwner.Hex(), "price", price, "royalty", royalty)
	return tok, royalty, nil
}

// Get returns the token registered under id.
func (r *IdentityRegistry) Get(id string) (*IdentityToken, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tokens[id]
	return t, ok
}
