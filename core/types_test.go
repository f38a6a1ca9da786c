package core

import "testing"

func TestAddressIsZero(t *testing.T) {
	if !ZeroAddress.IsZero() {
		t.Fatalf("expected ZeroAddress to report IsZero")
	}
	kp, _ := GenerateKeypair()
	if kp.Public.IsZero() {
		t.Fatalf("expected a generated public key to not be the zero address")
	}
}

func TestAddressShortFormat(t *testing.T) {
	kp, _ := GenerateKeypair()
	short := kp.Public.Short()
	full := kp.Public.Hex()
	if len(short) >= len(full) {
		t.Fatalf("expected Short() to be shorter than Hex(), got %q vs %q", short, full)
	}
}

func TestHashLessTotalOrder(t *testing.T) {
	a := Hash{0x01}
	b := Hash{0x02}
	if !a.Less(b) {
		t.Fatalf("expected a < b")
	}
	if b.Less(a) == a.Less(b) {
		t.Fatalf("expected Less to be asymmetric for distinct hashes")
	}
	if a.Less(a) {
		t.Fatalf("expected Less to be irreflexive")
	}
}

func TestHashFromHexRoundTrip(t *testing.T) {
	h := SHA256([]byte("round trip"))
	got, err := HashFromHex(h.Hex())
	if err != nil {
		t.Fatalf("HashFromHex: %v", err)
	}
	if got != h {
		t.Fatalf("expected round-tripped hash to match original")
	}
}

func TestHashFromHexRejectsWrongLength(t *testing.T) {
	if _, err := HashFromHex("deadbeef"); err == nil {
		t.Fatalf("expected a short hex string to be rejected")
	}
}

func TestHashFromHexRejectsInvalidHex(t *testing.T) {
	bad := ""
	for i := 0; i < 64; i++ {
		bad += "z"
	}
	if _, err := HashFromHex(bad); err == nil {
		t.Fatalf("expected non-hex characters to be rejected")
	}
}
