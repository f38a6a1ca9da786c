package core

import "testing"

func TestListenPort(t *testing.T) {
	port, err := ListenPort("/ip4/0.0.0.0/tcp/30303")
	if err != nil {
		t.Fatalf("ListenPort: %v", err)
	}
	if port != 30303 {
		t.Fatalf("expected port 30303, got %d", port)
	}
}

func TestListenPortDNSAddr(t *testing.T) {
	port, err := ListenPort("/dns4/seed1.digitallira.net/tcp/30303")
	if err != nil {
		t.Fatalf("ListenPort: %v", err)
	}
	if port != 30303 {
		t.Fatalf("expected port 30303, got %d", port)
	}
}

func TestListenPortMissingTCP(t *testing.T) {
	if _, err := ListenPort("/ip4/0.0.0.0/udp/30303"); err == nil {
		t.Fatalf("expected an error for a multiaddr with no tcp segment")
	}
}
