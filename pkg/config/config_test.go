package config

import (
	"testing"

	"github.com/spf13/viper"

	"github.com/opensyria/lira/internal/testutil"
)

func validConfig() *Config {
	return &Config{
		DataDir: "/var/lib/lira",
		Network: NetworkConfig{Port: 30303, BootstrapNodes: []string{"/ip4/203.0.113.1/tcp/30303"}, MaxPeers: 50},
		Mining:  MiningConfig{Difficulty: 20, Threads: 4, MiningAddress: ""},
		Daemon:  DaemonConfig{AutoMine: false},
	}
}

func TestValidateAcceptsWellFormedConfig(t *testing.T) {
	if err := Validate(validConfig()); err != nil {
		t.Fatalf("expected a well-formed config to validate, got %v", err)
	}
}

func TestValidateRejectsEmptyDataDir(t *testing.T) {
	c := validConfig()
	c.DataDir = "   "
	if err := Validate(c); err == nil {
		t.Fatalf("expected an empty data_dir to be rejected")
	}
}

func TestValidateRejectsZeroPort(t *testing.T) {
	c := validConfig()
	c.Network.Port = 0
	if err := Validate(c); err == nil {
		t.Fatalf("expected a zero network port to be rejected")
	}
}

func TestValidateRejectsMalformedBootstrapMultiaddr(t *testing.T) {
	c := validConfig()
	c.Network.BootstrapNodes = []string{"not-a-multiaddr"}
	if err := Validate(c); err == nil {
		t.Fatalf("expected a malformed bootstrap multiaddr to be rejected")
	}
}

func TestValidateRejectsDifficultyOutOfRange(t *testing.T) {
	c := validConfig()
	c.Mining.Difficulty = 0
	if err := Validate(c); err == nil {
		t.Fatalf("expected difficulty 0 to be rejected")
	}
	c.Mining.Difficulty = 256
	if err := Validate(c); err == nil {
		t.Fatalf("expected difficulty 256 to be rejected")
	}
}

func TestValidateRejectsZeroThreads(t *testing.T) {
	c := validConfig()
	c.Mining.Threads = 0
	if err := Validate(c); err == nil {
		t.Fatalf("expected zero mining threads to be rejected")
	}
}

func TestValidateRejectsShortMiningAddress(t *testing.T) {
	c := validConfig()
	c.Mining.MiningAddress = "deadbeef"
	if err := Validate(c); err == nil {
		t.Fatalf("expected a non-64-hex mining address to be rejected")
	}
}

const sampleConfigTOML = `
data_dir = "/var/lib/lira"

[network]
port = 30303
bootstrap_nodes = ["/ip4/203.0.113.1/tcp/30303"]
max_peers = 50

[mining]
difficulty = 20
threads = 4
mining_address = ""

[daemon]
auto_mine = true
log_file = "lira.log"
log_max_size_mb = 100
log_backups = 3
`

func TestLoadReadsConfigFileFromSandbox(t *testing.T) {
	sb, err := testutil.NewSandbox()
	if err != nil {
		t.Fatalf("NewSandbox: %v", err)
	}
	defer sb.Cleanup()

	if err := sb.WriteFile("config.toml", []byte(sampleConfigTOML), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	viper.Reset()
	cfg, err := Load(sb.Root)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.DataDir != "/var/lib/lira" {
		t.Fatalf("expected data_dir to be read from the sandbox config file, got %q", cfg.DataDir)
	}
	if cfg.Network.Port != 30303 {
		t.Fatalf("expected network.port 30303, got %d", cfg.Network.Port)
	}
	if cfg.Mining.Difficulty != 20 {
		t.Fatalf("expected mining.difficulty 20, got %d", cfg.Mining.Difficulty)
	}
	if !cfg.Daemon.AutoMine {
		t.Fatalf("expected daemon.auto_mine true")
	}
}

func TestLoadRejectsInvalidConfig(t *testing.T) {
	sb, err := testutil.NewSandbox()
	if err != nil {
		t.Fatalf("NewSandbox: %v", err)
	}
	defer sb.Cleanup()

	if err := sb.WriteFile("config.toml", []byte(`data_dir = ""`), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	viper.Reset()
	if _, err := Load(sb.Root); err == nil {
		t.Fatalf("expected a config with an empty data_dir to fail validation")
	}
}
