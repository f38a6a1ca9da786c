// Command lira is the Digital Lira node daemon and operator CLI.
package main

// main.go — the cobra entry point (spec.md §6, ambient stack). Adapted
// from Synnergy's cmd/synnergy/main.go root-command-plus-subcommand
// registration shape, wired against the real config/core packages instead
// of the teacher's stubbed-out testnet/tokens mocks.

import (
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/opensyria/lira/core"
	"github.com/opensyria/lira/pkg/config"
)

func main() {
	root := &cobra.Command{Use: "lira", Short: "Digital Lira node daemon and CLI"}
	root.AddCommand(nodeCmd())
	root.AddCommand(txCmd())
	root.AddCommand(addressCmd())
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func nodeCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "node", Short: "run and inspect the node daemon"}
	cmd.AddCommand(nodeStartCmd())
	return cmd
}

func nodeStartCmd() *cobra.Command {
	var configDir string
	cmd := &cobra.Command{
		Use:   "start",
		Short: "start the node daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runNode(configDir)
		},
	}
	cmd.Flags().StringVar(&configDir, "config", ".", "directory containing config.toml")
	return cmd
}

func runNode(configDir string) error {
	cfg, err := config.Load(configDir)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	logrus.Infof("digital lira node %s starting, data_dir=%s", config.Version, cfg.DataDir)

	blocks, err := core.NewBlockStore(filepath.Join(cfg.DataDir, "blockchain"))
	if err != nil {
		return fmt.Errorf("open block store: %w", err)
	}
	defer blocks.Close()

	state := core.NewStateStore(core.PruneConfig{Mode: core.PruneArchive})
	consensus, err := core.NewConsensus(core.MainnetParams, blocks, state)
	if err != nil {
		return fmt.Errorf("rebuild state from block store: %w", err)
	}
	mempool := core.NewMempool(core.MempoolConfig{MaxSize: 5000, MinFee: 1, MaxAgeSecs: 3600}, state)

	var minerAddr core.Address
	if cfg.Mining.MiningAddress != "" {
		raw, err := hex.DecodeString(cfg.Mining.MiningAddress)
		if err != nil || len(raw) != len(minerAddr) {
			return fmt.Errorf("mining.mining_address: invalid address")
		}
		copy(minerAddr[:], raw)
	}

	rep := core.NewReputationManager()

	govDir := filepath.Join(cfg.DataDir, "governance")
	if err := os.MkdirAll(govDir, 0o755); err != nil {
		return fmt.Errorf("create governance dir: %w", err)
	}
	gov, err := core.NewGovernanceEngine(filepath.Join(govDir, "snapshot.json"), state, core.GovernanceConfig{MinProposalStake: 1_000_00000000})
	if err != nil {
		return fmt.Errorf("open governance engine: %w", err)
	}

	var net *core.Node
	if cfg.Network.Port != 0 {
		net, err = core.NewNode(core.Config{
			ListenAddr:     fmt.Sprintf("/ip4/0.0.0.0/tcp/%d", cfg.Network.Port),
			BootstrapPeers: cfg.Network.BootstrapNodes,
			DiscoveryTag:   "digital-lira",
			ChainID:        core.MainnetParams.ChainID,
		}, rep)
		if err != nil {
			logrus.WithError(err).Warn("p2p transport unavailable, continuing offline")
			net = nil
		}
	}

	orch := core.NewOrchestrator(core.NodeConfig{
		Params:        core.MainnetParams,
		SyncInterval:  30_000_000_000, // 30s, expressed in ns to avoid importing "time" twice
		AutoMine:      cfg.Daemon.AutoMine,
		MinerAddress:  minerAddr,
		MinerThreads:  cfg.Mining.Threads,
		MaxTxPerBlock: 100,
	}, blocks, state, consensus, mempool, net, rep)
	if net != nil {
		net.SyncHandler = orch
	}
	orch.SetGovernance(gov)

	orch.Start()
	defer orch.Stop()

	logrus.Info("node running, press ctrl+c to stop")
	select {}
}

func txCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "tx", Short: "transaction utilities"}
	cmd.AddCommand(txHashCmd())
	return cmd
}

func txHashCmd() *cobra.Command {
	var from, to string
	var amount, fee, nonce uint64
	cmd := &cobra.Command{
		Use:   "hash",
		Short: "print the canonical hash of a transaction",
		RunE: func(cmd *cobra.Command, args []string) error {
			fromAddr, err := parseAddress(from)
			if err != nil {
				return fmt.Errorf("from: %w", err)
			}
			toAddr, err := parseAddress(to)
			if err != nil {
				return fmt.Errorf("to: %w", err)
			}
			tx := &core.Transaction{From: fromAddr, To: toAddr, Amount: amount, Fee: fee, Nonce: nonce}
			fmt.Println(tx.Hash().Hex())
			return nil
		},
	}
	cmd.Flags().StringVar(&from, "from", "", "sender address (hex)")
	cmd.Flags().StringVar(&to, "to", "", "recipient address (hex)")
	cmd.Flags().Uint64Var(&amount, "amount", 0, "amount")
	cmd.Flags().Uint64Var(&fee, "fee", 0, "fee")
	cmd.Flags().Uint64Var(&nonce, "nonce", 0, "nonce")
	return cmd
}

func addressCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "address", Short: "key and address utilities"}
	cmd.AddCommand(addressGenerateCmd())
	return cmd
}

func addressGenerateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "generate a new Ed25519 keypair and print its address",
		RunE: func(cmd *cobra.Command, args []string) error {
			kp, err := core.GenerateKeypair()
			if err != nil {
				return err
			}
			fmt.Printf("address: %s\n", kp.Public.Hex())
			fmt.Printf("private_key: %x\n", []byte(kp.Private))
			return nil
		},
	}
	return cmd
}

func parseAddress(s string) (core.Address, error) {
	var a core.Address
	raw, err := hex.DecodeString(s)
	if err != nil || len(raw) != len(a) {
		return a, fmt.Errorf("must be %d-byte hex", len(a))
	}
	copy(a[:], raw)
	return a, nil
}
