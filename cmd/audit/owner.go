package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/xerrors"

	"p2pStorageAudit/pkg/file"
	"p2pStorageAudit/pkg/owner"
	"p2pStorageAudit/pkg/p2p"
	"p2pStorageAudit/pkg/scheme"
)

var (
	schemeName      string
	sourcePath      string
	providerAddress string
	randomChallenge bool
)

var ownerCmd = &cobra.Command{
	Use:   "owner",
	Short: "Data owner operations",
}

var ownerRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Outsource a file and audit it",
	Long: `Run both audit phases against a storage provider.

Phase 1 generates the owner identity, registers it with the provider,
outsources the file and records its tags in the ledger.
Phase 2 challenges the provider and checks the answer against the ledger.

The randomized-signature scheme reads the provider's copy from
csp.data_path, so owner and provider must share that path.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runOwner(cmd)
	},
}

func init() {
	ownerRunCmd.Flags().StringVarP(&schemeName, "scheme", "s", "", "Scheme: plain-tag|merkle-leaf|encrypt-merkle|randomized-signature (or a|b|c|d)")
	ownerRunCmd.Flags().StringVarP(&sourcePath, "file", "f", "", "Source file, one block per line")
	ownerRunCmd.Flags().StringVar(&providerAddress, "csp", "", "Provider multiaddr or peer id")
	ownerRunCmd.Flags().BoolVar(&randomChallenge, "random-challenge", false, "Challenge a random leaf (merkle-leaf)")

	ownerCmd.AddCommand(ownerRunCmd)
	rootCmd.AddCommand(ownerCmd)
}

func runOwner(cmd *cobra.Command) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if schemeName != "" {
		cfg.Scheme.Variant = schemeName
	}
	if sourcePath != "" {
		cfg.Owner.SourcePath = sourcePath
	}
	if providerAddress != "" {
		cfg.CSP.Address = providerAddress
	}
	if cmd.Flags().Changed("random-challenge") {
		cfg.Scheme.RandomChallenge = randomChallenge
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	blocks, err := file.ReadBlocks(cfg.Owner.SourcePath)
	if err != nil {
		return err
	}
	s, err := scheme.New(cfg.Variant(), cfg.SchemeOptions())
	if err != nil {
		return err
	}
	led, err := cfg.OpenLedger()
	if err != nil {
		return xerrors.Errorf("failed to open ledger: %w", err)
	}
	defer led.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	service, err := p2p.NewP2PService(ctx, *cfg.ToP2PConfig())
	if err != nil {
		return xerrors.Errorf("failed to create P2P service: %w", err)
	}
	defer service.Shutdown()

	providerID, err := connectProvider(ctx, service, cfg.CSP.Address)
	if err != nil {
		return err
	}

	o := owner.New(owner.Options{
		Scheme:    s,
		Transport: p2p.NewClient(service, providerID),
		Ledger:    led,
		Provider:  file.NewLocalFileSystemAdapter(cfg.CSP.DataPath),
	})
	logrus.WithFields(logrus.Fields{
		"scheme": s.Variant(),
		"blocks": len(blocks),
		"source": cfg.Owner.SourcePath,
	}).Info("Starting audit")

	report, err := o.Run(ctx, blocks)
	if err != nil {
		return err
	}

	fmt.Println("\n=== Audit Report ===")
	fmt.Printf("File ID: %s\n", report.FileID)
	fmt.Printf("Scheme: %s\n", report.Scheme)
	fmt.Printf("Is data intact: %t\n", report.Intact)
	fmt.Printf("Phase 1: %s\n", owner.FormatDuration(report.PhaseOne))
	fmt.Printf("Phase 2: %s\n", owner.FormatDuration(report.PhaseTwo))
	fmt.Println("====================")
	return nil
}

// connectProvider dials the configured provider, or the one published in the
// DHT when no address is configured.
func connectProvider(ctx context.Context, service *p2p.P2PService, address string) (peer.ID, error) {
	if address != "" {
		return service.Resolve(ctx, address)
	}
	info, err := service.DiscoverProvider(ctx)
	if err != nil {
		return "", xerrors.Errorf("no csp address configured and discovery failed: %w", err)
	}
	if err := service.Host.Connect(ctx, *info); err != nil {
		return "", xerrors.Errorf("connect %s: %v: %w", info.ID, err, p2p.ErrNetwork)
	}
	return info.ID, nil
}
