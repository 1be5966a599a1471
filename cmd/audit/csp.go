package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/xerrors"

	"p2pStorageAudit/pkg/csp"
	"p2pStorageAudit/pkg/file"
	"p2pStorageAudit/pkg/p2p"
)

const sessionIdleTimeout = 30 * time.Minute

var cspCmd = &cobra.Command{
	Use:   "csp",
	Short: "Start the storage provider node",
	Long: `Start a cloud storage provider node.

The node:
  • Accepts PUBLIC_KEY, OUTSOURCING and CHALLENGE messages
  • Keeps the latest outsourced file in csp.data_path
  • Publishes its address in the DHT when peers are reachable
  • Serves a read-only HTTP status API when csp.status_port is set

The service will continue running until interrupted with Ctrl+C.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return startProvider()
	},
}

func init() {
	rootCmd.AddCommand(cspCmd)
}

func startProvider() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logrus.Infof("Network: port=%d, insecure=%v", cfg.Network.Port, cfg.Network.Insecure)
	logrus.Infof("Storage: data_path=%s, require_registration=%v", cfg.CSP.DataPath, cfg.CSP.RequireRegistration)

	opts := []csp.Option{csp.WithSchemeOptions(cfg.SchemeOptions())}
	if cfg.CSP.RequireRegistration {
		opts = append(opts, csp.WithGate(csp.NewRegistrationGate()))
	}
	provider := csp.NewService(file.NewLocalFileSystemAdapter(cfg.CSP.DataPath), opts...)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logrus.Info("Starting P2P service...")
	service, err := p2p.NewP2PService(ctx, *cfg.ToP2PConfig())
	if err != nil {
		return xerrors.Errorf("failed to create P2P service: %w", err)
	}
	service.RegisterHandlers(provider)
	printNodeInfo(service)

	if len(cfg.Network.BootstrapPeers) > 0 {
		if err := service.AnnounceProvider(ctx); err != nil {
			logrus.Warnf("Could not publish provider address: %v", err)
		}
	}

	go cleanupSessions(ctx, provider.Sessions())

	var status *csp.StatusServer
	if cfg.CSP.StatusPort > 0 {
		status = csp.NewStatusServer(provider, cfg.CSP.StatusPort)
		go func() {
			if err := status.Start(); err != nil {
				logrus.Errorf("Status API stopped: %v", err)
			}
		}()
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	logrus.Info("Storage provider is running. Press Ctrl+C to stop.")
	<-sigChan

	logrus.Info("Received shutdown signal, shutting down gracefully...")
	cancel()
	if status != nil {
		shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
		if err := status.Shutdown(shutdownCtx); err != nil {
			logrus.Warnf("Error stopping status API: %v", err)
		}
		stop()
	}
	if err := service.Shutdown(); err != nil {
		logrus.Errorf("Error during shutdown: %v", err)
		return err
	}
	logrus.Info("Shutdown complete. Goodbye!")
	return nil
}

func cleanupSessions(ctx context.Context, sessions *csp.SessionManager) {
	ticker := time.NewTicker(sessionIdleTimeout / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sessions.CleanupIdle(sessionIdleTimeout)
			logrus.Debugf("Active owner sessions: %d", sessions.Owners())
		}
	}
}

func printNodeInfo(service *p2p.P2PService) {
	peerID := service.Host.ID()

	fmt.Println("\n=== Node Information ===")
	fmt.Printf("Peer ID: %s\n", peerID)
	fmt.Println("\nListen Addresses:")
	for _, addr := range service.GetMaddr() {
		fmt.Printf("  - %s/p2p/%s\n", addr, peerID)
	}
	fmt.Println("========================")
}
