package main

import (
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/xerrors"

	"p2pStorageAudit/cmd/audit/data"
	"p2pStorageAudit/pkg/config"
)

var (
	// Version information (set via ldflags during build)
	version = "1.0.0"
	commit  = "unknown"
	date    = "unknown"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "audit",
	Short: "P2P provable storage audit",
	Long: `A CLI for auditing outsourced storage over libp2p.

A data owner hands a file to a cloud storage provider (CSP), anchors
per-block tags in a hash-chained ledger and later challenges the
provider to prove it still holds the file intact.

Schemes:
  • plain-tag (a)              encrypted block hashes, tag set membership
  • merkle-leaf (b)            encrypted leaves, Merkle proof of one leaf
  • encrypt-merkle (c)         encrypted blocks, Merkle root comparison
  • randomized-signature (d)   nonce-salted signatures over ciphertexts`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to configuration file")
	rootCmd.AddCommand(data.DataCmd)
}

// loadConfig loads the configuration and applies its logging settings.
func loadConfig() (*config.Config, error) {
	configFile := config.GetConfigPath(configPath)
	logrus.Debugf("Loading configuration from: %s", configFile)

	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, xerrors.Errorf("failed to load configuration: %w", err)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, xerrors.Errorf("failed to create directories: %w", err)
	}
	setupLogging(cfg)
	return cfg, nil
}

func setupLogging(cfg *config.Config) {
	level, err := logrus.ParseLevel(cfg.Logging.Level)
	if err != nil {
		logrus.Warnf("Invalid log level '%s', using 'info'", cfg.Logging.Level)
		level = logrus.InfoLevel
	}
	logrus.SetLevel(level)

	if cfg.Logging.Format == "json" {
		logrus.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logrus.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "2006-01-02 15:04:05",
		})
	}
}
