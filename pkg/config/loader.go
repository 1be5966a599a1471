// Package config loads the configuration of the storage audit tools
//
// Core features:
//   - Load settings from a YAML file
//   - Environment variable overrides
//   - Validation
//   - Conversion to p2p.P2PConfig and scheme.Options
//
// Usage:
//
//	cfg, err := config.Load("config/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	p2pConfig := cfg.ToP2PConfig()
//
// Precedence:
//  1. Environment variables (highest)
//  2. Config file
//  3. Defaults (lowest)
//
// Environment variables:
//   - AUDIT_ prefix
//   - upper case with underscores
//   - e.g. AUDIT_PORT, AUDIT_LEDGER_BACKEND, AUDIT_SCHEME_VARIANT
package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/multiformats/go-multiaddr"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
	"golang.org/x/xerrors"

	"p2pStorageAudit/pkg/ledger"
	"p2pStorageAudit/pkg/p2p"
	"p2pStorageAudit/pkg/scheme"
)

const envPrefix = "AUDIT"

type Config struct {
	Network NetworkConfig `mapstructure:"network"`
	CSP     CSPConfig     `mapstructure:"csp"`
	Ledger  LedgerConfig  `mapstructure:"ledger"`
	Scheme  SchemeConfig  `mapstructure:"scheme"`
	Owner   OwnerConfig   `mapstructure:"owner"`
	Logging LoggingConfig `mapstructure:"logging"`
}

type NetworkConfig struct {
	Port           int      `mapstructure:"port"`
	Insecure       bool     `mapstructure:"insecure"`
	Seed           int64    `mapstructure:"seed"`
	BootstrapPeers []string `mapstructure:"bootstrap_peers"`
	ProtocolPrefix string   `mapstructure:"protocol_prefix"`
	AutoRefresh    bool     `mapstructure:"auto_refresh"`
	NameSpace      string   `mapstructure:"namespace"`
	// RequestTimeout is in seconds, 0 waits for a reply indefinitely.
	RequestTimeout int      `mapstructure:"request_timeout"`
}

type CSPConfig struct {
	// Address is the provider's multiaddr including its /p2p/ id, or a bare peer id.
	Address             string `mapstructure:"address"`
	DataPath            string `mapstructure:"data_path"`
	RequireRegistration bool   `mapstructure:"require_registration"`
	// StatusPort serves the HTTP status API, 0 disables it.
	StatusPort          int    `mapstructure:"status_port"`
}

type LedgerConfig struct {
	Backend      string `mapstructure:"backend"`
	Path         string `mapstructure:"path"`
	VerifyOnRead bool   `mapstructure:"verify_on_read"`
}

type SchemeConfig struct {
	Variant         string `mapstructure:"variant"`
	MaxConcurrency  int    `mapstructure:"max_concurrency"`
	RandomChallenge bool   `mapstructure:"random_challenge"`
}

type OwnerConfig struct {
	SourcePath string `mapstructure:"source_path"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads configPath, or searches the default locations when it is
// empty. A missing file yields the defaults.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/p2p-storage-audit")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if xerrors.As(err, &notFound) {
			logrus.Debug("Config file not found, using defaults")
		} else {
			return nil, xerrors.Errorf("failed to read config: %w", err)
		}
	}

	bindEnvVars(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, xerrors.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, xerrors.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("network.port", 0)
	v.SetDefault("network.insecure", false)
	v.SetDefault("network.seed", int64(0))
	v.SetDefault("network.bootstrap_peers", []string{})
	v.SetDefault("network.protocol_prefix", "/storageAudit")
	v.SetDefault("network.auto_refresh", true)
	v.SetDefault("network.namespace", "audit")
	v.SetDefault("network.request_timeout", 0)

	v.SetDefault("csp.address", "")
	v.SetDefault("csp.data_path", filepath.Join("data", "csp-data.txt"))
	v.SetDefault("csp.require_registration", false)
	v.SetDefault("csp.status_port", 0)

	v.SetDefault("ledger.backend", ledger.BackendLevelDB)
	v.SetDefault("ledger.path", filepath.Join("data", "ledger"))
	v.SetDefault("ledger.verify_on_read", true)

	v.SetDefault("scheme.variant", string(scheme.MerkleLeaf))
	v.SetDefault("scheme.max_concurrency", 0)
	v.SetDefault("scheme.random_challenge", false)

	v.SetDefault("owner.source_path", filepath.Join("data", "data.txt"))

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
}

func bindEnvVars(v *viper.Viper) {
	// explicit bindings only, a variable named after a section must not replace it
	bindings := map[string]string{
		"network.port":             "PORT",
		"network.insecure":         "INSECURE",
		"network.seed":             "SEED",
		"network.bootstrap_peers":  "BOOTSTRAP_PEERS",
		"network.protocol_prefix":  "PROTOCOL_PREFIX",
		"network.auto_refresh":     "AUTO_REFRESH",
		"network.namespace":        "NAMESPACE",
		"network.request_timeout":  "REQUEST_TIMEOUT",
		"csp.address":              "CSP_ADDRESS",
		"csp.data_path":            "CSP_DATA_PATH",
		"csp.require_registration": "REQUIRE_REGISTRATION",
		"csp.status_port":          "STATUS_PORT",
		"ledger.backend":           "LEDGER_BACKEND",
		"ledger.path":              "LEDGER_PATH",
		"ledger.verify_on_read":    "LEDGER_VERIFY_ON_READ",
		"scheme.variant":           "SCHEME_VARIANT",
		"scheme.max_concurrency":   "MAX_CONCURRENCY",
		"scheme.random_challenge":  "RANDOM_CHALLENGE",
		"owner.source_path":        "SOURCE_PATH",
		"logging.level":            "LOG_LEVEL",
		"logging.format":           "LOG_FORMAT",
	}
	for configKey, envKey := range bindings {
		if err := v.BindEnv(configKey, envPrefix+"_"+envKey); err != nil {
			logrus.Warnf("failed to bind env var %s: %v", envKey, err)
		}
	}
}

func (c *Config) Validate() error {
	if c.Network.Port < 0 || c.Network.Port > 65535 {
		return xerrors.Errorf("invalid port: %d (must be 0-65535)", c.Network.Port)
	}
	if c.CSP.StatusPort < 0 || c.CSP.StatusPort > 65535 {
		return xerrors.Errorf("invalid status_port: %d (must be 0-65535)", c.CSP.StatusPort)
	}
	if c.Network.RequestTimeout < 0 || c.Network.RequestTimeout > 3600 {
		return xerrors.Errorf("invalid request_timeout: %d (must be 0-3600)", c.Network.RequestTimeout)
	}
	if c.Network.NameSpace == "" {
		return xerrors.New("namespace cannot be empty")
	}
	if _, err := parseBootstrapPeers(c.Network.BootstrapPeers); err != nil {
		return err
	}
	if c.CSP.Address != "" {
		if _, err := p2p.ParsePeerAddress(c.CSP.Address); err != nil {
			return xerrors.Errorf("invalid csp address: %w", err)
		}
	}

	switch c.Ledger.Backend {
	case ledger.BackendLevelDB, ledger.BackendBadger, ledger.BackendMemory:
	default:
		return xerrors.Errorf("invalid ledger backend: %s (must be leveldb, badger, or memory)", c.Ledger.Backend)
	}
	if c.Ledger.Backend != ledger.BackendMemory && c.Ledger.Path == "" {
		return xerrors.New("ledger path cannot be empty")
	}

	if _, err := scheme.ParseVariant(c.Scheme.Variant); err != nil {
		return err
	}
	if c.Scheme.MaxConcurrency < 0 || c.Scheme.MaxConcurrency > 1024 {
		return xerrors.Errorf("invalid max_concurrency: %d (must be 0-1024)", c.Scheme.MaxConcurrency)
	}

	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[c.Logging.Level] {
		return xerrors.Errorf("invalid log_level: %s (must be debug, info, warn, or error)", c.Logging.Level)
	}
	validLogFormats := map[string]bool{
		"json": true,
		"text": true,
	}
	if !validLogFormats[c.Logging.Format] {
		return xerrors.Errorf("invalid log_format: %s (must be json or text)", c.Logging.Format)
	}
	return nil
}

// ToP2PConfig converts the network section. Bootstrap peers were checked by Validate.
func (c *Config) ToP2PConfig() *p2p.P2PConfig {
	cfg := p2p.NewP2PConfig()

	cfg.Port = c.Network.Port
	cfg.Insecure = c.Network.Insecure
	cfg.Seed = c.Network.Seed
	cfg.ProtocolPrefix = c.Network.ProtocolPrefix
	cfg.EnableAutoRefresh = c.Network.AutoRefresh
	cfg.NameSpace = c.Network.NameSpace
	cfg.RequestTimeout = time.Duration(c.Network.RequestTimeout) * time.Second

	peers, err := parseBootstrapPeers(c.Network.BootstrapPeers)
	if err != nil {
		logrus.Warnf("failed to parse bootstrap peers: %v", err)
	} else {
		cfg.BootstrapPeers = peers
	}
	return &cfg
}

// SchemeOptions converts the scheme section.
func (c *Config) SchemeOptions() scheme.Options {
	return scheme.Options{
		MaxConcurrency:  c.Scheme.MaxConcurrency,
		RandomChallenge: c.Scheme.RandomChallenge,
	}
}

// Variant returns the configured scheme. Validate already rejected unknown names.
func (c *Config) Variant() scheme.Variant {
	v, _ := scheme.ParseVariant(c.Scheme.Variant)
	return v
}

// OpenLedger opens the configured ledger backend.
func (c *Config) OpenLedger() (*ledger.Ledger, error) {
	store, err := ledger.OpenStore(c.Ledger.Backend, c.Ledger.Path)
	if err != nil {
		return nil, err
	}
	return ledger.New(store, ledger.WithVerifyOnRead(c.Ledger.VerifyOnRead)), nil
}

func parseBootstrapPeers(peerStrs []string) ([]multiaddr.Multiaddr, error) {
	var peers []multiaddr.Multiaddr
	for _, peerStr := range peerStrs {
		peerStr = strings.TrimSpace(peerStr)
		if peerStr == "" {
			continue
		}
		m, err := multiaddr.NewMultiaddr(peerStr)
		if err != nil {
			return nil, xerrors.Errorf("invalid multiaddr %q: %w", peerStr, err)
		}
		if _, err := peer.AddrInfoFromP2pAddr(m); err != nil {
			return nil, xerrors.Errorf("invalid peer address %q: %w", peerStr, err)
		}
		peers = append(peers, m)
	}
	return peers, nil
}

// EnsureDirectories creates the parent directories of every configured path.
func (c *Config) EnsureDirectories() error {
	dirs := []string{filepath.Dir(c.CSP.DataPath), filepath.Dir(c.Owner.SourcePath)}
	if c.Ledger.Backend != ledger.BackendMemory {
		dirs = append(dirs, c.Ledger.Path)
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return xerrors.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return nil
}

// GetConfigPath returns cmdLinePath when set, otherwise the first existing of
// ./config.yaml, ./config/config.yaml and /etc/p2p-storage-audit/config.yaml.
func GetConfigPath(cmdLinePath string) string {
	if cmdLinePath != "" {
		return cmdLinePath
	}
	paths := []string{
		"config.yaml",
		filepath.Join("config", "config.yaml"),
		"/etc/p2p-storage-audit/config.yaml",
	}
	for _, path := range paths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return filepath.Join("config", "config.yaml")
}
