package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"p2pStorageAudit/pkg/ledger"
	"p2pStorageAudit/pkg/scheme"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, ""))
	require.NoError(t, err)

	assert.Equal(t, 0, cfg.Network.Port)
	assert.Equal(t, "audit", cfg.Network.NameSpace)
	assert.Equal(t, 0, cfg.Network.RequestTimeout)
	assert.Equal(t, ledger.BackendLevelDB, cfg.Ledger.Backend)
	assert.True(t, cfg.Ledger.VerifyOnRead)
	assert.Equal(t, scheme.MerkleLeaf, cfg.Variant())
	assert.False(t, cfg.CSP.RequireRegistration)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
network:
  port: 4001
  request_timeout: 30
csp:
  require_registration: true
ledger:
  backend: badger
  path: /tmp/audit-ledger
scheme:
  variant: bpas
  max_concurrency: 4
  random_challenge: true
logging:
  format: json
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 4001, cfg.Network.Port)
	assert.True(t, cfg.CSP.RequireRegistration)
	assert.Equal(t, ledger.BackendBadger, cfg.Ledger.Backend)
	assert.Equal(t, scheme.EncryptMerkle, cfg.Variant())
	assert.Equal(t, scheme.Options{MaxConcurrency: 4, RandomChallenge: true}, cfg.SchemeOptions())
	assert.Equal(t, "json", cfg.Logging.Format)

	p2pConfig := cfg.ToP2PConfig()
	assert.Equal(t, 4001, p2pConfig.Port)
	assert.Equal(t, 30*time.Second, p2pConfig.RequestTimeout)
}

func TestEnvOverridesFile(t *testing.T) {
	path := writeConfig(t, "network:\n  port: 4001\n")
	t.Setenv("AUDIT_PORT", "5001")
	t.Setenv("AUDIT_SCHEME_VARIANT", "randomized-signature")
	t.Setenv("AUDIT_LEDGER_BACKEND", "memory")
	// a variable named after a whole section must not replace it
	t.Setenv("AUDIT_SCHEME", "plain-tag")
	t.Setenv("AUDIT_LEDGER", "memory")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 5001, cfg.Network.Port)
	assert.Equal(t, scheme.RandomizedSignature, cfg.Variant())
	assert.Equal(t, ledger.BackendMemory, cfg.Ledger.Backend)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"port out of range", "network:\n  port: 70000\n"},
		{"negative timeout", "network:\n  request_timeout: -1\n"},
		{"bad bootstrap peer", "network:\n  bootstrap_peers: [\"/ip4/127.0.0.1/tcp/4001\"]\n"},
		{"bad csp address", "csp:\n  address: nonsense\n"},
		{"unknown backend", "ledger:\n  backend: sqlite\n"},
		{"unknown scheme", "scheme:\n  variant: e\n"},
		{"bad log level", "logging:\n  level: trace\n"},
		{"bad log format", "logging:\n  format: xml\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			require.Error(t, err)
		})
	}
}

func TestOpenLedgerAndDirectories(t *testing.T) {
	dir := t.TempDir()
	cfg, err := Load(writeConfig(t, ""))
	require.NoError(t, err)
	cfg.Ledger.Path = filepath.Join(dir, "ledger")
	cfg.CSP.DataPath = filepath.Join(dir, "csp", "data.txt")
	cfg.Owner.SourcePath = filepath.Join(dir, "owner", "data.txt")

	require.NoError(t, cfg.EnsureDirectories())
	assert.DirExists(t, filepath.Join(dir, "csp"))
	assert.DirExists(t, filepath.Join(dir, "owner"))

	led, err := cfg.OpenLedger()
	require.NoError(t, err)
	require.NoError(t, led.Commit("file", []string{"tag"}))
	require.NoError(t, led.Close())
}

func TestGetConfigPath(t *testing.T) {
	assert.Equal(t, "custom.yaml", GetConfigPath("custom.yaml"))
}
