package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/Signet-Labs/signet/pkg/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg := config.Load()
	assert.Equal(t, 72, cfg.TokenTTLHours)
	assert.Equal(t, 24, cfg.ReminderIntervalHours)
	assert.Equal(t, "memory", cfg.LedgerBackend)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("SIGNING_TOKEN_TTL_HOURS", "12")
	t.Setenv("QES_PROVIDER", "swisscom")

	cfg := config.Load()
	assert.Equal(t, 12, cfg.TokenTTLHours)
	assert.Equal(t, "swisscom", cfg.QESProvider)
}

func TestLoad_InvalidIntFallsBack(t *testing.T) {
	t.Setenv("SIGNING_TOKEN_TTL_HOURS", "not-a-number")
	cfg := config.Load()
	assert.Equal(t, 72, cfg.TokenTTLHours)
}

func TestLoadProfile_AppliesOverlay(t *testing.T) {
	dir := t.TempDir()
	profile := `
name: European Union
code: eu
ceremony:
  token_ttl_hours: 24
  require_view_before_sign: true
sealing:
  minimum_level: advanced
  qes_provider: namirial
retention:
  document_days: 3650
  audit_log_days: 3650
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "profile_eu.yaml"), []byte(profile), 0600))

	p, err := config.LoadProfile(dir, "EU")
	require.NoError(t, err)
	assert.Equal(t, "eu", p.Code)

	cfg := config.Load()
	p.Apply(cfg)
	assert.Equal(t, 24, cfg.TokenTTLHours)
	assert.Equal(t, "namirial", cfg.QESProvider)
	assert.Equal(t, 3650, cfg.RetentionDays)
}

func TestLoadProfile_Missing(t *testing.T) {
	_, err := config.LoadProfile(t.TempDir(), "zz")
	require.Error(t, err)
}
