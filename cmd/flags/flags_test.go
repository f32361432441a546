package flags

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v2"

	"github.com/ruteri/medical-record-custody/config"
)

func runWithFlags(t *testing.T, args ...string) (config.Config, error) {
	t.Helper()
	var (
		cfg    config.Config
		cfgErr error
	)
	app := &cli.App{
		Name:  "test",
		Flags: CommonFlags,
		Action: func(cCtx *cli.Context) error {
			cfg, cfgErr = LoadConfig(cCtx)
			return nil
		},
	}
	require.NoError(t, app.Run(append([]string{"test"}, args...)))
	return cfg, cfgErr
}

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := runWithFlags(t)
	require.NoError(t, err)
	assert.Equal(t, config.Default(), cfg)
}

func TestLoadConfig_FlagsOverrideFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "custody.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
storage:
  uris: ["file:///srv/blobs"]
ledger:
  kind: leveldb
  path: /srv/ledger
cache:
  ttl: 5s
`), 0600))

	cfg, err := runWithFlags(t,
		"--config", path,
		"--storage", "file:///a", "--storage", "badger:///b",
		"--cache-ttl", "1m",
		"--secret-mode", "fixedConstant",
	)
	require.NoError(t, err)
	assert.Equal(t, []string{"file:///a", "badger:///b"}, cfg.Storage.URIs)
	assert.Equal(t, "/srv/ledger", cfg.Ledger.Path)
	assert.Equal(t, time.Minute, cfg.Cache.TTL)
	assert.Equal(t, "fixedConstant", cfg.Secret.Mode)
}

func TestLoadConfig_Invalid(t *testing.T) {
	_, err := runWithFlags(t, "--ledger", "onchain", "--contract", "nope")
	assert.ErrorContains(t, err, "invalid configuration")

	_, err = runWithFlags(t, "--config", filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
