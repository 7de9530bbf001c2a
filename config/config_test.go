package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/xendarboh/strand/config"
)

func TestLoadConfigRoundTrip(t *testing.T) {
	dir := t.TempDir()
	keyPath := filepath.Join(dir, "identity.key")
	kp, err := config.GenerateIdentity(keyPath)
	require.NoError(t, err)

	tomlPath := filepath.Join(dir, "strand.toml")
	contents := `
[Listen]
  Address = "127.0.0.1:9000"

[Logging]
  Level = "INFO"

[Identity]
  KeyFile = "` + keyPath + `"
`
	require.NoError(t, os.WriteFile(tomlPath, []byte(contents), 0600))

	cfg, err := config.LoadConfig(tomlPath)
	require.NoError(t, err)
	require.Equal(t, "127.0.0.1:9000", cfg.Listen.Address)
	require.Equal(t, "INFO", cfg.Logging.Level)

	enclave, err := cfg.LoadIdentity()
	require.NoError(t, err)
	loaded, err := config.KeyPair(enclave)
	require.NoError(t, err)
	require.Equal(t, kp.Public, loaded.Public)
}

func TestLoadConfigRejectsMissingFields(t *testing.T) {
	dir := t.TempDir()
	tomlPath := filepath.Join(dir, "strand.toml")
	require.NoError(t, os.WriteFile(tomlPath, []byte("[Listen]\n"), 0600))

	_, err := config.LoadConfig(tomlPath)
	require.Error(t, err)
}
