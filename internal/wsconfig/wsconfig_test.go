package wsconfig

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileReturnsEmpty(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "config.yaml"))
	require.NoError(t, err)
	assert.Empty(t, cfg.PackageManager)
}

func TestSaveLoadRoundTripPreservesUnknownKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("package_manager: npm\nteam_owner: platform\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, PackageManagerNpm, cfg.PackageManager)
	assert.Equal(t, "platform", cfg.Extra["team_owner"])

	require.NoError(t, cfg.Set("test_command", "npm test"))
	require.NoError(t, cfg.Save(path))

	reloaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "npm test", reloaded.TestCommand)
	assert.Equal(t, "platform", reloaded.Extra["team_owner"])
}

func TestSetRejectsInvalidPackageManager(t *testing.T) {
	cfg := &Config{}
	assert.Error(t, cfg.Set("package_manager", "cargo"))
}

func TestDetectFindsNpmLockfile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "package-lock.json"), []byte("{}"), 0o644))

	cfg, err := Detect(dir)
	require.NoError(t, err)
	assert.Equal(t, PackageManagerNpm, cfg.PackageManager)
}
