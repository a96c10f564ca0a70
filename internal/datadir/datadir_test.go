package datadir

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_EnvVarWins(t *testing.T) {
	envDir := filepath.Join(t.TempDir(), "env-dir")
	t.Setenv(EnvVar, envDir)

	d, err := New("/should/be/ignored")
	require.NoError(t, err)
	assert.Equal(t, envDir, d.Root())
	assert.NoDirExists(t, envDir, "New must not create directories")
}

func TestNew_ConfigValueFallback(t *testing.T) {
	cfgDir := filepath.Join(t.TempDir(), "cfg-dir")
	t.Setenv(EnvVar, "")

	d, err := New(cfgDir)
	require.NoError(t, err)
	assert.Equal(t, cfgDir, d.Root())
}

func TestNew_DefaultHome(t *testing.T) {
	t.Setenv(EnvVar, "")
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	d, err := New("")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, DefaultDirName), d.Root())
}

func TestEnsureDirs(t *testing.T) {
	root := filepath.Join(t.TempDir(), "data")
	t.Setenv(EnvVar, root)

	d, err := New("")
	require.NoError(t, err)
	require.NoError(t, d.EnsureDirs())

	for _, dir := range []string{d.Root(), d.ConfigDir(), d.ImagesDir(), d.BackupDir()} {
		info, err := os.Stat(dir)
		require.NoError(t, err)
		assert.True(t, info.IsDir())
		assert.Equal(t, os.FileMode(0700), info.Mode().Perm())
	}
	assert.Equal(t, filepath.Join(root, "config", "config.json"), d.ConfigPath())
}

func TestLoadEnv(t *testing.T) {
	root := t.TempDir()
	t.Setenv(EnvFileEnvVar, "")
	t.Setenv("DUPEGUARD_TEST_PRESET", "shell")
	require.NoError(t, os.WriteFile(filepath.Join(root, ".env"), []byte(
		"# tokens\nDUPEGUARD_TEST_A=\"quoted\"\nDUPEGUARD_TEST_PRESET=file\nbroken line\n"), 0600))
	t.Cleanup(func() { os.Unsetenv("DUPEGUARD_TEST_A") })

	require.NoError(t, LoadEnv(root))
	assert.Equal(t, "quoted", os.Getenv("DUPEGUARD_TEST_A"))
	assert.Equal(t, "shell", os.Getenv("DUPEGUARD_TEST_PRESET"))
}

func TestLoadEnv_Override(t *testing.T) {
	dir := t.TempDir()
	override := filepath.Join(dir, "custom.env")
	require.NoError(t, os.WriteFile(override, []byte("DUPEGUARD_TEST_B=override\n"), 0600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("DUPEGUARD_TEST_C=ignored\n"), 0600))
	t.Setenv(EnvFileEnvVar, override)
	t.Cleanup(func() {
		os.Unsetenv("DUPEGUARD_TEST_B")
		os.Unsetenv("DUPEGUARD_TEST_C")
	})

	require.NoError(t, LoadEnv(dir))
	assert.Equal(t, "override", os.Getenv("DUPEGUARD_TEST_B"))
	_, set := os.LookupEnv("DUPEGUARD_TEST_C")
	assert.False(t, set)
}
