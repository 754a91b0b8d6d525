package dirs

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDefaults(t *testing.T) {
	dataDir := t.TempDir()
	t.Setenv("CLAVIER_DATA_DIR", dataDir)

	cfg, err := New()
	require.NoError(t, err)

	assert.Equal(t, dataDir, cfg.DataDir)
	assert.Equal(t, filepath.Join(dataDir, "clavier.db"), cfg.RegistryPath)
	assert.Equal(t, ":5000", cfg.ServeAddr)
	assert.Empty(t, cfg.Mirror.Endpoint)
}

func TestYAMLConfig(t *testing.T) {
	dataDir := t.TempDir()
	t.Setenv("CLAVIER_DATA_DIR", dataDir)

	yaml := `
serve_addr: ":8080"
mirror:
  endpoint: minio.local:9000
  access_key: ak
  secret_key: sk
  bucket: runs
`
	require.NoError(t, os.WriteFile(filepath.Join(dataDir, "config.yaml"), []byte(yaml), 0644))

	cfg, err := New()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.ServeAddr)
	assert.Equal(t, "minio.local:9000", cfg.Mirror.Endpoint)
	assert.Equal(t, "runs", cfg.Mirror.Bucket)
}

func TestEnvOverridesYAML(t *testing.T) {
	dataDir := t.TempDir()
	t.Setenv("CLAVIER_DATA_DIR", dataDir)
	t.Setenv("CLAVIER_SERVE_ADDR", ":9999")
	t.Setenv("CLAVIER_MIRROR_ENDPOINT", "other.local:9000")

	require.NoError(t, os.WriteFile(filepath.Join(dataDir, "config.yaml"), []byte(`serve_addr: ":8080"`), 0644))

	cfg, err := New()
	require.NoError(t, err)

	assert.Equal(t, ":9999", cfg.ServeAddr)
	assert.Equal(t, "other.local:9000", cfg.Mirror.Endpoint)
}

func TestEnsureDataDirs(t *testing.T) {
	dataDir := filepath.Join(t.TempDir(), "clavier")
	cfg := &Config{DataDir: dataDir}

	require.NoError(t, cfg.EnsureDataDirs())

	for _, dir := range []string{dataDir, cfg.PerformancesDir(), cfg.SeedsDir(), cfg.ModelsDir()} {
		info, err := os.Stat(dir)
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	}
}
