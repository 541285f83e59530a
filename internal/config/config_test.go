package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tracker/internal/config"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := config.Load(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, "/v0", cfg.Server.BasePath)
	assert.Equal(t, "UTC", cfg.Display.Timezone)
}

func TestFromYAMLOverridesDefaults(t *testing.T) {
	cfg, err := config.FromYAML([]byte(`
server:
  addr: ":9090"
  allow_legacy_actor_header: true
display:
  timezone: Europe/Berlin
`))
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.Equal(t, "/v0", cfg.Server.BasePath, "unset keys keep their defaults")
	assert.True(t, cfg.Server.AllowLegacyActorHeader)
	assert.Equal(t, "Europe/Berlin", cfg.Location().String())
}

func TestValidate(t *testing.T) {
	_, err := config.FromYAML([]byte("server:\n  addr: \"\"\n"))
	assert.Error(t, err)

	_, err = config.FromYAML([]byte("display:\n  timezone: Mars/Olympus\n"))
	assert.Error(t, err)

	_, err = config.FromYAML([]byte("server: ["))
	assert.Error(t, err)
}

func TestLoadFromWorkspaceFile(t *testing.T) {
	dir := t.TempDir()
	path := config.Path(dir)
	require.Equal(t, filepath.Join(dir, "tracker.yml"), path)
	require.NoError(t, os.WriteFile(path, []byte("server:\n  addr: \":7070\"\n"), 0o644))

	cfg, err := config.Load(dir)
	require.NoError(t, err)
	assert.Equal(t, ":7070", cfg.Server.Addr)
}

func TestLocationFallback(t *testing.T) {
	var cfg *config.Config
	assert.Equal(t, time.UTC, cfg.Location())

	cfg = config.Default()
	cfg.Display.Timezone = ""
	assert.Equal(t, time.UTC, cfg.Location())
}
