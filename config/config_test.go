package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewAtPath_Defaults(t *testing.T) {
	c, err := NewAtPath("")
	require.NoError(t, err)

	assert.False(t, c.Debug)
	assert.Equal(t, "/var/lib/veilfs", c.System.RootDirectory)
	assert.Equal(t, "origins.db", c.System.OriginDatabaseName)
	assert.Equal(t, "paths.db", c.System.DirectoryDatabaseName)
	assert.Equal(t, 300, c.System.SandboxIdleSeconds)
	assert.Equal(t, 4, c.System.UsageScanWorkers)
}

func TestNewAtPath_File(t *testing.T) {
	p := filepath.Join(t.TempDir(), "config.yml")
	doc := `
debug: true
system:
  root_directory: /srv/veilfs
  sandbox_idle: 60
`
	require.NoError(t, os.WriteFile(p, []byte(doc), 0o644))

	c, err := NewAtPath(p)
	require.NoError(t, err)

	assert.True(t, c.Debug)
	assert.Equal(t, "/srv/veilfs", c.System.RootDirectory)
	assert.Equal(t, 60, c.System.SandboxIdleSeconds)

	// Values absent from the document keep their defaults.
	assert.Equal(t, "origins.db", c.System.OriginDatabaseName)
	assert.Equal(t, 4, c.System.UsageScanWorkers)
}

func TestNewAtPath_Missing(t *testing.T) {
	_, err := NewAtPath(filepath.Join(t.TempDir(), "nope.yml"))
	assert.Error(t, err)
}

func TestGetSet(t *testing.T) {
	defer Set(nil)

	// Get without a stored instance falls back to defaults.
	c := Get()
	require.NotNil(t, c)
	assert.Equal(t, "/var/lib/veilfs", c.System.RootDirectory)

	c.System.RootDirectory = t.TempDir()
	Set(c)

	got := Get()
	assert.Equal(t, c.System.RootDirectory, got.System.RootDirectory)

	// Mutating the returned copy must not leak back into the global.
	got.System.RootDirectory = "/elsewhere"
	assert.Equal(t, c.System.RootDirectory, Get().System.RootDirectory)
}
