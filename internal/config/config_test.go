package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "/run/aurad", cfg.ControlSocketDir)
	assert.Equal(t, "control", cfg.ControlSocketName)
	assert.Equal(t, 4096, cfg.DefaultBufferFrames)
	assert.Equal(t, 2, cfg.IdleCloseWindowSeconds)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "aurad.yaml")
	contents := "loglevel: debug\ncontrolSocketDir: /tmp/aurad-test\ndefaultBufferFrames: 2048\n"
	require.NoError(t, os.WriteFile(path, []byte(contents), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "/tmp/aurad-test", cfg.ControlSocketDir)
	assert.Equal(t, 2048, cfg.DefaultBufferFrames)
	// Untouched defaults survive a partial override.
	assert.Equal(t, "audio", cfg.AudioSocketName)
}
