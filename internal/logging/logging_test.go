package logging

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigure_UnknownLevelErrors(t *testing.T) {
	_, err := Configure("loud", "", slog.HandlerOptions{})
	assert.Error(t, err)
}

func TestConfigure_NoneDiscardsAndReturnsNoFile(t *testing.T) {
	f, err := Configure("none", "", slog.HandlerOptions{})
	require.NoError(t, err)
	assert.Nil(t, f)
}

func TestConfigure_LogFileOpensForAppend(t *testing.T) {
	path := filepath.Join(t.TempDir(), "aurad.log")
	require.NoError(t, os.WriteFile(path, []byte("existing\n"), 0644))

	f, err := Configure("debug", path, slog.HandlerOptions{})
	require.NoError(t, err)
	require.NotNil(t, f)
	defer f.Close()

	slog.Info("hello")

	contents, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(contents), "existing")
	assert.Contains(t, string(contents), "hello")
}
