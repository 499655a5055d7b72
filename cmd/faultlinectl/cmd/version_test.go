package cmd

import (
	"bytes"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVersionCommand(t *testing.T) {
	SetVersion("v1.2.3", "abc123def", "2026-03-01")

	oldStdout := os.Stdout
	r, w, _ := os.Pipe()
	os.Stdout = w

	versionCmd.Run(versionCmd, []string{})

	w.Close()
	os.Stdout = oldStdout

	var buf bytes.Buffer
	_, err := buf.ReadFrom(r)
	require.NoError(t, err)

	output := buf.String()
	assert.Contains(t, output, "faultlinectl v1.2.3")
	assert.Contains(t, output, "abc123def")
	assert.Contains(t, output, "2026-03-01")
	assert.Contains(t, output, "commit:")
	assert.Contains(t, output, "built:")
}

func TestResolveCacheDirRequiresDirectory(t *testing.T) {
	t.Setenv("FAULTLINE_CACHE_DIR", "")
	require.NoError(t, initConfig())

	_, err := resolveCacheDir()
	assert.Error(t, err)

	dir := t.TempDir()
	t.Setenv("FAULTLINE_CACHE_DIR", dir)
	got, err := resolveCacheDir()
	require.NoError(t, err)
	assert.Equal(t, dir, got)
}
