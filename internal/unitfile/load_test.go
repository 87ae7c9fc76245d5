package unitfile

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadFindsServiceFile(t *testing.T) {
	dir := t.TempDir()
	content := "[Service]\nExecStart=/usr/bin/true\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "demo.service"), []byte(content), 0o644))

	u, err := Load(dir, "demo")
	require.NoError(t, err)
	v, ok := u.Get("Service", "ExecStart")
	require.True(t, ok)
	require.Equal(t, "/usr/bin/true", v)
}

func TestLoadFallsBackToInitScript(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "demo"), []byte(sampleScript), 0o755))

	u, err := Load(dir, "demo")
	require.NoError(t, err)
	v, ok := u.Get("Service", "ExecStart")
	require.True(t, ok)
	require.Equal(t, "/usr/bin/demod", v)
}

func TestLoadMissingService(t *testing.T) {
	dir := t.TempDir()
	_, err := Load(dir, "missing")
	require.Error(t, err)
}

func TestWriteThenLoadRoundTrips(t *testing.T) {
	dir := t.TempDir()
	u := newUnit("demo")
	u.setValue("Service", "ExecStart", "/usr/bin/true")

	require.NoError(t, Write(dir, u))
	got, err := Load(dir, "demo")
	require.NoError(t, err)
	v, ok := got.Get("Service", "ExecStart")
	require.True(t, ok)
	require.Equal(t, "/usr/bin/true", v)
}
