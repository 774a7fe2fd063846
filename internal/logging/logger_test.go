package logging

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewUsesVaaniDir(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("VAANI_DIR", dir)

	runtime, err := New()
	require.NoError(t, err)
	require.NoError(t, runtime.Close())
	require.Equal(t, filepath.Join(dir, "vaani.log"), runtime.Path)
}

func TestNewCreatesWritableJSONLogFile(t *testing.T) {
	t.Setenv("VAANI_DIR", t.TempDir())

	runtime, err := New()
	require.NoError(t, err)

	runtime.Logger.Info("unit-test-log", "component", "logging")
	require.NoError(t, runtime.Close())

	contents, err := os.ReadFile(runtime.Path)
	require.NoError(t, err)
	require.Contains(t, string(contents), `"msg":"unit-test-log"`)
	require.Contains(t, string(contents), `"component":"logging"`)

	stat, err := os.Stat(runtime.Path)
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0o600), stat.Mode().Perm())
}

func TestNewAppendsAcrossRuns(t *testing.T) {
	t.Setenv("VAANI_DIR", t.TempDir())

	first, err := New()
	require.NoError(t, err)
	first.Logger.Info("first-run")
	require.NoError(t, first.Close())

	second, err := New()
	require.NoError(t, err)
	second.Logger.Info("second-run")
	require.NoError(t, second.Close())

	contents, err := os.ReadFile(second.Path)
	require.NoError(t, err)
	require.Contains(t, string(contents), "first-run")
	require.Contains(t, string(contents), "second-run")
}
