package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// isolate runs the test from an empty directory with an empty home so no
// real config file is picked up.
func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("HOME", dir)
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })
	return dir
}

func TestDefaults(t *testing.T) {
	isolate(t)
	require.NoError(t, Initialize())

	assert.Equal(t, "", GetString(KeyDB))
	assert.Equal(t, 720*time.Hour, GetDuration(KeySessionTTL))
	assert.Equal(t, "warn", GetString(KeyLogLevel))
	assert.Equal(t, "text", GetString(KeyLogFormat))
	assert.False(t, GetBool(KeyJSON))
}

func TestEnvOverrides(t *testing.T) {
	isolate(t)
	t.Setenv("BACKLOG_DB", "/tmp/other.db")
	t.Setenv("BACKLOG_SESSION_TTL", "2h")
	t.Setenv("BACKLOG_JSON", "true")
	require.NoError(t, Initialize())

	assert.Equal(t, "/tmp/other.db", GetString(KeyDB))
	assert.Equal(t, 2*time.Hour, GetDuration(KeySessionTTL))
	assert.True(t, GetBool(KeyJSON))
}

func TestConfigFile(t *testing.T) {
	dir := isolate(t)
	content := "log-level: debug\nsession: abc\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".backlog.yaml"), []byte(content), 0o644))
	require.NoError(t, Initialize())

	assert.Equal(t, "debug", GetString(KeyLogLevel))
	assert.Equal(t, "abc", GetString(KeySession))
}

func TestLoadFile_Missing(t *testing.T) {
	isolate(t)
	require.NoError(t, Initialize())
	assert.Error(t, LoadFile("/nonexistent/backlog.yaml"))
}

func TestBindFlags(t *testing.T) {
	isolate(t)
	t.Setenv("BACKLOG_LOG_FORMAT", "json")
	require.NoError(t, Initialize())

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.String(KeyLogFormat, "text", "")
	require.NoError(t, BindFlags(flags))

	// An unset flag does not beat the environment.
	assert.Equal(t, "json", GetString(KeyLogFormat))

	require.NoError(t, flags.Parse([]string{"--log-format=text"}))
	assert.Equal(t, "text", GetString(KeyLogFormat))
}
