package cmd

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/manenim/resilient-ratelimit/pkg/limiter"
)

func writeConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "ratelimit.yaml")
	yaml := `
redis:
  enabled: false
fallback:
  driver: sqlite
  sqlite_path: ` + filepath.Join(dir, "windows.db") + `
ratelimit:
  modules:
    auth:
      max_requests: 2
      window: 1m
      block: 5m
log:
  level: error
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))
	return path
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := NewRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestCheck_PersistsAcrossInvocations(t *testing.T) {
	cfg := writeConfig(t)

	for i := 0; i < 2; i++ {
		out, err := run(t, "check", "--config", cfg, "--key", "u1", "--module", "auth")
		require.NoError(t, err)
		var d limiter.Decision
		require.NoError(t, json.Unmarshal([]byte(out), &d))
		assert.True(t, d.Allowed)
		assert.Equal(t, "sqlite", d.Source)
	}

	_, err := run(t, "check", "--config", cfg, "--key", "u1", "--module", "auth")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rate limited")

	_, err = run(t, "reset", "--config", cfg, "--key", "u1", "--module", "auth")
	require.NoError(t, err)

	out, err := run(t, "check", "--config", cfg, "--key", "u1", "--module", "auth", "--peek")
	require.NoError(t, err)
	var d limiter.Decision
	require.NoError(t, json.Unmarshal([]byte(out), &d))
	assert.Equal(t, int64(2), d.Remaining)
}

func TestCheck_RequiresIdentityFlags(t *testing.T) {
	_, err := run(t, "check", "--config", writeConfig(t), "--module", "auth")
	assert.Error(t, err)
}

func TestBlock_ValidatesDuration(t *testing.T) {
	_, err := run(t, "block", "--config", writeConfig(t), "--key", "k", "--module", "auth", "--for", "0s")
	assert.ErrorContains(t, err, "--for")
}

func TestBlockAndUnblock(t *testing.T) {
	cfg := writeConfig(t)

	out, err := run(t, "block", "--config", cfg, "--key", "k", "--module", "*", "--for", "10m", "--reason", "abuse")
	require.NoError(t, err)
	var b limiter.ManualBlock
	require.NoError(t, json.Unmarshal([]byte(out), &b))
	assert.Equal(t, "abuse", b.Reason)

	out, err = run(t, "unblock", "--config", cfg, "--key", "k", "--module", "*")
	require.NoError(t, err)
	assert.Contains(t, out, "unblocked *:k")
}

func TestHealth(t *testing.T) {
	out, err := run(t, "health", "--config", writeConfig(t))
	require.NoError(t, err)

	var r healthReport
	require.NoError(t, json.Unmarshal([]byte(out), &r))
	assert.True(t, r.RateLimit.Healthy)
	assert.Equal(t, "sqlite", r.RateLimit.Fallback.Name)
	assert.Nil(t, r.RateLimit.Primary)
}

func TestNoRedisFlagOverridesConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ratelimit.yaml")
	require.NoError(t, os.WriteFile(path, []byte("redis:\n  enabled: true\n  url: redis://127.0.0.1:1/0\nlog:\n  level: error\n"), 0o600))

	out, err := run(t, "health", "--config", path, "--no-redis")
	require.NoError(t, err)
	var r healthReport
	require.NoError(t, json.Unmarshal([]byte(out), &r))
	assert.Nil(t, r.RateLimit.Primary)
	assert.False(t, r.RateLimit.Degraded)
}

func TestMissingConfigFile(t *testing.T) {
	_, err := run(t, "health", "--config", filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}
