package credentials

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCredentialExpired(t *testing.T) {
	c := &Credential{}
	assert.False(t, c.Expired(), "zero ExpiresAt is never expired")

	c.ExpiresAt = time.Now().Add(-time.Hour)
	assert.True(t, c.Expired())

	c.ExpiresAt = time.Now().Add(time.Hour)
	assert.False(t, c.Expired())
}

func TestLoadFirstNoFilesPresent(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	_, err := LoadFirst()
	require.Error(t, err)
}

func TestLoadFirstReadsPiAgentAuth(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	dir := filepath.Join(home, ".pi", "agent")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "auth.json"), []byte(
		`{"anthropic":{"access":"tok-1","refresh":"ref-1","expires":1700000000000}}`), 0o644))

	cred, err := LoadFirst()
	require.NoError(t, err)
	assert.Equal(t, "anthropic", cred.Provider)
	assert.Equal(t, "tok-1", cred.AccessToken)
	assert.Equal(t, "ref-1", cred.RefreshToken)
}

func TestLoadFirstFallsBackToClaudeCode(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	dir := filepath.Join(home, ".claude")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".credentials.json"), []byte(
		`{"claudeAiOauth":{"accessToken":"tok-2","refreshToken":"ref-2","expiresAt":1700000000000}}`), 0o644))

	cred, err := LoadFirst()
	require.NoError(t, err)
	assert.Equal(t, "anthropic", cred.Provider)
	assert.Equal(t, "tok-2", cred.AccessToken)
}

func TestLoadFirstPrefersPiAgentOverClaudeCode(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	piDir := filepath.Join(home, ".pi", "agent")
	require.NoError(t, os.MkdirAll(piDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(piDir, "auth.json"), []byte(
		`{"anthropic":{"access":"pi-tok","expires":1700000000000}}`), 0o644))

	claudeDir := filepath.Join(home, ".claude")
	require.NoError(t, os.MkdirAll(claudeDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(claudeDir, ".credentials.json"), []byte(
		`{"claudeAiOauth":{"accessToken":"claude-tok","expiresAt":1700000000000}}`), 0o644))

	cred, err := LoadFirst()
	require.NoError(t, err)
	assert.Equal(t, "pi-tok", cred.AccessToken)
}

func TestLoadFirstSkipsUnparseableFileAndTriesNext(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	piDir := filepath.Join(home, ".pi", "agent")
	require.NoError(t, os.MkdirAll(piDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(piDir, "auth.json"), []byte(`not json`), 0o644))

	claudeDir := filepath.Join(home, ".claude")
	require.NoError(t, os.MkdirAll(claudeDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(claudeDir, ".credentials.json"), []byte(
		`{"claudeAiOauth":{"accessToken":"claude-tok","expiresAt":1700000000000}}`), 0o644))

	cred, err := LoadFirst()
	require.NoError(t, err)
	assert.Equal(t, "claude-tok", cred.AccessToken)
}
