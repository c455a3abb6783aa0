package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Eric-Song-Nop/agentwatch/internal/model"
)

// isolate points every default location at an empty temp dir.
func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("HOME", dir)
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(dir, ".config"))
	return dir
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadDefaultsWhenNoFile(t *testing.T) {
	home := isolate(t)

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, []string{"claude", "codex", "opencode"}, cfg.Agents)
	assert.Equal(t, 750*time.Millisecond, cfg.Snapshot.MinInterval)
	assert.Equal(t, 2*time.Second, cfg.OpenFiles.Timeout)
	assert.Equal(t, 3*time.Second, cfg.Poll.Interval)
	assert.Equal(t, time.Minute, cfg.VCS.CacheTTL)
	assert.True(t, cfg.VCS.Enabled)
	assert.Equal(t, "127.0.0.1:7878", cfg.Server.Addr)
	assert.Equal(t, filepath.Join(home, ".local", "state", "agentwatch"), cfg.Log.Dir)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, model.AllAgents, cfg.EnabledAgents())
}

func TestLoadExplicitMissingFile(t *testing.T) {
	isolate(t)
	_, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	assert.Error(t, err)
}

func TestLoadFile(t *testing.T) {
	isolate(t)
	path := writeConfig(t, `
agents = ["codex", "Claude"]

[claude]
home = "/data/claude"

[poll]
interval = "5s"

[log]
level = "debug"
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"codex", "claude"}, cfg.Agents)
	assert.Equal(t, []model.AgentType{model.AgentClaude, model.AgentCodex}, cfg.EnabledAgents())
	assert.Equal(t, "/data/claude", cfg.Claude.Home)
	assert.Equal(t, 5*time.Second, cfg.Poll.Interval)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, 750*time.Millisecond, cfg.Snapshot.MinInterval, "unset keys keep defaults")
}

func TestEnvOverridesFile(t *testing.T) {
	isolate(t)
	path := writeConfig(t, "[poll]\ninterval = \"5s\"\n")
	t.Setenv("AGENTWATCH_POLL_INTERVAL", "9s")
	t.Setenv("AGENTWATCH_AGENTS", "opencode, codex")
	t.Setenv("AGENTWATCH_SERVER_ADDR", ":9000")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9*time.Second, cfg.Poll.Interval)
	assert.Equal(t, []string{"opencode", "codex"}, cfg.Agents)
	assert.Equal(t, ":9000", cfg.Server.Addr)
}

func TestValidate(t *testing.T) {
	isolate(t)
	tests := []struct {
		name    string
		content string
		wantMsg string
	}{
		{"unknown agent", `agents = ["claude", "gemini"]`, `unknown agent "gemini"`},
		{"no agents", `agents = [" "]`, "at least one agent"},
		{"zero poll", "[poll]\ninterval = \"0s\"", "poll.interval"},
		{"negative open files timeout", "[openfiles]\ntimeout = \"-1s\"", "openfiles.timeout"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalid)
			assert.Contains(t, err.Error(), tt.wantMsg)
		})
	}
}

func TestEncodeTOMLRoundTrip(t *testing.T) {
	isolate(t)
	cfg, err := Load(writeConfig(t, `
agents = ["claude"]

[opencode]
storage = "/srv/opencode"

[snapshot]
min_interval = "1s"
`))
	require.NoError(t, err)

	data, err := cfg.EncodeTOML()
	require.NoError(t, err)
	assert.Contains(t, string(data), `min_interval = "1s"`)

	again, err := Load(writeConfig(t, string(data)))
	require.NoError(t, err)
	assert.Equal(t, cfg, again)
}
