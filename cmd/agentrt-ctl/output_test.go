package main

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatTableString(t *testing.T) {
	out := formatTableString([]string{"ID", "STATUS"}, [][]string{
		{"abc", "committed"},
		{"a-much-longer-id", Green("failed")},
	})

	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	require.Len(t, lines, 4)
	assert.Equal(t, "ID                STATUS", lines[0])
	assert.Equal(t, "----------------  ---------", lines[1])
	assert.True(t, strings.HasPrefix(lines[2], "abc               "))
}

func TestFormatStructured(t *testing.T) {
	data := map[string]interface{}{"session_id": "s1", "turns": 2}

	js, err := formatStructured(formatJSON, data)
	require.NoError(t, err)
	assert.JSONEq(t, `{"session_id":"s1","turns":2}`, js)

	ym, err := formatStructured(formatYAML, data)
	require.NoError(t, err)
	assert.Contains(t, ym, "session_id: s1")
	assert.Contains(t, ym, "turns: 2")
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "abcd...", truncate("abcdefghij", 7))
	assert.Equal(t, "ab", truncate("abcdef", 2))
}

func TestConfigRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	cfg := &Config{}
	require.NoError(t, setConfigValue(cfg, "output_format", "yaml"))
	require.NoError(t, setConfigValue(cfg, "database_url", "postgres://agentrt@db/agentrt"))
	require.NoError(t, SaveConfig(cfg, path))

	loaded, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "yaml", loaded.OutputFormat)
	assert.Equal(t, "postgres://agentrt@db/agentrt", loaded.DatabaseURL)

	assert.Error(t, setConfigValue(cfg, "output_format", "xml"))
	assert.Error(t, setConfigValue(cfg, "database_url", "mysql://db"))
	assert.Error(t, setConfigValue(cfg, "server", "localhost"))
}

func TestResolveConfigValue(t *testing.T) {
	assert.Equal(t, "flag", resolveConfigValue("config", "flag", "env", "default"))
	assert.Equal(t, "env", resolveConfigValue("config", "", "env", "default"))
	assert.Equal(t, "config", resolveConfigValue("config", "", "", "default"))
	assert.Equal(t, "default", resolveConfigValue("", "", "", "default"))
	assert.Equal(t, "env", resolveSource("config", "", "env"))
}
