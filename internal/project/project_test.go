package project

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".scc.yaml"), []byte(content), 0o644))
	return dir
}

func TestLoadMissingReturnsNil(t *testing.T) {
	cfg, err := Load(t.TempDir())
	require.NoError(t, err)
	assert.Nil(t, cfg)
}

func TestLoadValid(t *testing.T) {
	dir := writeConfig(t, `
additional_plugins:
  - api-tools@internal
additional_mcp_servers:
  - name: search
    transport: http
    url: https://mcp.example.dev/search
session:
  timeout_hours: 6
`)
	cfg, err := Load(dir)
	require.NoError(t, err)
	require.NotNil(t, cfg)
	assert.Equal(t, []string{"api-tools@internal"}, cfg.AdditionalPlugins)
	assert.Equal(t, 6, cfg.Session.TimeoutHours)

	servers := cfg.OrgMCPServers()
	require.Len(t, servers, 1)
	assert.Equal(t, "search", servers[0].Name)
	assert.Equal(t, "http", servers[0].Transport)
}

func TestLoadRejectsInvalidYAML(t *testing.T) {
	dir := writeConfig(t, "additional_plugins: [unterminated")
	_, err := Load(dir)
	assert.Error(t, err)
}

func TestLoadValidatesMCPServers(t *testing.T) {
	cases := map[string]string{
		"missing name": `
additional_mcp_servers:
  - transport: stdio
    command: /usr/local/bin/tool
`,
		"stdio without command": `
additional_mcp_servers:
  - name: t
    transport: stdio
`,
		"http without https": `
additional_mcp_servers:
  - name: t
    transport: http
    url: http://insecure.example
`,
		"unknown transport": `
additional_mcp_servers:
  - name: t
    transport: websocket
    url: https://x.example
`,
	}
	for name, content := range cases {
		dir := writeConfig(t, content)
		_, err := Load(dir)
		assert.Error(t, err, name)
	}
}

func TestLoadRejectsNegativeTimeout(t *testing.T) {
	dir := writeConfig(t, "session:\n  timeout_hours: -1\n")
	_, err := Load(dir)
	assert.Error(t, err)
}
