// Package project handles .scc.yaml manifest parsing. The project layer is
// only honored when the team grants allow_project_overrides.
package project

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/scc-tools/scc/internal/orgconfig"
	"github.com/scc-tools/scc/internal/paths"
)

// Config represents a .scc.yaml manifest.
type Config struct {
	AdditionalPlugins    []string    `yaml:"additional_plugins,omitempty"`
	AdditionalMCPServers []MCPServer `yaml:"additional_mcp_servers,omitempty"`
	Session              Session     `yaml:"session,omitempty"`
}

// Session tunes per-project session settings.
type Session struct {
	TimeoutHours int   `yaml:"timeout_hours,omitempty"`
	AutoResume   *bool `yaml:"auto_resume,omitempty"`
}

// MCPServer is the YAML shape of a project-added MCP server.
type MCPServer struct {
	Name      string            `yaml:"name"`
	Transport string            `yaml:"transport"`
	Command   string            `yaml:"command,omitempty"`
	Args      []string          `yaml:"args,omitempty"`
	URL       string            `yaml:"url,omitempty"`
	Env       map[string]string `yaml:"env,omitempty"`
	Headers   map[string]string `yaml:"headers,omitempty"`
}

// ToOrg converts to the org config server shape consumed by the policy
// engine.
func (s MCPServer) ToOrg() orgconfig.MCPServer {
	return orgconfig.MCPServer{
		Name:      s.Name,
		Transport: s.Transport,
		Command:   s.Command,
		Args:      s.Args,
		URL:       s.URL,
		Env:       s.Env,
		Headers:   s.Headers,
	}
}

// OrgMCPServers converts all project servers.
func (c *Config) OrgMCPServers() []orgconfig.MCPServer {
	if c == nil {
		return nil
	}
	out := make([]orgconfig.MCPServer, 0, len(c.AdditionalMCPServers))
	for _, s := range c.AdditionalMCPServers {
		out = append(out, s.ToOrg())
	}
	return out
}

// Load reads .scc.yaml from the given directory.
// Returns nil, nil if the file doesn't exist.
func Load(dir string) (*Config, error) {
	path := filepath.Join(dir, paths.ProjectConfigName)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading %s: %w", paths.ProjectConfigName, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", paths.ProjectConfigName, err)
	}

	for i, srv := range cfg.AdditionalMCPServers {
		if srv.Name == "" {
			return nil, fmt.Errorf("additional_mcp_servers[%d]: 'name' is required", i)
		}
		switch srv.Transport {
		case "stdio":
			if srv.Command == "" {
				return nil, fmt.Errorf("additional_mcp_servers[%d]: 'command' is required for stdio transport", i)
			}
		case "http", "sse":
			if !strings.HasPrefix(srv.URL, "https://") {
				return nil, fmt.Errorf("additional_mcp_servers[%d]: 'url' must use HTTPS", i)
			}
		case "":
			return nil, fmt.Errorf("additional_mcp_servers[%d]: 'transport' is required (stdio, http, or sse)", i)
		default:
			return nil, fmt.Errorf("additional_mcp_servers[%d]: invalid transport %q (must be 'stdio', 'http', or 'sse')", i, srv.Transport)
		}
	}

	if cfg.Session.TimeoutHours < 0 {
		return nil, fmt.Errorf("session.timeout_hours cannot be negative")
	}

	return &cfg, nil
}
