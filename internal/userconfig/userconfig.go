// Package userconfig persists the user's machine-level settings: where the
// org config comes from, which team profile applies, and how to
// authenticate the fetch. Tokens themselves are never stored, only the
// spec that resolves them at fetch time.
package userconfig

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/scc-tools/scc/internal/cmderr"
	"github.com/scc-tools/scc/internal/paths"
)

// Config is the ~/.scc/config.json content.
type Config struct {
	// OrgSource locates the org config: an HTTPS URL, a github:owner/repo
	// shorthand, or a local file path.
	OrgSource string `json:"org_source,omitempty"`
	// Team selects the team profile.
	Team string `json:"team,omitempty"`
	// AuthSpec resolves the fetch credential: "env:VAR" or "command:...".
	AuthSpec string `json:"auth_spec,omitempty"`
	// Image overrides the default sandbox image.
	Image string `json:"image,omitempty"`
}

// Load reads the user config. A missing file returns the zero config.
func Load() (Config, error) {
	var cfg Config
	data, err := os.ReadFile(paths.UserConfigFile())
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("reading user config: %w", err)
	}
	if err := json.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing user config: %w", err)
	}
	return cfg, nil
}

// Save writes the user config atomically.
func Save(cfg Config) error {
	path := paths.UserConfigFile()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling user config: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, append(data, '\n'), 0o600); err != nil {
		return fmt.Errorf("writing user config: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("renaming user config: %w", err)
	}
	return nil
}

// RequireOrgSource returns the configured source or a guided error.
func (c Config) RequireOrgSource() (string, error) {
	if c.OrgSource == "" {
		return "", cmderr.New(cmderr.KindConfig, "no org config source configured").
			WithAction("run: scc config set-org <url>")
	}
	return c.OrgSource, nil
}
