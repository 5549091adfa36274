// Package settings renders the managed fragment of the agent's
// settings.local.json and merges it into the user's file without disturbing
// user-owned keys. A sidecar managed-state file records exactly which keys
// the tool owns, so re-renders remove stale managed entries and nothing else.
package settings

import (
	"path"

	"github.com/scc-tools/scc/internal/paths"
	"github.com/scc-tools/scc/internal/pluginref"
	"github.com/scc-tools/scc/internal/policy"
)

// MarketplaceSource is the settings-file shape of a marketplace source. Only
// directory sources are ever emitted: every materialized marketplace is
// referenced by its workspace-relative path so settings stay portable across
// hosts and bind mounts.
type MarketplaceSource struct {
	Source string `json:"source"`
	Path   string `json:"path"`
}

// MarketplaceConfig wraps a source for the extraKnownMarketplaces map.
type MarketplaceConfig struct {
	Source MarketplaceSource `json:"source"`
}

// Fragment is the managed portion of settings.local.json.
type Fragment struct {
	EnabledPlugins         map[string]bool              `json:"enabledPlugins,omitempty"`
	ExtraKnownMarketplaces map[string]MarketplaceConfig `json:"extraKnownMarketplaces,omitempty"`
}

// Render builds the managed fragment from an effective config. Marketplace
// paths are relative to the workspace root; the implicit marketplace is
// always known to the agent and is never emitted.
func Render(eff *policy.EffectiveConfig) Fragment {
	frag := Fragment{}

	if len(eff.Enabled) > 0 {
		frag.EnabledPlugins = make(map[string]bool, len(eff.Enabled))
		for _, ref := range eff.Enabled {
			frag.EnabledPlugins[ref.String()] = true
		}
	}

	required := eff.RequiredMarketplaces()
	if len(required) > 0 {
		frag.ExtraKnownMarketplaces = make(map[string]MarketplaceConfig, len(required))
		for _, name := range required {
			if name == pluginref.ImplicitMarketplace {
				continue
			}
			// Forward slashes regardless of host OS: the path is read
			// inside the Linux container.
			frag.ExtraKnownMarketplaces[name] = MarketplaceConfig{
				Source: MarketplaceSource{
					Source: "directory",
					Path:   path.Join(paths.ClaudeDirName, paths.MarketplacesDirName, name),
				},
			}
		}
	}

	return frag
}
