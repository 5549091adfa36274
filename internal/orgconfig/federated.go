package orgconfig

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/scc-tools/scc/internal/pluginref"
)

// federatedContent is the authoritative profile document fetched from a
// federated team's config_source. It carries the same fields a local
// profile would, plus marketplace declarations of its own.
type federatedContent struct {
	AdditionalPlugins    []string                    `json:"additional_plugins,omitempty"`
	DisabledPlugins      []string                    `json:"disabled_plugins,omitempty"`
	AdditionalMCPServers []MCPServer                 `json:"additional_mcp_servers,omitempty"`
	ExtraMarketplaces    []string                    `json:"extra_marketplaces,omitempty"`
	Marketplaces         map[string]MarketplaceEntry `json:"marketplaces,omitempty"`
}

// ApplyFederated replaces the team's profile content with the document
// fetched from its config_source, applying the profile's trust gates.
// Content a gate refuses is dropped with a warning rather than an error, so
// an over-reaching remote document cannot brick the team's launches.
// Malformed documents and marketplace name collisions with the org are
// errors.
func (c *Config) ApplyFederated(team string, raw []byte) ([]string, error) {
	profile, ok := c.Profiles[team]
	if !ok || !profile.Federated() {
		return nil, nil
	}

	var content federatedContent
	if err := json.Unmarshal(raw, &content); err != nil {
		return nil, fmt.Errorf("parsing federated profile for team %q: %w", team, err)
	}
	for i, srv := range content.AdditionalMCPServers {
		prefix := fmt.Sprintf("federated profile %s: additional_mcp_servers[%d]", team, i)
		if err := validateMCPServer(prefix, srv); err != nil {
			return nil, err
		}
	}

	var warnings []string
	trust := profile.Trust

	// Marketplace declarations from the remote side. Each must pass the
	// additional-marketplaces gate and the source patterns, and must not
	// shadow an org-declared marketplace.
	for _, name := range sortedMarketplaceNames(content.Marketplaces) {
		entry := content.Marketplaces[name]
		if !trust.AllowAdditionalMarketplaces {
			warnings = append(warnings, fmt.Sprintf(
				"federated profile %s declares marketplace %q but trust does not allow additional marketplaces", team, name))
			continue
		}
		if err := entry.Source.Validate(name); err != nil {
			return nil, fmt.Errorf("federated profile %s: %w", team, err)
		}
		if len(trust.MarketplaceSourcePatterns) > 0 {
			if _, ok := pluginref.MatchStringAny(entry.Source.identity(), trust.MarketplaceSourcePatterns); !ok {
				warnings = append(warnings, fmt.Sprintf(
					"federated profile %s: marketplace %q source %q matches no trusted source pattern", team, name, entry.Source.identity()))
				continue
			}
		}
		if _, exists := c.Marketplaces[name]; exists {
			return nil, fmt.Errorf("federated profile %s redeclares org marketplace %q", team, name)
		}
		if c.Marketplaces == nil {
			c.Marketplaces = map[string]MarketplaceEntry{}
		}
		c.Marketplaces[name] = entry
	}

	// The document's extra marketplaces may always name what it declared
	// itself; org-declared names additionally need inherit_org_marketplaces.
	var extras []string
	for _, name := range content.ExtraMarketplaces {
		if _, own := content.Marketplaces[name]; own {
			if _, kept := c.Marketplaces[name]; kept {
				extras = append(extras, name)
			}
			continue
		}
		if trust.InheritOrgMarketplaces {
			extras = append(extras, name)
			continue
		}
		warnings = append(warnings, fmt.Sprintf(
			"federated profile %s references org marketplace %q without inherit_org_marketplaces", team, name))
	}

	profile.AdditionalPlugins = content.AdditionalPlugins
	profile.DisabledPlugins = content.DisabledPlugins
	profile.AdditionalMCPServers = content.AdditionalMCPServers
	profile.ExtraMarketplaces = extras
	c.Profiles[team] = profile
	return warnings, nil
}

// identity is the stable string trust source patterns match against.
func (s MarketplaceSource) identity() string {
	switch s.Type {
	case SourceGitHub:
		return s.Repo
	case SourceGit, SourceURL:
		return s.URL
	case SourceNPM:
		return s.Package
	default:
		return s.Path
	}
}

func sortedMarketplaceNames(m map[string]MarketplaceEntry) []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
