// Package orgconfig defines the organization configuration model and loads
// it from HTTPS or local sources with ETag-aware caching. The config is
// immutable after load; everything downstream (policy, materializer,
// renderer) consumes it read-only.
package orgconfig

import (
	"fmt"
	"strings"
)

// Config is the organization configuration.
type Config struct {
	Organization OrgMeta                     `json:"organization"`
	Marketplaces map[string]MarketplaceEntry `json:"marketplaces,omitempty"`
	Defaults     Defaults                    `json:"defaults,omitempty"`
	Profiles     map[string]TeamProfile      `json:"profiles,omitempty"`
	Security     Security                    `json:"security,omitempty"`
	Delegation   Delegation                  `json:"delegation,omitempty"`
}

// OrgMeta identifies the organization.
type OrgMeta struct {
	Name string `json:"name"`
	ID   string `json:"id,omitempty"`
}

// MarketplaceEntry pairs a marketplace source with display metadata.
type MarketplaceEntry struct {
	Source      MarketplaceSource `json:"source"`
	Description string            `json:"description,omitempty"`
}

// Source type tags for MarketplaceSource.
const (
	SourceGitHub    = "github"
	SourceGit       = "git"
	SourceURL       = "url"
	SourceDirectory = "directory"
	SourceFile      = "file"
	SourceNPM       = "npm"
)

// Materialization modes for url sources.
const (
	MaterializeSelfContained = "self_contained"
	MaterializeMetadataOnly  = "metadata_only"
	MaterializeBestEffort    = "best_effort"
)

// MarketplaceSource is a tagged variant: exactly the fields for its Type are
// set. Validate enforces per-type requirements and the HTTPS invariant.
type MarketplaceSource struct {
	Type string `json:"source"`

	// github
	Repo string `json:"repo,omitempty"`

	// git / url
	URL string `json:"url,omitempty"`

	// github / git: branch, tag, or commit; subtree path
	Ref  string `json:"ref,omitempty"`
	Path string `json:"path,omitempty"`

	// url
	Headers         map[string]string `json:"headers,omitempty"`
	Materialization string            `json:"materialization,omitempty"`

	// npm
	Package string `json:"package,omitempty"`
	Version string `json:"version,omitempty"`
}

// Validate checks per-type required fields and the HTTPS invariant: remote
// URLs must be HTTPS; only directory/file sources may point at local paths.
func (s MarketplaceSource) Validate(name string) error {
	switch s.Type {
	case SourceGitHub:
		if s.Repo == "" || !strings.Contains(s.Repo, "/") {
			return fmt.Errorf("marketplace %q: github source requires repo in owner/name format", name)
		}
	case SourceGit:
		if s.URL == "" {
			return fmt.Errorf("marketplace %q: git source requires url", name)
		}
		if !strings.HasPrefix(s.URL, "https://") {
			return fmt.Errorf("marketplace %q: git url must use HTTPS", name)
		}
	case SourceURL:
		if s.URL == "" {
			return fmt.Errorf("marketplace %q: url source requires url", name)
		}
		if !strings.HasPrefix(s.URL, "https://") {
			return fmt.Errorf("marketplace %q: url must use HTTPS", name)
		}
		switch s.Materialization {
		case "", MaterializeSelfContained, MaterializeMetadataOnly, MaterializeBestEffort:
		default:
			return fmt.Errorf("marketplace %q: invalid materialization %q", name, s.Materialization)
		}
	case SourceDirectory:
		if s.Path == "" {
			return fmt.Errorf("marketplace %q: directory source requires path", name)
		}
	case SourceFile:
		if s.Path == "" {
			return fmt.Errorf("marketplace %q: file source requires path", name)
		}
	case SourceNPM:
		if s.Package == "" {
			return fmt.Errorf("marketplace %q: npm source requires package", name)
		}
	case "":
		return fmt.Errorf("marketplace %q: source type is required", name)
	default:
		return fmt.Errorf("marketplace %q: unknown source type %q", name, s.Type)
	}
	return nil
}

// MaterializationMode returns the effective materialization for url sources,
// defaulting to self_contained so sandboxes never need remote credentials.
func (s MarketplaceSource) MaterializationMode() string {
	if s.Type != SourceURL || s.Materialization == "" {
		return MaterializeSelfContained
	}
	return s.Materialization
}

// Defaults are the org-wide baseline applied to every team.
type Defaults struct {
	EnabledPlugins    []string        `json:"enabled_plugins,omitempty"`
	AllowedPlugins    []string        `json:"allowed_plugins,omitempty"`
	ExtraMarketplaces []string        `json:"extra_marketplaces,omitempty"`
	Session           SessionSettings `json:"session,omitempty"`
}

// SessionSettings tune session lifetimes. Last-wins precedence:
// project overrides team overrides defaults.
type SessionSettings struct {
	TimeoutHours          int   `json:"timeout_hours,omitempty"`
	ExpectedDurationHours int   `json:"expected_duration_hours,omitempty"`
	AutoResume            *bool `json:"auto_resume,omitempty"`
}

// TeamProfile customizes the effective config for one team.
type TeamProfile struct {
	Description          string             `json:"description,omitempty"`
	AdditionalPlugins    []string           `json:"additional_plugins,omitempty"`
	DisabledPlugins      []string           `json:"disabled_plugins,omitempty"`
	AdditionalMCPServers []MCPServer        `json:"additional_mcp_servers,omitempty"`
	ExtraMarketplaces    []string           `json:"extra_marketplaces,omitempty"`
	ConfigSource         *MarketplaceSource `json:"config_source,omitempty"`
	Trust                Trust              `json:"trust,omitempty"`
	Delegation           TeamDelegation     `json:"delegation,omitempty"`
	Session              SessionSettings    `json:"session,omitempty"`
}

// Federated reports whether the profile's authoritative content comes from a
// remote config source.
func (p TeamProfile) Federated() bool { return p.ConfigSource != nil }

// Trust gates what a federated team profile may introduce.
type Trust struct {
	InheritOrgMarketplaces      bool     `json:"inherit_org_marketplaces,omitempty"`
	AllowAdditionalMarketplaces bool     `json:"allow_additional_marketplaces,omitempty"`
	MarketplaceSourcePatterns   []string `json:"marketplace_source_patterns,omitempty"`
}

// TeamDelegation is what a team grants its projects.
type TeamDelegation struct {
	AllowProjectOverrides bool `json:"allow_project_overrides,omitempty"`
}

// MCP transport kinds.
const (
	TransportStdio = "stdio"
	TransportHTTP  = "http"
	TransportSSE   = "sse"
)

// MCPServer describes an MCP server a layer wants enabled.
type MCPServer struct {
	Name      string            `json:"name"`
	Transport string            `json:"transport"` // stdio, http, sse
	Command   string            `json:"command,omitempty"`
	Args      []string          `json:"args,omitempty"`
	URL       string            `json:"url,omitempty"`
	Env       map[string]string `json:"env,omitempty"`
	Headers   map[string]string `json:"headers,omitempty"`
}

// SafetyNet actions.
const (
	SafetyNetBlock = "block"
	SafetyNetWarn  = "warn"
	SafetyNetAllow = "allow"
)

// SafetyNet is the org's in-sandbox guardrail config, mounted read-only into
// every container when present.
type SafetyNet struct {
	Action string         `json:"action,omitempty"`
	Rules  map[string]any `json:"rules,omitempty"`
}

// Enabled reports whether a safety-net config should be injected.
func (s SafetyNet) Enabled() bool { return s.Action != "" }

// Security holds the org's hard blocks. These cannot be overridden by teams
// or projects, only by policy-scope exceptions.
type Security struct {
	BlockedPlugins            []string  `json:"blocked_plugins,omitempty"`
	BlockedMCPServers         []string  `json:"blocked_mcp_servers,omitempty"`
	BlockedBaseImages         []string  `json:"blocked_base_images,omitempty"`
	AllowStdioMCP             bool      `json:"allow_stdio_mcp,omitempty"`
	AllowedStdioPrefixes      []string  `json:"allowed_stdio_prefixes,omitempty"`
	SafetyNet                 SafetyNet `json:"safety_net,omitempty"`
	BlockImplicitMarketplaces bool      `json:"block_implicit_marketplaces,omitempty"`
}

// Delegation declares what teams may add.
type Delegation struct {
	Teams TeamsDelegation `json:"teams,omitempty"`
}

// TeamsDelegation lists team names (wildcard * allowed) per capability.
type TeamsDelegation struct {
	AllowAdditionalPlugins      []string `json:"allow_additional_plugins,omitempty"`
	AllowAdditionalMCPServers   []string `json:"allow_additional_mcp_servers,omitempty"`
	AllowAdditionalMarketplaces []string `json:"allow_additional_marketplaces,omitempty"`
}

// teamListed reports whether team is named in list, honoring the * wildcard.
func teamListed(team string, list []string) bool {
	for _, t := range list {
		if t == "*" || t == team {
			return true
		}
	}
	return false
}

// PluginsDelegated reports whether a team may add plugins.
func (d Delegation) PluginsDelegated(team string) bool {
	return teamListed(team, d.Teams.AllowAdditionalPlugins)
}

// MCPServersDelegated reports whether a team may add MCP servers.
func (d Delegation) MCPServersDelegated(team string) bool {
	return teamListed(team, d.Teams.AllowAdditionalMCPServers)
}

// MarketplacesDelegated reports whether a team may add marketplaces.
func (d Delegation) MarketplacesDelegated(team string) bool {
	return teamListed(team, d.Teams.AllowAdditionalMarketplaces)
}

// MarketplaceNames returns the org's declared marketplace names.
func (c *Config) MarketplaceNames() []string {
	names := make([]string, 0, len(c.Marketplaces))
	for name := range c.Marketplaces {
		names = append(names, name)
	}
	return names
}

// Profile returns the named team profile.
func (c *Config) Profile(team string) (TeamProfile, bool) {
	p, ok := c.Profiles[team]
	return p, ok
}

// Validate checks cross-field invariants that the JSON schema cannot
// express, mainly per-source requirements and HTTPS enforcement.
func (c *Config) Validate() error {
	if c.Organization.Name == "" {
		return fmt.Errorf("organization.name is required")
	}
	for name, entry := range c.Marketplaces {
		if err := entry.Source.Validate(name); err != nil {
			return err
		}
	}
	for team, profile := range c.Profiles {
		if profile.ConfigSource != nil {
			if err := profile.ConfigSource.Validate("profiles." + team + ".config_source"); err != nil {
				return err
			}
		}
		for i, srv := range profile.AdditionalMCPServers {
			if err := validateMCPServer(fmt.Sprintf("profiles.%s.additional_mcp_servers[%d]", team, i), srv); err != nil {
				return err
			}
		}
	}
	switch c.Security.SafetyNet.Action {
	case "", SafetyNetBlock, SafetyNetWarn, SafetyNetAllow:
	default:
		return fmt.Errorf("security.safety_net.action must be block, warn, or allow")
	}
	return nil
}

func validateMCPServer(prefix string, srv MCPServer) error {
	if srv.Name == "" {
		return fmt.Errorf("%s: name is required", prefix)
	}
	switch srv.Transport {
	case TransportStdio:
		if srv.Command == "" {
			return fmt.Errorf("%s: stdio transport requires command", prefix)
		}
	case TransportHTTP, TransportSSE:
		if srv.URL == "" {
			return fmt.Errorf("%s: %s transport requires url", prefix, srv.Transport)
		}
		if !strings.HasPrefix(srv.URL, "https://") {
			return fmt.Errorf("%s: url must use HTTPS", prefix)
		}
	case "":
		return fmt.Errorf("%s: transport is required", prefix)
	default:
		return fmt.Errorf("%s: unknown transport %q", prefix, srv.Transport)
	}
	return nil
}
