package policy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scc-tools/scc/internal/exception"
	"github.com/scc-tools/scc/internal/orgconfig"
	"github.com/scc-tools/scc/internal/pluginref"
	"github.com/scc-tools/scc/internal/project"
)

func baseOrg() *orgconfig.Config {
	return &orgconfig.Config{
		Organization: orgconfig.OrgMeta{Name: "acme"},
		Marketplaces: map[string]orgconfig.MarketplaceEntry{
			"internal": {Source: orgconfig.MarketplaceSource{Type: orgconfig.SourceGitHub, Repo: "acme/plugins"}},
			"partner":  {Source: orgconfig.MarketplaceSource{Type: orgconfig.SourceGitHub, Repo: "partner/plugins"}},
		},
		Defaults: orgconfig.Defaults{
			EnabledPlugins: []string{"linter@internal", "formatter@internal"},
		},
		Profiles: map[string]orgconfig.TeamProfile{
			"app-team": {
				AdditionalPlugins: []string{"api-tools@partner"},
			},
		},
		Delegation: orgconfig.Delegation{
			Teams: orgconfig.TeamsDelegation{
				AllowAdditionalPlugins: []string{"app-team"},
			},
		},
	}
}

func testExc(id string, scope exception.Scope, allow exception.AllowList, now time.Time) exception.Exception {
	return exception.Exception{
		ID:        id,
		Scope:     scope,
		CreatedAt: now.Add(-time.Hour),
		ExpiresAt: now.Add(time.Hour),
		Allow:     allow,
	}
}

func enabledRefs(eff *EffectiveConfig) []string {
	var out []string
	for _, r := range eff.Enabled {
		out = append(out, r.String())
	}
	return out
}

func TestComputeUnionsLayersSorted(t *testing.T) {
	eff, err := Compute(Input{Org: baseOrg(), Team: "app-team"})
	require.NoError(t, err)
	assert.Equal(t, []string{
		"api-tools@partner",
		"formatter@internal",
		"linter@internal",
	}, enabledRefs(eff))
	assert.Empty(t, eff.Blocked)
	assert.Empty(t, eff.Denied)
}

func TestComputeInvalidDefaultRefIsFatal(t *testing.T) {
	org := baseOrg()
	org.Defaults.EnabledPlugins = append(org.Defaults.EnabledPlugins, "tool@nonexistent")
	_, err := Compute(Input{Org: org, Team: "app-team"})
	assert.Error(t, err)
}

func TestDisabledPluginsRemoveEntries(t *testing.T) {
	org := baseOrg()
	profile := org.Profiles["app-team"]
	profile.DisabledPlugins = []string{"formatter"}
	org.Profiles["app-team"] = profile

	eff, err := Compute(Input{Org: org, Team: "app-team"})
	require.NoError(t, err)
	assert.NotContains(t, enabledRefs(eff), "formatter@internal")
	assert.Contains(t, enabledRefs(eff), "linter@internal")
}

func TestAllowedPluginsDeniesOutsiders(t *testing.T) {
	org := baseOrg()
	org.Defaults.AllowedPlugins = []string{"*@internal"}

	eff, err := Compute(Input{Org: org, Team: "app-team"})
	require.NoError(t, err)
	assert.NotContains(t, enabledRefs(eff), "api-tools@partner")
	require.Len(t, eff.Denied, 1)
	assert.Equal(t, "api-tools@partner", eff.Denied[0].Ref)
	assert.Equal(t, DenyNotAllowed, eff.Denied[0].Kind)
}

func TestNonDelegatedTeamAdditionsAreDeniedNotBlocked(t *testing.T) {
	org := baseOrg()
	org.Delegation.Teams.AllowAdditionalPlugins = nil

	eff, err := Compute(Input{Org: org, Team: "app-team"})
	require.NoError(t, err)
	assert.NotContains(t, enabledRefs(eff), "api-tools@partner")
	assert.Empty(t, eff.Blocked, "delegation failures are denials, not security blocks")
	require.Len(t, eff.Denied, 1)
	assert.Equal(t, DenyDelegation, eff.Denied[0].Kind)
}

func TestDelegationWildcard(t *testing.T) {
	org := baseOrg()
	org.Delegation.Teams.AllowAdditionalPlugins = []string{"*"}

	eff, err := Compute(Input{Org: org, Team: "app-team"})
	require.NoError(t, err)
	assert.Contains(t, enabledRefs(eff), "api-tools@partner")
}

func TestProjectAdditionsRequireOverrideGrant(t *testing.T) {
	proj := &project.Config{AdditionalPlugins: []string{"extra@internal"}}

	// No allow_project_overrides on the team profile.
	eff, err := Compute(Input{Org: baseOrg(), Team: "app-team", Project: proj})
	require.NoError(t, err)
	assert.NotContains(t, enabledRefs(eff), "extra@internal")
	require.Len(t, eff.Denied, 1)
	assert.Equal(t, DenyDelegation, eff.Denied[0].Kind)

	org := baseOrg()
	profile := org.Profiles["app-team"]
	profile.Delegation.AllowProjectOverrides = true
	org.Profiles["app-team"] = profile

	eff, err = Compute(Input{Org: org, Team: "app-team", Project: proj})
	require.NoError(t, err)
	assert.Contains(t, enabledRefs(eff), "extra@internal")
}

func TestSecurityBlockRecordsPatternAndLayer(t *testing.T) {
	org := baseOrg()
	org.Defaults.EnabledPlugins = append(org.Defaults.EnabledPlugins, "crypto-miner@internal")
	org.Security.BlockedPlugins = []string{"crypto-*"}

	eff, err := Compute(Input{Org: org, Team: "app-team"})
	require.NoError(t, err)
	assert.NotContains(t, enabledRefs(eff), "crypto-miner@internal")
	require.Len(t, eff.Blocked, 1)
	assert.Equal(t, "crypto-miner@internal", eff.Blocked[0].Ref)
	assert.Equal(t, "crypto-*", eff.Blocked[0].Pattern)
	assert.Equal(t, LayerOrg, eff.Blocked[0].Layer)
}

func TestPolicyExceptionClearsSecurityBlock(t *testing.T) {
	now := time.Now()
	org := baseOrg()
	org.Defaults.EnabledPlugins = append(org.Defaults.EnabledPlugins, "crypto-analyzer@internal")
	org.Security.BlockedPlugins = []string{"crypto-*"}

	exc := testExc("exc_pol", exception.ScopePolicy,
		exception.AllowList{Plugins: []string{"crypto-analyzer@internal"}}, now)

	eff, err := Compute(Input{Org: org, Team: "app-team", Exceptions: []exception.Exception{exc}, Now: now})
	require.NoError(t, err)
	assert.Contains(t, enabledRefs(eff), "crypto-analyzer@internal")
	assert.Empty(t, eff.Blocked)
	assert.Equal(t, []string{"exc_pol"}, eff.ExceptionsApplied)
}

func TestLocalExceptionCannotClearSecurityBlock(t *testing.T) {
	now := time.Now()
	org := baseOrg()
	org.Defaults.EnabledPlugins = append(org.Defaults.EnabledPlugins, "crypto-analyzer@internal")
	org.Security.BlockedPlugins = []string{"crypto-*"}

	exc := testExc("exc_loc", exception.ScopeLocal,
		exception.AllowList{Plugins: []string{"crypto-analyzer@internal"}}, now)

	eff, err := Compute(Input{Org: org, Team: "app-team", Exceptions: []exception.Exception{exc}, Now: now})
	require.NoError(t, err)
	assert.Len(t, eff.Blocked, 1, "local scope never clears security blocks")
	assert.Empty(t, eff.ExceptionsApplied)
}

func TestLocalExceptionClearsDelegationDenial(t *testing.T) {
	now := time.Now()
	org := baseOrg()
	org.Delegation.Teams.AllowAdditionalPlugins = nil

	exc := testExc("exc_loc", exception.ScopeLocal,
		exception.AllowList{Plugins: []string{"api-tools@partner"}}, now)

	eff, err := Compute(Input{Org: org, Team: "app-team", Exceptions: []exception.Exception{exc}, Now: now})
	require.NoError(t, err)
	assert.Contains(t, enabledRefs(eff), "api-tools@partner")
	assert.Empty(t, eff.Denied)
	assert.Equal(t, []string{"exc_loc"}, eff.ExceptionsApplied)
}

func TestClearedDelegationDenialStaysSecurityBlocked(t *testing.T) {
	now := time.Now()
	org := baseOrg()
	org.Security.BlockedPlugins = []string{"crypto-*"}
	org.Delegation.Teams.AllowAdditionalPlugins = nil
	profile := org.Profiles["app-team"]
	profile.AdditionalPlugins = []string{"crypto-analyzer@internal"}
	org.Profiles["app-team"] = profile

	exc := testExc("exc_loc", exception.ScopeLocal,
		exception.AllowList{Plugins: []string{"crypto-analyzer@internal"}}, now)

	eff, err := Compute(Input{Org: org, Team: "app-team", Exceptions: []exception.Exception{exc}, Now: now})
	require.NoError(t, err)
	assert.NotContains(t, enabledRefs(eff), "crypto-analyzer@internal",
		"local exception clears the delegation denial but never the security block")
	require.Len(t, eff.Blocked, 1)
	assert.Equal(t, "crypto-analyzer@internal", eff.Blocked[0].Ref)
	assert.Equal(t, "crypto-*", eff.Blocked[0].Pattern)
	assert.Equal(t, LayerOrg, eff.Blocked[0].Layer)
}

func TestPolicyExceptionClearsDenialPastSecurityBlock(t *testing.T) {
	now := time.Now()
	org := baseOrg()
	org.Security.BlockedPlugins = []string{"crypto-*"}
	org.Delegation.Teams.AllowAdditionalPlugins = nil
	profile := org.Profiles["app-team"]
	profile.AdditionalPlugins = []string{"crypto-analyzer@internal"}
	org.Profiles["app-team"] = profile

	exc := testExc("exc_pol", exception.ScopePolicy,
		exception.AllowList{Plugins: []string{"crypto-analyzer@internal"}}, now)

	eff, err := Compute(Input{Org: org, Team: "app-team", Exceptions: []exception.Exception{exc}, Now: now})
	require.NoError(t, err)
	assert.Contains(t, enabledRefs(eff), "crypto-analyzer@internal")
	assert.Empty(t, eff.Blocked)
}

func TestExpiredExceptionHasNoEffect(t *testing.T) {
	now := time.Now()
	org := baseOrg()
	org.Security.BlockedPlugins = []string{"linter"}

	exc := exception.Exception{
		ID: "exc_old", Scope: exception.ScopePolicy,
		CreatedAt: now.Add(-2 * time.Hour), ExpiresAt: now.Add(-time.Hour),
		Allow: exception.AllowList{Plugins: []string{"linter@internal"}},
	}

	eff, err := Compute(Input{Org: org, Team: "app-team", Exceptions: []exception.Exception{exc}, Now: now})
	require.NoError(t, err)
	assert.Len(t, eff.Blocked, 1)
	assert.Empty(t, eff.ExceptionsApplied)
}

func TestStdioDisabledDeniesServer(t *testing.T) {
	org := baseOrg()
	profile := org.Profiles["app-team"]
	profile.AdditionalMCPServers = []orgconfig.MCPServer{
		{Name: "local-tool", Transport: orgconfig.TransportStdio, Command: "/usr/local/bin/tool"},
	}
	org.Profiles["app-team"] = profile
	org.Delegation.Teams.AllowAdditionalMCPServers = []string{"app-team"}

	eff, err := Compute(Input{Org: org, Team: "app-team"})
	require.NoError(t, err)
	assert.Empty(t, eff.MCPServers)
	require.Len(t, eff.Denied, 1)
	assert.Equal(t, DenyStdioDisabled, eff.Denied[0].Kind)
}

func TestStdioPrefixTraversalDenied(t *testing.T) {
	org := baseOrg()
	org.Security.AllowStdioMCP = true
	org.Security.AllowedStdioPrefixes = []string{"/usr/local/bin"}
	org.Delegation.Teams.AllowAdditionalMCPServers = []string{"app-team"}
	profile := org.Profiles["app-team"]
	profile.AdditionalMCPServers = []orgconfig.MCPServer{
		{Name: "sneaky", Transport: orgconfig.TransportStdio, Command: "/usr/local/bin/../etc/passwd"},
		{Name: "honest", Transport: orgconfig.TransportStdio, Command: "/usr/local/bin/tool"},
	}
	org.Profiles["app-team"] = profile

	eff, err := Compute(Input{Org: org, Team: "app-team"})
	require.NoError(t, err)
	require.Len(t, eff.MCPServers, 1)
	assert.Equal(t, "honest", eff.MCPServers[0].Name)
	require.Len(t, eff.Denied, 1)
	assert.Equal(t, "sneaky", eff.Denied[0].Ref)
	assert.Equal(t, DenyStdioPrefix, eff.Denied[0].Kind)
	assert.Equal(t, "path outside allowed prefix", eff.Denied[0].Reason)
}

func TestHTTPServerBlockedByNameOrHost(t *testing.T) {
	org := baseOrg()
	org.Security.BlockedMCPServers = []string{"*.badhost.example", "evil-*"}
	org.Delegation.Teams.AllowAdditionalMCPServers = []string{"app-team"}
	profile := org.Profiles["app-team"]
	profile.AdditionalMCPServers = []orgconfig.MCPServer{
		{Name: "search", Transport: orgconfig.TransportHTTP, URL: "https://api.badhost.example/mcp"},
		{Name: "evil-scanner", Transport: orgconfig.TransportHTTP, URL: "https://ok.example/mcp"},
		{Name: "fine", Transport: orgconfig.TransportHTTP, URL: "https://ok.example/mcp"},
	}
	org.Profiles["app-team"] = profile

	eff, err := Compute(Input{Org: org, Team: "app-team"})
	require.NoError(t, err)
	require.Len(t, eff.MCPServers, 1)
	assert.Equal(t, "fine", eff.MCPServers[0].Name)
	assert.Len(t, eff.Blocked, 2)
}

func TestMCPDelegationDenialClearedByException(t *testing.T) {
	now := time.Now()
	org := baseOrg()
	org.Security.AllowStdioMCP = true
	profile := org.Profiles["app-team"]
	profile.AdditionalMCPServers = []orgconfig.MCPServer{
		{Name: "search", Transport: orgconfig.TransportHTTP, URL: "https://ok.example/mcp"},
	}
	org.Profiles["app-team"] = profile

	exc := testExc("exc_mcp", exception.ScopeLocal,
		exception.AllowList{MCPServers: []string{"search"}}, now)

	eff, err := Compute(Input{Org: org, Team: "app-team", Exceptions: []exception.Exception{exc}, Now: now})
	require.NoError(t, err)
	require.Len(t, eff.MCPServers, 1)
	assert.Equal(t, []string{"exc_mcp"}, eff.ExceptionsApplied)
}

func TestImageBlock(t *testing.T) {
	now := time.Now()
	org := baseOrg()
	org.Security.BlockedBaseImages = []string{"sketchy/*"}

	eff, err := Compute(Input{Org: org, Team: "app-team", Image: "sketchy/base", Now: now})
	require.NoError(t, err)
	require.NotNil(t, eff.ImageBlock)
	assert.Equal(t, "sketchy/base:latest", eff.ImageBlock.Ref, "untagged images are checked as :latest")

	exc := testExc("exc_img", exception.ScopePolicy,
		exception.AllowList{BaseImages: []string{"sketchy/*"}}, now)
	eff, err = Compute(Input{Org: org, Team: "app-team", Image: "sketchy/base",
		Exceptions: []exception.Exception{exc}, Now: now})
	require.NoError(t, err)
	assert.Nil(t, eff.ImageBlock)
	assert.Equal(t, []string{"exc_img"}, eff.ExceptionsApplied)
}

func TestExtraMarketplacesDelegation(t *testing.T) {
	org := baseOrg()
	org.Defaults.ExtraMarketplaces = []string{"internal"}
	profile := org.Profiles["app-team"]
	profile.ExtraMarketplaces = []string{"partner"}
	org.Profiles["app-team"] = profile

	eff, err := Compute(Input{Org: org, Team: "app-team"})
	require.NoError(t, err)
	assert.Equal(t, []string{"internal"}, eff.ExtraMarketplaces)
	require.NotEmpty(t, eff.Denied)
	assert.Equal(t, DenyDelegation, eff.Denied[0].Kind)

	org.Delegation.Teams.AllowAdditionalMarketplaces = []string{"*"}
	eff, err = Compute(Input{Org: org, Team: "app-team"})
	require.NoError(t, err)
	assert.Equal(t, []string{"internal", "partner"}, eff.ExtraMarketplaces)
}

func TestSessionSettingsLastWins(t *testing.T) {
	auto := true
	org := baseOrg()
	org.Defaults.Session = orgconfig.SessionSettings{TimeoutHours: 8, AutoResume: &auto}
	profile := org.Profiles["app-team"]
	profile.Session = orgconfig.SessionSettings{TimeoutHours: 6}
	profile.Delegation.AllowProjectOverrides = true
	org.Profiles["app-team"] = profile

	proj := &project.Config{Session: project.Session{TimeoutHours: 4}}

	eff, err := Compute(Input{Org: org, Team: "app-team", Project: proj})
	require.NoError(t, err)
	assert.Equal(t, 4, eff.Session.TimeoutHours)
	require.NotNil(t, eff.Session.AutoResume)
	assert.True(t, *eff.Session.AutoResume)
}

func TestRequiredMarketplacesExcludesImplicit(t *testing.T) {
	org := baseOrg()
	delete(org.Marketplaces, "partner")
	profile := org.Profiles["app-team"]
	profile.AdditionalPlugins = []string{"helper@claude-plugins-official"}
	org.Profiles["app-team"] = profile

	eff, err := Compute(Input{Org: org, Team: "app-team"})
	require.NoError(t, err)
	assert.Contains(t, enabledRefs(eff), "helper@"+pluginref.ImplicitMarketplace)
	assert.Equal(t, []string{"internal"}, eff.RequiredMarketplaces(),
		"the implicit marketplace is never materialized")
}

func TestMetadataOnlyWarning(t *testing.T) {
	org := baseOrg()
	org.Marketplaces["remote"] = orgconfig.MarketplaceEntry{
		Source: orgconfig.MarketplaceSource{
			Type:            orgconfig.SourceURL,
			URL:             "https://plugins.example/marketplace.json",
			Materialization: orgconfig.MaterializeMetadataOnly,
		},
	}

	eff, err := Compute(Input{Org: org, Team: "app-team"})
	require.NoError(t, err)
	require.Len(t, eff.Warnings, 1)
	assert.Contains(t, eff.Warnings[0], "metadata_only")
}

func TestDecisionsRecordProvenance(t *testing.T) {
	eff, err := Compute(Input{Org: baseOrg(), Team: "app-team"})
	require.NoError(t, err)

	sources := map[string]string{}
	for _, d := range eff.Decisions {
		if d.Field == "enabled_plugins" {
			sources[d.Value] = d.Source
		}
	}
	assert.Equal(t, "org.defaults", sources["linter@internal"])
	assert.Equal(t, "team.app-team", sources["api-tools@partner"])
}
