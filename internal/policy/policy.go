// Package policy computes the effective configuration for a launch. It
// merges the organization, team, and project layers in a fixed order,
// enforcing security blocks, delegation, and time-bounded exceptions, and
// records every retention or removal decision for explainability.
package policy

import (
	"sort"
	"time"

	"github.com/scc-tools/scc/internal/cmderr"
	"github.com/scc-tools/scc/internal/exception"
	"github.com/scc-tools/scc/internal/orgconfig"
	"github.com/scc-tools/scc/internal/pluginref"
	"github.com/scc-tools/scc/internal/project"
)

// Layer identifies where a decision originated.
const (
	LayerOrg     = "org"
	LayerTeam    = "team"
	LayerProject = "project"
)

// Block records a security block applied to a plugin, MCP server, or image.
type Block struct {
	Ref     string `json:"ref"`
	Pattern string `json:"pattern"`
	Layer   string `json:"layer"`
}

// Denial kinds. Local-scope exceptions may only clear delegation denials.
const (
	DenyNotAllowed    = "not-allowed"
	DenyDelegation    = "delegation"
	DenyStdioDisabled = "stdio-disabled"
	DenyStdioPrefix   = "stdio-prefix"
	DenyNormalization = "normalization"
)

// Denial records a per-item refusal that is not a security block.
type Denial struct {
	Ref    string `json:"ref"`
	Kind   string `json:"kind"`
	Reason string `json:"reason"`
}

// Decision is one append-only provenance record.
type Decision struct {
	Field  string `json:"field"`
	Value  string `json:"value"`
	Source string `json:"source"`
}

// EffectiveConfig is the policy-resolved configuration for a single launch.
type EffectiveConfig struct {
	Team              string
	Enabled           []pluginref.Ref
	Blocked           []Block
	Denied            []Denial
	ExtraMarketplaces []string
	MCPServers        []orgconfig.MCPServer
	Decisions         []Decision
	ExceptionsApplied []string
	Session           orgconfig.SessionSettings
	// ImageBlock is set when the launch image matched a blocked_base_images
	// pattern with no applicable exception.
	ImageBlock *Block
	Warnings   []string
}

// Input bundles the layers consulted by Compute.
type Input struct {
	Org        *orgconfig.Config
	Team       string
	Project    *project.Config
	Exceptions []exception.Exception
	Image      string
	Now        time.Time
}

// enabledEntry tracks a candidate plugin with its source layer.
type enabledEntry struct {
	ref    pluginref.Ref
	source string
	layer  string
}

// Compute runs the effective-config pipeline. Errors in the early stages
// (normalization of the org and team plugin lists, the allowed-set filter)
// are fatal; later stages record per-item blocks and denials instead.
func Compute(in Input) (*EffectiveConfig, error) {
	org := in.Org
	if org == nil {
		return nil, cmderr.New(cmderr.KindState, "policy compute requires an org config")
	}
	now := in.Now
	if now.IsZero() {
		now = time.Now()
	}

	profile, _ := org.Profile(in.Team)
	marketplaces := org.MarketplaceNames()
	blockImplicit := org.Security.BlockImplicitMarketplaces
	eff := &EffectiveConfig{Team: in.Team}
	exceptionsSeen := map[string]bool{}
	noteException := func(id string) {
		if !exceptionsSeen[id] {
			exceptionsSeen[id] = true
			eff.ExceptionsApplied = append(eff.ExceptionsApplied, id)
		}
	}

	// Steps 1-2: normalize org defaults and team additions; union.
	// Normalization failures here are fatal: invalid refs must fail early.
	var entries []enabledEntry
	for _, raw := range org.Defaults.EnabledPlugins {
		ref, err := pluginref.Normalize(raw, marketplaces, blockImplicit)
		if err != nil {
			return nil, err
		}
		entries = appendEntry(entries, enabledEntry{ref: ref, source: "org.defaults", layer: LayerOrg})
	}
	teamDelegatedPlugins := org.Delegation.PluginsDelegated(in.Team)
	for _, raw := range profile.AdditionalPlugins {
		ref, err := pluginref.Normalize(raw, marketplaces, blockImplicit)
		if err != nil {
			return nil, err
		}
		entries = appendEntry(entries, enabledEntry{ref: ref, source: "team." + in.Team, layer: LayerTeam})
	}

	// Step 3: team disabled_plugins patterns remove entries.
	entries = filterEntries(entries, func(e enabledEntry) bool {
		if pat, ok := pluginref.MatchAny(e.ref, profile.DisabledPlugins); ok {
			eff.decide("disabled_plugins", e.ref.String()+" removed by "+pat, "team."+in.Team)
			return false
		}
		return true
	})

	// Step 4: allowed_plugins retains only matching entries.
	if len(org.Defaults.AllowedPlugins) > 0 {
		entries = filterEntries(entries, func(e enabledEntry) bool {
			if _, ok := pluginref.MatchAny(e.ref, org.Defaults.AllowedPlugins); ok {
				return true
			}
			eff.deny(e.ref.String(), DenyNotAllowed, "not in allowed set")
			return false
		})
	}

	// Step 5: delegation. Team additions need the team delegated; project
	// additions additionally need allow_project_overrides. Failures here are
	// per-item denials, never aborts.
	entries = filterEntries(entries, func(e enabledEntry) bool {
		if e.layer == LayerTeam && !teamDelegatedPlugins {
			eff.deny(e.ref.String(), DenyDelegation,
				"team "+in.Team+" is not delegated to add plugins")
			return false
		}
		return true
	})
	projectDelegated := teamDelegatedPlugins && profile.Delegation.AllowProjectOverrides
	if in.Project != nil {
		for _, raw := range in.Project.AdditionalPlugins {
			ref, err := pluginref.Normalize(raw, marketplaces, blockImplicit)
			if err != nil {
				eff.deny(raw, DenyNormalization, err.Error())
				continue
			}
			if !projectDelegated {
				reason := "team " + in.Team + " does not grant project overrides"
				if !teamDelegatedPlugins {
					reason = "team " + in.Team + " is not delegated to add plugins"
				}
				eff.deny(ref.String(), DenyDelegation, reason)
				continue
			}
			entries = appendEntry(entries, enabledEntry{ref: ref, source: "project", layer: LayerProject})
		}
	}

	// Step 6: org security blocks.
	entries = filterEntries(entries, func(e enabledEntry) bool {
		if pat, ok := pluginref.MatchAny(e.ref, org.Security.BlockedPlugins); ok {
			eff.Blocked = append(eff.Blocked, Block{Ref: e.ref.String(), Pattern: pat, Layer: LayerOrg})
			eff.decide("blocked_plugins", e.ref.String()+" blocked by "+pat, LayerOrg)
			return false
		}
		return true
	})

	// Step 7: exception overlay. Policy scope clears any block or denial;
	// local scope clears delegation denials only.
	for _, scope := range []exception.Scope{exception.ScopePolicy, exception.ScopeLocal} {
		for _, exc := range exception.FilterScope(in.Exceptions, scope) {
			if scope == exception.ScopePolicy {
				eff.Blocked = filterBlocks(eff.Blocked, func(b Block) bool {
					ref := mustParseRef(b.Ref)
					if exc.AllowsPlugin(ref, now) {
						entries = appendEntry(entries, enabledEntry{ref: ref, source: "exception." + exc.ID, layer: LayerOrg})
						noteException(exc.ID)
						eff.decide("exception", b.Ref+" unblocked by "+exc.ID, LayerOrg)
						return false
					}
					return true
				})
			}
			eff.Denied = filterDenials(eff.Denied, func(d Denial) bool {
				if d.Kind != DenyDelegation && scope == exception.ScopeLocal {
					return true
				}
				if d.Kind != DenyDelegation && d.Kind != DenyNotAllowed {
					return true
				}
				ref := mustParseRef(d.Ref)
				if !exc.AllowsPlugin(ref, now) {
					return true
				}
				// A cleared denial re-admits the entry past the step-6
				// filter, so the security blocks must be re-checked here.
				// Only a policy-scope exception may clear those.
				if scope == exception.ScopeLocal {
					if pat, ok := pluginref.MatchAny(ref, org.Security.BlockedPlugins); ok {
						eff.Blocked = append(eff.Blocked, Block{Ref: ref.String(), Pattern: pat, Layer: LayerOrg})
						eff.decide("blocked_plugins", ref.String()+" blocked by "+pat, LayerOrg)
						noteException(exc.ID)
						return false
					}
				}
				entries = appendEntry(entries, enabledEntry{ref: ref, source: "exception." + exc.ID, layer: LayerOrg})
				noteException(exc.ID)
				eff.decide("exception", d.Ref+" allowed by "+exc.ID, LayerOrg)
				return false
			})
		}
	}

	// Steps 8-9: MCP servers with the stdio gate and block patterns.
	// Delegation denials here yield to any-scope exceptions, matching the
	// plugin overlay above.
	mcpExcepted := func(name string) (string, bool) {
		for _, exc := range in.Exceptions {
			if exc.AllowsMCPServer(name, now) {
				return exc.ID, true
			}
		}
		return "", false
	}
	var servers []orgconfig.MCPServer
	mcpDelegated := org.Delegation.MCPServersDelegated(in.Team)
	for _, srv := range profile.AdditionalMCPServers {
		if !mcpDelegated {
			if id, ok := mcpExcepted(srv.Name); ok {
				noteException(id)
			} else {
				eff.deny(srv.Name, DenyDelegation, "team "+in.Team+" is not delegated to add MCP servers")
				continue
			}
		}
		servers = append(servers, srv)
	}
	if in.Project != nil {
		projectMCPAllowed := mcpDelegated && profile.Delegation.AllowProjectOverrides
		for _, srv := range in.Project.OrgMCPServers() {
			if !projectMCPAllowed {
				if id, ok := mcpExcepted(srv.Name); ok {
					noteException(id)
				} else {
					eff.deny(srv.Name, DenyDelegation, "project MCP servers are not delegated for team "+in.Team)
					continue
				}
			}
			servers = append(servers, srv)
		}
	}
	for _, srv := range servers {
		if keep := eff.gateMCPServer(srv, org.Security, in.Exceptions, now, noteException); keep {
			eff.MCPServers = append(eff.MCPServers, srv)
			eff.decide("mcp_servers", srv.Name, "team."+in.Team)
		}
	}

	// Image block for the chosen launch image. Security blocks yield only to
	// policy-scope exceptions.
	if in.Image != "" {
		if pat, ok := pluginref.MatchImage(in.Image, org.Security.BlockedBaseImages); ok {
			cleared := false
			for _, exc := range exception.FilterScope(in.Exceptions, exception.ScopePolicy) {
				if exc.AllowsBaseImage(in.Image, now) {
					noteException(exc.ID)
					cleared = true
					break
				}
			}
			if !cleared {
				eff.ImageBlock = &Block{Ref: pluginref.NormalizeImageRef(in.Image), Pattern: pat, Layer: LayerOrg}
			}
		}
	}

	// Extra marketplaces: org defaults always; team additions when delegated.
	extras := map[string]bool{}
	for _, name := range org.Defaults.ExtraMarketplaces {
		extras[name] = true
	}
	if len(profile.ExtraMarketplaces) > 0 {
		if org.Delegation.MarketplacesDelegated(in.Team) {
			for _, name := range profile.ExtraMarketplaces {
				extras[name] = true
			}
		} else {
			for _, name := range profile.ExtraMarketplaces {
				eff.deny(name, DenyDelegation, "team "+in.Team+" is not delegated to add marketplaces")
			}
		}
	}
	eff.ExtraMarketplaces = sortedKeys(extras)

	// Session settings: last-wins, project over team over defaults.
	eff.Session = mergeSession(org.Defaults.Session, profile.Session, in.Project)

	// Finalize enabled set with stable ordering and per-ref decisions.
	sort.Slice(entries, func(i, j int) bool { return entries[i].ref.String() < entries[j].ref.String() })
	for _, e := range entries {
		eff.Enabled = append(eff.Enabled, e.ref)
		eff.decide("enabled_plugins", e.ref.String(), e.source)
	}

	// Surface the metadata_only credentials caveat at explain time.
	for name, entry := range org.Marketplaces {
		if entry.Source.Type == orgconfig.SourceURL &&
			entry.Source.MaterializationMode() == orgconfig.MaterializeMetadataOnly {
			eff.Warnings = append(eff.Warnings,
				"marketplace "+name+" is metadata_only: the agent will need credentials inside the sandbox to fetch its plugins")
		}
	}
	sort.Strings(eff.Warnings)

	return eff, nil
}

// gateMCPServer applies the stdio gate and the blocked_mcp_servers patterns.
// Returns true when the server survives.
func (eff *EffectiveConfig) gateMCPServer(srv orgconfig.MCPServer, sec orgconfig.Security,
	excs []exception.Exception, now time.Time, noteException func(string)) bool {

	if srv.Transport == orgconfig.TransportStdio {
		if !sec.AllowStdioMCP {
			eff.deny(srv.Name, DenyStdioDisabled, "stdio disabled")
			return false
		}
		if len(sec.AllowedStdioPrefixes) > 0 {
			ok, err := commandUnderPrefixes(srv.Command, sec.AllowedStdioPrefixes)
			if err != nil || !ok {
				eff.deny(srv.Name, DenyStdioPrefix, "path outside allowed prefix")
				return false
			}
		}
		return true
	}

	// HTTP/SSE: match server name and URL host against block patterns.
	candidates := []string{srv.Name}
	if host := urlHost(srv.URL); host != "" {
		candidates = append(candidates, host)
	}
	for _, cand := range candidates {
		if pat, ok := pluginref.MatchStringAny(cand, sec.BlockedMCPServers); ok {
			for _, exc := range exception.FilterScope(excs, exception.ScopePolicy) {
				if exc.AllowsMCPServer(srv.Name, now) {
					noteException(exc.ID)
					return true
				}
			}
			eff.Blocked = append(eff.Blocked, Block{Ref: srv.Name, Pattern: pat, Layer: LayerOrg})
			eff.decide("blocked_mcp_servers", srv.Name+" blocked by "+pat, LayerOrg)
			return false
		}
	}
	return true
}

func (eff *EffectiveConfig) decide(field, value, source string) {
	eff.Decisions = append(eff.Decisions, Decision{Field: field, Value: value, Source: source})
}

func (eff *EffectiveConfig) deny(ref, kind, reason string) {
	eff.Denied = append(eff.Denied, Denial{Ref: ref, Kind: kind, Reason: reason})
	eff.decide("denied", ref+": "+reason, LayerOrg)
}

// RequiredMarketplaces returns the marketplace names the materializer must
// provide: those referenced by enabled plugins plus the extra set. The
// implicit marketplace is excluded; it is never materialized.
func (eff *EffectiveConfig) RequiredMarketplaces() []string {
	set := map[string]bool{}
	for _, ref := range eff.Enabled {
		if ref.Marketplace != pluginref.ImplicitMarketplace {
			set[ref.Marketplace] = true
		}
	}
	for _, name := range eff.ExtraMarketplaces {
		set[name] = true
	}
	return sortedKeys(set)
}

// IsBlocked reports whether a canonical ref appears in the blocked list.
func (eff *EffectiveConfig) IsBlocked(ref string) bool {
	for _, b := range eff.Blocked {
		if b.Ref == ref {
			return true
		}
	}
	return false
}

func appendEntry(entries []enabledEntry, e enabledEntry) []enabledEntry {
	for _, existing := range entries {
		if existing.ref.String() == e.ref.String() {
			return entries
		}
	}
	return append(entries, e)
}

func filterEntries(entries []enabledEntry, keep func(enabledEntry) bool) []enabledEntry {
	out := entries[:0]
	for _, e := range entries {
		if keep(e) {
			out = append(out, e)
		}
	}
	return out
}

func filterBlocks(blocks []Block, keep func(Block) bool) []Block {
	out := blocks[:0]
	for _, b := range blocks {
		if keep(b) {
			out = append(out, b)
		}
	}
	return out
}

func filterDenials(denials []Denial, keep func(Denial) bool) []Denial {
	out := denials[:0]
	for _, d := range denials {
		if keep(d) {
			out = append(out, d)
		}
	}
	return out
}

func mergeSession(defaults, team orgconfig.SessionSettings, proj *project.Config) orgconfig.SessionSettings {
	out := defaults
	if team.TimeoutHours > 0 {
		out.TimeoutHours = team.TimeoutHours
	}
	if team.ExpectedDurationHours > 0 {
		out.ExpectedDurationHours = team.ExpectedDurationHours
	}
	if team.AutoResume != nil {
		out.AutoResume = team.AutoResume
	}
	if proj != nil {
		if proj.Session.TimeoutHours > 0 {
			out.TimeoutHours = proj.Session.TimeoutHours
		}
		if proj.Session.AutoResume != nil {
			out.AutoResume = proj.Session.AutoResume
		}
	}
	return out
}

func sortedKeys(set map[string]bool) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// mustParseRef reconstructs a Ref from its canonical form. Blocked and
// denied lists only ever hold canonical forms produced by Normalize.
func mustParseRef(canonical string) pluginref.Ref {
	for i := len(canonical) - 1; i >= 0; i-- {
		if canonical[i] == '@' {
			return pluginref.Ref{Name: canonical[:i], Marketplace: canonical[i+1:]}
		}
	}
	return pluginref.Ref{Name: canonical}
}
