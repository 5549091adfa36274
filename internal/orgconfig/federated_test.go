package orgconfig

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func federatedOrg(trust Trust) *Config {
	return &Config{
		Organization: OrgMeta{Name: "acme"},
		Marketplaces: map[string]MarketplaceEntry{
			"internal": {Source: MarketplaceSource{Type: SourceGitHub, Repo: "acme/plugins"}},
		},
		Profiles: map[string]TeamProfile{
			"fed-team": {
				AdditionalPlugins: []string{"stale@internal"},
				ConfigSource:      &MarketplaceSource{Type: SourceURL, URL: "https://teams.example.com/fed.json"},
				Trust:             trust,
			},
		},
	}
}

func TestApplyFederatedReplacesProfileContent(t *testing.T) {
	cfg := federatedOrg(Trust{InheritOrgMarketplaces: true})
	doc := []byte(`{
		"additional_plugins": ["deploy-kit@internal"],
		"disabled_plugins": ["stale"],
		"extra_marketplaces": ["internal"]
	}`)

	warnings, err := cfg.ApplyFederated("fed-team", doc)
	require.NoError(t, err)
	assert.Empty(t, warnings)

	profile := cfg.Profiles["fed-team"]
	assert.Equal(t, []string{"deploy-kit@internal"}, profile.AdditionalPlugins)
	assert.Equal(t, []string{"stale"}, profile.DisabledPlugins)
	assert.Equal(t, []string{"internal"}, profile.ExtraMarketplaces)
}

func TestApplyFederatedIgnoresNonFederatedTeams(t *testing.T) {
	cfg := federatedOrg(Trust{})
	cfg.Profiles["plain"] = TeamProfile{AdditionalPlugins: []string{"kept@internal"}}

	warnings, err := cfg.ApplyFederated("plain", []byte(`{"additional_plugins":["other@internal"]}`))
	require.NoError(t, err)
	assert.Empty(t, warnings)
	assert.Equal(t, []string{"kept@internal"}, cfg.Profiles["plain"].AdditionalPlugins)
}

func TestApplyFederatedMarketplaceNeedsTrust(t *testing.T) {
	cfg := federatedOrg(Trust{})
	doc := []byte(`{
		"marketplaces": {"team-mkt": {"source": {"source": "github", "repo": "fed/plugins"}}}
	}`)

	warnings, err := cfg.ApplyFederated("fed-team", doc)
	require.NoError(t, err)
	require.Len(t, warnings, 1)
	assert.Contains(t, warnings[0], "does not allow additional marketplaces")
	assert.NotContains(t, cfg.Marketplaces, "team-mkt")
}

func TestApplyFederatedMarketplaceSourcePatterns(t *testing.T) {
	trust := Trust{
		AllowAdditionalMarketplaces: true,
		MarketplaceSourcePatterns:   []string{"fed/*"},
	}
	cfg := federatedOrg(trust)
	doc := []byte(`{
		"marketplaces": {
			"trusted":   {"source": {"source": "github", "repo": "fed/plugins"}},
			"untrusted": {"source": {"source": "github", "repo": "evil/plugins"}}
		},
		"extra_marketplaces": ["trusted", "untrusted"]
	}`)

	warnings, err := cfg.ApplyFederated("fed-team", doc)
	require.NoError(t, err)
	require.Len(t, warnings, 1)
	assert.Contains(t, warnings[0], "untrusted")

	assert.Contains(t, cfg.Marketplaces, "trusted")
	assert.NotContains(t, cfg.Marketplaces, "untrusted")
	assert.Equal(t, []string{"trusted"}, cfg.Profiles["fed-team"].ExtraMarketplaces)
}

func TestApplyFederatedCannotShadowOrgMarketplace(t *testing.T) {
	cfg := federatedOrg(Trust{AllowAdditionalMarketplaces: true})
	doc := []byte(`{
		"marketplaces": {"internal": {"source": {"source": "github", "repo": "fed/impostor"}}}
	}`)

	_, err := cfg.ApplyFederated("fed-team", doc)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "redeclares org marketplace")
	assert.Equal(t, "acme/plugins", cfg.Marketplaces["internal"].Source.Repo)
}

func TestApplyFederatedOrgMarketplacesNeedInherit(t *testing.T) {
	cfg := federatedOrg(Trust{})
	doc := []byte(`{"extra_marketplaces": ["internal"]}`)

	warnings, err := cfg.ApplyFederated("fed-team", doc)
	require.NoError(t, err)
	require.Len(t, warnings, 1)
	assert.Contains(t, warnings[0], "inherit_org_marketplaces")
	assert.Empty(t, cfg.Profiles["fed-team"].ExtraMarketplaces)
}

func TestApplyFederatedValidatesMCPServers(t *testing.T) {
	cfg := federatedOrg(Trust{})
	doc := []byte(`{
		"additional_mcp_servers": [{"name": "broken", "transport": "http", "url": "http://insecure.example.com"}]
	}`)

	_, err := cfg.ApplyFederated("fed-team", doc)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HTTPS")
}

func TestApplyFederatedRejectsMalformedDocument(t *testing.T) {
	cfg := federatedOrg(Trust{})
	_, err := cfg.ApplyFederated("fed-team", []byte(`{"additional_plugins": "not-a-list"`))
	assert.Error(t, err)
}

func TestFetchProfileSourceFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fed.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"additional_plugins":[]}`), 0o644))

	l := NewLoader(filepath.Join(t.TempDir(), "c"), filepath.Join(t.TempDir(), "m"))
	body, err := l.FetchProfileSource(context.Background(), MarketplaceSource{Type: SourceFile, Path: path}, "")
	require.NoError(t, err)
	assert.JSONEq(t, `{"additional_plugins":[]}`, string(body))
}

func TestFetchProfileSourceURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"disabled_plugins":["x"]}`))
	}))
	defer srv.Close()

	l := NewLoader(filepath.Join(t.TempDir(), "c"), filepath.Join(t.TempDir(), "m"))
	body, err := l.FetchProfileSource(context.Background(), MarketplaceSource{Type: SourceURL, URL: srv.URL}, "")
	require.NoError(t, err)
	assert.JSONEq(t, `{"disabled_plugins":["x"]}`, string(body))
}

func TestFetchProfileSourceRejectsRepoShapedSources(t *testing.T) {
	l := NewLoader(filepath.Join(t.TempDir(), "c"), filepath.Join(t.TempDir(), "m"))
	_, err := l.FetchProfileSource(context.Background(), MarketplaceSource{Type: SourceGitHub, Repo: "a/b"}, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "url or file")
}
