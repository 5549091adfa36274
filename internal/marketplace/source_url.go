package marketplace

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/scc-tools/scc/internal/cmderr"
	"github.com/scc-tools/scc/internal/log"
	"github.com/scc-tools/scc/internal/orgconfig"
)

// fetchURL materializes a url source. The catalog is fetched with the
// configured headers (values may reference host environment variables as
// ${VAR}); depending on the materialization mode, plugin artifacts
// referenced by URL are pulled down too and the catalog rewritten to point
// at the local copies.
func (m *Materializer) fetchURL(ctx context.Context, dst string, src orgconfig.MarketplaceSource) (etag string, err error) {
	headers, err := expandHeaders(src.Headers)
	if err != nil {
		return "", err
	}

	body, etag, err := m.get(ctx, src.URL, headers)
	if err != nil {
		return "", err
	}

	manifest, err := ParseManifest(body)
	if err != nil {
		return "", err
	}

	mode := src.MaterializationMode()
	if mode != orgconfig.MaterializeMetadataOnly {
		body, err = m.localizePlugins(ctx, dst, body, manifest, headers, mode)
		if err != nil {
			return "", err
		}
	}

	return etag, writeManifestFile(dst, body)
}

// localizePlugins downloads URL-sourced plugin artifacts into
// <dst>/plugins/<name>/ and rewrites their catalog sources to relative
// paths. In self_contained mode any fetch failure is fatal; best_effort
// keeps the original remote source for plugins it could not fetch.
func (m *Materializer) localizePlugins(ctx context.Context, dst string, body []byte, manifest *Manifest, headers map[string]string, mode string) ([]byte, error) {
	var doc map[string]any
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("decoding catalog for rewrite: %w", err)
	}
	plugins, _ := doc["plugins"].([]any)

	for i, p := range manifest.Plugins {
		remote := pluginURL(p.Source)
		if remote == "" {
			continue
		}
		rel := path.Join("plugins", p.Name)
		if err := m.fetchArtifact(ctx, filepath.Join(dst, filepath.FromSlash(rel)), remote, headers); err != nil {
			if mode == orgconfig.MaterializeBestEffort {
				log.Warn("keeping remote source for plugin", "plugin", p.Name, "error", err)
				continue
			}
			return nil, fmt.Errorf("fetching plugin %q: %w", p.Name, err)
		}
		if i < len(plugins) {
			if entry, ok := plugins[i].(map[string]any); ok {
				entry["source"] = "./" + rel
			}
		}
	}

	return json.MarshalIndent(doc, "", "  ")
}

// pluginURL extracts a remote URL from a raw plugin source, empty when the
// source is local or absent.
func pluginURL(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if strings.HasPrefix(s, "https://") {
			return s
		}
		return ""
	}
	var obj struct {
		Source string `json:"source"`
		URL    string `json:"url"`
	}
	if err := json.Unmarshal(raw, &obj); err != nil {
		return ""
	}
	if obj.Source == "url" || obj.URL != "" {
		return obj.URL
	}
	return ""
}

// fetchArtifact downloads one plugin artifact. Tarballs are unpacked in
// place; anything else lands as a single file named after the URL.
func (m *Materializer) fetchArtifact(ctx context.Context, dir, remote string, headers map[string]string) error {
	body, _, err := m.get(ctx, remote, headers)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	if isTarball(remote) {
		return untarInto(dir, body)
	}
	u, err := url.Parse(remote)
	if err != nil {
		return err
	}
	name := path.Base(u.Path)
	if name == "" || name == "/" || name == "." {
		name = "artifact"
	}
	return os.WriteFile(filepath.Join(dir, name), body, 0o644)
}

func isTarball(remote string) bool {
	return strings.HasSuffix(remote, ".tgz") || strings.HasSuffix(remote, ".tar.gz")
}

// get performs a GET with context and headers, returning body and ETag.
func (m *Materializer) get(ctx context.Context, rawURL string, headers map[string]string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, "", err
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := m.Client.Do(req)
	if err != nil {
		return nil, "", cmderr.Wrap(cmderr.KindNetwork, err, "fetching "+rawURL)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, "", cmderr.Newf(cmderr.KindNetwork, "fetching %s: HTTP %d", rawURL, resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 128<<20))
	if err != nil {
		return nil, "", cmderr.Wrap(cmderr.KindNetwork, err, "reading "+rawURL)
	}
	return body, resp.Header.Get("ETag"), nil
}

// expandHeaders substitutes ${VAR} references from the host environment.
// Unset variables are an error: a silently empty auth header produces
// confusing 401s much later.
func expandHeaders(headers map[string]string) (map[string]string, error) {
	if len(headers) == 0 {
		return nil, nil
	}
	out := make(map[string]string, len(headers))
	for k, v := range headers {
		var missing string
		expanded := os.Expand(v, func(name string) string {
			val, ok := os.LookupEnv(name)
			if !ok {
				missing = name
			}
			return val
		})
		if missing != "" {
			return nil, cmderr.Newf(cmderr.KindConfig,
				"header %q references unset environment variable %s", k, missing).
				WithAction("export " + missing + " before launching")
		}
		out[k] = expanded
	}
	return out, nil
}
