// Package marketplace materializes plugin marketplaces into the workspace so
// the agent can load plugins without network access or credentials inside
// the sandbox. Every marketplace becomes a directory under
// .claude/.scc-marketplaces/<name> with a validated
// .claude-plugin/marketplace.json and a .manifest.json sidecar recording
// where it came from.
package marketplace

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/scc-tools/scc/internal/paths"
)

//go:embed schemas/marketplace_schema.json
var schemaFS embed.FS

var (
	schemaOnce sync.Once
	schema     *jsonschema.Schema
	schemaErr  error
)

func compiledSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		data, err := schemaFS.ReadFile("schemas/marketplace_schema.json")
		if err != nil {
			schemaErr = err
			return
		}
		doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
		if err != nil {
			schemaErr = err
			return
		}
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource("scc://marketplace-schema.json", doc); err != nil {
			schemaErr = err
			return
		}
		schema, schemaErr = compiler.Compile("scc://marketplace-schema.json")
	})
	return schema, schemaErr
}

// Owner identifies who maintains a marketplace.
type Owner struct {
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
	URL   string `json:"url,omitempty"`
}

// Plugin is one marketplace catalog entry. Source is kept raw: it may be a
// relative-path string or a typed object, and self-contained materialization
// rewrites it wholesale.
type Plugin struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Version     string          `json:"version,omitempty"`
	Source      json.RawMessage `json:"source,omitempty"`
}

// Manifest is the marketplace.json catalog.
type Manifest struct {
	Name    string   `json:"name"`
	Owner   *Owner   `json:"owner,omitempty"`
	Plugins []Plugin `json:"plugins"`
}

// ParseManifest validates raw bytes against the marketplace schema and
// decodes them.
func ParseManifest(data []byte) (*Manifest, error) {
	s, err := compiledSchema()
	if err != nil {
		return nil, fmt.Errorf("loading marketplace schema: %w", err)
	}
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("parsing marketplace.json: %w", err)
	}
	if err := s.Validate(doc); err != nil {
		return nil, fmt.Errorf("invalid marketplace.json: %w", err)
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decoding marketplace.json: %w", err)
	}
	return &m, nil
}

// PluginNames lists the catalog's plugin names in declaration order.
func (m *Manifest) PluginNames() []string {
	out := make([]string, 0, len(m.Plugins))
	for _, p := range m.Plugins {
		out = append(out, p.Name)
	}
	return out
}

// manifestPath returns <dir>/.claude-plugin/marketplace.json.
func manifestPath(dir string) string {
	return filepath.Join(dir, paths.PluginMetaDirName, paths.MarketplaceManifest)
}

// ValidateLayout checks that a materialized directory carries a
// schema-valid catalog, returning it.
func ValidateLayout(dir string) (*Manifest, error) {
	data, err := os.ReadFile(manifestPath(dir))
	if err != nil {
		return nil, fmt.Errorf("materialized marketplace is missing %s/%s: %w",
			paths.PluginMetaDirName, paths.MarketplaceManifest, err)
	}
	return ParseManifest(data)
}

// writeManifestFile writes a catalog into a materialization directory.
func writeManifestFile(dir string, data []byte) error {
	metaDir := filepath.Join(dir, paths.PluginMetaDirName)
	if err := os.MkdirAll(metaDir, 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", paths.PluginMetaDirName, err)
	}
	return os.WriteFile(manifestPath(dir), data, 0o644)
}
