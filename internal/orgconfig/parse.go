package orgconfig

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/scc-tools/scc/internal/cmderr"
)

//go:embed schemas/org_config_schema.json
var orgConfigSchema string

var (
	schemaOnce     sync.Once
	compiledSchema *jsonschema.Schema
	schemaErr      error
)

func getCompiledSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		var doc any
		if err := json.Unmarshal([]byte(orgConfigSchema), &doc); err != nil {
			schemaErr = fmt.Errorf("parsing embedded org config schema: %w", err)
			return
		}
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource("scc://org-config-schema.json", doc); err != nil {
			schemaErr = fmt.Errorf("adding schema resource: %w", err)
			return
		}
		compiledSchema, schemaErr = compiler.Compile("scc://org-config-schema.json")
	})
	return compiledSchema, schemaErr
}

// Parse decodes, schema-validates, and invariant-checks an org config body.
func Parse(data []byte) (*Config, error) {
	schema, err := getCompiledSchema()
	if err != nil {
		return nil, cmderr.Wrap(cmderr.KindState, err, "org config schema unavailable")
	}

	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, cmderr.Wrap(cmderr.KindConfig, err, "org config is not valid JSON")
	}
	if err := schema.Validate(doc); err != nil {
		return nil, cmderr.Wrap(cmderr.KindConfig, err, "org config failed schema validation").
			WithAction("fix the org config against the documented schema")
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, cmderr.Wrap(cmderr.KindConfig, err, "decoding org config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, cmderr.Wrap(cmderr.KindConfig, err, "invalid org config")
	}
	return &cfg, nil
}
