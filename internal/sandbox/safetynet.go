package sandbox

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/scc-tools/scc/internal/orgconfig"
)

// WriteSafetyNet stages the org safety-net config as a host temp file for
// the read-only container mount. The cleanup func removes the file once the
// session ends.
func WriteSafetyNet(cfg orgconfig.SafetyNet) (path string, cleanup func(), err error) {
	if !cfg.Enabled() {
		return "", func() {}, nil
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return "", nil, fmt.Errorf("marshaling safety-net config: %w", err)
	}
	f, err := os.CreateTemp("", "scc-safety-net-*.json")
	if err != nil {
		return "", nil, fmt.Errorf("staging safety-net config: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", nil, fmt.Errorf("writing safety-net config: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", nil, err
	}
	name := f.Name()
	return name, func() { _ = os.Remove(name) }, nil
}
