package settings

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"
)

const managedStateVersion = 1

// ManagedState records which settings entries the tool owns. It lives next
// to the settings file; a missing state file means nothing is managed yet.
type ManagedState struct {
	Version             int       `json:"version"`
	Team                string    `json:"team,omitempty"`
	LastUpdated         time.Time `json:"last_updated"`
	ManagedPlugins      []string  `json:"managed_plugins,omitempty"`
	ManagedMarketplaces []string  `json:"managed_marketplaces,omitempty"`
}

// LoadManagedState reads the sidecar state file. Missing or unreadable state
// reads as empty: the worst outcome is leaving a stale managed entry behind,
// never touching a user entry.
func LoadManagedState(path string) ManagedState {
	data, err := os.ReadFile(path)
	if err != nil {
		return ManagedState{Version: managedStateVersion}
	}
	var st ManagedState
	if err := json.Unmarshal(data, &st); err != nil {
		return ManagedState{Version: managedStateVersion}
	}
	return st
}

// Merge applies the fragment to the settings file at settingsPath:
//
//  1. Entries named by the previous managed state are removed.
//  2. The fragment's entries are overlaid.
//  3. Containers left empty are pruned.
//
// Everything else in the file is preserved byte-for-byte semantically, so
// user-added plugins, marketplaces, and unrelated keys survive re-renders.
// Both the settings file and the state file are written atomically. The
// operation is idempotent: merging the same fragment twice yields the same
// file.
func Merge(settingsPath, statePath string, frag Fragment, team string, now time.Time) error {
	doc := map[string]any{}
	if data, err := os.ReadFile(settingsPath); err == nil {
		if err := json.Unmarshal(data, &doc); err != nil {
			return fmt.Errorf("parsing %s: %w", filepath.Base(settingsPath), err)
		}
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("reading settings: %w", err)
	}

	prev := LoadManagedState(statePath)

	plugins := subMap(doc, "enabledPlugins")
	for _, key := range prev.ManagedPlugins {
		delete(plugins, key)
	}
	for key := range frag.EnabledPlugins {
		plugins[key] = true
	}
	setOrPrune(doc, "enabledPlugins", plugins)

	markets := subMap(doc, "extraKnownMarketplaces")
	for _, key := range prev.ManagedMarketplaces {
		delete(markets, key)
	}
	for name, cfg := range frag.ExtraKnownMarketplaces {
		markets[name] = marketplaceValue(cfg)
	}
	setOrPrune(doc, "extraKnownMarketplaces", markets)

	if err := writeJSONAtomic(settingsPath, doc); err != nil {
		return err
	}

	next := ManagedState{
		Version:             managedStateVersion,
		Team:                team,
		LastUpdated:         now.UTC(),
		ManagedPlugins:      sortedMapKeys(frag.EnabledPlugins),
		ManagedMarketplaces: sortedConfigKeys(frag.ExtraKnownMarketplaces),
	}
	return writeJSONAtomic(statePath, next)
}

// subMap returns the named object from doc, empty when absent or not an
// object. A user value of the wrong type is replaced rather than merged;
// there is nothing sensible to preserve inside it.
func subMap(doc map[string]any, key string) map[string]any {
	if m, ok := doc[key].(map[string]any); ok {
		return m
	}
	return map[string]any{}
}

func setOrPrune(doc map[string]any, key string, m map[string]any) {
	if len(m) == 0 {
		delete(doc, key)
		return
	}
	doc[key] = m
}

// marketplaceValue converts the typed config to the generic form used in the
// settings document, keeping merged output shape-identical to fresh output.
func marketplaceValue(cfg MarketplaceConfig) map[string]any {
	return map[string]any{
		"source": map[string]any{
			"source": cfg.Source.Source,
			"path":   cfg.Source.Path,
		},
	}
}

func writeJSONAtomic(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating settings directory: %w", err)
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling %s: %w", filepath.Base(path), err)
	}
	data = append(data, '\n')
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", filepath.Base(path), err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("renaming %s: %w", filepath.Base(path), err)
	}
	return nil
}

func sortedMapKeys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func sortedConfigKeys(m map[string]MarketplaceConfig) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
