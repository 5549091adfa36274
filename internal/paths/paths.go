// Package paths centralizes the on-disk layout for scc state: user config
// and cache directories, and the workspace-anchored files the sandbox must
// be able to see.
package paths

import (
	"os"
	"path/filepath"
)

// Workspace-anchored names. Everything under .claude/ must remain valid
// inside the container, where the workspace is the working directory.
const (
	ProjectConfigName    = ".scc.yaml"
	ProjectDirName       = ".scc"
	ClaudeDirName        = ".claude"
	SettingsFileName     = "settings.local.json"
	ManagedStateFileName = ".scc-managed.json"
	MarketplacesDirName  = ".scc-marketplaces"
	ManifestFileName     = ".manifest.json"
	MarketplaceManifest  = "marketplace.json"
	PluginMetaDirName    = ".claude-plugin"
)

// UserConfigDir returns the scc config directory (~/.scc by default,
// SCC_CONFIG_DIR overrides it for tests and unusual setups).
func UserConfigDir() string {
	if dir := os.Getenv("SCC_CONFIG_DIR"); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".scc")
	}
	return filepath.Join(home, ".scc")
}

// UserCacheDir returns the scc cache directory (~/.scc/cache by default,
// SCC_CACHE_DIR overrides it).
func UserCacheDir() string {
	if dir := os.Getenv("SCC_CACHE_DIR"); dir != "" {
		return dir
	}
	return filepath.Join(UserConfigDir(), "cache")
}

// DebugLogDir returns the directory for debug log files.
func DebugLogDir() string {
	return filepath.Join(UserConfigDir(), "logs")
}

// UserConfigFile is the path of the user config (org URL, team, auth spec).
func UserConfigFile() string {
	return filepath.Join(UserConfigDir(), "config.json")
}

// SessionsFile is the append-only session log.
func SessionsFile() string {
	return filepath.Join(UserConfigDir(), "sessions.jsonl")
}

// UserExceptionsFile holds user-scope exceptions.
func UserExceptionsFile() string {
	return filepath.Join(UserConfigDir(), "exceptions.json")
}

// OrgConfigCacheFile is the cached remote org config body.
func OrgConfigCacheFile() string {
	return filepath.Join(UserCacheDir(), "org_config.json")
}

// CacheMetaFile holds ETag and timestamp metadata for cached fetches.
func CacheMetaFile() string {
	return filepath.Join(UserCacheDir(), "cache_meta.json")
}

// ContextsFile is the work-context list.
func ContextsFile() string {
	return filepath.Join(UserCacheDir(), "contexts.json")
}

// UsageFile is the append-only session usage event log.
func UsageFile() string {
	return filepath.Join(UserCacheDir(), "usage.jsonl")
}

// ClaudeDir returns <workspace>/.claude.
func ClaudeDir(workspace string) string {
	return filepath.Join(workspace, ClaudeDirName)
}

// SettingsFile returns <workspace>/.claude/settings.local.json.
func SettingsFile(workspace string) string {
	return filepath.Join(ClaudeDir(workspace), SettingsFileName)
}

// ManagedStateFile returns <workspace>/.claude/.scc-managed.json.
func ManagedStateFile(workspace string) string {
	return filepath.Join(ClaudeDir(workspace), ManagedStateFileName)
}

// MarketplacesDir returns <workspace>/.claude/.scc-marketplaces.
func MarketplacesDir(workspace string) string {
	return filepath.Join(ClaudeDir(workspace), MarketplacesDirName)
}

// MarketplacesRelDir is the workspace-relative marketplace cache path as it
// must appear in emitted settings.
func MarketplacesRelDir() string {
	return filepath.Join(ClaudeDirName, MarketplacesDirName)
}

// RepoExceptionsFile returns <workspace>/.scc/exceptions.json.
func RepoExceptionsFile(workspace string) string {
	return filepath.Join(workspace, ProjectDirName, "exceptions.json")
}

// LocksDir returns the directory for advisory lock files.
func LocksDir() string {
	return filepath.Join(UserConfigDir(), "locks")
}
