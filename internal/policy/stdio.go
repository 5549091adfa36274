package policy

import (
	"net/url"
	"path/filepath"
	"strings"
)

// commandUnderPrefixes reports whether a stdio command binary resolves under
// one of the allowed prefixes. The path is made absolute, cleaned, and
// symlink-resolved before comparison so that ../ segments and symlinks cannot
// escape a prefix.
func commandUnderPrefixes(command string, prefixes []string) (bool, error) {
	abs, err := filepath.Abs(command)
	if err != nil {
		return false, err
	}
	resolved := filepath.Clean(abs)
	if real, err := filepath.EvalSymlinks(resolved); err == nil {
		resolved = real
	}
	for _, prefix := range prefixes {
		p := filepath.Clean(prefix)
		if resolved == p || strings.HasPrefix(resolved, p+string(filepath.Separator)) {
			return true, nil
		}
	}
	return false, nil
}

// urlHost extracts the host from a server URL, empty on parse failure.
func urlHost(raw string) string {
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return u.Hostname()
}
