// Package pluginref normalizes plugin references and matches them against
// org policy patterns. A fully resolved reference always names its
// marketplace: "name@marketplace". Matching is case-insensitive under
// Unicode casefold with shell-style globs.
package pluginref

import (
	"path"
	"sort"
	"strings"

	"golang.org/x/text/cases"

	"github.com/scc-tools/scc/internal/cmderr"
)

// ImplicitMarketplace is the built-in marketplace that is always available
// and never materialized as a directory source.
const ImplicitMarketplace = "claude-plugins-official"

// Ref is a normalized plugin reference. Name and Marketplace keep their
// original case for display; matching operations fold them.
type Ref struct {
	Name        string
	Marketplace string
}

// String renders the canonical form.
func (r Ref) String() string {
	return r.Name + "@" + r.Marketplace
}

// IsZero reports whether the ref is empty.
func (r Ref) IsZero() bool {
	return r.Name == "" && r.Marketplace == ""
}

var fold = cases.Fold()

// Normalize resolves a raw plugin reference against the org's marketplace
// set. orgMarketplaces are the names declared in the org config; the
// implicit marketplace never counts toward the single-marketplace
// auto-assume rule. blockImplicit mirrors security.block_implicit_marketplaces.
func Normalize(raw string, orgMarketplaces []string, blockImplicit bool) (Ref, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return Ref{}, cmderr.New(cmderr.KindConfig, "empty plugin reference")
	}

	var name, marketplace string
	switch {
	case strings.HasPrefix(s, "@"):
		// @marketplace/name
		rest := s[1:]
		slash := strings.Index(rest, "/")
		if slash < 0 {
			return Ref{}, cmderr.Newf(cmderr.KindConfig,
				"invalid plugin reference %q: expected @marketplace/name", raw)
		}
		marketplace, name = rest[:slash], rest[slash+1:]
		if marketplace == "" || name == "" {
			return Ref{}, cmderr.Newf(cmderr.KindConfig,
				"invalid plugin reference %q: empty name or marketplace", raw)
		}
	case strings.Contains(s, "@"):
		// name@marketplace, split on the last @ so names may contain @
		at := strings.LastIndex(s, "@")
		name, marketplace = s[:at], s[at+1:]
		if name == "" || marketplace == "" {
			return Ref{}, cmderr.Newf(cmderr.KindConfig,
				"invalid plugin reference %q: empty name or marketplace", raw)
		}
	default:
		var err error
		marketplace, err = assumeMarketplace(raw, orgMarketplaces, blockImplicit)
		if err != nil {
			return Ref{}, err
		}
		name = s
	}

	if err := validateMarketplace(raw, marketplace, orgMarketplaces, blockImplicit); err != nil {
		return Ref{}, err
	}

	return Ref{Name: name, Marketplace: marketplace}, nil
}

// assumeMarketplace applies the single-marketplace auto-assume rule for bare
// references.
func assumeMarketplace(raw string, orgMarketplaces []string, blockImplicit bool) (string, error) {
	switch {
	case len(orgMarketplaces) == 1:
		return orgMarketplaces[0], nil
	case len(orgMarketplaces) == 0 && !blockImplicit:
		return ImplicitMarketplace, nil
	default:
		available := append([]string(nil), orgMarketplaces...)
		sort.Strings(available)
		return "", cmderr.Newf(cmderr.KindConfig,
			"ambiguous plugin reference %q: available marketplaces are %s",
			raw, strings.Join(available, ", ")).
			WithAction("qualify the reference as name@marketplace")
	}
}

func validateMarketplace(raw, marketplace string, orgMarketplaces []string, blockImplicit bool) error {
	folded := fold.String(marketplace)
	for _, m := range orgMarketplaces {
		if fold.String(m) == folded {
			return nil
		}
	}
	if folded == fold.String(ImplicitMarketplace) {
		if blockImplicit {
			return cmderr.Newf(cmderr.KindPolicy,
				"plugin %q uses implicit marketplace %s, which is blocked by org policy",
				raw, ImplicitMarketplace)
		}
		return nil
	}
	return cmderr.Newf(cmderr.KindConfig,
		"plugin %q references unknown marketplace %q", raw, marketplace).
		WithAction("check the marketplace name against the org config")
}

// Matches reports whether the ref matches a policy pattern. Patterns
// containing @ compare the full name@marketplace form; bare patterns compare
// the name only. Globs use shell syntax (*, ?, []). Comparison is
// case-insensitive under Unicode casefold.
func Matches(ref Ref, pattern string) bool {
	var candidate string
	if strings.Contains(pattern, "@") {
		candidate = ref.String()
	} else {
		candidate = ref.Name
	}
	return globMatch(pattern, candidate)
}

// MatchAny returns the first pattern matching the ref, preserving the input
// order for deterministic explainability.
func MatchAny(ref Ref, patterns []string) (string, bool) {
	for _, p := range patterns {
		if Matches(ref, p) {
			return p, true
		}
	}
	return "", false
}

// MatchString matches a plain string (MCP server name, URL host) against a
// pattern under the same casefolded glob semantics.
func MatchString(s, pattern string) bool {
	return globMatch(pattern, s)
}

// MatchStringAny returns the first pattern matching s.
func MatchStringAny(s string, patterns []string) (string, bool) {
	for _, p := range patterns {
		if MatchString(s, p) {
			return p, true
		}
	}
	return "", false
}

func globMatch(pattern, s string) bool {
	ok, err := path.Match(fold.String(pattern), fold.String(s))
	// Malformed patterns never match; matching must be total.
	return err == nil && ok
}
