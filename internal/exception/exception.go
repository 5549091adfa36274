// Package exception stores time-bounded policy overrides. Local-scope
// exceptions may only clear delegation denials; policy-scope exceptions,
// committed to the config repo, may clear any block.
package exception

import (
	"fmt"
	"time"

	"github.com/scc-tools/scc/internal/id"
	"github.com/scc-tools/scc/internal/pluginref"
)

// Scope determines what an exception may override.
type Scope string

const (
	// ScopeLocal is user- or repo-stored; covers delegation denials only.
	ScopeLocal Scope = "local"
	// ScopePolicy is committed to the config repo; covers any block.
	ScopePolicy Scope = "policy"
)

// AllowList names what an exception permits.
type AllowList struct {
	Plugins    []string `json:"plugins,omitempty"`
	MCPServers []string `json:"mcp_servers,omitempty"`
	BaseImages []string `json:"base_images,omitempty"`
}

// Exception is one time-bounded override.
type Exception struct {
	ID        string    `json:"id"`
	Scope     Scope     `json:"scope"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
	Reason    string    `json:"reason,omitempty"`
	Allow     AllowList `json:"allow"`
}

// Active reports whether the exception is in effect at now.
func (e Exception) Active(now time.Time) bool {
	return now.Before(e.ExpiresAt)
}

// AllowsPlugin reports whether the exception's plugin allow-list covers ref.
func (e Exception) AllowsPlugin(ref pluginref.Ref, now time.Time) bool {
	if !e.Active(now) {
		return false
	}
	_, ok := pluginref.MatchAny(ref, e.Allow.Plugins)
	return ok
}

// AllowsMCPServer reports whether the exception covers the named MCP server.
func (e Exception) AllowsMCPServer(name string, now time.Time) bool {
	if !e.Active(now) {
		return false
	}
	_, ok := pluginref.MatchStringAny(name, e.Allow.MCPServers)
	return ok
}

// AllowsBaseImage reports whether the exception covers the image ref.
func (e Exception) AllowsBaseImage(image string, now time.Time) bool {
	if !e.Active(now) {
		return false
	}
	_, ok := pluginref.MatchImage(image, e.Allow.BaseImages)
	return ok
}

// Validate checks the time-bound invariant and scope.
func (e Exception) Validate() error {
	if e.ID == "" {
		return fmt.Errorf("exception is missing an id")
	}
	if e.Scope != ScopeLocal && e.Scope != ScopePolicy {
		return fmt.Errorf("exception %s: invalid scope %q", e.ID, e.Scope)
	}
	if !e.ExpiresAt.After(e.CreatedAt) {
		return fmt.Errorf("exception %s: expires_at must be after created_at", e.ID)
	}
	return nil
}

// New builds a validated exception with a generated ID.
func New(scope Scope, ttl time.Duration, reason string, allow AllowList) (Exception, error) {
	now := time.Now().UTC()
	e := Exception{
		ID:        id.Exception(),
		Scope:     scope,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
		Reason:    reason,
		Allow:     allow,
	}
	if err := e.Validate(); err != nil {
		return Exception{}, err
	}
	return e, nil
}

// FilterScope returns the exceptions with the given scope.
func FilterScope(excs []Exception, scope Scope) []Exception {
	var out []Exception
	for _, e := range excs {
		if e.Scope == scope {
			out = append(out, e)
		}
	}
	return out
}
