// Package doctor runs environment diagnostics: is Docker reachable, is git
// installed, does the org config load. Each concern registers a Check; the
// CLI renders the results.
package doctor

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"

	"github.com/scc-tools/scc/internal/paths"
)

// Level classifies a check outcome.
type Level int

const (
	OK Level = iota
	Warn
	Fail
)

func (l Level) String() string {
	switch l {
	case OK:
		return "ok"
	case Warn:
		return "warn"
	default:
		return "fail"
	}
}

// Result is one check's outcome.
type Result struct {
	Name   string
	Level  Level
	Detail string
	// Action suggests a fix for warn/fail results.
	Action string
}

// Check probes one aspect of the environment.
type Check interface {
	Name() string
	Run(ctx context.Context) Result
}

// Registry holds registered checks in run order.
type Registry struct {
	checks []Check
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Register appends a check.
func (r *Registry) Register(c Check) {
	r.checks = append(r.checks, c)
}

// RunAll executes every check and returns the results in order.
func (r *Registry) RunAll(ctx context.Context) []Result {
	results := make([]Result, 0, len(r.checks))
	for _, c := range r.checks {
		results = append(results, c.Run(ctx))
	}
	return results
}

// Healthy reports whether no result failed.
func Healthy(results []Result) bool {
	for _, res := range results {
		if res.Level == Fail {
			return false
		}
	}
	return true
}

// Print writes results in a stable text form.
func Print(w io.Writer, results []Result) {
	for _, res := range results {
		fmt.Fprintf(w, "%-6s %s", "["+res.Level.String()+"]", res.Name)
		if res.Detail != "" {
			fmt.Fprintf(w, ": %s", res.Detail)
		}
		fmt.Fprintln(w)
		if res.Action != "" && res.Level != OK {
			fmt.Fprintf(w, "      -> %s\n", res.Action)
		}
	}
}

// CheckFunc adapts a function to the Check interface.
type CheckFunc struct {
	CheckName string
	Fn        func(ctx context.Context) Result
}

func (c CheckFunc) Name() string { return c.CheckName }

func (c CheckFunc) Run(ctx context.Context) Result { return c.Fn(ctx) }

// GitCheck verifies the git binary is on PATH.
func GitCheck() Check {
	return CheckFunc{CheckName: "git", Fn: func(ctx context.Context) Result {
		path, err := exec.LookPath("git")
		if err != nil {
			return Result{Name: "git", Level: Fail,
				Detail: "git not found on PATH",
				Action: "install git"}
		}
		out, err := exec.CommandContext(ctx, "git", "--version").Output()
		if err != nil {
			return Result{Name: "git", Level: Fail, Detail: "git --version failed", Action: "reinstall git"}
		}
		return Result{Name: "git", Level: OK, Detail: strings.TrimSpace(string(out)) + " (" + path + ")"}
	}}
}

// Pinger is the subset of the sandbox orchestrator doctor needs.
type Pinger interface {
	Ping(ctx context.Context) error
}

// DockerCheck verifies the Docker daemon answers.
func DockerCheck(p Pinger, connectErr error) Check {
	return CheckFunc{CheckName: "docker", Fn: func(ctx context.Context) Result {
		if connectErr != nil {
			return Result{Name: "docker", Level: Fail,
				Detail: connectErr.Error(),
				Action: "install Docker and ensure the daemon is running"}
		}
		if err := p.Ping(ctx); err != nil {
			return Result{Name: "docker", Level: Fail,
				Detail: err.Error(),
				Action: "start the Docker daemon"}
		}
		return Result{Name: "docker", Level: OK, Detail: "daemon reachable"}
	}}
}

// ConfigDirCheck verifies the state directory is writable.
func ConfigDirCheck() Check {
	return CheckFunc{CheckName: "config dir", Fn: func(ctx context.Context) Result {
		dir := paths.UserConfigDir()
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return Result{Name: "config dir", Level: Fail,
				Detail: err.Error(), Action: "fix permissions on " + dir}
		}
		probe, err := os.CreateTemp(dir, ".doctor-*")
		if err != nil {
			return Result{Name: "config dir", Level: Fail,
				Detail: dir + " is not writable", Action: "fix permissions on " + dir}
		}
		probe.Close()
		os.Remove(probe.Name())
		return Result{Name: "config dir", Level: OK, Detail: dir}
	}}
}

// OrgConfigCheck reports whether the org config loads.
func OrgConfigCheck(load func(ctx context.Context) error) Check {
	return CheckFunc{CheckName: "org config", Fn: func(ctx context.Context) Result {
		if err := load(ctx); err != nil {
			return Result{Name: "org config", Level: Fail,
				Detail: err.Error(),
				Action: "check the configured org config source and your network"}
		}
		return Result{Name: "org config", Level: OK, Detail: "loaded"}
	}}
}
