package orgconfig

import (
	"context"
	"os"
	"os/exec"
	"strings"

	"github.com/scc-tools/scc/internal/cmderr"
)

// Auth spec grammar: "env:VARNAME" reads an environment variable,
// "command:…" runs the remainder and uses its stdout, "" / "null" means no
// auth. Resolution happens on the host, once per command; tokens are never
// persisted.

// ResolveAuth resolves an auth spec to a bearer token. Returns "" for the
// null spec.
func ResolveAuth(ctx context.Context, spec string) (string, error) {
	spec = strings.TrimSpace(spec)
	switch {
	case spec == "" || spec == "null":
		return "", nil

	case strings.HasPrefix(spec, "env:"):
		name := strings.TrimPrefix(spec, "env:")
		if name == "" {
			return "", cmderr.New(cmderr.KindConfig, "auth spec env: requires a variable name")
		}
		val, ok := os.LookupEnv(name)
		if !ok {
			return "", cmderr.Newf(cmderr.KindConfig, "auth environment variable %s is not set", name).
				WithAction("export " + name + " or change the auth spec")
		}
		return strings.TrimSpace(val), nil

	case strings.HasPrefix(spec, "command:"):
		cmdline := strings.TrimSpace(strings.TrimPrefix(spec, "command:"))
		if cmdline == "" {
			return "", cmderr.New(cmderr.KindConfig, "auth spec command: requires a command")
		}
		out, err := exec.CommandContext(ctx, "sh", "-c", cmdline).Output()
		if err != nil {
			return "", cmderr.Wrap(cmderr.KindConfig, err, "auth command failed").
				WithAction("run the auth command manually to diagnose")
		}
		token := strings.TrimSpace(string(out))
		if token == "" {
			return "", cmderr.New(cmderr.KindConfig, "auth command produced no output")
		}
		return token, nil

	default:
		return "", cmderr.Newf(cmderr.KindConfig, "invalid auth spec %q: expected env:VAR, command:…, or null", spec)
	}
}
