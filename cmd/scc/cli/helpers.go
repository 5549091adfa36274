package cli

import (
	"context"
	"time"

	"github.com/scc-tools/scc/internal/cmderr"
	"github.com/scc-tools/scc/internal/exception"
	"github.com/scc-tools/scc/internal/log"
	"github.com/scc-tools/scc/internal/orgconfig"
	"github.com/scc-tools/scc/internal/paths"
	"github.com/scc-tools/scc/internal/policy"
	"github.com/scc-tools/scc/internal/project"
	"github.com/scc-tools/scc/internal/userconfig"
	"github.com/scc-tools/scc/internal/workspace"
)

// launchInputs is everything the policy pipeline needs, loaded once.
type launchInputs struct {
	User       userconfig.Config
	Org        *orgconfig.Config
	OrgStale   bool
	Project    *project.Config
	Exceptions []exception.Exception
	Decision   *workspace.Decision
	Now        time.Time
}

// loadOrg fetches and parses the org config using the user's configured
// source. A federated team profile is resolved from its config_source
// before the config is handed to policy.
func loadOrg(ctx context.Context, user userconfig.Config, refresh bool) (*orgconfig.Config, bool, error) {
	source, err := user.RequireOrgSource()
	if err != nil {
		return nil, false, err
	}
	loader := orgconfig.NewLoader(paths.OrgConfigCacheFile(), paths.CacheMetaFile())
	var res *orgconfig.Result
	if refresh {
		res, err = loader.Refresh(ctx, source, user.AuthSpec)
	} else {
		res, err = loader.Load(ctx, source, user.AuthSpec)
	}
	if err != nil {
		return nil, false, err
	}
	cfg, err := orgconfig.Parse(res.Body)
	if err != nil {
		return nil, false, err
	}
	if profile, ok := cfg.Profile(user.Team); ok && profile.Federated() {
		raw, err := loader.FetchProfileSource(ctx, *profile.ConfigSource, user.AuthSpec)
		if err != nil {
			return nil, false, err
		}
		warnings, err := cfg.ApplyFederated(user.Team, raw)
		if err != nil {
			return nil, false, cmderr.Wrap(cmderr.KindConfig, err, "applying federated team profile")
		}
		for _, w := range warnings {
			log.Warn(w)
		}
	}
	return cfg, res.Stale, nil
}

// gatherInputs resolves the workspace and loads every config layer.
func gatherInputs(ctx context.Context, explicitPath, cwd string, refresh bool) (*launchInputs, error) {
	user, err := userconfig.Load()
	if err != nil {
		return nil, err
	}
	decision, err := workspace.Resolve(explicitPath, cwd)
	if err != nil {
		return nil, err
	}
	org, stale, err := loadOrg(ctx, user, refresh)
	if err != nil {
		return nil, err
	}
	proj, err := project.Load(decision.Root)
	if err != nil {
		return nil, err
	}
	now := time.Now()
	excs, err := exception.LoadAll(now,
		exception.NewStore(paths.UserExceptionsFile()),
		exception.NewStore(paths.RepoExceptionsFile(decision.Root)))
	if err != nil {
		return nil, err
	}
	return &launchInputs{
		User:       user,
		Org:        org,
		OrgStale:   stale,
		Project:    proj,
		Exceptions: excs,
		Decision:   decision,
		Now:        now,
	}, nil
}

// computeEffective runs the policy pipeline over the gathered inputs.
func (in *launchInputs) computeEffective(image string) (*policy.EffectiveConfig, error) {
	return policy.Compute(policy.Input{
		Org:        in.Org,
		Team:       in.User.Team,
		Project:    in.Project,
		Exceptions: in.Exceptions,
		Image:      image,
		Now:        in.Now,
	})
}
