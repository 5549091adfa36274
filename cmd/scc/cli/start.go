package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"

	"github.com/scc-tools/scc/internal/cmderr"
	"github.com/scc-tools/scc/internal/interact"
	"github.com/scc-tools/scc/internal/log"
	"github.com/scc-tools/scc/internal/marketplace"
	"github.com/scc-tools/scc/internal/paths"
	"github.com/scc-tools/scc/internal/policy"
	"github.com/scc-tools/scc/internal/sandbox"
	"github.com/scc-tools/scc/internal/session"
	"github.com/scc-tools/scc/internal/settings"
	"github.com/scc-tools/scc/internal/worktree"
)

// defaultAgentCmd is the agent CLI run inside the sandbox.
var defaultAgentCmd = []string{"claude"}

// defaultImage is used when neither the flag nor the user config names one.
const defaultImage = "ghcr.io/scc-tools/sandbox:latest"

var (
	startWorkspace string
	startImage     string
	startRefresh   bool
	startNoResume  bool
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Launch an agent session in a sandbox for this workspace",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer stop()
		return runStart(ctx)
	},
}

func init() {
	startCmd.Flags().StringVarP(&startWorkspace, "workspace", "w", "", "workspace root (default: auto-detect)")
	startCmd.Flags().StringVar(&startImage, "image", "", "sandbox image reference")
	startCmd.Flags().BoolVar(&startRefresh, "refresh", false, "refresh org config and marketplaces before launch")
	startCmd.Flags().BoolVar(&startNoResume, "no-resume", false, "always start a fresh session container")
	startCmd.Flags().BoolVarP(&assumeYes, "yes", "y", false, "answer prompts with their default (e.g. create a work branch)")
	rootCmd.AddCommand(startCmd)
}

func runStart(ctx context.Context) error {
	cwd, err := os.Getwd()
	if err != nil {
		return cmderr.Wrap(cmderr.KindState, err, "determining working directory")
	}
	in, err := gatherInputs(ctx, startWorkspace, cwd, startRefresh)
	if err != nil {
		return err
	}
	if in.OrgStale {
		log.Warn("org config fetch failed; using cached copy")
	}
	for _, w := range in.Decision.Warnings {
		log.Warn(w)
	}
	if err := confirmWorkspace(in); err != nil {
		return err
	}

	branch, err := worktree.CurrentBranch(in.Decision.Root)
	if err != nil {
		// Non-git workspaces run sessions on an unnamed branch slot.
		branch = ""
		log.Debug("workspace has no git branch", "error", err)
	}

	root := in.Decision.Root
	if branch != "" {
		root, branch, err = guardBranch(in.Decision.Root, branch)
		if err != nil {
			return err
		}
	}

	image := startImage
	if image == "" {
		image = in.User.Image
	}
	if image == "" {
		image = defaultImage
	}

	eff, err := in.computeEffective(image)
	if err != nil {
		return err
	}
	for _, w := range eff.Warnings {
		log.Warn(w)
	}
	if eff.ImageBlock != nil {
		return cmderr.Newf(cmderr.KindPolicy,
			"image %s is blocked by org security pattern %q", eff.ImageBlock.Ref, eff.ImageBlock.Pattern).
			WithAction("choose a different image or request a policy exception")
	}
	for _, d := range eff.Denied {
		log.Warn("plugin denied", "ref", d.Ref, "reason", d.Reason)
	}

	mat := marketplace.NewMaterializer()
	mat.Refresh = startRefresh
	if _, err := mat.MaterializeAll(ctx, root, in.Org, eff.RequiredMarketplaces()); err != nil {
		return err
	}

	frag := settings.Render(eff)
	if err := settings.Merge(paths.SettingsFile(root), paths.ManagedStateFile(root), frag, eff.Team, in.Now); err != nil {
		return err
	}

	orch, err := sandbox.New()
	if err != nil {
		return err
	}
	defer orch.Close()
	if err := orch.Ping(ctx); err != nil {
		return err
	}

	store := session.NewStore(paths.SessionsFile())
	if !startNoResume && autoResume(eff.Session.AutoResume) {
		if prev, ok, err := store.Resumable(root, branch); err == nil && ok {
			if resumed, err := resumeSession(ctx, orch, store, prev); resumed || err != nil {
				return err
			}
		}
	}

	return launchSession(ctx, orch, store, in, eff, root, branch, image)
}

// confirmWorkspace surfaces suspicious or slow workspace roots before
// anything is mounted.
func confirmWorkspace(in *launchInputs) error {
	if in.Decision.Suspicious {
		req := interact.ConfirmWorkspace(interact.SuspiciousWorkspaceID,
			fmt.Sprintf("workspace %s is a home or system directory; mount it anyway?", in.Decision.Root))
		choice, err := answer(req)
		if err != nil {
			return err
		}
		if choice != "yes" {
			return cmderr.New(cmderr.KindCancelled, "launch cancelled")
		}
	}
	if in.Decision.Slow {
		log.Warn("workspace is on a slow mount; file operations in the sandbox may lag", "root", in.Decision.Root)
	}
	return nil
}

// guardBranch runs the protected-branch check. Creating a work branch moves
// the session into a fresh worktree; continuing keeps the branch with pushes
// blocked inside the sandbox.
func guardBranch(root, branch string) (newRoot, newBranch string, err error) {
	req := worktree.GuardBranch(branch, nil)
	if req == nil {
		return root, branch, nil
	}
	choice, err := answer(*req)
	if err != nil {
		return "", "", err
	}
	switch choice {
	case interact.ChoiceCreateBranch:
		mgr := worktree.NewManager(root)
		mgr.BranchPrefix = "work/"
		info, err := mgr.Create("session-" + time.Now().Format("20060102-150405"))
		if err != nil {
			return "", "", cmderr.Wrap(cmderr.KindTool, err, "creating work branch")
		}
		log.Info("created work branch", "branch", info.Branch, "path", info.Path)
		return info.Path, info.Branch, nil
	case interact.ChoiceContinueNoPush:
		blockPush = true
		return root, branch, nil
	default:
		return "", "", cmderr.New(cmderr.KindCancelled, "launch cancelled")
	}
}

// blockPush marks the session as push-blocked after a protected-branch
// continue; the sandbox env carries the marker.
var blockPush bool

func autoResume(v *bool) bool {
	return v == nil || *v
}

// resumeSession restarts a stopped session container and re-attaches the
// agent. Returns resumed=false when the container no longer exists so the
// caller falls through to a fresh launch.
func resumeSession(ctx context.Context, orch *sandbox.Orchestrator, store *session.Store, prev session.Record) (bool, error) {
	status, err := orch.StatusOf(ctx, prev.ContainerHandle)
	if err != nil || status == sandbox.StatusUnknown {
		return false, nil
	}
	log.SetSessionID(prev.ID)
	log.Info("resuming session", "session", prev.ID, "container", prev.ContainerHandle)

	if status == sandbox.StatusStopped {
		if err := orch.Start(ctx, prev.ContainerHandle); err != nil {
			return false, err
		}
	}
	resumed := prev
	resumed.Status = session.StatusRunning
	resumed.EndedAt = nil
	if err := store.Append(ctx, resumed); err != nil {
		return true, err
	}
	recordUsage(session.UsageResume, resumed, nil, 0)

	started := time.Now()
	code, execErr := orch.ExecAgent(ctx, prev.ContainerHandle, defaultAgentCmd)
	agentExitCode = code
	endSession(ctx, orch, store, resumed, code, started)
	return true, execErr
}

// launchSession creates the container, records the session, runs the agent,
// and tears the session down to stopped.
func launchSession(ctx context.Context, orch *sandbox.Orchestrator, store *session.Store,
	in *launchInputs, eff *policy.EffectiveConfig, root, branch, image string) error {

	rec := session.NewRecord(root, branch, eff.Team, "", eff.Session.ExpectedDurationHours)
	log.SetSessionID(rec.ID)

	safetyPath, cleanup, err := sandbox.WriteSafetyNet(in.Org.Security.SafetyNet)
	if err != nil {
		return err
	}
	defer cleanup()

	env := []string{
		"SCC_SESSION_ID=" + rec.ID,
		"SCC_TEAM=" + eff.Team,
	}
	if blockPush {
		env = append(env, "SCC_BLOCK_PUSH=1")
	}

	// A freshly created worktree root invalidates the entry-relative
	// workdir; sessions there start at the mount root.
	workdir := in.Decision.ContainerWorkdir
	if root != in.Decision.Root {
		workdir = ""
	}

	launched, err := orch.Launch(ctx, sandbox.Spec{
		Image:         image,
		SessionID:     rec.ID,
		Workspace:     root,
		Branch:        branch,
		Workdir:       workdir,
		Env:           env,
		SafetyNetPath: safetyPath,
		AgentCmd:      defaultAgentCmd,
	})
	if err != nil {
		return err
	}
	defer launched.Release()

	rec.ContainerHandle = launched.ContainerID
	if err := store.Append(ctx, rec); err != nil {
		return err
	}
	touchContext(rec)
	recordUsage(session.UsageStart, rec, nil, 0)

	started := time.Now()
	code, execErr := orch.ExecAgent(ctx, launched.ContainerID, defaultAgentCmd)
	agentExitCode = code
	endSession(ctx, orch, store, rec, code, started)
	return execErr
}

// endSession stops the container and records the session end and usage
// event. Teardown failures are logged, never surfaced over the agent's exit.
func endSession(ctx context.Context, orch *sandbox.Orchestrator, store *session.Store,
	rec session.Record, exitCode int, started time.Time) {

	// The agent may have been interrupted; teardown gets its own deadline.
	stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()

	if err := orch.Stop(stopCtx, rec.ContainerHandle); err != nil {
		log.Warn("stopping session container", "error", err)
	}
	if err := store.End(stopCtx, rec, session.StatusStopped, time.Now()); err != nil {
		log.Warn("recording session end", "error", err)
	}
	recordUsage(session.UsageStop, rec, &exitCode, int64(time.Since(started).Seconds()))
}

func touchContext(rec session.Record) {
	err := session.NewContextStore(paths.ContextsFile()).Touch(session.WorkContext{
		Workspace: rec.Workspace,
		Branch:    rec.Branch,
		Team:      rec.Team,
	}, rec.StartedAt)
	if err != nil {
		log.Warn("updating work contexts", "error", err)
	}
}

func recordUsage(kind string, rec session.Record, exitCode *int, seconds int64) {
	err := session.AppendUsage(paths.UsageFile(), session.UsageEvent{
		Time:      time.Now(),
		Kind:      kind,
		SessionID: rec.ID,
		Team:      rec.Team,
		Workspace: rec.Workspace,
		ExitCode:  exitCode,
		Seconds:   seconds,
	})
	if err != nil {
		log.Warn("recording usage event", "error", err)
	}
}
