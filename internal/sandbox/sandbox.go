// Package sandbox runs agent sessions in Docker containers. A session
// container starts detached with the workspace bind-mounted at /workspace
// and the shared agent-data volume at /mnt/agent-data; agent state
// directories are then symlinked into the volume, and finally the agent CLI
// runs as an interactive exec whose exit code becomes the session's exit
// code.
package sandbox

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"path/filepath"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/api/types/volume"
	"github.com/docker/docker/client"

	"github.com/scc-tools/scc/internal/cmderr"
	"github.com/scc-tools/scc/internal/lockfile"
	"github.com/scc-tools/scc/internal/log"
	"github.com/scc-tools/scc/internal/paths"
	"github.com/scc-tools/scc/internal/pluginref"
	"github.com/scc-tools/scc/internal/workspace"
)

const (
	// DataVolume persists agent state (credentials, history, caches) across
	// sessions and workspaces.
	DataVolume = "agent-data"
	// DataMount is where DataVolume appears inside the container.
	DataMount = "/mnt/agent-data"
	// SafetyNetMount is the read-only path of the org safety-net config.
	SafetyNetMount = "/etc/scc/safety-net.json"

	labelManaged   = "scc.managed"
	labelWorkspace = "scc.workspace"
	labelBranch    = "scc.branch"
	labelSession   = "scc.session"
)

// Status of a session container.
type Status string

const (
	StatusRunning Status = "running"
	StatusStopped Status = "stopped"
	StatusUnknown Status = "unknown"
)

// Orchestrator drives the Docker daemon.
type Orchestrator struct {
	cli *client.Client
}

// New connects to the Docker daemon using the environment's configuration.
func New() (*Orchestrator, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, cmderr.Wrap(cmderr.KindPrerequisite, err, "connecting to Docker")
	}
	return &Orchestrator{cli: cli}, nil
}

// Ping verifies the daemon is reachable.
func (o *Orchestrator) Ping(ctx context.Context) error {
	if _, err := o.cli.Ping(ctx); err != nil {
		return cmderr.Wrap(cmderr.KindPrerequisite, err, "Docker daemon is not accessible").
			WithAction("start Docker and retry")
	}
	return nil
}

// Close releases the client connection.
func (o *Orchestrator) Close() error { return o.cli.Close() }

// Spec describes a session container to launch.
type Spec struct {
	Image     string
	SessionID string
	Workspace string
	Branch    string
	// Workdir is the in-container working directory, defaulting to the
	// workspace mount root.
	Workdir string
	Env     []string
	// SafetyNetPath, when set, is a host file bind-mounted read-only at
	// SafetyNetMount.
	SafetyNetPath string
	// AgentCmd is the interactive agent command run via exec.
	AgentCmd []string
}

// Launched describes a started session container.
type Launched struct {
	ContainerID string
	Name        string
	Image       string
	release     func()
}

// Release drops the workspace-slot lock. Must be called when the session
// ends.
func (l *Launched) Release() {
	if l.release != nil {
		l.release()
		l.release = nil
	}
}

// Launch starts a detached session container. The (workspace, branch) slot
// is locked for the lifetime of the returned Launched so two sessions never
// share a checkout. Untagged images are normalized to :latest before
// anything touches the daemon; callers must re-run policy checks on the
// normalized form before calling Launch.
func (o *Orchestrator) Launch(ctx context.Context, spec Spec) (*Launched, error) {
	img := pluginref.NormalizeImageRef(spec.Image)
	if img == "" {
		return nil, cmderr.New(cmderr.KindUsage, "no sandbox image configured")
	}

	// A held slot is a user error: the user already has a session there.
	lock, err := lockfile.Acquire(ctx, slotLockPath(spec.Workspace, spec.Branch), lockfile.DefaultTimeout)
	if err != nil {
		return nil, cmderr.Wrap(cmderr.KindUsage, err,
			fmt.Sprintf("another session is already running for %s on %s", spec.Workspace, spec.Branch)).
			WithAction("stop the other session or switch branches")
	}
	success := false
	defer func() {
		if !success {
			lock.Release()
		}
	}()

	if err := o.ensureImage(ctx, img); err != nil {
		return nil, err
	}
	if err := o.ensureDataVolume(ctx); err != nil {
		return nil, err
	}

	workdir := spec.Workdir
	if workdir == "" {
		workdir = workspace.ContainerRoot
	}

	mounts := []mount.Mount{
		{Type: mount.TypeBind, Source: spec.Workspace, Target: workspace.ContainerRoot},
		{Type: mount.TypeVolume, Source: DataVolume, Target: DataMount},
	}
	if spec.SafetyNetPath != "" {
		mounts = append(mounts, mount.Mount{
			Type: mount.TypeBind, Source: spec.SafetyNetPath, Target: SafetyNetMount, ReadOnly: true,
		})
	}

	name := "scc-" + spec.SessionID
	resp, err := o.cli.ContainerCreate(ctx,
		&container.Config{
			Image:      img,
			// The container idles; the agent runs as an exec so its exit
			// never tears down the filesystem state mid-session.
			Cmd:        []string{"sleep", "infinity"},
			WorkingDir: workdir,
			Env:        spec.Env,
			Labels: map[string]string{
				labelManaged:   "true",
				labelWorkspace: spec.Workspace,
				labelBranch:    spec.Branch,
				labelSession:   spec.SessionID,
			},
		},
		&container.HostConfig{
			Mounts: mounts,
		},
		nil, nil, name)
	if err != nil {
		return nil, cmderr.Wrap(cmderr.KindTool, err, "creating session container")
	}

	if err := o.cli.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		_ = o.cli.ContainerRemove(ctx, resp.ID, container.RemoveOptions{Force: true})
		return nil, cmderr.Wrap(cmderr.KindTool, err, "starting session container")
	}

	o.provisionStateLinks(ctx, resp.ID)

	success = true
	log.Info("launched session container", "container", name, "image", img)
	return &Launched{ContainerID: resp.ID, Name: name, Image: img, release: func() { _ = lock.Release() }}, nil
}

// provisionStateLinks points the agent's state directories at the shared
// data volume so credentials and history survive container replacement.
// Failures are logged and ignored; a session without persistent state is
// degraded, not broken.
func (o *Orchestrator) provisionStateLinks(ctx context.Context, containerID string) {
	script := fmt.Sprintf(`set -e
mkdir -p %[1]s/claude %[1]s/config
[ -e "$HOME/.claude" ] || ln -s %[1]s/claude "$HOME/.claude"
[ -e "$HOME/.config/scc" ] || { mkdir -p "$HOME/.config" && ln -s %[1]s/config "$HOME/.config/scc"; }
`, DataMount)
	code, output, err := o.execCaptured(ctx, containerID, []string{"sh", "-c", script})
	if err != nil || code != 0 {
		log.Warn("agent state links not provisioned; state will not persist",
			"exit_code", code, "output", output, "error", err)
	}
}

// Stop stops a session container.
func (o *Orchestrator) Stop(ctx context.Context, containerID string) error {
	if err := o.cli.ContainerStop(ctx, containerID, container.StopOptions{}); err != nil {
		return cmderr.Wrap(cmderr.KindTool, err, "stopping session container")
	}
	return nil
}

// Remove force-removes a session container.
func (o *Orchestrator) Remove(ctx context.Context, containerID string) error {
	if err := o.cli.ContainerRemove(ctx, containerID, container.RemoveOptions{Force: true}); err != nil {
		return cmderr.Wrap(cmderr.KindTool, err, "removing session container")
	}
	return nil
}

// Start restarts a stopped session container and reprovisions state links.
func (o *Orchestrator) Start(ctx context.Context, containerID string) error {
	if err := o.cli.ContainerStart(ctx, containerID, container.StartOptions{}); err != nil {
		return cmderr.Wrap(cmderr.KindTool, err, "starting session container")
	}
	o.provisionStateLinks(ctx, containerID)
	return nil
}

// StatusOf reports the container's lifecycle state.
func (o *Orchestrator) StatusOf(ctx context.Context, containerID string) (Status, error) {
	inspect, err := o.cli.ContainerInspect(ctx, containerID)
	if err != nil {
		if client.IsErrNotFound(err) {
			return StatusUnknown, nil
		}
		return StatusUnknown, cmderr.Wrap(cmderr.KindTool, err, "inspecting session container")
	}
	switch inspect.State.Status {
	case "running":
		return StatusRunning, nil
	case "exited", "created":
		return StatusStopped, nil
	default:
		return StatusUnknown, nil
	}
}

// Info describes a managed session container.
type Info struct {
	ID        string
	Name      string
	Image     string
	State     string
	Workspace string
	Branch    string
	SessionID string
}

// List returns all scc-managed containers, running or not.
func (o *Orchestrator) List(ctx context.Context) ([]Info, error) {
	containers, err := o.cli.ContainerList(ctx, container.ListOptions{
		All:     true,
		Filters: filters.NewArgs(filters.Arg("label", labelManaged+"=true")),
	})
	if err != nil {
		return nil, cmderr.Wrap(cmderr.KindTool, err, "listing session containers")
	}
	out := make([]Info, 0, len(containers))
	for _, c := range containers {
		name := ""
		if len(c.Names) > 0 {
			name = c.Names[0]
			if len(name) > 0 && name[0] == '/' {
				name = name[1:]
			}
		}
		out = append(out, Info{
			ID:        c.ID[:12],
			Name:      name,
			Image:     c.Image,
			State:     c.State,
			Workspace: c.Labels[labelWorkspace],
			Branch:    c.Labels[labelBranch],
			SessionID: c.Labels[labelSession],
		})
	}
	return out, nil
}

// Prune removes all stopped scc-managed containers, returning their names.
func (o *Orchestrator) Prune(ctx context.Context) ([]string, error) {
	infos, err := o.List(ctx)
	if err != nil {
		return nil, err
	}
	var removed []string
	for _, info := range infos {
		if info.State == "running" {
			continue
		}
		if err := o.Remove(ctx, info.ID); err != nil {
			return removed, err
		}
		removed = append(removed, info.Name)
	}
	return removed, nil
}

// ensureImage pulls the image when it is not present locally.
func (o *Orchestrator) ensureImage(ctx context.Context, img string) error {
	if _, err := o.cli.ImageInspect(ctx, img); err == nil {
		return nil
	}
	log.Info("pulling sandbox image", "image", img)
	reader, err := o.cli.ImagePull(ctx, img, image.PullOptions{})
	if err != nil {
		return cmderr.Wrap(cmderr.KindNetwork, err, "pulling image "+img)
	}
	defer reader.Close()
	// Drain the JSON progress stream to completion.
	_, _ = io.Copy(io.Discard, reader)
	return nil
}

// ensureDataVolume creates the shared agent-data volume; creation is
// idempotent on the daemon side.
func (o *Orchestrator) ensureDataVolume(ctx context.Context) error {
	if _, err := o.cli.VolumeCreate(ctx, volume.CreateOptions{Name: DataVolume}); err != nil {
		return cmderr.Wrap(cmderr.KindTool, err, "creating agent data volume")
	}
	return nil
}

// slotLockPath returns the lock file guarding a (workspace, branch) slot.
func slotLockPath(ws, branch string) string {
	sum := sha256.Sum256([]byte(ws + "\x00" + branch))
	return filepath.Join(paths.LocksDir(), "slot-"+hex.EncodeToString(sum[:6])+".lock")
}
