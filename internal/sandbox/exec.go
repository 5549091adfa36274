package sandbox

import (
	"bytes"
	"context"
	"io"
	"os"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/pkg/stdcopy"

	"github.com/scc-tools/scc/internal/cmderr"
	"github.com/scc-tools/scc/internal/term"
)

// ExecAgent runs the agent command interactively inside the session
// container and returns its exit code. With a terminal on stdin the exec
// gets a TTY and the local terminal goes raw; otherwise streams are piped
// and demultiplexed. The user's Ctrl-C reaches the agent through the raw
// terminal rather than killing the host process.
func (o *Orchestrator) ExecAgent(ctx context.Context, containerID string, cmd []string) (int, error) {
	tty := term.IsTerminal(os.Stdin) && term.IsTerminal(os.Stdout)

	execResp, err := o.cli.ContainerExecCreate(ctx, containerID, container.ExecOptions{
		Cmd:          cmd,
		Tty:          tty,
		AttachStdin:  true,
		AttachStdout: true,
		AttachStderr: true,
	})
	if err != nil {
		return -1, cmderr.Wrap(cmderr.KindTool, err, "creating agent exec")
	}

	attach, err := o.cli.ContainerExecAttach(ctx, execResp.ID, container.ExecAttachOptions{Tty: tty})
	if err != nil {
		return -1, cmderr.Wrap(cmderr.KindTool, err, "attaching to agent exec")
	}
	defer attach.Close()

	if tty {
		state, err := term.MakeRaw(os.Stdin)
		if err == nil {
			defer term.Restore(state)
		}
		o.keepExecSized(ctx, execResp.ID)
	}

	outputDone := make(chan error, 1)
	go func() {
		var err error
		if tty {
			_, err = io.Copy(os.Stdout, attach.Reader)
		} else {
			_, err = stdcopy.StdCopy(os.Stdout, os.Stderr, attach.Reader)
		}
		outputDone <- err
	}()

	go func() {
		_, _ = io.Copy(attach.Conn, os.Stdin)
		if cw, ok := attach.Conn.(interface{ CloseWrite() error }); ok {
			_ = cw.CloseWrite()
		}
	}()

	select {
	case <-ctx.Done():
		return 130, cmderr.Wrap(cmderr.KindCancelled, ctx.Err(), "session interrupted")
	case err := <-outputDone:
		if err != nil && err != io.EOF {
			return -1, cmderr.Wrap(cmderr.KindTool, err, "streaming agent session")
		}
	}

	inspect, err := o.cli.ContainerExecInspect(ctx, execResp.ID)
	if err != nil {
		return -1, cmderr.Wrap(cmderr.KindTool, err, "inspecting agent exec")
	}
	return inspect.ExitCode, nil
}

// keepExecSized pushes the local terminal size to the exec TTY, initially
// and on every SIGWINCH.
func (o *Orchestrator) keepExecSized(ctx context.Context, execID string) {
	resize := func() {
		w, h := term.Size(os.Stdout)
		if w <= 0 || h <= 0 {
			return
		}
		_ = o.cli.ContainerExecResize(ctx, execID, container.ResizeOptions{
			Width:  uint(w),
			Height: uint(h),
		})
	}
	resize()
	notifyResize(ctx, resize)
}

// execCaptured runs a command in the container, returning its exit code and
// combined output. Used for provisioning steps that must not touch the
// user's terminal.
func (o *Orchestrator) execCaptured(ctx context.Context, containerID string, cmd []string) (int, string, error) {
	execResp, err := o.cli.ContainerExecCreate(ctx, containerID, container.ExecOptions{
		Cmd:          cmd,
		AttachStdout: true,
		AttachStderr: true,
	})
	if err != nil {
		return -1, "", err
	}
	attach, err := o.cli.ContainerExecAttach(ctx, execResp.ID, container.ExecAttachOptions{})
	if err != nil {
		return -1, "", err
	}
	defer attach.Close()

	var output bytes.Buffer
	if _, err := stdcopy.StdCopy(&output, &output, attach.Reader); err != nil {
		return -1, output.String(), err
	}

	inspect, err := o.cli.ContainerExecInspect(ctx, execResp.ID)
	if err != nil {
		return -1, output.String(), err
	}
	return inspect.ExitCode, output.String(), nil
}
