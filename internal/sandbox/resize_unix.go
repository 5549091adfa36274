//go:build !windows

package sandbox

import (
	"context"
	"os"
	"os/signal"

	"golang.org/x/sys/unix"
)

// notifyResize invokes resize on every terminal size change until ctx ends.
func notifyResize(ctx context.Context, resize func()) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, unix.SIGWINCH)
	go func() {
		defer signal.Stop(sigs)
		for {
			select {
			case <-ctx.Done():
				return
			case <-sigs:
				resize()
			}
		}
	}()
}
