//go:build windows

package sandbox

import "context"

// notifyResize is a no-op on Windows; there is no SIGWINCH equivalent, so
// the TTY keeps its initial size.
func notifyResize(ctx context.Context, resize func()) {}
