// Package term wraps the raw-mode terminal handling the interactive agent
// session needs.
package term

import (
	"os"

	"golang.org/x/term"
)

// RawState holds the previous terminal state for restoration.
type RawState struct {
	fd       int
	oldState *term.State
}

// MakeRaw puts the terminal into raw mode, disabling echo and line
// buffering. The returned state must be passed to Restore.
func MakeRaw(f *os.File) (*RawState, error) {
	fd := int(f.Fd())
	oldState, err := term.MakeRaw(fd)
	if err != nil {
		return nil, err
	}
	return &RawState{fd: fd, oldState: oldState}, nil
}

// Restore returns the terminal to its pre-raw state. Safe on nil.
func Restore(state *RawState) error {
	if state == nil || state.oldState == nil {
		return nil
	}
	return term.Restore(state.fd, state.oldState)
}

// IsTerminal reports whether f is a terminal.
func IsTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}

// Size returns the terminal dimensions, (0, 0) when unavailable.
func Size(f *os.File) (width, height int) {
	w, h, err := term.GetSize(int(f.Fd()))
	if err != nil {
		return 0, 0
	}
	return w, h
}
