// Package cmderr defines the error taxonomy shared by all scc commands.
// Errors carry a machine-readable kind, a human message, and an optional
// suggested action. The CLI edge maps kinds to stable exit codes; the core
// only classifies.
package cmderr

import (
	"context"
	"errors"
	"fmt"
)

// Kind classifies an error for exit-code mapping and machine consumption.
type Kind int

const (
	// KindGeneral is an unclassified failure. Exit 1.
	KindGeneral Kind = iota
	// KindUsage is malformed arguments or missing required values. Exit 2.
	KindUsage
	// KindPrerequisite means a required external tool is absent or too old. Exit 3.
	KindPrerequisite
	// KindConfig is an unparseable or invalid configuration. Exit 3.
	KindConfig
	// KindPolicy means an org security block applied with no exception. Exit 6.
	KindPolicy
	// KindDelegation means an addition was not delegated. Exit 6.
	KindDelegation
	// KindTool means an external subprocess failed or timed out. Exit 4.
	KindTool
	// KindNetwork is a non-recoverable remote fetch failure. Exit 3.
	KindNetwork
	// KindState is an invariant violation that should not occur. Exit 5.
	KindState
	// KindCancelled means the user interrupted the command. Exit 130.
	KindCancelled
)

// String returns the taxonomy name for the kind.
func (k Kind) String() string {
	switch k {
	case KindUsage:
		return "usage"
	case KindPrerequisite:
		return "prerequisite"
	case KindConfig:
		return "config"
	case KindPolicy:
		return "policy"
	case KindDelegation:
		return "delegation"
	case KindTool:
		return "tool"
	case KindNetwork:
		return "network"
	case KindState:
		return "state"
	case KindCancelled:
		return "cancelled"
	default:
		return "general"
	}
}

// ExitCode returns the stable exit code for the kind.
func (k Kind) ExitCode() int {
	switch k {
	case KindUsage:
		return 2
	case KindPrerequisite, KindConfig, KindNetwork:
		return 3
	case KindTool:
		return 4
	case KindState:
		return 5
	case KindPolicy, KindDelegation:
		return 6
	case KindCancelled:
		return 130
	default:
		return 1
	}
}

// Error is a classified error with an optional suggested action.
type Error struct {
	Kind    Kind
	Message string
	Action  string // suggested next step, shown to the user after the message
	Err     error  // wrapped cause, if any
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// New creates a classified error.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Message: msg}
}

// Newf creates a classified error with a formatted message.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap classifies an existing error.
func Wrap(kind Kind, err error, msg string) *Error {
	return &Error{Kind: kind, Message: msg, Err: err}
}

// WithAction attaches a suggested action and returns the error.
func (e *Error) WithAction(action string) *Error {
	e.Action = action
	return e
}

// KindOf extracts the kind from an error chain. Unclassified errors are
// KindGeneral; context cancellation maps to KindCancelled.
func KindOf(err error) Kind {
	if err == nil {
		return KindGeneral
	}
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Kind
	}
	if errors.Is(err, context.Canceled) {
		return KindCancelled
	}
	return KindGeneral
}

// ActionOf returns the suggested action from an error chain, if any.
func ActionOf(err error) string {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Action
	}
	return ""
}

// ExitCodeFor returns the exit code for an error chain.
func ExitCodeFor(err error) int {
	if err == nil {
		return 0
	}
	return KindOf(err).ExitCode()
}
