// Package interact defines the interaction requests the core returns when a
// decision belongs to the user. The core never prompts; the CLI renders the
// request (interactively or by failing with guidance when non-interactive)
// and resumes with the answer.
package interact

// Kind distinguishes the prompt shapes a caller can render.
type Kind string

const (
	Confirm Kind = "confirm"
	Select  Kind = "select"
	Input   Kind = "input"
)

// Request describes a decision the caller must make before the operation
// can continue.
type Request struct {
	Kind    Kind
	ID      string // stable identifier, e.g. "protected-branch"
	Label   string
	Options []Option // for Select
	Default string   // option ID or input default
}

// Option is a single selectable choice.
type Option struct {
	ID    string
	Label string
}

// Stable request and choice IDs. The launch surfaces these instead of
// deciding on the user's behalf.
const (
	ProtectedBranchID       = "protected-branch"
	ChoiceCreateBranch      = "create-branch"
	ChoiceContinueNoPush    = "continue-no-push"
	ChoiceCancel            = "cancel"
	SuspiciousWorkspaceID   = "suspicious-workspace"
	SlowWorkspaceID         = "slow-workspace"
	WorktreeSelectID        = "worktree-select"
	DivergedBranchResumeID  = "diverged-branch-resume"
	MetadataOnlyCredsNotice = "metadata-only-credentials"
)

// ProtectedBranch builds the standard protected-branch request.
func ProtectedBranch(branch string) Request {
	return Request{
		Kind:  Select,
		ID:    ProtectedBranchID,
		Label: "current branch " + branch + " is protected",
		Options: []Option{
			{ID: ChoiceCreateBranch, Label: "create a work branch"},
			{ID: ChoiceContinueNoPush, Label: "continue with pushes blocked"},
			{ID: ChoiceCancel, Label: "cancel"},
		},
		Default: ChoiceCreateBranch,
	}
}

// ConfirmWorkspace builds a confirmation for suspicious workspace roots.
func ConfirmWorkspace(id, label string) Request {
	return Request{Kind: Confirm, ID: id, Label: label, Default: ChoiceCancel}
}
