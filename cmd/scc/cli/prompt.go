package cli

import (
	"fmt"
	"os"

	"github.com/charmbracelet/huh"
	"github.com/mattn/go-isatty"

	"github.com/scc-tools/scc/internal/cmderr"
	"github.com/scc-tools/scc/internal/interact"
)

func isTerminal(f *os.File) bool {
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// assumeYes accepts every prompt's default without rendering it (--yes).
var assumeYes bool

// answer renders an interaction request and returns the chosen option ID
// or input value. With --yes the default answer is taken without a prompt.
// Otherwise, outside a terminal the request becomes a guided error: the
// core never gets a silently-defaulted answer.
func answer(req interact.Request) (string, error) {
	if assumeYes {
		if req.Kind == interact.Confirm {
			return "yes", nil
		}
		return req.Default, nil
	}
	if !interactive() {
		return "", cmderr.Newf(cmderr.KindUsage, "%s requires an interactive terminal", req.Label).
			WithAction(nonInteractiveHint(req))
	}

	switch req.Kind {
	case interact.Confirm:
		var ok bool
		form := huh.NewForm(huh.NewGroup(
			huh.NewConfirm().Title(req.Label).Value(&ok),
		))
		if err := form.Run(); err != nil {
			return "", cmderr.Wrap(cmderr.KindCancelled, err, "prompt cancelled")
		}
		if ok {
			return "yes", nil
		}
		return interact.ChoiceCancel, nil

	case interact.Select:
		options := make([]huh.Option[string], len(req.Options))
		for i, opt := range req.Options {
			options[i] = huh.NewOption(opt.Label, opt.ID)
		}
		selected := req.Default
		form := huh.NewForm(huh.NewGroup(
			huh.NewSelect[string]().Title(req.Label).Options(options...).Value(&selected),
		))
		if err := form.Run(); err != nil {
			return "", cmderr.Wrap(cmderr.KindCancelled, err, "prompt cancelled")
		}
		return selected, nil

	case interact.Input:
		value := req.Default
		form := huh.NewForm(huh.NewGroup(
			huh.NewInput().Title(req.Label).Value(&value),
		))
		if err := form.Run(); err != nil {
			return "", cmderr.Wrap(cmderr.KindCancelled, err, "prompt cancelled")
		}
		return value, nil
	}
	return "", cmderr.Newf(cmderr.KindState, "unknown interaction kind %q", req.Kind)
}

// nonInteractiveHint names the default resolution so a script author knows
// what --yes would do.
func nonInteractiveHint(req interact.Request) string {
	for _, opt := range req.Options {
		if opt.ID == req.Default {
			return fmt.Sprintf("rerun from a terminal, or pass --yes to accept the default (%s)", opt.Label)
		}
	}
	return "rerun from a terminal, pass --yes to accept the default, or resolve the condition first"
}
