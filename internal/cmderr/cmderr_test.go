package cmderr

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExitCodes(t *testing.T) {
	tests := []struct {
		kind Kind
		code int
	}{
		{KindGeneral, 1},
		{KindUsage, 2},
		{KindPrerequisite, 3},
		{KindConfig, 3},
		{KindNetwork, 3},
		{KindTool, 4},
		{KindState, 5},
		{KindPolicy, 6},
		{KindDelegation, 6},
		{KindCancelled, 130},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.code, tt.kind.ExitCode(), "kind %s", tt.kind)
	}
}

func TestKindOfWrappedError(t *testing.T) {
	base := New(KindPolicy, "blocked by org policy")
	wrapped := fmt.Errorf("launching sandbox: %w", base)
	assert.Equal(t, KindPolicy, KindOf(wrapped))
	assert.Equal(t, 6, ExitCodeFor(wrapped))
}

func TestKindOfCancellation(t *testing.T) {
	err := fmt.Errorf("fetch: %w", context.Canceled)
	assert.Equal(t, KindCancelled, KindOf(err))
	assert.Equal(t, 130, ExitCodeFor(err))
}

func TestKindOfUnclassified(t *testing.T) {
	assert.Equal(t, KindGeneral, KindOf(errors.New("boom")))
	assert.Equal(t, 1, ExitCodeFor(errors.New("boom")))
	assert.Equal(t, 0, ExitCodeFor(nil))
}

func TestActionPropagates(t *testing.T) {
	err := Newf(KindConfig, "ambiguous plugin reference %q", "api-tools").
		WithAction("qualify the reference as name@marketplace")
	wrapped := fmt.Errorf("resolving plugins: %w", err)
	assert.Equal(t, "qualify the reference as name@marketplace", ActionOf(wrapped))
}

func TestWrapPreservesCause(t *testing.T) {
	cause := errors.New("connection refused")
	err := Wrap(KindNetwork, cause, "fetching org config")
	require.ErrorIs(t, err, cause)
	assert.Equal(t, "fetching org config: connection refused", err.Error())
}
