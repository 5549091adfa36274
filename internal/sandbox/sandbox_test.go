package sandbox

import (
	"context"
	"encoding/json"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scc-tools/scc/internal/cmderr"
	"github.com/scc-tools/scc/internal/lockfile"
	"github.com/scc-tools/scc/internal/orgconfig"
)

func TestSlotLockPathStablePerSlot(t *testing.T) {
	a := slotLockPath("/ws", "main")
	b := slotLockPath("/ws", "main")
	c := slotLockPath("/ws", "feature")
	d := slotLockPath("/ws2", "main")

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.NotEqual(t, a, d)
	assert.True(t, strings.HasSuffix(a, ".lock"))
}

func TestLaunchHeldSlotIsUsageError(t *testing.T) {
	t.Setenv("SCC_CONFIG_DIR", t.TempDir())

	held, err := lockfile.Acquire(context.Background(), slotLockPath("/ws", "main"), time.Second)
	require.NoError(t, err)
	defer held.Release()

	// The lock is taken before any daemon call, so a bare orchestrator is
	// enough to exercise the failure.
	o := &Orchestrator{}
	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	_, err = o.Launch(ctx, Spec{Image: "img:latest", SessionID: "s1", Workspace: "/ws", Branch: "main"})
	require.Error(t, err)
	assert.Equal(t, cmderr.KindUsage, cmderr.KindOf(err))
	assert.NotEmpty(t, cmderr.ActionOf(err))
}

func TestWriteSafetyNetDisabled(t *testing.T) {
	path, cleanup, err := WriteSafetyNet(orgconfig.SafetyNet{})
	require.NoError(t, err)
	defer cleanup()
	assert.Empty(t, path, "no file is staged when the safety net is off")
}

func TestWriteSafetyNet(t *testing.T) {
	cfg := orgconfig.SafetyNet{
		Action: orgconfig.SafetyNetBlock,
		Rules:  map[string]any{"deny_commands": []any{"rm -rf /"}},
	}
	path, cleanup, err := WriteSafetyNet(cfg)
	require.NoError(t, err)
	require.NotEmpty(t, path)
	defer cleanup()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var got orgconfig.SafetyNet
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, orgconfig.SafetyNetBlock, got.Action)

	cleanup()
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err), "cleanup removes the staged file")
}
