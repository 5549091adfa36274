package orgconfig

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveAuthNull(t *testing.T) {
	for _, spec := range []string{"", "null", "  null  "} {
		token, err := ResolveAuth(context.Background(), spec)
		require.NoError(t, err, spec)
		assert.Empty(t, token)
	}
}

func TestResolveAuthEnv(t *testing.T) {
	t.Setenv("SCC_TEST_ORG_TOKEN", "  tok-123  ")
	token, err := ResolveAuth(context.Background(), "env:SCC_TEST_ORG_TOKEN")
	require.NoError(t, err)
	assert.Equal(t, "tok-123", token)
}

func TestResolveAuthEnvUnset(t *testing.T) {
	_, err := ResolveAuth(context.Background(), "env:SCC_TEST_DEFINITELY_UNSET")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SCC_TEST_DEFINITELY_UNSET")
}

func TestResolveAuthCommand(t *testing.T) {
	token, err := ResolveAuth(context.Background(), "command:printf tok-from-cmd")
	require.NoError(t, err)
	assert.Equal(t, "tok-from-cmd", token)
}

func TestResolveAuthCommandFailure(t *testing.T) {
	_, err := ResolveAuth(context.Background(), "command:false")
	assert.Error(t, err)
}

func TestResolveAuthCommandEmptyOutput(t *testing.T) {
	_, err := ResolveAuth(context.Background(), "command:true")
	assert.Error(t, err)
}

func TestResolveAuthInvalidSpec(t *testing.T) {
	_, err := ResolveAuth(context.Background(), "keyring:service")
	assert.Error(t, err)
}
