package doctor

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func staticCheck(name string, level Level) Check {
	return CheckFunc{CheckName: name, Fn: func(ctx context.Context) Result {
		return Result{Name: name, Level: level}
	}}
}

func TestRegistryRunsInOrder(t *testing.T) {
	reg := NewRegistry()
	reg.Register(staticCheck("one", OK))
	reg.Register(staticCheck("two", Warn))

	results := reg.RunAll(context.Background())
	require.Len(t, results, 2)
	assert.Equal(t, "one", results[0].Name)
	assert.Equal(t, "two", results[1].Name)
}

func TestHealthy(t *testing.T) {
	assert.True(t, Healthy([]Result{{Level: OK}, {Level: Warn}}))
	assert.False(t, Healthy([]Result{{Level: OK}, {Level: Fail}}))
}

func TestPrintIncludesActionOnFailure(t *testing.T) {
	var buf bytes.Buffer
	Print(&buf, []Result{
		{Name: "docker", Level: Fail, Detail: "daemon unreachable", Action: "start Docker"},
		{Name: "git", Level: OK, Detail: "git version 2.44"},
	})
	out := buf.String()
	assert.Contains(t, out, "[fail] docker: daemon unreachable")
	assert.Contains(t, out, "-> start Docker")
	assert.Contains(t, out, "[ok]   git")
}

type fakePinger struct{ err error }

func (f fakePinger) Ping(ctx context.Context) error { return f.err }

func TestDockerCheck(t *testing.T) {
	res := DockerCheck(fakePinger{}, nil).Run(context.Background())
	assert.Equal(t, OK, res.Level)

	res = DockerCheck(fakePinger{err: errors.New("no daemon")}, nil).Run(context.Background())
	assert.Equal(t, Fail, res.Level)
	assert.NotEmpty(t, res.Action)

	res = DockerCheck(nil, errors.New("no client")).Run(context.Background())
	assert.Equal(t, Fail, res.Level)
}

func TestOrgConfigCheck(t *testing.T) {
	ok := OrgConfigCheck(func(ctx context.Context) error { return nil }).Run(context.Background())
	assert.Equal(t, OK, ok.Level)

	bad := OrgConfigCheck(func(ctx context.Context) error { return errors.New("404") }).Run(context.Background())
	assert.Equal(t, Fail, bad.Level)
}

func TestConfigDirCheck(t *testing.T) {
	t.Setenv("SCC_CONFIG_DIR", t.TempDir())
	res := ConfigDirCheck().Run(context.Background())
	assert.Equal(t, OK, res.Level)
}
