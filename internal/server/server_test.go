package server

import (
	"testing"

	"github.com/itstheanurag/codesandbox/internal/config"
	"github.com/itstheanurag/codesandbox/internal/sandbox"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnvironmentSpecs(t *testing.T) {
	conf := config.Default().Sandbox
	conf.Execute.CPUs = 0.5

	specs := EnvironmentSpecs(conf)
	require.Len(t, specs, 2)

	compile, execute := specs[0], specs[1]
	assert.Equal(t, sandbox.RoleCompile, compile.Role)
	assert.Equal(t, conf.Compile.Container, compile.Container)
	assert.Empty(t, compile.SeccompProfilePath)
	assert.Equal(t, int64(512<<20), compile.MemoryBytes)
	assert.Equal(t, int64(1e9), compile.NanoCPUs)

	assert.Equal(t, sandbox.RoleExecute, execute.Role)
	assert.Equal(t, conf.Execute.Seccomp, execute.SeccompProfilePath)
	assert.Equal(t, int64(5e8), execute.NanoCPUs)
	assert.Equal(t, []string{"sleep", "infinity"}, execute.KeepAliveCmd)
}
