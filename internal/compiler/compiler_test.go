package compiler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/itstheanurag/codesandbox/internal/languages"
	"github.com/itstheanurag/codesandbox/internal/sandbox"
	"github.com/itstheanurag/codesandbox/internal/sandbox/sandboxtest"
	"github.com/itstheanurag/codesandbox/internal/workspace"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticEnvs struct {
	ids   map[sandbox.Role]string
	err   error
	calls []sandbox.Role
}

func (s *staticEnvs) Ensure(_ context.Context, role sandbox.Role) (string, error) {
	s.calls = append(s.calls, role)
	if s.err != nil {
		return "", s.err
	}
	return s.ids[role], nil
}

func newWorkspace(t *testing.T, lang string) *workspace.Workspace {
	t.Helper()
	logger := zerolog.Nop()
	m, err := workspace.NewManager(t.TempDir(), "/codeStore", &logger)
	require.NoError(t, err)
	l, err := languages.Lookup(lang)
	require.NoError(t, err)
	ws, err := m.Create(workspace.Spec{Code: "int main(){}", Language: l, TimeLimitMs: 1000, MemoryLimitBytes: 64 << 20})
	require.NoError(t, err)
	t.Cleanup(func() { m.Cleanup(ws) })
	return ws
}

func newCompiler(envs Environments, engine sandbox.Executor, opts ...Option) *Compiler {
	logger := zerolog.Nop()
	return New(envs, engine, &logger, opts...)
}

func TestNativeCompilesInCompileContainer(t *testing.T) {
	ws := newWorkspace(t, "cpp")
	engine := sandboxtest.NewEngine()
	envs := &staticEnvs{ids: map[sandbox.Role]string{sandbox.RoleCompile: "compile-1"}}

	res, err := newCompiler(envs, engine).Compile(context.Background(), ws)
	require.NoError(t, err)
	assert.True(t, res.OK)

	calls := engine.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "compile-1", calls[0].ContainerID)
	assert.Equal(t, []string{
		"timeout", "-s", "KILL", "30",
		"g++", ws.RunnerPath() + "/main.cpp", "-o", ws.RunnerPath() + "/main",
	}, calls[0].Cmd)
	assert.Equal(t, []sandbox.Role{sandbox.RoleCompile}, envs.calls)
}

func TestNativeFailureIsSanitized(t *testing.T) {
	ws := newWorkspace(t, "c")
	engine := sandboxtest.NewEngine()
	engine.ExecHandler = func(context.Context, sandboxtest.ExecCall) (*sandbox.ExecResult, error) {
		return &sandbox.ExecResult{
			ExitCode: 1,
			Stderr:   ws.RunnerPath() + "/main.c:1:5: error: expected ';' before '}' token\n",
		}, nil
	}
	envs := &staticEnvs{ids: map[sandbox.Role]string{sandbox.RoleCompile: "compile-1"}}

	res, err := newCompiler(envs, engine).Compile(context.Background(), ws)
	require.NoError(t, err)
	assert.False(t, res.OK)
	assert.Equal(t, "main.c:1:5: error: expected ';' before '}' token\n", res.Stderr)
	assert.NotContains(t, res.Stderr, "/codeStore")
	assert.NotContains(t, res.Stderr, ws.ID)
}

func TestNativeEnvironmentFailure(t *testing.T) {
	ws := newWorkspace(t, "rust")
	envErr := &sandbox.EnvironmentError{Role: sandbox.RoleCompile, Op: "start container", Err: errors.New("daemon down")}
	envs := &staticEnvs{err: envErr}

	_, err := newCompiler(envs, sandboxtest.NewEngine()).Compile(context.Background(), ws)
	require.Error(t, err)
	assert.ErrorIs(t, err, sandbox.ErrEnvironment)
}

func TestNativeTimeoutIsCompileError(t *testing.T) {
	ws := newWorkspace(t, "c")
	engine := sandboxtest.NewEngine()
	engine.ExecHandler = func(ctx context.Context, _ sandboxtest.ExecCall) (*sandbox.ExecResult, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	envs := &staticEnvs{ids: map[sandbox.Role]string{sandbox.RoleCompile: "compile-1"}}

	res, err := newCompiler(envs, engine, WithTimeout(20*time.Millisecond)).Compile(context.Background(), ws)
	require.NoError(t, err)
	assert.False(t, res.OK)
	assert.Equal(t, TimedOutMessage, res.Stderr)

	calls := engine.Calls()
	require.Len(t, calls, 1)
	require.GreaterOrEqual(t, len(calls[0].Cmd), 4)
	assert.Equal(t, []string{"timeout", "-s", "KILL", "1"}, calls[0].Cmd[:4])
}

func TestNativeKilledByTimeoutIsCompileError(t *testing.T) {
	for _, code := range []int{124, 137} {
		ws := newWorkspace(t, "cpp")
		engine := sandboxtest.NewEngine()
		engine.ExecHandler = func(context.Context, sandboxtest.ExecCall) (*sandbox.ExecResult, error) {
			return &sandbox.ExecResult{ExitCode: code}, nil
		}
		envs := &staticEnvs{ids: map[sandbox.Role]string{sandbox.RoleCompile: "compile-1"}}

		res, err := newCompiler(envs, engine, WithTimeout(5*time.Second)).Compile(context.Background(), ws)
		require.NoError(t, err)
		assert.False(t, res.OK)
		assert.Equal(t, TimedOutMessage, res.Stderr, "exit code %d", code)

		calls := engine.Calls()
		require.Len(t, calls, 1)
		assert.Equal(t, []string{"timeout", "-s", "KILL", "5"}, calls[0].Cmd[:4])
	}
}

func TestManagedCompilesOnHost(t *testing.T) {
	ws := newWorkspace(t, "java")
	var gotDir string
	var gotArgv []string
	host := func(_ context.Context, dir string, argv []string) (*sandbox.ExecResult, error) {
		gotDir, gotArgv = dir, argv
		return &sandbox.ExecResult{
			ExitCode: 1,
			Stderr:   ws.Dir + "/Main.java:3: error: ';' expected\n",
		}, nil
	}
	engine := sandboxtest.NewEngine()
	envs := &staticEnvs{}

	res, err := newCompiler(envs, engine, WithHostRunner(host)).Compile(context.Background(), ws)
	require.NoError(t, err)
	assert.False(t, res.OK)
	assert.Equal(t, "Main.java:3: error: ';' expected\n", res.Stderr)
	assert.Equal(t, ws.Dir, gotDir)
	assert.Equal(t, []string{"javac", "-encoding", "utf-8", ws.Dir + "/Main.java"}, gotArgv)
	assert.Empty(t, engine.Calls())
	assert.Empty(t, envs.calls)
}

func TestInterpretedSkipsCompilation(t *testing.T) {
	ws := newWorkspace(t, "python")
	engine := sandboxtest.NewEngine()
	envs := &staticEnvs{}

	res, err := newCompiler(envs, engine).Compile(context.Background(), ws)
	require.NoError(t, err)
	assert.True(t, res.OK)
	assert.Empty(t, engine.Calls())
	assert.Empty(t, envs.calls)
}

func TestRunHostReportsExitCode(t *testing.T) {
	res, err := RunHost(context.Background(), t.TempDir(), []string{"sh", "-c", "echo oops >&2; exit 3"})
	require.NoError(t, err)
	assert.Equal(t, 3, res.ExitCode)
	assert.Equal(t, "oops\n", res.Stderr)

	_, err = RunHost(context.Background(), t.TempDir(), nil)
	assert.Error(t, err)
}
