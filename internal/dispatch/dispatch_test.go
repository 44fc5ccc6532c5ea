package dispatch

import (
	"context"
	"encoding/base64"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/itstheanurag/codesandbox/internal/languages"
	"github.com/itstheanurag/codesandbox/internal/metrics"
	"github.com/itstheanurag/codesandbox/internal/sandbox"
	"github.com/itstheanurag/codesandbox/internal/sandbox/sandboxtest"
	"github.com/itstheanurag/codesandbox/internal/verdict"
	"github.com/itstheanurag/codesandbox/internal/workspace"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func b64(s string) string { return base64.StdEncoding.EncodeToString([]byte(s)) }

func newWorkspace(t *testing.T, inputs ...string) *workspace.Workspace {
	t.Helper()
	logger := zerolog.Nop()
	m, err := workspace.NewManager(t.TempDir(), "/codeStore", &logger)
	require.NoError(t, err)
	lang, err := languages.Lookup("python")
	require.NoError(t, err)
	ws, err := m.Create(workspace.Spec{
		Code:             "print(input())",
		Inputs:           inputs,
		Language:         lang,
		TimeLimitMs:      1500,
		MemoryLimitBytes: 64 << 20,
	})
	require.NoError(t, err)
	t.Cleanup(func() { m.Cleanup(ws) })
	return ws
}

func newDispatcher(engine sandbox.Executor, grace time.Duration) *Dispatcher {
	logger := zerolog.Nop()
	return New(engine, "", grace, &logger)
}

func TestRunBatchInvokesRunnerOnce(t *testing.T) {
	ws := newWorkspace(t, "1", "2")
	engine := sandboxtest.NewEngine()
	engine.ExecHandler = func(context.Context, sandboxtest.ExecCall) (*sandbox.ExecResult, error) {
		batch := `[{"status":1000,"time_ms":3,"memory_bytes":1024,"output":"` + b64("1\n") + `","test_case_id":1},` +
			`{"status":1000,"time_ms":4,"memory_bytes":2048,"output":"` + b64("2\n") + `","test_case_id":2}]`
		return &sandbox.ExecResult{Stdout: batch}, nil
	}

	results, err := newDispatcher(engine, time.Second).RunBatch(context.Background(), "exec-1", ws)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, verdict.RunResult{Status: verdict.RunnerOK, TimeMs: 3, MemoryBytes: 1024, Output: "1\n", TestCaseID: 1}, results[0])
	assert.Equal(t, "2\n", results[1].Output)

	calls := engine.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "exec-1", calls[0].ContainerID)
	assert.Equal(t, ws.RunnerDir, calls[0].Stdin)
	// two cases at 1.5s plus one second of grace
	assert.Equal(t, []string{"timeout", "-s", "KILL", "4", DefaultRunnerPath}, calls[0].Cmd)
}

func TestBudget(t *testing.T) {
	ws := newWorkspace(t, "1", "2", "3", "4")
	d := newDispatcher(sandboxtest.NewEngine(), 5*time.Second)
	assert.Equal(t, 11*time.Second, d.Budget(ws))

	ws.Descriptor.TimeLimit = 3_000_000_000_000
	assert.Equal(t, time.Duration(math.MaxInt64), d.Budget(ws))

	ws.Descriptor.TimeLimit = math.MaxInt64
	ws.Descriptor.TestCaseNum = 1
	assert.Positive(t, d.Budget(ws))
}

func TestRunBatchLegacyEncoding(t *testing.T) {
	ws := newWorkspace(t, "x")
	engine := sandboxtest.NewEngine()
	engine.ExecHandler = func(context.Context, sandboxtest.ExecCall) (*sandbox.ExecResult, error) {
		batch := `[{"exit_code":1002,"time":7,"memory":4096,"output_msg":"` + b64("Traceback") + `","test_case_id":1}]`
		return &sandbox.ExecResult{Stdout: b64(batch) + "\n"}, nil
	}

	results, err := newDispatcher(engine, time.Second).RunBatch(context.Background(), "exec-1", ws)
	require.NoError(t, err)
	assert.Equal(t, []verdict.RunResult{{Status: verdict.RunnerRuntimeError, TimeMs: 7, MemoryBytes: 4096, Output: "Traceback", TestCaseID: 1}}, results)
}

func TestRunBatchNonZeroExit(t *testing.T) {
	ws := newWorkspace(t, "x")
	engine := sandboxtest.NewEngine()
	engine.ExecHandler = func(context.Context, sandboxtest.ExecCall) (*sandbox.ExecResult, error) {
		return &sandbox.ExecResult{ExitCode: 2, Stderr: "cannot open request_args.json"}, nil
	}
	before := testutil.ToFloat64(metrics.RunnerFailures.WithLabelValues("exit"))

	results, err := newDispatcher(engine, time.Second).RunBatch(context.Background(), "exec-1", ws)
	require.NoError(t, err)
	assert.Equal(t, []verdict.RunResult{{Status: verdict.RunnerFailure, Output: "cannot open request_args.json"}}, results)
	assert.Equal(t, before+1, testutil.ToFloat64(metrics.RunnerFailures.WithLabelValues("exit")))
}

func TestRunBatchKilledByTimeout(t *testing.T) {
	ws := newWorkspace(t, "x")
	engine := sandboxtest.NewEngine()
	engine.ExecHandler = func(context.Context, sandboxtest.ExecCall) (*sandbox.ExecResult, error) {
		return &sandbox.ExecResult{ExitCode: 137}, nil
	}

	_, err := newDispatcher(engine, time.Second).RunBatch(context.Background(), "exec-1", ws)
	assert.ErrorIs(t, err, ErrDispatchTimeout)
}

func TestRunBatchDeadline(t *testing.T) {
	ws := newWorkspace(t, "x")
	ws.Descriptor.TimeLimit = 1
	engine := sandboxtest.NewEngine()
	engine.ExecHandler = func(ctx context.Context, _ sandboxtest.ExecCall) (*sandbox.ExecResult, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}

	_, err := newDispatcher(engine, 20*time.Millisecond).RunBatch(context.Background(), "exec-1", ws)
	assert.ErrorIs(t, err, ErrDispatchTimeout)
}

func TestRunBatchExecFailure(t *testing.T) {
	ws := newWorkspace(t, "x")
	engine := sandboxtest.NewEngine()
	engine.ExecHandler = func(context.Context, sandboxtest.ExecCall) (*sandbox.ExecResult, error) {
		return nil, errors.New("connection reset")
	}

	_, err := newDispatcher(engine, time.Second).RunBatch(context.Background(), "exec-1", ws)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrDispatchTimeout)
}

func TestRunBatchProtocolError(t *testing.T) {
	ws := newWorkspace(t, "x")
	engine := sandboxtest.NewEngine()
	engine.ExecHandler = func(context.Context, sandboxtest.ExecCall) (*sandbox.ExecResult, error) {
		return &sandbox.ExecResult{Stdout: "segfault!!"}, nil
	}

	_, err := newDispatcher(engine, time.Second).RunBatch(context.Background(), "exec-1", ws)
	var perr *ProtocolError
	assert.ErrorAs(t, err, &perr)
}

func TestDecode(t *testing.T) {
	tests := []struct {
		name    string
		stdout  string
		wantErr bool
		want    []verdict.RunResult
	}{
		{name: "empty", stdout: "  \n", wantErr: true},
		{name: "empty batch", stdout: "[]", wantErr: true},
		{name: "not json", stdout: "[oops", wantErr: true},
		{name: "missing status", stdout: `[{"test_case_id":1}]`, wantErr: true},
		{name: "bad output encoding", stdout: `[{"status":1000,"output":"%%%","test_case_id":1}]`, wantErr: true},
		{
			name:   "no output",
			stdout: `[{"status":1003,"time_ms":2001,"memory_bytes":5,"test_case_id":1}]`,
			want:   []verdict.RunResult{{Status: verdict.RunnerTimeLimit, TimeMs: 2001, MemoryBytes: 5, TestCaseID: 1}},
		},
		{
			name:   "base64 wrapped",
			stdout: b64(`[{"status":1,"output":"` + b64("socket") + `","test_case_id":1}]`),
			want:   []verdict.RunResult{{Status: verdict.RunnerPermissionDeny, Output: "socket", TestCaseID: 1}},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Decode(tc.stdout)
			if tc.wantErr {
				var perr *ProtocolError
				assert.ErrorAs(t, err, &perr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}
