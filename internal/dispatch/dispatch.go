// Package dispatch hands a prepared workspace to the runner inside the
// execute container and decodes the batch of per-case results it prints.
package dispatch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"strconv"
	"time"

	"github.com/itstheanurag/codesandbox/internal/metrics"
	"github.com/itstheanurag/codesandbox/internal/sandbox"
	"github.com/itstheanurag/codesandbox/internal/verdict"
	"github.com/itstheanurag/codesandbox/internal/workspace"
	"github.com/rs/zerolog"
)

const (
	DefaultRunnerPath = "/execute_core/execute_core"
	DefaultGrace      = 5 * time.Second
)

// exit codes of coreutils timeout when it had to kill the runner
const (
	exitTimedOut = 124
	exitKilled   = 137
)

var ErrDispatchTimeout = errors.New("runner did not finish in time")

// ProtocolError is returned when the runner's stdout is not a result batch.
type ProtocolError struct {
	Reason string
	Output string
	Err    error
}

func (e *ProtocolError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("runner protocol: %s: %v", e.Reason, e.Err)
	}
	return "runner protocol: " + e.Reason
}

func (e *ProtocolError) Unwrap() error { return e.Err }

type Dispatcher struct {
	exec       sandbox.Executor
	runnerPath string
	grace      time.Duration
	logger     *zerolog.Logger
}

func New(executor sandbox.Executor, runnerPath string, grace time.Duration, logger *zerolog.Logger) *Dispatcher {
	if runnerPath == "" {
		runnerPath = DefaultRunnerPath
	}
	if grace <= 0 {
		grace = DefaultGrace
	}
	return &Dispatcher{
		exec:       executor,
		runnerPath: runnerPath,
		grace:      grace,
		logger:     logger,
	}
}

// Budget is the wall clock allowed for a whole batch: every case at its
// limit plus the grace period. It saturates instead of overflowing.
func (d *Dispatcher) Budget(ws *workspace.Workspace) time.Duration {
	cases := int64(max(1, ws.Descriptor.TestCaseNum))
	limit := max(0, ws.Descriptor.TimeLimit)
	if limit > (math.MaxInt64-int64(d.grace))/int64(time.Millisecond)/cases {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(limit*cases)*time.Millisecond + d.grace
}

// RunBatch invokes the runner once for every case in ws. A runner that exits
// non-zero yields a single RunnerFailure record carrying its stderr.
func (d *Dispatcher) RunBatch(ctx context.Context, containerID string, ws *workspace.Workspace) ([]verdict.RunResult, error) {
	stdin, err := os.ReadFile(ws.PathFilePath())
	if err != nil {
		return nil, &workspace.StorageError{Op: "read", Path: ws.PathFilePath(), Err: err}
	}

	budget := d.Budget(ws)
	ctx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	log := d.logger.With().Str("submission_id", ws.ID).Str("container", containerID).Logger()
	secs := strconv.Itoa(int(math.Ceil(budget.Seconds())))
	start := time.Now()

	res, err := d.exec.Exec(ctx, containerID, sandbox.ExecRequest{
		Cmd:        []string{"timeout", "-s", "KILL", secs, d.runnerPath},
		Stdin:      bytes.NewReader(stdin),
		WorkingDir: ws.RunnerDir,
	})
	metrics.PhaseDuration.WithLabelValues(ws.Language.Name(), "run").Observe(float64(time.Since(start).Milliseconds()))
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			metrics.RunnerFailures.WithLabelValues("timeout").Inc()
			log.Error().Dur("budget", budget).Msg("runner exceeded its budget")
			return nil, ErrDispatchTimeout
		}
		metrics.RunnerFailures.WithLabelValues("exec").Inc()
		return nil, fmt.Errorf("exec runner in %s: %w", containerID, err)
	}

	switch res.ExitCode {
	case 0:
	case exitTimedOut, exitKilled:
		metrics.RunnerFailures.WithLabelValues("timeout").Inc()
		log.Error().Int("exit_code", res.ExitCode).Dur("budget", budget).Msg("runner killed by timeout")
		return nil, ErrDispatchTimeout
	default:
		metrics.RunnerFailures.WithLabelValues("exit").Inc()
		log.Error().Int("exit_code", res.ExitCode).Str("stderr", res.Stderr).Msg("runner exited abnormally")
		return []verdict.RunResult{{Status: verdict.RunnerFailure, Output: res.Stderr}}, nil
	}

	results, err := Decode(res.Stdout)
	if err != nil {
		metrics.RunnerFailures.WithLabelValues("protocol").Inc()
		log.Error().Err(err).Msg("undecodable runner output")
		return nil, err
	}
	return results, nil
}
