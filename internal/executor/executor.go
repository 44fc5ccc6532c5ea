// Package executor runs a submission through the whole pipeline: workspace,
// compile, shared environment, runner and verdict.
package executor

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/itstheanurag/codesandbox/internal/compiler"
	"github.com/itstheanurag/codesandbox/internal/dispatch"
	"github.com/itstheanurag/codesandbox/internal/languages"
	"github.com/itstheanurag/codesandbox/internal/metrics"
	"github.com/itstheanurag/codesandbox/internal/sandbox"
	"github.com/itstheanurag/codesandbox/internal/sanitize"
	"github.com/itstheanurag/codesandbox/internal/verdict"
	"github.com/itstheanurag/codesandbox/internal/workspace"
	"github.com/rs/zerolog"
)

const (
	DefaultTimeLimitMs      int64 = 2000
	DefaultMemoryLimitBytes int64 = 128 << 20

	DefaultMaxTimeLimitMs      int64 = 10000
	DefaultMaxMemoryLimitBytes int64 = 1 << 30
)

var (
	ErrNoTestCases   = errors.New("judge request has no test cases")
	ErrLimitExceeded = errors.New("requested limit exceeds the allowed maximum")
)

type DebugRequest struct {
	Language         string
	Code             string
	Input            string
	TimeLimitMs      int64
	MemoryLimitBytes int64
}

type JudgeRequest struct {
	Language         string
	Code             string
	TestCases        []verdict.TestCase
	TimeLimitMs      int64
	MemoryLimitBytes int64
}

type Executor struct {
	registry   *languages.Registry
	workspaces *workspace.Manager
	envs       compiler.Environments
	compiler   *compiler.Compiler
	dispatcher *dispatch.Dispatcher
	logger     *zerolog.Logger

	maxTimeMs   int64
	maxMemBytes int64
}

type Option func(*Executor)

// WithLimitCeilings caps the per-case limits a request may ask for.
// Non-positive values keep the defaults.
func WithLimitCeilings(timeMs, memBytes int64) Option {
	return func(e *Executor) {
		if timeMs > 0 {
			e.maxTimeMs = timeMs
		}
		if memBytes > 0 {
			e.maxMemBytes = memBytes
		}
	}
}

func NewExecutor(
	registry *languages.Registry,
	workspaces *workspace.Manager,
	envs compiler.Environments,
	comp *compiler.Compiler,
	dispatcher *dispatch.Dispatcher,
	logger *zerolog.Logger,
	opts ...Option,
) *Executor {
	e := &Executor{
		registry:    registry,
		workspaces:  workspaces,
		envs:        envs,
		compiler:    comp,
		dispatcher:  dispatcher,
		logger:      logger,
		maxTimeMs:   DefaultMaxTimeLimitMs,
		maxMemBytes: DefaultMaxMemoryLimitBytes,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// submission is the part shared by both modes once the request is validated.
type submission struct {
	mode     string
	lang     languages.Language
	code     string
	inputs   []string
	timeMs   int64
	memBytes int64
}

// outcome is what a pipeline run produced before verdict evaluation.
type outcome struct {
	compile verdict.CompileResult
	results []verdict.RunResult
	clean   verdict.Cleaner
}

// Debug runs code once against a single input. The error is non-nil only
// when the request itself is invalid.
func (e *Executor) Debug(ctx context.Context, req DebugRequest) (*verdict.DebugVerdict, error) {
	lang, err := e.registry.Get(req.Language)
	if err != nil {
		return nil, err
	}
	timeMs, memBytes, err := e.limits(req.TimeLimitMs, req.MemoryLimitBytes)
	if err != nil {
		return nil, err
	}
	sub := submission{
		mode:     "debug",
		lang:     lang,
		code:     req.Code,
		inputs:   []string{req.Input},
		timeMs:   timeMs,
		memBytes: memBytes,
	}

	out, ok := e.run(ctx, sub)
	var res verdict.DebugVerdict
	if ok {
		res = verdict.Debug(out.compile, out.results, out.clean)
	} else {
		res = verdict.DebugSystemError()
	}
	e.observe(sub, res.Status, res.MemoryBytes)
	return &res, nil
}

// Judge runs code against every test case, stopping at the first failure.
func (e *Executor) Judge(ctx context.Context, req JudgeRequest) (*verdict.JudgeVerdict, error) {
	sub, err := e.judgeSubmission("judge", req)
	if err != nil {
		return nil, err
	}

	out, ok := e.run(ctx, sub)
	var res verdict.JudgeVerdict
	if ok {
		res = verdict.Judge(out.compile, out.results, req.TestCases, out.clean)
	} else {
		res = verdict.SystemError()
	}
	e.observe(sub, res.Status, res.MemoryBytes)
	return &res, nil
}

// DebugCases runs code against every test case and reports each one,
// without stopping at the first failure.
func (e *Executor) DebugCases(ctx context.Context, req JudgeRequest) ([]verdict.CaseVerdict, error) {
	sub, err := e.judgeSubmission("debug_cases", req)
	if err != nil {
		return nil, err
	}

	out, ok := e.run(ctx, sub)
	if !ok {
		out = outcome{compile: verdict.CompileResult{OK: true}}
	}
	res := verdict.DebugCases(out.compile, out.results, req.TestCases, out.clean)
	summary := verdict.StatusAccepted
	for _, c := range res {
		if c.Status != verdict.StatusAccepted {
			summary = c.Status
			break
		}
	}
	e.observe(sub, summary, 0)
	return res, nil
}

func (e *Executor) judgeSubmission(mode string, req JudgeRequest) (submission, error) {
	lang, err := e.registry.Get(req.Language)
	if err != nil {
		return submission{}, err
	}
	if len(req.TestCases) == 0 {
		return submission{}, ErrNoTestCases
	}
	timeMs, memBytes, err := e.limits(req.TimeLimitMs, req.MemoryLimitBytes)
	if err != nil {
		return submission{}, err
	}
	inputs := make([]string, len(req.TestCases))
	for i, tc := range req.TestCases {
		inputs[i] = tc.Input
	}
	return submission{
		mode:     mode,
		lang:     lang,
		code:     req.Code,
		inputs:   inputs,
		timeMs:   timeMs,
		memBytes: memBytes,
	}, nil
}

// limits applies the defaults to unset values and rejects anything above
// the configured ceilings.
func (e *Executor) limits(timeMs, memBytes int64) (int64, int64, error) {
	timeMs = orDefault(timeMs, DefaultTimeLimitMs)
	memBytes = orDefault(memBytes, DefaultMemoryLimitBytes)
	if timeMs > e.maxTimeMs {
		return 0, 0, fmt.Errorf("%w: time limit %dms, maximum %dms", ErrLimitExceeded, timeMs, e.maxTimeMs)
	}
	if memBytes > e.maxMemBytes {
		return 0, 0, fmt.Errorf("%w: memory limit %d bytes, maximum %d bytes", ErrLimitExceeded, memBytes, e.maxMemBytes)
	}
	return timeMs, memBytes, nil
}

// run executes the pipeline. ok is false when the judge itself failed; the
// cause is logged here and never reaches the submitter.
func (e *Executor) run(ctx context.Context, sub submission) (out outcome, ok bool) {
	start := time.Now()
	log := e.logger.With().Str("mode", sub.mode).Str("language", sub.lang.Name()).Logger()

	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Bytes("stack", debug.Stack()).Msg("pipeline panicked")
			out, ok = outcome{}, false
		}
		metrics.PhaseDuration.WithLabelValues(sub.lang.Name(), "total").Observe(float64(time.Since(start).Milliseconds()))
	}()

	ws, err := e.workspaces.Create(workspace.Spec{
		Code:             sub.code,
		Inputs:           sub.inputs,
		Language:         sub.lang,
		TimeLimitMs:      sub.timeMs,
		MemoryLimitBytes: sub.memBytes,
	})
	metrics.PhaseDuration.WithLabelValues(sub.lang.Name(), "workspace").Observe(float64(time.Since(start).Milliseconds()))
	if err != nil {
		log.Error().Err(err).Msg("failed to create workspace")
		return outcome{}, false
	}
	defer e.workspaces.Cleanup(ws)
	log = log.With().Str("submission_id", ws.ID).Logger()

	out.clean = sanitize.New(sub.lang.SourceFileName(), ws.Dir, ws.RunnerPath(), e.workspaces.Root(), e.workspaces.RunnerRoot()).Clean

	out.compile, err = e.compiler.Compile(ctx, ws)
	if err != nil {
		log.Error().Err(err).Msg("compilation could not run")
		return outcome{}, false
	}
	if !out.compile.OK {
		return out, true
	}

	containerID, err := e.envs.Ensure(ctx, sandbox.RoleExecute)
	if err != nil {
		log.Error().Err(err).Msg("execute environment unavailable")
		return outcome{}, false
	}

	out.results, err = e.dispatcher.RunBatch(ctx, containerID, ws)
	if err != nil {
		log.Error().Err(err).Msg("runner dispatch failed")
		return outcome{}, false
	}
	return out, true
}

func (e *Executor) observe(sub submission, status verdict.Status, memory int64) {
	metrics.SubmissionsTotal.WithLabelValues(sub.mode, sub.lang.Name(), status.String()).Inc()
	if status == verdict.StatusAccepted && memory > 0 {
		metrics.PeakMemory.WithLabelValues(sub.lang.Name()).Observe(float64(memory))
	}
	e.logger.Info().
		Str("mode", sub.mode).
		Str("language", sub.lang.Name()).
		Str("status", status.String()).
		Msg("submission finished")
}

func orDefault(v, def int64) int64 {
	if v <= 0 {
		return def
	}
	return v
}
