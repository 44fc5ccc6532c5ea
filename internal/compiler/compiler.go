// Package compiler turns a workspace's source file into something the runner
// can execute. Native languages build inside the compile container, managed
// languages build on the host, interpreted languages skip the step.
package compiler

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/itstheanurag/codesandbox/internal/languages"
	"github.com/itstheanurag/codesandbox/internal/metrics"
	"github.com/itstheanurag/codesandbox/internal/sandbox"
	"github.com/itstheanurag/codesandbox/internal/sanitize"
	"github.com/itstheanurag/codesandbox/internal/verdict"
	"github.com/itstheanurag/codesandbox/internal/workspace"
	"github.com/rs/zerolog"
)

const DefaultTimeout = 30 * time.Second

// Exit codes of timeout(1) when it had to stop the wrapped compiler.
const (
	exitTimedOut = 124
	exitKilled   = 137
)

// TimedOutMessage is the diagnostic of a compile that ran past its deadline.
const TimedOutMessage = "Compilation timed out"

// Environments hands out running shared containers.
type Environments interface {
	Ensure(ctx context.Context, role sandbox.Role) (string, error)
}

// HostRunner runs argv on the host with dir as working directory.
type HostRunner func(ctx context.Context, dir string, argv []string) (*sandbox.ExecResult, error)

type Compiler struct {
	envs    Environments
	exec    sandbox.Executor
	host    HostRunner
	timeout time.Duration
	logger  *zerolog.Logger
}

type Option func(*Compiler)

func WithTimeout(d time.Duration) Option {
	return func(c *Compiler) {
		if d > 0 {
			c.timeout = d
		}
	}
}

func WithHostRunner(run HostRunner) Option {
	return func(c *Compiler) { c.host = run }
}

func New(envs Environments, executor sandbox.Executor, logger *zerolog.Logger, opts ...Option) *Compiler {
	c := &Compiler{
		envs:    envs,
		exec:    executor,
		host:    RunHost,
		timeout: DefaultTimeout,
		logger:  logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Compile builds ws. A failed build is a CompileResult with OK unset; the
// returned error is reserved for faults of the judge itself.
func (c *Compiler) Compile(ctx context.Context, ws *workspace.Workspace) (verdict.CompileResult, error) {
	lang := ws.Language
	start := time.Now()
	defer func() {
		metrics.PhaseDuration.WithLabelValues(lang.Name(), "compile").Observe(float64(time.Since(start).Milliseconds()))
	}()

	var (
		res *sandbox.ExecResult
		err error
	)
	switch lang.Category() {
	case languages.CategoryInterpreted:
		return verdict.CompileResult{OK: true}, nil
	case languages.CategoryNative:
		res, err = c.compileNative(ctx, ws)
	case languages.CategoryManaged:
		res, err = c.compileManaged(ctx, ws)
	default:
		return verdict.CompileResult{}, fmt.Errorf("compile %s: %w", lang.Name(), languages.ErrUnsupportedLanguage)
	}

	if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
		c.logger.Info().Str("submission_id", ws.ID).Str("language", lang.Name()).Msg("compilation timed out")
		return verdict.CompileResult{Stderr: TimedOutMessage}, nil
	}
	if err != nil {
		return verdict.CompileResult{}, err
	}

	clean := sanitize.New(lang.SourceFileName(), ws.Dir, ws.RunnerPath())
	out := verdict.CompileResult{
		OK:     res.ExitCode == 0,
		Stdout: strings.TrimSpace(clean.Clean(res.Stdout)),
		Stderr: clean.Clean(res.Stderr),
	}
	if !out.OK {
		c.logger.Debug().
			Str("submission_id", ws.ID).
			Str("language", lang.Name()).
			Int("exit_code", res.ExitCode).
			Msg("compilation failed")
	}
	return out, nil
}

func (c *Compiler) compileNative(ctx context.Context, ws *workspace.Workspace) (*sandbox.ExecResult, error) {
	id, err := c.envs.Ensure(ctx, sandbox.RoleCompile)
	if err != nil {
		return nil, fmt.Errorf("compile environment: %w", err)
	}

	// The in-container kill fires first; the context only covers a stuck exec.
	ctx, cancel := context.WithTimeout(ctx, c.timeout+min(c.timeout, time.Second))
	defer cancel()

	secs := strconv.Itoa(int(math.Ceil(c.timeout.Seconds())))
	cmd := append([]string{"timeout", "-s", "KILL", secs}, ws.Language.CompileCommand(ws.RunnerPath())...)

	res, err := c.exec.Exec(ctx, id, sandbox.ExecRequest{
		Cmd:        cmd,
		WorkingDir: ws.RunnerDir,
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("exec compiler in %s: %w", id, err)
	}
	if res.ExitCode == exitTimedOut || res.ExitCode == exitKilled {
		return nil, context.DeadlineExceeded
	}
	return res, nil
}

func (c *Compiler) compileManaged(ctx context.Context, ws *workspace.Workspace) (*sandbox.ExecResult, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	res, err := c.host(ctx, ws.Dir, ws.Language.CompileCommand(ws.Dir))
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("run host compiler: %w", err)
	}
	return res, nil
}

// RunHost is the default HostRunner. A non-zero exit is reported through
// ExitCode, not as an error.
func RunHost(ctx context.Context, dir string, argv []string) (*sandbox.ExecResult, error) {
	if len(argv) == 0 {
		return nil, errors.New("empty command")
	}
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = dir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	var exitErr *exec.ExitError
	if err != nil && !errors.As(err, &exitErr) {
		return nil, err
	}
	return &sandbox.ExecResult{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		ExitCode: cmd.ProcessState.ExitCode(),
	}, nil
}
