package sandbox

import (
	"context"
	"errors"
	"fmt"
	"io"
)

// Role selects one of the two shared environments.
type Role string

const (
	RoleCompile Role = "compile"
	RoleExecute Role = "execute"
)

var (
	ErrEnvironment = errors.New("sandbox environment failure")
	ErrUnknownRole = errors.New("unknown environment role")
	ErrNotEnsured  = errors.New("environment not ensured")
	ErrImageAbsent = errors.New("image not present and no way to provision it")
)

// EnvironmentError wraps a container platform failure for one role.
type EnvironmentError struct {
	Role Role
	Op   string
	Err  error
}

func (e *EnvironmentError) Error() string {
	return fmt.Sprintf("%s environment: %s: %v", e.Role, e.Op, e.Err)
}

func (e *EnvironmentError) Unwrap() error { return e.Err }

func (e *EnvironmentError) Is(target error) bool { return target == ErrEnvironment }

type ExecRequest struct {
	Cmd        []string
	Stdin      io.Reader
	WorkingDir string
}

type ExecResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

type ContainerState struct {
	ID      string
	Running bool
}

// CreateSpec is the hardened container shape used for both roles.
type CreateSpec struct {
	Name        string
	Image       string
	Cmd         []string
	Binds       []string
	MemoryBytes int64
	NanoCPUs    int64
	PidsLimit   int64
	Tmpfs       map[string]string

	// SeccompProfile is the profile JSON; empty keeps the daemon default.
	SeccompProfile string
}

// Executor runs a command in an already running container.
type Executor interface {
	Exec(ctx context.Context, containerID string, req ExecRequest) (*ExecResult, error)
}

// Engine is the part of the container platform the sandbox relies on.
type Engine interface {
	Executor

	// FindContainer returns nil, nil when no container has exactly this name.
	FindContainer(ctx context.Context, name string) (*ContainerState, error)
	ImageExists(ctx context.Context, ref string) (bool, error)
	BuildImage(ctx context.Context, ref, contextDir string) error
	PullImage(ctx context.Context, ref string) error
	CreateContainer(ctx context.Context, spec CreateSpec) (string, error)
	StartContainer(ctx context.Context, id string) error
}
