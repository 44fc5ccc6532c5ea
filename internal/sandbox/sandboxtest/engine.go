// Package sandboxtest provides an in-memory sandbox.Engine for tests.
package sandboxtest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/docker/docker/errdefs"
	"github.com/itstheanurag/codesandbox/internal/sandbox"
)

// ExecCall records one Exec invocation with its stdin fully read.
type ExecCall struct {
	ContainerID string
	Cmd         []string
	Stdin       string
	WorkingDir  string
}

// Engine is a concurrency-safe fake container platform.
type Engine struct {
	mu sync.Mutex

	containers map[string]*sandbox.ContainerState
	images     map[string]bool
	nextID     int

	FindErr   error
	ImageErr  error
	CreateErr error
	StartErr  error
	BuildErr  error

	// RaceOnCreate makes CreateContainer behave as if another process created
	// the same name first.
	RaceOnCreate bool
	CreateDelay  time.Duration

	Creates     int
	Starts      int
	Builds      int
	Pulls       int
	LastCreate  sandbox.CreateSpec
	ExecCalls   []ExecCall
	ExecHandler func(ctx context.Context, call ExecCall) (*sandbox.ExecResult, error)
}

func NewEngine() *Engine {
	return &Engine{
		containers: make(map[string]*sandbox.ContainerState),
		images:     make(map[string]bool),
	}
}

func (e *Engine) AddImage(ref string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.images[ref] = true
}

func (e *Engine) AddContainer(name, id string, running bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.containers[name] = &sandbox.ContainerState{ID: id, Running: running}
}

// Running reports how many containers are in the running state.
func (e *Engine) Running() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := 0
	for _, c := range e.containers {
		if c.Running {
			n++
		}
	}
	return n
}

func (e *Engine) Calls() []ExecCall {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]ExecCall(nil), e.ExecCalls...)
}

func (e *Engine) FindContainer(_ context.Context, name string) (*sandbox.ContainerState, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.FindErr != nil {
		return nil, e.FindErr
	}
	c, ok := e.containers[name]
	if !ok {
		return nil, nil
	}
	cp := *c
	return &cp, nil
}

func (e *Engine) ImageExists(_ context.Context, ref string) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.ImageErr != nil {
		return false, e.ImageErr
	}
	return e.images[ref], nil
}

func (e *Engine) BuildImage(_ context.Context, ref, _ string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.Builds++
	if e.BuildErr != nil {
		return e.BuildErr
	}
	e.images[ref] = true
	return nil
}

func (e *Engine) PullImage(_ context.Context, ref string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.Pulls++
	e.images[ref] = true
	return nil
}

func (e *Engine) CreateContainer(_ context.Context, spec sandbox.CreateSpec) (string, error) {
	if e.CreateDelay > 0 {
		time.Sleep(e.CreateDelay)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.LastCreate = spec
	if e.CreateErr != nil {
		return "", e.CreateErr
	}
	if _, exists := e.containers[spec.Name]; exists || e.RaceOnCreate {
		if !exists {
			e.nextID++
			e.containers[spec.Name] = &sandbox.ContainerState{ID: fmt.Sprintf("other-%d", e.nextID)}
		}
		return "", errdefs.Conflict(errors.New("container name already in use"))
	}
	e.Creates++
	e.nextID++
	id := fmt.Sprintf("cid-%d", e.nextID)
	e.containers[spec.Name] = &sandbox.ContainerState{ID: id}
	return id, nil
}

func (e *Engine) StartContainer(_ context.Context, id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.StartErr != nil {
		return e.StartErr
	}
	for _, c := range e.containers {
		if c.ID == id {
			if !c.Running {
				e.Starts++
			}
			c.Running = true
			return nil
		}
	}
	return errdefs.NotFound(fmt.Errorf("no such container: %s", id))
}

func (e *Engine) Exec(ctx context.Context, containerID string, req sandbox.ExecRequest) (*sandbox.ExecResult, error) {
	call := ExecCall{ContainerID: containerID, Cmd: req.Cmd, WorkingDir: req.WorkingDir}
	if req.Stdin != nil {
		raw, err := io.ReadAll(req.Stdin)
		if err != nil {
			return nil, err
		}
		call.Stdin = string(raw)
	}

	e.mu.Lock()
	e.ExecCalls = append(e.ExecCalls, call)
	handler := e.ExecHandler
	e.mu.Unlock()

	if handler == nil {
		return &sandbox.ExecResult{}, nil
	}
	return handler(ctx, call)
}
