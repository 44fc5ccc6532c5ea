// Package queue buffers submissions between the transport and the worker pool.
package queue

import (
	"context"

	"github.com/itstheanurag/codesandbox/internal/executor"
	"github.com/itstheanurag/codesandbox/internal/metrics"
	"github.com/itstheanurag/codesandbox/internal/verdict"
)

type Kind string

const (
	KindDebug Kind = "debug"
	KindJudge Kind = "judge"

	// KindDebugCases reuses the judge request but reports every case.
	KindDebugCases Kind = "debug_cases"
)

// Outcome carries the verdict matching the job kind, or Err.
type Outcome struct {
	Debug *verdict.DebugVerdict
	Judge *verdict.JudgeVerdict
	Cases []verdict.CaseVerdict
	Err   error
}

type Job struct {
	ID     string
	Kind   Kind
	Debug  executor.DebugRequest
	Judge  executor.JudgeRequest
	Result chan Outcome
	Ctx    context.Context
}

// The job constructors allocate a buffered result channel so a worker
// never blocks on a submitter that gave up.
func NewDebugJob(ctx context.Context, id string, req executor.DebugRequest) *Job {
	return &Job{ID: id, Kind: KindDebug, Debug: req, Result: make(chan Outcome, 1), Ctx: ctx}
}

func NewJudgeJob(ctx context.Context, id string, req executor.JudgeRequest) *Job {
	return &Job{ID: id, Kind: KindJudge, Judge: req, Result: make(chan Outcome, 1), Ctx: ctx}
}

func NewDebugCasesJob(ctx context.Context, id string, req executor.JudgeRequest) *Job {
	return &Job{ID: id, Kind: KindDebugCases, Judge: req, Result: make(chan Outcome, 1), Ctx: ctx}
}

func (j *Job) Language() string {
	if j.Kind == KindJudge || j.Kind == KindDebugCases {
		return j.Judge.Language
	}
	return j.Debug.Language
}

type Manager struct {
	jobQueue chan *Job
}

func NewManager(capacity int) *Manager {
	return &Manager{
		jobQueue: make(chan *Job, capacity),
	}
}

// Submit enqueues job, waiting for room until ctx is done.
func (m *Manager) Submit(ctx context.Context, job *Job) error {
	select {
	case m.jobQueue <- job:
		metrics.QueueDepth.Set(float64(len(m.jobQueue)))
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Manager) NextJob() <-chan *Job {
	return m.jobQueue
}

func (m *Manager) UpdateQueueMetric() {
	metrics.QueueDepth.Set(float64(len(m.jobQueue)))
}
