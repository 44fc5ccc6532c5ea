package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/itstheanurag/codesandbox/internal/executor"
	"github.com/itstheanurag/codesandbox/internal/queue"
	"github.com/itstheanurag/codesandbox/internal/verdict"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePipeline struct {
	judgeErr error
}

func (f *fakePipeline) Debug(_ context.Context, req executor.DebugRequest) (*verdict.DebugVerdict, error) {
	return &verdict.DebugVerdict{Status: verdict.StatusAccepted, Output: req.Input}, nil
}

func (f *fakePipeline) Judge(_ context.Context, req executor.JudgeRequest) (*verdict.JudgeVerdict, error) {
	if f.judgeErr != nil {
		return nil, f.judgeErr
	}
	return &verdict.JudgeVerdict{Status: verdict.StatusAccepted, PassedCases: len(req.TestCases)}, nil
}

func (f *fakePipeline) DebugCases(_ context.Context, req executor.JudgeRequest) ([]verdict.CaseVerdict, error) {
	out := make([]verdict.CaseVerdict, len(req.TestCases))
	for i, tc := range req.TestCases {
		out[i] = verdict.CaseVerdict{TestCaseID: tc.ID, Status: verdict.StatusAccepted}
	}
	return out, nil
}

type fakeRecorder struct {
	mu   sync.Mutex
	jobs []string
	err  error
}

func (r *fakeRecorder) RecordJudge(_ context.Context, jobID string, _ executor.JudgeRequest, _ *verdict.JudgeVerdict) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobs = append(r.jobs, jobID)
	return r.err
}

func startWorker(t *testing.T, p Pipeline, rec Recorder) *queue.Manager {
	t.Helper()
	logger := zerolog.Nop()
	m := queue.NewManager(4)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go NewWorker(1, p, m, rec, &logger).Start(ctx)
	return m
}

func await(t *testing.T, job *queue.Job) queue.Outcome {
	t.Helper()
	select {
	case out := <-job.Result:
		return out
	case <-time.After(2 * time.Second):
		t.Fatal("job was not processed")
		return queue.Outcome{}
	}
}

func TestWorkerRunsDebugJobs(t *testing.T) {
	m := startWorker(t, &fakePipeline{}, nil)
	job := queue.NewDebugJob(context.Background(), "d1", executor.DebugRequest{Language: "python", Input: "hello"})
	require.NoError(t, m.Submit(context.Background(), job))

	out := await(t, job)
	require.NoError(t, out.Err)
	require.NotNil(t, out.Debug)
	assert.Nil(t, out.Judge)
	assert.Equal(t, "hello", out.Debug.Output)
}

func TestWorkerRecordsJudgeVerdicts(t *testing.T) {
	rec := &fakeRecorder{err: errors.New("db down")}
	m := startWorker(t, &fakePipeline{}, rec)
	job := queue.NewJudgeJob(context.Background(), "j1", executor.JudgeRequest{
		Language:  "c",
		TestCases: []verdict.TestCase{{ID: 1}, {ID: 2}},
	})
	require.NoError(t, m.Submit(context.Background(), job))

	out := await(t, job)
	require.NoError(t, out.Err)
	assert.Equal(t, 2, out.Judge.PassedCases)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	assert.Equal(t, []string{"j1"}, rec.jobs)
}

func TestWorkerPassesValidationErrors(t *testing.T) {
	rec := &fakeRecorder{}
	m := startWorker(t, &fakePipeline{judgeErr: executor.ErrNoTestCases}, rec)
	job := queue.NewJudgeJob(context.Background(), "j2", executor.JudgeRequest{Language: "c"})
	require.NoError(t, m.Submit(context.Background(), job))

	out := await(t, job)
	assert.ErrorIs(t, out.Err, executor.ErrNoTestCases)
	rec.mu.Lock()
	defer rec.mu.Unlock()
	assert.Empty(t, rec.jobs)
}

func TestWorkerDropsAbandonedJobs(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	m := startWorker(t, &fakePipeline{}, nil)
	job := queue.NewDebugJob(ctx, "d2", executor.DebugRequest{Language: "c"})
	require.NoError(t, m.Submit(context.Background(), job))

	out := await(t, job)
	assert.ErrorIs(t, out.Err, context.Canceled)
	assert.Nil(t, out.Debug)
}

func TestWorkerRunsDebugCasesWithoutRecording(t *testing.T) {
	rec := &fakeRecorder{}
	m := startWorker(t, &fakePipeline{}, rec)
	job := queue.NewDebugCasesJob(context.Background(), "m1", executor.JudgeRequest{
		Language:  "c",
		TestCases: []verdict.TestCase{{ID: 4}, {ID: 5}},
	})
	require.NoError(t, m.Submit(context.Background(), job))

	out := await(t, job)
	require.NoError(t, out.Err)
	require.Len(t, out.Cases, 2)
	assert.Equal(t, 5, out.Cases[1].TestCaseID)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	assert.Empty(t, rec.jobs)
}
