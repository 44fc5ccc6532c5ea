package worker

import (
	"context"
	"time"

	"github.com/itstheanurag/codesandbox/internal/executor"
	"github.com/itstheanurag/codesandbox/internal/metrics"
	"github.com/itstheanurag/codesandbox/internal/queue"
	"github.com/itstheanurag/codesandbox/internal/verdict"
	"github.com/rs/zerolog"
)

// Pipeline is the submission entry point a worker drives.
type Pipeline interface {
	Debug(ctx context.Context, req executor.DebugRequest) (*verdict.DebugVerdict, error)
	Judge(ctx context.Context, req executor.JudgeRequest) (*verdict.JudgeVerdict, error)
	DebugCases(ctx context.Context, req executor.JudgeRequest) ([]verdict.CaseVerdict, error)
}

// Recorder persists finished judge verdicts. Failures are logged only.
type Recorder interface {
	RecordJudge(ctx context.Context, jobID string, req executor.JudgeRequest, v *verdict.JudgeVerdict) error
}

type Worker struct {
	id       int
	pipeline Pipeline
	manager  *queue.Manager
	recorder Recorder
	logger   *zerolog.Logger
}

// NewWorker builds a worker; recorder may be nil.
func NewWorker(id int, pipeline Pipeline, manager *queue.Manager, recorder Recorder, logger *zerolog.Logger) *Worker {
	return &Worker{
		id:       id,
		pipeline: pipeline,
		manager:  manager,
		recorder: recorder,
		logger:   logger,
	}
}

func (w *Worker) Start(ctx context.Context) {
	w.logger.Info().Int("worker_id", w.id).Msg("worker started")
	for {
		select {
		case job := <-w.manager.NextJob():
			w.manager.UpdateQueueMetric()
			metrics.ActiveWorkers.Inc()
			w.processJob(job)
			metrics.ActiveWorkers.Dec()
		case <-ctx.Done():
			w.logger.Info().Int("worker_id", w.id).Msg("worker stopping")
			return
		}
	}
}

func (w *Worker) processJob(job *queue.Job) {
	log := w.logger.With().Int("worker_id", w.id).Str("job_id", job.ID).Str("language", job.Language()).Logger()

	// the submitter may have given up while the job was queued
	if err := job.Ctx.Err(); err != nil {
		log.Debug().Err(err).Msg("dropping abandoned job")
		job.Result <- queue.Outcome{Err: err}
		return
	}

	log.Info().Str("kind", string(job.Kind)).Msg("processing job")
	startTime := time.Now()

	var out queue.Outcome
	switch job.Kind {
	case queue.KindJudge:
		out.Judge, out.Err = w.pipeline.Judge(job.Ctx, job.Judge)
		if out.Err == nil && w.recorder != nil {
			if err := w.recorder.RecordJudge(context.WithoutCancel(job.Ctx), job.ID, job.Judge, out.Judge); err != nil {
				log.Warn().Err(err).Msg("failed to record verdict")
			}
		}
	case queue.KindDebugCases:
		out.Cases, out.Err = w.pipeline.DebugCases(job.Ctx, job.Judge)
	default:
		out.Debug, out.Err = w.pipeline.Debug(job.Ctx, job.Debug)
	}

	log.Info().Int64("duration_ms", time.Since(startTime).Milliseconds()).Msg("job finished")
	job.Result <- out
}
