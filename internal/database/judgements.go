package database

import (
	"context"
	"fmt"
	"time"

	"github.com/itstheanurag/codesandbox/internal/executor"
	"github.com/itstheanurag/codesandbox/internal/verdict"
	"github.com/jackc/pgx/v5"
)

const schema = `
CREATE TABLE IF NOT EXISTS judge_records (
	job_id         TEXT PRIMARY KEY,
	language       TEXT NOT NULL,
	status         INTEGER NOT NULL,
	message        TEXT NOT NULL,
	time_ms        BIGINT NOT NULL,
	memory_bytes   BIGINT NOT NULL,
	passed_cases   INTEGER NOT NULL,
	total_cases    INTEGER NOT NULL,
	failed_case_id INTEGER NOT NULL,
	created_at     TIMESTAMPTZ NOT NULL DEFAULT now()
)`

// Judgement is one stored judge verdict.
type Judgement struct {
	JobID        string
	Language     string
	Status       verdict.Status
	Message      string
	TimeMs       int64
	MemoryBytes  int64
	PassedCases  int
	TotalCases   int
	FailedCaseID int
	CreatedAt    time.Time
}

func (db *Database) EnsureSchema(ctx context.Context) error {
	if _, err := db.conn.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to create judge_records: %w", err)
	}
	return nil
}

// RecordJudge stores a judge verdict. Source code and test data are not kept.
func (db *Database) RecordJudge(ctx context.Context, jobID string, req executor.JudgeRequest, v *verdict.JudgeVerdict) error {
	_, err := db.conn.Exec(ctx, `
		INSERT INTO judge_records
			(job_id, language, status, message, time_ms, memory_bytes, passed_cases, total_cases, failed_case_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (job_id) DO NOTHING`,
		jobID, req.Language, int(v.Status), v.Message, v.TimeMs, v.MemoryBytes,
		v.PassedCases, len(req.TestCases), v.FailedCaseID,
	)
	if err != nil {
		return fmt.Errorf("failed to insert judge record %s: %w", jobID, err)
	}
	return nil
}

// RecentJudgements returns up to limit verdicts, newest first.
func (db *Database) RecentJudgements(ctx context.Context, limit int) ([]Judgement, error) {
	rows, err := db.conn.Query(ctx, `
		SELECT job_id, language, status, message, time_ms, memory_bytes,
		       passed_cases, total_cases, failed_case_id, created_at
		FROM judge_records
		ORDER BY created_at DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query judge records: %w", err)
	}

	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Judgement, error) {
		var j Judgement
		var status int
		err := row.Scan(&j.JobID, &j.Language, &status, &j.Message, &j.TimeMs, &j.MemoryBytes,
			&j.PassedCases, &j.TotalCases, &j.FailedCaseID, &j.CreatedAt)
		j.Status = verdict.Status(status)
		return j, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan judge records: %w", err)
	}
	return out, nil
}
