package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/itstheanurag/codesandbox/internal/executor"
	"github.com/itstheanurag/codesandbox/internal/languages"
	"github.com/itstheanurag/codesandbox/internal/queue"
	"github.com/itstheanurag/codesandbox/internal/verdict"
)

const maxBodyBytes = 4 << 20

type DebugRequest struct {
	Language    string `json:"language"`
	Code        string `json:"code"`
	Input       string `json:"input"`
	TimeLimit   int64  `json:"time_limit"`   // in ms
	MemoryLimit int64  `json:"memory_limit"` // in bytes
}

type TestCase struct {
	ID       int    `json:"id"`
	Input    string `json:"input"`
	Expected string `json:"expected"`
}

type JudgeRequest struct {
	Language    string     `json:"language"`
	Code        string     `json:"code"`
	TestCases   []TestCase `json:"test_cases"`
	TimeLimit   int64      `json:"time_limit"`
	MemoryLimit int64      `json:"memory_limit"`
}

type DebugResponse struct {
	JobID       string `json:"job_id"`
	Status      int    `json:"status"`
	StatusName  string `json:"status_name"`
	Message     string `json:"message"`
	Output      string `json:"output"`
	TimeMs      int64  `json:"time"`
	MemoryBytes int64  `json:"memory"`
}

type JudgeResponse struct {
	JobID        string `json:"job_id"`
	Status       int    `json:"status"`
	StatusName   string `json:"status_name"`
	Message      string `json:"message"`
	TimeMs       int64  `json:"time"`
	MemoryBytes  int64  `json:"memory"`
	PassedCases  int    `json:"passed_cases"`
	FailedCaseID int    `json:"failed_case_id"`
}

type CaseResponse struct {
	TestCaseID  int    `json:"test_case_id"`
	Status      int    `json:"status"`
	StatusName  string `json:"status_name"`
	Message     string `json:"message"`
	TimeMs      int64  `json:"time"`
	MemoryBytes int64  `json:"memory"`
}

type DebugCasesResponse struct {
	JobID string         `json:"job_id"`
	Cases []CaseResponse `json:"cases"`
}

type errorResponse struct {
	Error string `json:"error"`
}

type Handler struct {
	queueManager *queue.Manager
	registry     *languages.Registry
	history      JudgementStore

	// wait bounds how long a request may sit in the queue and run.
	wait time.Duration
}

func NewHandler(manager *queue.Manager, registry *languages.Registry, wait time.Duration) *Handler {
	return &Handler{
		queueManager: manager,
		registry:     registry,
		wait:         wait,
	}
}

func (h *Handler) Debug(w http.ResponseWriter, r *http.Request) {
	var req DebugRequest
	if !decode(w, r, &req) {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.wait)
	defer cancel()

	job := queue.NewDebugJob(ctx, uuid.NewString(), executor.DebugRequest{
		Language:         req.Language,
		Code:             req.Code,
		Input:            req.Input,
		TimeLimitMs:      req.TimeLimit,
		MemoryLimitBytes: req.MemoryLimit,
	})
	out, ok := h.dispatch(ctx, w, job)
	if !ok {
		return
	}
	v := out.Debug
	writeJSON(w, http.StatusOK, DebugResponse{
		JobID:       job.ID,
		Status:      int(v.Status),
		StatusName:  v.Status.String(),
		Message:     v.Message,
		Output:      v.Output,
		TimeMs:      v.TimeMs,
		MemoryBytes: v.MemoryBytes,
	})
}

func (h *Handler) Judge(w http.ResponseWriter, r *http.Request) {
	var req JudgeRequest
	if !decode(w, r, &req) {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.wait)
	defer cancel()

	job := queue.NewJudgeJob(ctx, uuid.NewString(), req.toExecutor())
	out, ok := h.dispatch(ctx, w, job)
	if !ok {
		return
	}
	v := out.Judge
	writeJSON(w, http.StatusOK, JudgeResponse{
		JobID:        job.ID,
		Status:       int(v.Status),
		StatusName:   v.Status.String(),
		Message:      v.Message,
		TimeMs:       v.TimeMs,
		MemoryBytes:  v.MemoryBytes,
		PassedCases:  v.PassedCases,
		FailedCaseID: v.FailedCaseID,
	})
}

// DebugCases runs every test case and reports each verdict.
func (h *Handler) DebugCases(w http.ResponseWriter, r *http.Request) {
	var req JudgeRequest
	if !decode(w, r, &req) {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.wait)
	defer cancel()

	job := queue.NewDebugCasesJob(ctx, uuid.NewString(), req.toExecutor())
	out, ok := h.dispatch(ctx, w, job)
	if !ok {
		return
	}
	resp := DebugCasesResponse{JobID: job.ID, Cases: make([]CaseResponse, len(out.Cases))}
	for i, c := range out.Cases {
		resp.Cases[i] = CaseResponse{
			TestCaseID:  c.TestCaseID,
			Status:      int(c.Status),
			StatusName:  c.Status.String(),
			Message:     c.Message,
			TimeMs:      c.TimeMs,
			MemoryBytes: c.MemoryBytes,
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (req JudgeRequest) toExecutor() executor.JudgeRequest {
	cases := make([]verdict.TestCase, len(req.TestCases))
	for i, tc := range req.TestCases {
		cases[i] = verdict.TestCase{ID: tc.ID, Input: tc.Input, Expected: tc.Expected}
	}
	return executor.JudgeRequest{
		Language:         req.Language,
		Code:             req.Code,
		TestCases:        cases,
		TimeLimitMs:      req.TimeLimit,
		MemoryLimitBytes: req.MemoryLimit,
	}
}

// Languages lists the accepted language names.
func (h *Handler) Languages(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, errorResponse{Error: "Method not allowed"})
		return
	}
	names := make([]string, 0)
	for _, l := range h.registry.List() {
		names = append(names, l.Name())
	}
	writeJSON(w, http.StatusOK, names)
}

// dispatch queues job and waits for its outcome, writing any error response.
func (h *Handler) dispatch(ctx context.Context, w http.ResponseWriter, job *queue.Job) (queue.Outcome, bool) {
	if err := h.queueManager.Submit(ctx, job); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "Submission queue is full"})
		return queue.Outcome{}, false
	}

	select {
	case out := <-job.Result:
		if out.Err != nil {
			writeError(w, out.Err)
			return out, false
		}
		return out, true
	case <-ctx.Done():
		writeJSON(w, http.StatusGatewayTimeout, errorResponse{Error: "Execution timed out"})
		return queue.Outcome{}, false
	}
}

func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, errorResponse{Error: "Method not allowed"})
		return false
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "Invalid request body"})
		return false
	}
	return true
}

func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, languages.ErrUnsupportedLanguage),
		errors.Is(err, executor.ErrNoTestCases),
		errors.Is(err, executor.ErrLimitExceeded):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		writeJSON(w, http.StatusGatewayTimeout, errorResponse{Error: "Execution timed out"})
	default:
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: verdict.StatusSystemError.Message()})
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
