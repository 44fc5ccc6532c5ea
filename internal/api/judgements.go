package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/itstheanurag/codesandbox/internal/database"
)

const (
	defaultHistoryLimit = 20
	maxHistoryLimit     = 100
)

// JudgementStore reads back recorded judge verdicts.
type JudgementStore interface {
	RecentJudgements(ctx context.Context, limit int) ([]database.Judgement, error)
}

type JudgementResponse struct {
	JobID        string    `json:"job_id"`
	Language     string    `json:"language"`
	Status       int       `json:"status"`
	StatusName   string    `json:"status_name"`
	Message      string    `json:"message"`
	TimeMs       int64     `json:"time"`
	MemoryBytes  int64     `json:"memory"`
	PassedCases  int       `json:"passed_cases"`
	TotalCases   int       `json:"total_cases"`
	FailedCaseID int       `json:"failed_case_id"`
	CreatedAt    time.Time `json:"created_at"`
}

// SetHistory enables the judgement history endpoint.
func (h *Handler) SetHistory(store JudgementStore) {
	h.history = store
}

// Judgements lists the most recent judge verdicts, newest first.
// The optional limit query parameter is capped at maxHistoryLimit.
func (h *Handler) Judgements(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, errorResponse{Error: "Method not allowed"})
		return
	}
	if h.history == nil {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "Judgement history is disabled"})
		return
	}

	limit := defaultHistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "limit must be a positive integer"})
			return
		}
		limit = min(n, maxHistoryLimit)
	}

	rows, err := h.history.RecentJudgements(r.Context(), limit)
	if err != nil {
		writeError(w, err)
		return
	}

	resp := make([]JudgementResponse, len(rows))
	for i, j := range rows {
		resp[i] = JudgementResponse{
			JobID:        j.JobID,
			Language:     j.Language,
			Status:       int(j.Status),
			StatusName:   j.Status.String(),
			Message:      j.Message,
			TimeMs:       j.TimeMs,
			MemoryBytes:  j.MemoryBytes,
			PassedCases:  j.PassedCases,
			TotalCases:   j.TotalCases,
			FailedCaseID: j.FailedCaseID,
			CreatedAt:    j.CreatedAt,
		}
	}
	writeJSON(w, http.StatusOK, resp)
}
