package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/itstheanurag/codesandbox/internal/database"
	"github.com/itstheanurag/codesandbox/internal/queue"
	"github.com/itstheanurag/codesandbox/internal/verdict"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	rows   []database.Judgement
	err    error
	limits []int
}

func (f *fakeStore) RecentJudgements(_ context.Context, limit int) ([]database.Judgement, error) {
	f.limits = append(f.limits, limit)
	if f.err != nil {
		return nil, f.err
	}
	return f.rows[:min(limit, len(f.rows))], nil
}

func get(h http.HandlerFunc, target string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

func TestJudgementsEndpoint(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store := &fakeStore{rows: []database.Judgement{
		{JobID: "b", Language: "cpp", Status: verdict.StatusWrongAnswer, Message: "Wrong Answer", PassedCases: 1, TotalCases: 3, FailedCaseID: 7, CreatedAt: at},
		{JobID: "a", Language: "python", Status: verdict.StatusAccepted, Message: "Accepted", TimeMs: 12, MemoryBytes: 4096, PassedCases: 2, TotalCases: 2, CreatedAt: at.Add(-time.Minute)},
	}}
	h := serve(t, func(*queue.Job) queue.Outcome { return queue.Outcome{} })
	h.SetHistory(store)

	rec := get(h.Judgements, "/judgements?limit=1")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp []JudgementResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp, 1)
	assert.Equal(t, "b", resp[0].JobID)
	assert.Equal(t, "WRONG_ANSWER", resp[0].StatusName)
	assert.Equal(t, 7, resp[0].FailedCaseID)
	assert.True(t, at.Equal(resp[0].CreatedAt))

	rec = get(h.Judgements, "/judgements")
	require.Equal(t, http.StatusOK, rec.Code)
	rec = get(h.Judgements, "/judgements?limit=100000")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []int{1, defaultHistoryLimit, maxHistoryLimit}, store.limits)
}

func TestJudgementsEndpointErrors(t *testing.T) {
	h := serve(t, func(*queue.Job) queue.Outcome { return queue.Outcome{} })

	rec := get(h.Judgements, "/judgements")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	store := &fakeStore{}
	h.SetHistory(store)
	for _, bad := range []string{"0", "-3", "ten"} {
		rec = get(h.Judgements, "/judgements?limit="+bad)
		assert.Equal(t, http.StatusBadRequest, rec.Code, bad)
	}
	assert.Empty(t, store.limits)

	rec = post(h.Judgements, "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	store.err = errors.New("connection refused")
	rec = get(h.Judgements, "/judgements")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "connection refused")
}
