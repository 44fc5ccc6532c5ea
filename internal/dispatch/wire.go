package dispatch

import (
	"encoding/base64"
	"encoding/json"
	"strings"

	"github.com/itstheanurag/codesandbox/internal/verdict"
)

// record is one runner result on the wire. Older runners use exit_code,
// time, memory and output_msg; both spellings are accepted.
type record struct {
	Status      *int    `json:"status"`
	ExitCode    *int    `json:"exit_code"`
	TimeMs      *int64  `json:"time_ms"`
	Time        *int64  `json:"time"`
	MemoryBytes *int64  `json:"memory_bytes"`
	Memory      *int64  `json:"memory"`
	Output      *string `json:"output"`
	OutputMsg   *string `json:"output_msg"`
	TestCaseID  int     `json:"test_case_id"`
}

func (r record) result() (verdict.RunResult, error) {
	out := verdict.RunResult{TestCaseID: r.TestCaseID}

	switch {
	case r.Status != nil:
		out.Status = verdict.RunnerStatus(*r.Status)
	case r.ExitCode != nil:
		out.Status = verdict.RunnerStatus(*r.ExitCode)
	default:
		return out, &ProtocolError{Reason: "record without status"}
	}
	out.TimeMs = first(r.TimeMs, r.Time)
	out.MemoryBytes = first(r.MemoryBytes, r.Memory)

	encoded := r.Output
	if encoded == nil {
		encoded = r.OutputMsg
	}
	if encoded != nil && *encoded != "" {
		raw, err := base64.StdEncoding.DecodeString(*encoded)
		if err != nil {
			return out, &ProtocolError{Reason: "output is not base64", Err: err}
		}
		out.Output = string(raw)
	}
	return out, nil
}

func first(vals ...*int64) int64 {
	for _, v := range vals {
		if v != nil {
			return *v
		}
	}
	return 0
}

// Decode parses runner stdout: a JSON array of records, either bare or
// base64 encoded.
func Decode(stdout string) ([]verdict.RunResult, error) {
	payload := strings.TrimSpace(stdout)
	if payload == "" {
		return nil, &ProtocolError{Reason: "empty output"}
	}
	if !strings.HasPrefix(payload, "[") {
		raw, err := base64.StdEncoding.DecodeString(payload)
		if err != nil {
			return nil, &ProtocolError{Reason: "batch is neither JSON nor base64", Output: payload, Err: err}
		}
		payload = strings.TrimSpace(string(raw))
	}

	var records []record
	if err := json.Unmarshal([]byte(payload), &records); err != nil {
		return nil, &ProtocolError{Reason: "invalid batch", Output: payload, Err: err}
	}
	if len(records) == 0 {
		return nil, &ProtocolError{Reason: "empty batch", Output: payload}
	}

	results := make([]verdict.RunResult, 0, len(records))
	for _, rec := range records {
		res, err := rec.result()
		if err != nil {
			return nil, err
		}
		results = append(results, res)
	}
	return results, nil
}
