package verdict

import (
	"sort"
	"strings"
)

type CompileResult struct {
	OK     bool
	Stdout string
	Stderr string
}

// RunResult is one runner record. TestCaseID is the 1-based position of the
// case in the workspace.
type RunResult struct {
	Status      RunnerStatus
	TimeMs      int64
	MemoryBytes int64
	Output      string
	TestCaseID  int
}

type TestCase struct {
	ID       int
	Input    string
	Expected string
}

type DebugVerdict struct {
	Status      Status
	Message     string
	Output      string
	TimeMs      int64
	MemoryBytes int64
}

type JudgeVerdict struct {
	Status       Status
	Message      string
	TimeMs       int64
	MemoryBytes  int64
	PassedCases  int
	FailedCaseID int
}

// Cleaner strips host details from program output placed in a message.
type Cleaner func(string) string

func keep(s string) string { return s }

// SystemError is the verdict for any fault of the judge itself.
func SystemError() JudgeVerdict {
	return JudgeVerdict{Status: StatusSystemError, Message: StatusSystemError.Message()}
}

func DebugSystemError() DebugVerdict {
	return DebugVerdict{Status: StatusSystemError, Message: StatusSystemError.Message()}
}

// Judge evaluates a multi-case submission. Results are matched to cases by
// position and evaluated in ascending id order; the first failure ends it.
func Judge(compile CompileResult, results []RunResult, cases []TestCase, clean Cleaner) JudgeVerdict {
	if clean == nil {
		clean = keep
	}
	if !compile.OK {
		return JudgeVerdict{Status: StatusCompileError, Message: compileMessage(compile)}
	}
	if runnerFailed(results) || !covers(results, len(cases)) {
		return SystemError()
	}

	sorted := sortByID(results)
	var (
		passed int
		timeMs int64
		memory int64
	)
	for _, r := range sorted {
		tc := cases[r.TestCaseID-1]
		if r.Status != RunnerOK {
			f := failure(r, clean)
			return JudgeVerdict{
				Status:       f.Status,
				Message:      f.Message,
				TimeMs:       f.TimeMs,
				MemoryBytes:  f.MemoryBytes,
				PassedCases:  passed,
				FailedCaseID: tc.ID,
			}
		}

		switch Compare(r.Output, tc.Expected) {
		case Match:
			passed++
			timeMs += r.TimeMs
			memory = max(memory, r.MemoryBytes)
			continue
		case PresentationMismatch:
			return JudgeVerdict{
				Status:       StatusPresentationError,
				Message:      StatusPresentationError.Message(),
				TimeMs:       r.TimeMs,
				MemoryBytes:  r.MemoryBytes,
				PassedCases:  passed,
				FailedCaseID: tc.ID,
			}
		default:
			return JudgeVerdict{
				Status:       StatusWrongAnswer,
				Message:      StatusWrongAnswer.Message(),
				TimeMs:       r.TimeMs,
				MemoryBytes:  r.MemoryBytes,
				PassedCases:  passed,
				FailedCaseID: tc.ID,
			}
		}
	}

	return JudgeVerdict{
		Status:       StatusAccepted,
		Message:      StatusAccepted.Message(),
		TimeMs:       timeMs,
		MemoryBytes:  memory,
		PassedCases:  passed,
		FailedCaseID: AllPassed,
	}
}

// Debug evaluates a single unchecked run. A normal completion is reported as
// accepted and carries the program output.
func Debug(compile CompileResult, results []RunResult, clean Cleaner) DebugVerdict {
	if clean == nil {
		clean = keep
	}
	if !compile.OK {
		return DebugVerdict{Status: StatusCompileError, Message: compileMessage(compile)}
	}
	if runnerFailed(results) || len(results) == 0 {
		return DebugSystemError()
	}

	r := sortByID(results)[0]
	if r.Status == RunnerOK {
		return DebugVerdict{
			Status:      StatusAccepted,
			Message:     StatusAccepted.Message(),
			Output:      r.Output,
			TimeMs:      r.TimeMs,
			MemoryBytes: r.MemoryBytes,
		}
	}
	f := failure(r, clean)
	f.Output = clean(r.Output)
	return f
}

// failure classifies every non-normal runner status.
func failure(r RunResult, clean Cleaner) DebugVerdict {
	detail := strings.TrimSpace(clean(r.Output))
	v := DebugVerdict{TimeMs: r.TimeMs, MemoryBytes: r.MemoryBytes}
	switch r.Status {
	case RunnerPermissionDeny:
		v.Status = StatusPermissionDeny
		if seg, ok := segment(detail, permissionMarker); ok {
			detail = seg
		}
		v.Message = withDetail(StatusPermissionDeny.Message(), detail)
	case RunnerRuntimeError:
		v.Status = StatusRuntimeError
		if seg, ok := segment(detail, runtimeMarker); ok {
			detail = seg
		}
		v.Message = detail
		if v.Message == "" {
			v.Message = StatusRuntimeError.Message()
		}
	case RunnerTimeLimit:
		v.Status = StatusTimeLimitExceeded
		v.Message = StatusTimeLimitExceeded.Message()
		v.TimeMs = Exceeded
	case RunnerMemoryLimit:
		v.Status = StatusMemoryLimitExceeded
		v.Message = StatusMemoryLimitExceeded.Message()
		v.MemoryBytes = Exceeded
	default:
		v.Status = StatusUnknownError
		v.Message = withDetail(StatusUnknownError.Message(), detail)
	}
	return v
}

// Markers the runner leaves in failure output. The blocked call follows
// permissionMarker; a panic message follows the build profile directory.
const (
	permissionMarker = "#as#"
	runtimeMarker    = "release"
)

// segment returns the trimmed text between the first and second marker in
// s. ok is false when the marker is missing or only markers follow it.
func segment(s, marker string) (string, bool) {
	_, after, found := strings.Cut(s, marker)
	if !found || strings.ReplaceAll(after, marker, "") == "" {
		return "", false
	}
	seg, _, _ := strings.Cut(after, marker)
	return strings.TrimSpace(seg), true
}

func withDetail(msg, detail string) string {
	if detail == "" {
		return msg
	}
	return msg + ": " + detail
}

func compileMessage(c CompileResult) string {
	if msg := strings.TrimSpace(c.Stderr); msg != "" {
		return c.Stderr
	}
	if msg := strings.TrimSpace(c.Stdout); msg != "" {
		return c.Stdout
	}
	return StatusCompileError.Message()
}

func runnerFailed(results []RunResult) bool {
	for _, r := range results {
		if r.Status == RunnerFailure {
			return true
		}
	}
	return false
}

// covers reports whether results hold exactly one record per case id 1..n.
func covers(results []RunResult, n int) bool {
	if n == 0 || len(results) != n {
		return false
	}
	seen := make([]bool, n+1)
	for _, r := range results {
		if r.TestCaseID < 1 || r.TestCaseID > n || seen[r.TestCaseID] {
			return false
		}
		seen[r.TestCaseID] = true
	}
	return true
}

func sortByID(results []RunResult) []RunResult {
	sorted := append([]RunResult(nil), results...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].TestCaseID < sorted[j].TestCaseID })
	return sorted
}

// CaseVerdict is the outcome of one case when every case is evaluated.
type CaseVerdict struct {
	TestCaseID  int
	Status      Status
	Message     string
	TimeMs      int64
	MemoryBytes int64
}

// DebugCases evaluates every case independently without stopping at the
// first failure. Compile and judge faults apply to all cases alike.
func DebugCases(compile CompileResult, results []RunResult, cases []TestCase, clean Cleaner) []CaseVerdict {
	if clean == nil {
		clean = keep
	}
	out := make([]CaseVerdict, len(cases))
	for i, tc := range cases {
		out[i].TestCaseID = tc.ID
	}

	var shared *JudgeVerdict
	switch {
	case !compile.OK:
		shared = &JudgeVerdict{Status: StatusCompileError, Message: compileMessage(compile)}
	case runnerFailed(results) || !covers(results, len(cases)):
		v := SystemError()
		shared = &v
	}
	if shared != nil {
		for i := range out {
			out[i].Status = shared.Status
			out[i].Message = shared.Message
		}
		return out
	}

	for _, r := range results {
		c := &out[r.TestCaseID-1]
		if r.Status != RunnerOK {
			f := failure(r, clean)
			c.Status, c.Message, c.TimeMs, c.MemoryBytes = f.Status, f.Message, f.TimeMs, f.MemoryBytes
			continue
		}
		switch Compare(r.Output, cases[r.TestCaseID-1].Expected) {
		case Match:
			c.Status = StatusAccepted
		case PresentationMismatch:
			c.Status = StatusPresentationError
		default:
			c.Status = StatusWrongAnswer
		}
		c.Message = c.Status.Message()
		c.TimeMs, c.MemoryBytes = r.TimeMs, r.MemoryBytes
	}
	return out
}
