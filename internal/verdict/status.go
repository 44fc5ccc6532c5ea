// Package verdict turns compile output and runner results into the final
// debug or judge outcome.
package verdict

// Status is the closed set of outcomes returned to callers.
type Status int

const (
	StatusPermissionDeny      Status = 1
	StatusSystemError         Status = 500
	StatusUnknownError        Status = 777
	StatusAccepted            Status = 1000
	StatusCompileError        Status = 1001
	StatusRuntimeError        Status = 1002
	StatusTimeLimitExceeded   Status = 1003
	StatusMemoryLimitExceeded Status = 1004
	StatusWrongAnswer         Status = 1005
	StatusPresentationError   Status = 1006
)

var statusNames = map[Status]string{
	StatusPermissionDeny:      "PERMISSION_DENY",
	StatusSystemError:         "SYSTEM_ERROR",
	StatusUnknownError:        "UNKNOWN_ERROR",
	StatusAccepted:            "ACCEPTED",
	StatusCompileError:        "COMPILE_ERROR",
	StatusRuntimeError:        "RUNTIME_ERROR",
	StatusTimeLimitExceeded:   "TIME_LIMIT_EXCEEDED",
	StatusMemoryLimitExceeded: "MEMORY_LIMIT_EXCEEDED",
	StatusWrongAnswer:         "WRONG_ANSWER",
	StatusPresentationError:   "PRESENTATION_ERROR",
}

var statusMessages = map[Status]string{
	StatusPermissionDeny:      "Permission Deny",
	StatusSystemError:         "Judge System Error",
	StatusUnknownError:        "Unknown Error",
	StatusAccepted:            "Accepted",
	StatusCompileError:        "Compile Error",
	StatusRuntimeError:        "Runtime Error",
	StatusTimeLimitExceeded:   "Time Limit Exceeded",
	StatusMemoryLimitExceeded: "Memory Limit Exceeded",
	StatusWrongAnswer:         "Wrong Answer",
	StatusPresentationError:   "Presentation Error",
}

func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return "UNKNOWN_ERROR"
}

// Message is the default human readable text for s.
func (s Status) Message() string {
	if msg, ok := statusMessages[s]; ok {
		return msg
	}
	return statusMessages[StatusUnknownError]
}

// RunnerStatus is the per-case code reported by the runner.
type RunnerStatus int

const (
	RunnerPermissionDeny RunnerStatus = 1
	RunnerFailure        RunnerStatus = 500
	RunnerOK             RunnerStatus = 1000
	RunnerRuntimeError   RunnerStatus = 1002
	RunnerTimeLimit      RunnerStatus = 1003
	RunnerMemoryLimit    RunnerStatus = 1004
)

const (
	// Exceeded replaces a time or memory figure whose limit was hit.
	Exceeded int64 = -1

	// AllPassed is the failing case id of an accepted judge verdict.
	AllPassed = 0
)
