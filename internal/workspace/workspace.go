// Package workspace owns the per-submission directory shared with the
// compile and execute containers through the workspace root bind mount.
package workspace

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/itstheanurag/codesandbox/internal/languages"
	"github.com/rs/zerolog"
)

// File names the runner depends on. Changing them breaks the runner contract.
const (
	DescriptorFile = "request_args.json"
	PathFile       = "file-dir.txt"
	inputPrefix    = "input-"
	inputSuffix    = ".txt"
)

var ErrStorage = errors.New("workspace storage failure")

// StorageError reports a failed filesystem operation on a workspace.
type StorageError struct {
	Op   string
	Path string
	Err  error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("workspace %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

func (e *StorageError) Is(target error) bool { return target == ErrStorage }

// Descriptor is the execution descriptor read by the runner.
type Descriptor struct {
	Lang        languages.Category `json:"lang"`
	TestCaseNum int                `json:"test_case_num"`
	TimeLimit   int64              `json:"time_limit"`
	MemoryLimit int64              `json:"memory_limit"`
	FileDir     string             `json:"file_dir"`
}

// Spec is everything needed to lay out a submission on disk.
type Spec struct {
	Code             string
	Inputs           []string
	Language         languages.Language
	TimeLimitMs      int64
	MemoryLimitBytes int64
}

// Workspace is a handle to one submission directory.
type Workspace struct {
	ID       string
	Dir      string
	Language languages.Language

	// RunnerDir is Dir as seen from inside the containers, with a trailing slash.
	RunnerDir  string
	Descriptor Descriptor
}

func (w *Workspace) SourcePath() string {
	return filepath.Join(w.Dir, w.Language.SourceFileName())
}

func (w *Workspace) PathFilePath() string {
	return filepath.Join(w.Dir, PathFile)
}

// InputPath returns the path of the n-th input file, counting from 1.
func (w *Workspace) InputPath(n int) string {
	return filepath.Join(w.Dir, inputPrefix+strconv.Itoa(n)+inputSuffix)
}

// RunnerPath returns the in-container directory without the trailing slash.
func (w *Workspace) RunnerPath() string {
	return strings.TrimSuffix(w.RunnerDir, "/")
}

type Manager struct {
	root       string
	runnerRoot string
	logger     *zerolog.Logger
	newID      func() string
}

// NewManager prepares root, the host directory mounted into both containers
// at runnerRoot.
func NewManager(root, runnerRoot string, logger *zerolog.Logger) (*Manager, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, &StorageError{Op: "resolve", Path: root, Err: err}
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, &StorageError{Op: "mkdir", Path: abs, Err: err}
	}
	return &Manager{
		root:       abs,
		runnerRoot: path.Clean("/" + runnerRoot),
		logger:     logger,
		newID:      uuid.NewString,
	}, nil
}

func (m *Manager) Root() string { return m.root }

func (m *Manager) RunnerRoot() string { return m.runnerRoot }

// Create writes a fresh workspace. On failure nothing is left behind.
func (m *Manager) Create(spec Spec) (*Workspace, error) {
	id := m.newID()
	dir := filepath.Join(m.root, id)
	if err := os.Mkdir(dir, 0o755); err != nil {
		return nil, &StorageError{Op: "mkdir", Path: dir, Err: err}
	}

	ws := &Workspace{
		ID:        id,
		Dir:       dir,
		Language:  spec.Language,
		RunnerDir: path.Join(m.runnerRoot, id) + "/",
	}
	ws.Descriptor = Descriptor{
		Lang:        spec.Language.Category(),
		TestCaseNum: max(1, len(spec.Inputs)),
		TimeLimit:   spec.TimeLimitMs,
		MemoryLimit: spec.MemoryLimitBytes,
		FileDir:     ws.RunnerDir,
	}

	if err := m.populate(ws, spec); err != nil {
		m.Cleanup(ws)
		return nil, err
	}

	m.logger.Debug().
		Str("submission_id", id).
		Str("language", spec.Language.Name()).
		Int("test_cases", ws.Descriptor.TestCaseNum).
		Msg("workspace created")
	return ws, nil
}

func (m *Manager) populate(ws *Workspace, spec Spec) error {
	if err := writeFile(ws.SourcePath(), []byte(spec.Code)); err != nil {
		return err
	}

	inputs := spec.Inputs
	if len(inputs) == 0 {
		inputs = []string{""}
	}
	for i, in := range inputs {
		if err := writeFile(ws.InputPath(i+1), []byte(strings.TrimSpace(in))); err != nil {
			return err
		}
	}

	desc, err := json.Marshal(ws.Descriptor)
	if err != nil {
		return &StorageError{Op: "encode", Path: DescriptorFile, Err: err}
	}
	if err := writeFile(filepath.Join(ws.Dir, DescriptorFile), desc); err != nil {
		return err
	}
	return writeFile(ws.PathFilePath(), []byte(ws.RunnerDir))
}

// Cleanup removes the workspace tree. It is safe to call more than once and
// never fails; problems are logged.
func (m *Manager) Cleanup(ws *Workspace) {
	if ws == nil || ws.Dir == "" {
		return
	}
	if err := os.RemoveAll(ws.Dir); err != nil {
		m.logger.Warn().Err(err).Str("submission_id", ws.ID).Msg("workspace cleanup failed")
		return
	}
	m.logger.Debug().Str("submission_id", ws.ID).Msg("workspace removed")
}

func writeFile(name string, data []byte) error {
	if err := os.WriteFile(name, data, 0o644); err != nil {
		return &StorageError{Op: "write", Path: name, Err: err}
	}
	return nil
}
