package languages

import "path/filepath"

// Category is the numeric language class understood by the runner.
type Category int

const (
	CategoryNative      Category = 1
	CategoryManaged     Category = 2
	CategoryInterpreted Category = 3
)

func (c Category) String() string {
	switch c {
	case CategoryNative:
		return "native"
	case CategoryManaged:
		return "managed"
	case CategoryInterpreted:
		return "interpreted"
	default:
		return "unknown"
	}
}

// Language describes how a submission is stored and compiled.
// CompileCommand returns nil when the language has no compile step.
type Language interface {
	Name() string
	Category() Category
	SourceFileName() string
	CompileCommand(dir string) []string
}

// native languages compile to dir/main inside the compile container.
type native struct {
	name   string
	source string
	argv   func(src, out string) []string
}

func (l native) Name() string           { return l.name }
func (l native) Category() Category     { return CategoryNative }
func (l native) SourceFileName() string { return l.source }

func (l native) CompileCommand(dir string) []string {
	return l.argv(filepath.Join(dir, l.source), filepath.Join(dir, BinaryName))
}

// managed languages compile on the host and run on a VM inside the execute container.
type managed struct {
	name    string
	source  string
	command []string
}

func (l managed) Name() string           { return l.name }
func (l managed) Category() Category     { return CategoryManaged }
func (l managed) SourceFileName() string { return l.source }

func (l managed) CompileCommand(dir string) []string {
	argv := make([]string, 0, len(l.command)+1)
	argv = append(argv, l.command...)
	return append(argv, filepath.Join(dir, l.source))
}

type interpreted struct {
	name   string
	source string
}

func (l interpreted) Name() string                   { return l.name }
func (l interpreted) Category() Category             { return CategoryInterpreted }
func (l interpreted) SourceFileName() string         { return l.source }
func (l interpreted) CompileCommand(string) []string { return nil }
