package languages

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// BinaryName is the executable produced by native compilers.
const BinaryName = "main"

var (
	ErrUnsupportedLanguage = errors.New("unsupported language")
)

// Registry is the closed set of languages the sandbox accepts.
type Registry struct {
	languages map[string]Language
}

func NewRegistry() *Registry {
	r := &Registry{
		languages: make(map[string]Language),
	}
	r.registerDefaults()
	return r
}

func (r *Registry) register(lang Language) {
	r.languages[lang.Name()] = lang
}

// Get resolves a language name case-insensitively.
func (r *Registry) Get(name string) (Language, error) {
	lang, ok := r.languages[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedLanguage, name)
	}
	return lang, nil
}

func (r *Registry) List() []Language {
	langs := make([]Language, 0, len(r.languages))
	for _, l := range r.languages {
		langs = append(langs, l)
	}
	sort.Slice(langs, func(i, j int) bool { return langs[i].Name() < langs[j].Name() })
	return langs
}

func (r *Registry) registerDefaults() {
	r.register(native{
		name:   "c",
		source: "main.c",
		argv:   func(src, out string) []string { return []string{"gcc", src, "-o", out} },
	})

	r.register(native{
		name:   "cpp",
		source: "main.cpp",
		argv:   func(src, out string) []string { return []string{"g++", src, "-o", out} },
	})

	r.register(native{
		name:   "rust",
		source: "main.rs",
		argv:   func(src, out string) []string { return []string{"rustc", "-o", out, src} },
	})

	r.register(managed{
		name:    "java",
		source:  "Main.java",
		command: []string{"javac", "-encoding", "utf-8"},
	})

	r.register(interpreted{
		name:   "python",
		source: "main.py",
	})
}

var defaultRegistry = NewRegistry()

// Lookup resolves name against the built-in language set.
func Lookup(name string) (Language, error) {
	return defaultRegistry.Get(name)
}

// SourceFileName returns the canonical source file name for name.
func SourceFileName(name string) (string, error) {
	lang, err := Lookup(name)
	if err != nil {
		return "", err
	}
	return lang.SourceFileName(), nil
}

// CompileCommand returns the compile argv for name rooted at dir.
// Interpreted languages yield a nil argv and no error.
func CompileCommand(name, dir string) ([]string, error) {
	lang, err := Lookup(name)
	if err != nil {
		return nil, err
	}
	return lang.CompileCommand(dir), nil
}
