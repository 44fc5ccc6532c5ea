// Package sanitize removes filesystem locations from compiler and runtime
// diagnostics before they are returned to a submitter.
package sanitize

import (
	"regexp"
	"sort"
	"strings"
)

// absPath matches an absolute path prefix of at least one directory.
var absPath = `(?:/[^\s/:'"()\[\]]+)+/`

// Sanitizer strips a fixed set of directory prefixes plus any absolute path
// leading up to the submission's source file.
type Sanitizer struct {
	dirs       []string
	sourceFile *regexp.Regexp
	fileName   string
}

// New returns a Sanitizer for one workspace. dirs are removed wherever they
// appear; longer directories are removed first so nested paths collapse fully.
func New(fileName string, dirs ...string) *Sanitizer {
	s := &Sanitizer{fileName: fileName}
	for _, d := range dirs {
		d = strings.TrimRight(d, "/")
		if d == "" {
			continue
		}
		s.dirs = append(s.dirs, d)
	}
	sort.Slice(s.dirs, func(i, j int) bool { return len(s.dirs[i]) > len(s.dirs[j]) })
	if fileName != "" {
		s.sourceFile = regexp.MustCompile(absPath + regexp.QuoteMeta(fileName))
	}
	return s
}

// Clean returns text with every known workspace location removed.
func (s *Sanitizer) Clean(text string) string {
	for _, d := range s.dirs {
		text = strings.ReplaceAll(text, d+"/", "")
		text = strings.ReplaceAll(text, d, "")
	}
	if s.sourceFile != nil {
		text = s.sourceFile.ReplaceAllString(text, s.fileName)
	}
	return text
}

// Clean is a one-shot form of New(fileName, dirs...).Clean(text).
func Clean(text, fileName string, dirs ...string) string {
	return New(fileName, dirs...).Clean(text)
}
