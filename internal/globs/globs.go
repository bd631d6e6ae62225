// Package globs matches slash-separated relative paths against sets of glob
// patterns. A pattern prefixed with "!" excludes what it matches.
package globs

import (
	"errors"
	"fmt"
	"path"
	"sort"
	"strings"

	"github.com/gobwas/glob"
)

var ErrNoPatterns = errors.New("globs: at least one pattern is required")

// Set is a compiled group of include and exclude patterns.
type Set struct {
	patterns []string
	include  []glob.Glob
	exclude  []glob.Glob
	bases    []string
	files    []string
}

// Compile builds a Set. At least one include pattern is required.
func Compile(patterns ...string) (*Set, error) {
	set := &Set{}
	for _, raw := range patterns {
		pattern := strings.TrimSpace(raw)
		if pattern == "" {
			continue
		}
		negated := strings.HasPrefix(pattern, "!")
		pattern = Clean(strings.TrimPrefix(pattern, "!"))
		compiled, err := compileVariants(pattern)
		if err != nil {
			return nil, fmt.Errorf("globs: compile %q: %w", raw, err)
		}
		set.patterns = append(set.patterns, raw)
		if negated {
			set.exclude = append(set.exclude, compiled...)
			continue
		}
		set.include = append(set.include, compiled...)
		if IsLiteral(pattern) {
			set.files = append(set.files, pattern)
			continue
		}
		set.bases = append(set.bases, Base(pattern))
	}
	if len(set.include) == 0 {
		return nil, ErrNoPatterns
	}
	set.bases = collapseBases(set.bases)
	return set, nil
}

// MustCompile panics when the patterns do not compile.
func MustCompile(patterns ...string) *Set {
	set, err := Compile(patterns...)
	if err != nil {
		panic(err)
	}
	return set
}

// Match reports whether rel is included and not excluded.
func (s *Set) Match(rel string) bool {
	if s == nil {
		return false
	}
	rel = Clean(rel)
	matched := false
	for _, candidate := range s.include {
		if candidate.Match(rel) {
			matched = true
			break
		}
	}
	if !matched {
		return false
	}
	for _, candidate := range s.exclude {
		if candidate.Match(rel) {
			return false
		}
	}
	return true
}

// Bases returns the static directory prefixes of the include patterns that
// contain glob syntax, with nested prefixes folded into their parents.
func (s *Set) Bases() []string {
	if s == nil {
		return nil
	}
	return append([]string(nil), s.bases...)
}

// Files returns the include patterns that name a single path.
func (s *Set) Files() []string {
	if s == nil {
		return nil
	}
	return append([]string(nil), s.files...)
}

func (s *Set) Patterns() []string {
	if s == nil {
		return nil
	}
	return append([]string(nil), s.patterns...)
}

// Base returns the longest leading directory of pattern free of glob syntax.
func Base(pattern string) string {
	pattern = Clean(pattern)
	segments := strings.Split(pattern, "/")
	static := make([]string, 0, len(segments))
	for index, segment := range segments {
		if hasMeta(segment) {
			break
		}
		if index == len(segments)-1 {
			// A fully literal pattern names a file; its base is the parent.
			break
		}
		static = append(static, segment)
	}
	if len(static) == 0 {
		return "."
	}
	return strings.Join(static, "/")
}

// IsLiteral reports whether pattern is free of glob syntax.
func IsLiteral(pattern string) bool {
	return !hasMeta(pattern)
}

// Clean normalizes a relative slash path.
func Clean(value string) string {
	value = strings.ReplaceAll(value, "\\", "/")
	cleaned := path.Clean(value)
	return strings.TrimPrefix(cleaned, "./")
}

func compileVariants(pattern string) ([]glob.Glob, error) {
	variants := []string{pattern}
	// "**" also matches zero directories.
	if strings.Contains(pattern, "/**/") {
		variants = append(variants, strings.ReplaceAll(pattern, "/**/", "/"))
	}
	if strings.HasPrefix(pattern, "**/") {
		variants = append(variants, strings.TrimPrefix(pattern, "**/"))
	}
	compiled := make([]glob.Glob, 0, len(variants))
	for _, variant := range variants {
		g, err := glob.Compile(variant, '/')
		if err != nil {
			return nil, err
		}
		compiled = append(compiled, g)
	}
	return compiled, nil
}

func hasMeta(segment string) bool {
	return strings.ContainsAny(segment, "*?[{")
}

func collapseBases(bases []string) []string {
	sort.Strings(bases)
	collapsed := make([]string, 0, len(bases))
	for _, base := range bases {
		covered := false
		for _, kept := range collapsed {
			if kept == "." || base == kept || strings.HasPrefix(base, kept+"/") {
				covered = true
				break
			}
		}
		if !covered {
			collapsed = append(collapsed, base)
		}
	}
	return collapsed
}
