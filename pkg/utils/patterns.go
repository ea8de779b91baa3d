package utils

import (
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
)

// PatternMatcher handles glob pattern matching against slash-separated
// paths relative to a project root
type PatternMatcher struct {
	patterns []string
	regexps  []*regexp.Regexp
}

// NewPatternMatcher creates a new pattern matcher
func NewPatternMatcher(patterns []string) (*PatternMatcher, error) {
	pm := &PatternMatcher{
		patterns: make([]string, 0, len(patterns)),
		regexps:  make([]*regexp.Regexp, 0, len(patterns)),
	}

	for _, pattern := range patterns {
		pattern = NormalizePattern(pattern)
		regex, err := globToRegex(pattern)
		if err != nil {
			return nil, err
		}
		pm.patterns = append(pm.patterns, pattern)
		pm.regexps = append(pm.regexps, regex)
	}

	return pm, nil
}

// Match checks if a path matches any pattern
func (pm *PatternMatcher) Match(path string) bool {
	return pm.Index(path) >= 0
}

// Index returns the index of the first pattern matching path, or -1
func (pm *PatternMatcher) Index(path string) int {
	path = strings.TrimPrefix(filepath.ToSlash(path), "./")
	for i, regex := range pm.regexps {
		if regex.MatchString(path) {
			return i
		}
	}
	return -1
}

// Patterns returns the normalized patterns
func (pm *PatternMatcher) Patterns() []string {
	return append([]string(nil), pm.patterns...)
}

// globToRegex converts a glob pattern to a regular expression
func globToRegex(pattern string) (*regexp.Regexp, error) {
	var regex strings.Builder
	regex.WriteString("^")

	i := 0
	for i < len(pattern) {
		switch pattern[i] {
		case '*':
			if i+1 < len(pattern) && pattern[i+1] == '*' {
				if i+2 < len(pattern) && pattern[i+2] == '/' {
					// **/ matches zero or more directories
					regex.WriteString("(?:.*/)?")
					i += 3
				} else {
					regex.WriteString(".*")
					i += 2
				}
			} else {
				// * matches any characters except /
				regex.WriteString("[^/]*")
				i++
			}
		case '?':
			regex.WriteString("[^/]")
			i++
		case '[':
			j := i + 1
			var class strings.Builder
			if j < len(pattern) && pattern[j] == '!' {
				class.WriteString("[^")
				j++
			} else {
				class.WriteString("[")
			}
			for j < len(pattern) && pattern[j] != ']' {
				if pattern[j] == '\\' && j+1 < len(pattern) {
					class.WriteByte(pattern[j])
					class.WriteByte(pattern[j+1])
					j += 2
				} else {
					class.WriteByte(pattern[j])
					j++
				}
			}
			if j < len(pattern) {
				regex.WriteString(class.String())
				regex.WriteByte(']')
				i = j + 1
			} else {
				// Unclosed bracket, treat as literal
				regex.WriteString("\\[")
				i++
			}
		case '\\':
			if i+1 < len(pattern) {
				regex.WriteString(regexp.QuoteMeta(string(pattern[i+1])))
				i += 2
			} else {
				regex.WriteString("\\\\")
				i++
			}
		default:
			regex.WriteString(regexp.QuoteMeta(string(pattern[i])))
			i++
		}
	}

	regex.WriteString("$")
	return regexp.Compile(regex.String())
}

// IsGlobPattern checks if a string contains glob wildcards
func IsGlobPattern(pattern string) bool {
	return strings.ContainsAny(pattern, "*?[")
}

// NormalizePattern normalizes a pattern or path to slash form without a
// leading ./ or trailing /
func NormalizePattern(pattern string) string {
	pattern = filepath.ToSlash(pattern)
	pattern = strings.TrimPrefix(pattern, "./")
	return strings.TrimSuffix(pattern, "/")
}

// SourceSet selects source files under a root with include and exclude globs
type SourceSet struct {
	root     string
	includes *PatternMatcher
	excludes *PatternMatcher
}

// NewSourceSet creates a source set rooted at root
func NewSourceSet(root string, includes, excludes []string) (*SourceSet, error) {
	inc, err := NewPatternMatcher(includes)
	if err != nil {
		return nil, err
	}
	exc, err := NewPatternMatcher(append(defaultExclusionPatterns(), excludes...))
	if err != nil {
		return nil, err
	}
	return &SourceSet{root: root, includes: inc, excludes: exc}, nil
}

// Contains reports whether path (absolute or relative to the root) belongs to the set
func (s *SourceSet) Contains(path string) bool {
	rel, ok := s.relative(path)
	if !ok {
		return false
	}
	return s.includes.Match(rel) && !s.excludes.Match(rel)
}

// Collect walks the root and returns the absolute paths of all matching
// regular files in lexical order
func (s *SourceSet) Collect() ([]string, error) {
	root, err := filepath.Abs(s.root)
	if err != nil {
		return nil, err
	}

	var files []string
	err = filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, _ := filepath.Rel(root, path)
		rel = filepath.ToSlash(rel)

		if d.IsDir() {
			if rel != "." && s.excludes.Match(rel+"/") {
				return filepath.SkipDir
			}
			return nil
		}
		if s.includes.Match(rel) && !s.excludes.Match(rel) {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Strings(files)
	return files, nil
}

// SkipsDir reports whether the directory at path is excluded from the set
func (s *SourceSet) SkipsDir(path string) bool {
	rel, ok := s.relative(path)
	if !ok {
		return true
	}
	if rel == "." || rel == "" {
		return false
	}
	return s.excludes.Match(rel + "/")
}

// Root returns the directory the set is rooted at
func (s *SourceSet) Root() string {
	return s.root
}

func (s *SourceSet) relative(path string) (string, bool) {
	if !filepath.IsAbs(path) {
		return NormalizePattern(path), true
	}
	root, err := filepath.Abs(s.root)
	if err != nil {
		return "", false
	}
	rel, err := filepath.Rel(root, path)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", false
	}
	return filepath.ToSlash(rel), true
}

// defaultExclusionPatterns skips version control and tool state directories
func defaultExclusionPatterns() []string {
	return []string{
		"**/.git/**",
		"**/.svn/**",
		"**/.hg/**",
		"**/.objtx/**",
		"**/.idea/**",
		"**/.vscode/**",
		"**/*.swp",
		"**/*~",
		"**/.DS_Store",
	}
}
