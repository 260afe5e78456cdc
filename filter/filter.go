package filter

import (
	"bytes"
	"fmt"
	"regexp"
	"strings"
)

// Options captures the record filtering configuration applied before chat classification.
type Options struct {
	IncludeHeader []string
	ExcludeHeader []string
}

// Filter holds compiled header patterns and counts how often each one matched.
type Filter struct {
	includeMode   bool
	excludeMode   bool
	includeHeader []*regexp.Regexp
	excludeHeader []*regexp.Regexp
	hits          map[string]int
}

// Stats reports the configured patterns and their hit counts.
type Stats struct {
	IncludeHeaderPatterns []string
	ExcludeHeaderPatterns []string
	Hits                  map[string]int
}

// New creates a new Filter from the provided options.
func New(opts Options) (*Filter, error) {
	includeHeader, err := compilePatterns(opts.IncludeHeader)
	if err != nil {
		return nil, fmt.Errorf("compile include-header pattern: %w", err)
	}
	excludeHeader, err := compilePatterns(opts.ExcludeHeader)
	if err != nil {
		return nil, fmt.Errorf("compile exclude-header pattern: %w", err)
	}

	includeActive := len(includeHeader) > 0
	excludeActive := len(excludeHeader) > 0
	if includeActive && excludeActive {
		return nil, fmt.Errorf("include and exclude filters are mutually exclusive")
	}

	return &Filter{
		includeMode:   includeActive,
		excludeMode:   excludeActive,
		includeHeader: includeHeader,
		excludeHeader: excludeHeader,
		hits:          make(map[string]int),
	}, nil
}

// Active reports whether any pattern is configured.
func (f *Filter) Active() bool {
	return f.includeMode || f.excludeMode
}

// Allows returns true if the raw record passes the filter criteria.
func (f *Filter) Allows(raw []byte) bool {
	if !f.Active() {
		return true
	}

	header, _ := SplitRawMessage(raw)
	// archive records use CRLF; $ only anchors before \n
	headerText := strings.ReplaceAll(string(header), "\r\n", "\n")

	if f.includeMode {
		return f.matchAny(f.includeHeader, headerText)
	}

	return !f.matchAny(f.excludeHeader, headerText)
}

// Stats returns a copy of the pattern hit counters.
func (f *Filter) Stats() Stats {
	s := Stats{Hits: make(map[string]int, len(f.hits))}
	for _, re := range f.includeHeader {
		s.IncludeHeaderPatterns = append(s.IncludeHeaderPatterns, re.String())
	}
	for _, re := range f.excludeHeader {
		s.ExcludeHeaderPatterns = append(s.ExcludeHeaderPatterns, re.String())
	}
	for k, v := range f.hits {
		s.Hits[k] = v
	}
	return s
}

// SplitRawMessage splits a raw record into header and body parts.
func SplitRawMessage(raw []byte) (header, body []byte) {
	if len(raw) == 0 {
		return nil, nil
	}

	if idx := bytes.Index(raw, []byte("\r\n\r\n")); idx >= 0 {
		return raw[:idx], raw[idx+4:]
	}
	if idx := bytes.Index(raw, []byte("\n\n")); idx >= 0 {
		return raw[:idx], raw[idx+2:]
	}

	return raw, nil
}

func compilePatterns(patterns []string) ([]*regexp.Regexp, error) {
	compiled := make([]*regexp.Regexp, 0, len(patterns))
	for _, pattern := range patterns {
		pattern = strings.TrimSpace(pattern)
		if pattern == "" {
			continue
		}
		// Header text spans lines, so let ^ and $ anchor per header field.
		re, err := regexp.Compile("(?m)" + pattern)
		if err != nil {
			return nil, fmt.Errorf("compile %q: %w", pattern, err)
		}
		compiled = append(compiled, re)
	}
	return compiled, nil
}

func (f *Filter) matchAny(patterns []*regexp.Regexp, text string) bool {
	matched := false
	for _, re := range patterns {
		if re.MatchString(text) {
			f.hits[re.String()]++
			matched = true
		}
	}
	return matched
}
