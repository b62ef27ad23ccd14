// Package inifile parses the envmatrix configuration dialect: an
// ini-style file with [section] headers, key = value assignments and
// indented continuation lines for multi-line values (the format used
// for deps and commands lists).
package inifile

import (
	"bufio"
	"fmt"
	"os"
	"strings"
)

// ParseError reports a syntax problem with its position in the file.
type ParseError struct {
	Path string
	Line int
	Msg  string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%s:%d: %s", e.Path, e.Line, e.Msg)
}

// File is a parsed configuration file. Section order is preserved.
type File struct {
	Path     string
	sections map[string]*Section
	order    []string
}

// Section is a named group of key/value entries. Key order is preserved.
type Section struct {
	Name string
	Line int

	values map[string]string
	order  []string
}

// Parse reads and parses the file at path.
func Parse(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	file := &File{
		Path:     path,
		sections: make(map[string]*Section),
	}

	var (
		current *Section
		curKey  string
	)

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineNo := 0

	for scanner.Scan() {
		lineNo++
		raw := scanner.Text()
		trimmed := strings.TrimSpace(raw)

		switch {
		case trimmed == "":
			// A blank line terminates any in-progress multi-line value.
			curKey = ""

		case strings.HasPrefix(trimmed, "#") || strings.HasPrefix(trimmed, ";"):
			// Full-line comment, even when indented.

		case raw != "" && (raw[0] == ' ' || raw[0] == '\t'):
			// Continuation of the previous value.
			if current == nil || curKey == "" {
				return nil, &ParseError{Path: path, Line: lineNo, Msg: "continuation line outside a value"}
			}
			current.values[curKey] += "\n" + trimmed

		case strings.HasPrefix(trimmed, "["):
			if !strings.HasSuffix(trimmed, "]") {
				return nil, &ParseError{Path: path, Line: lineNo, Msg: "unterminated section header"}
			}
			name := strings.TrimSpace(trimmed[1 : len(trimmed)-1])
			if name == "" {
				return nil, &ParseError{Path: path, Line: lineNo, Msg: "empty section name"}
			}
			if _, exists := file.sections[name]; exists {
				return nil, &ParseError{Path: path, Line: lineNo, Msg: fmt.Sprintf("duplicate section [%s]", name)}
			}
			current = &Section{
				Name:   name,
				Line:   lineNo,
				values: make(map[string]string),
			}
			file.sections[name] = current
			file.order = append(file.order, name)
			curKey = ""

		default:
			if current == nil {
				return nil, &ParseError{Path: path, Line: lineNo, Msg: "assignment before any section header"}
			}
			key, value, ok := splitAssignment(trimmed)
			if !ok {
				return nil, &ParseError{Path: path, Line: lineNo, Msg: fmt.Sprintf("expected key = value, got %q", trimmed)}
			}
			if _, exists := current.values[key]; exists {
				return nil, &ParseError{Path: path, Line: lineNo, Msg: fmt.Sprintf("duplicate key %q in section [%s]", key, current.Name)}
			}
			current.values[key] = value
			current.order = append(current.order, key)
			curKey = key
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return file, nil
}

// splitAssignment splits "key = value" or "key: value" at the first
// separator. Values may be empty (multi-line values start that way).
func splitAssignment(line string) (key, value string, ok bool) {
	eq := strings.IndexByte(line, '=')
	colon := strings.IndexByte(line, ':')

	sep := eq
	if sep == -1 || (colon != -1 && colon < sep) {
		sep = colon
	}
	if sep <= 0 {
		return "", "", false
	}

	key = strings.TrimSpace(line[:sep])
	value = strings.TrimSpace(line[sep+1:])
	if key == "" {
		return "", "", false
	}
	return key, value, true
}

// Section returns the named section.
func (f *File) Section(name string) (*Section, bool) {
	s, ok := f.sections[name]
	return s, ok
}

// HasSection reports whether the named section exists.
func (f *File) HasSection(name string) bool {
	_, ok := f.sections[name]
	return ok
}

// SectionNames returns section names in file order.
func (f *File) SectionNames() []string {
	names := make([]string, len(f.order))
	copy(names, f.order)
	return names
}

// Lookup fetches a key from a named section in one step.
func (f *File) Lookup(section, key string) (string, bool) {
	s, ok := f.sections[section]
	if !ok {
		return "", false
	}
	return s.Get(key)
}

// Get returns the raw value for key.
func (s *Section) Get(key string) (string, bool) {
	v, ok := s.values[key]
	return v, ok
}

// Keys returns the section's keys in declaration order.
func (s *Section) Keys() []string {
	keys := make([]string, len(s.order))
	copy(keys, s.order)
	return keys
}

// SplitLines splits a multi-line value into its non-empty trimmed lines.
// Used for deps and commands values.
func SplitLines(value string) []string {
	var out []string
	for _, line := range strings.Split(value, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			out = append(out, line)
		}
	}
	return out
}

// SplitList splits a value on commas and whitespace. Used for envlist
// and passenv values.
func SplitList(value string) []string {
	fields := strings.FieldsFunc(value, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t' || r == '\n'
	})
	var out []string
	for _, f := range fields {
		if f = strings.TrimSpace(f); f != "" {
			out = append(out, f)
		}
	}
	return out
}
