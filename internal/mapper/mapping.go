// Package mapper implements the Field Mapper of spec §4.3: per-source
// configuration mapping a field name to an ordered list of mapping files,
// and the mapValues operation that applies them to a parsed document.
package mapper

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/dlclark/regexp2"
)

// Type is a mapping file's interpretation mode (spec §4.3).
type Type string

const (
	TypeNormal      Type = "normal"
	TypeRegexp      Type = "regexp"
	TypeRegexpMulti Type = "regexp-multi"
)

const (
	keyDefault    = "##default"
	keyEmpty      = "##empty"
	keyEmptyArray = "##emptyarray"
)

// regexEntry is one compiled pattern/replacement pair from a regexp or
// regexp-multi mapping file, kept in file order since "the first pattern
// whose match succeeds" (regexp) depends on ordering.
type regexEntry struct {
	pattern     *regexp2.Regexp
	replacement string
}

// Mapping is one parsed mapping file.
type Mapping struct {
	typ Type

	single map[string]string   // exact key -> value (normal type, no "[]" suffix)
	list   map[string][]string // key -> ordered values (normal type, "[]"-suffixed key)

	defaultVal    string
	hasDefault    bool
	emptyVal      string
	hasEmpty      bool
	emptyArrayVal []string
	hasEmptyArray bool

	regexEntries []regexEntry
}

// ParseMapping reads a mapping file of the given type from r.
func ParseMapping(r io.Reader, typ Type) (*Mapping, error) {
	m := &Mapping{
		typ:    typ,
		single: make(map[string]string),
		list:   make(map[string][]string),
	}

	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}

		idx := strings.Index(line, " = ")
		if idx < 0 {
			return nil, fmt.Errorf("%w: line %d: %q", ErrMalformedMapping, lineNo, line)
		}
		key := line[:idx]
		value := line[idx+len(" = "):]

		switch key {
		case keyDefault:
			m.defaultVal = value
			m.hasDefault = true
			continue
		case keyEmpty:
			m.emptyVal = value
			m.hasEmpty = true
			continue
		case keyEmptyArray:
			m.emptyArrayVal = append(m.emptyArrayVal, value)
			m.hasEmptyArray = true
			continue
		}

		switch typ {
		case TypeRegexp, TypeRegexpMulti:
			pattern, err := regexp2.Compile(key, regexp2.None)
			if err != nil {
				return nil, fmt.Errorf("mapper: invalid regexp at line %d: %w", lineNo, err)
			}
			m.regexEntries = append(m.regexEntries, regexEntry{pattern: pattern, replacement: value})
		default:
			if strings.HasSuffix(key, "[]") {
				base := strings.TrimSuffix(key, "[]")
				m.list[base] = append(m.list[base], value)
			} else {
				m.single[key] = value
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("mapper: reading mapping: %w", err)
	}
	return m, nil
}

// applyOne maps a single input value at the given hierarchy index (-1 when
// the value isn't part of a hierarchical sequence). ok is false when no rule
// matched and there is no ##default to fall back on, meaning the caller
// should leave the original value untouched (spec §4.3's final clause).
func (m *Mapping) applyOne(value string, index int) (result []string, ok bool) {
	if value == "" {
		if m.hasEmptyArray {
			return append([]string(nil), m.emptyArrayVal...), true
		}
		if m.hasEmpty {
			return []string{m.emptyVal}, true
		}
		return nil, false
	}

	switch m.typ {
	case TypeRegexp:
		for _, entry := range m.regexEntries {
			if matched, out := entry.substitute(value); matched {
				return []string{out}, true
			}
		}
	case TypeRegexpMulti:
		var out []string
		for _, entry := range m.regexEntries {
			if matched, sub := entry.substitute(value); matched {
				out = append(out, sub)
			}
		}
		if len(out) > 0 {
			return out, true
		}
	default:
		if index >= 0 {
			if v, found := m.single[fmt.Sprintf("%d:%s", index, value)]; found {
				return []string{v}, true
			}
		}
		if v, found := m.single[value]; found {
			return []string{v}, true
		}
		if vs, found := m.list[value]; found {
			return append([]string(nil), vs...), true
		}
	}

	if m.hasDefault {
		return []string{m.defaultVal}, true
	}
	return nil, false
}

func (e regexEntry) substitute(value string) (matched bool, result string) {
	m, err := e.pattern.FindStringMatch(value)
	if err != nil || m == nil {
		return false, ""
	}
	replaced, err := e.pattern.Replace(value, e.replacement, 0, 1)
	if err != nil {
		return false, ""
	}
	return true, replaced
}
