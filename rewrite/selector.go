package rewrite

import (
	"errors"
	"fmt"
	"strings"

	"golang.org/x/net/html"
)

type matchOp int

const (
	opExists matchOp = iota
	opEquals
	opContains
	opPrefix
	opSuffix
	opWord
)

type attrMatch struct {
	name  string
	op    matchOp
	value string
}

// Selector matches a single element by its tag name and attributes.
type Selector struct {
	source string
	tag    string
	attrs  []attrMatch
}

var ErrInvalidSelector = errors.New("invalid selector")

func invalidSelector(s, reason string) error {
	return fmt.Errorf("%w: %q: %s", ErrInvalidSelector, s, reason)
}

func isIdentByte(c byte) bool {
	return c >= 'a' && c <= 'z' ||
		c >= 'A' && c <= 'Z' ||
		c >= '0' && c <= '9' ||
		c == '-' || c == '_'
}

func readIdent(s string) (string, string) {
	i := 0
	for i < len(s) && isIdentByte(s[i]) {
		i++
	}

	return s[:i], s[i:]
}

func parseAttr(s string) (attrMatch, string, error) {
	s = strings.TrimLeft(s, " ")
	name, s := readIdent(s)
	if name == "" {
		return attrMatch{}, "", errors.New("missing attribute name")
	}

	m := attrMatch{name: strings.ToLower(name)}
	s = strings.TrimLeft(s, " ")
	if strings.HasPrefix(s, "]") {
		return m, s[1:], nil
	}

	switch {
	case strings.HasPrefix(s, "="):
		m.op, s = opEquals, s[1:]
	case strings.HasPrefix(s, "*="):
		m.op, s = opContains, s[2:]
	case strings.HasPrefix(s, "^="):
		m.op, s = opPrefix, s[2:]
	case strings.HasPrefix(s, "$="):
		m.op, s = opSuffix, s[2:]
	case strings.HasPrefix(s, "~="):
		m.op, s = opWord, s[2:]
	default:
		return attrMatch{}, "", errors.New("unsupported attribute operator")
	}

	s = strings.TrimLeft(s, " ")
	if s != "" && (s[0] == '"' || s[0] == '\'') {
		end := strings.IndexByte(s[1:], s[0])
		if end < 0 {
			return attrMatch{}, "", errors.New("unterminated attribute value")
		}

		m.value, s = s[1:end+1], s[end+2:]
	} else {
		m.value, s = readIdent(s)
	}

	s = strings.TrimLeft(s, " ")
	if !strings.HasPrefix(s, "]") {
		return attrMatch{}, "", errors.New("unterminated attribute selector")
	}

	return m, s[1:], nil
}

// ParseSelector parses a simple CSS selector: an optional tag name or *,
// followed by any number of #id, .class and [attribute] conditions. The
// supported attribute operators are =, *=, ^=, $= and ~=.
func ParseSelector(s string) (Selector, error) {
	sel := Selector{source: s}
	rest := strings.TrimSpace(s)
	if rest == "" {
		return Selector{}, invalidSelector(s, "empty")
	}

	if rest[0] == '*' {
		rest = rest[1:]
	} else {
		var tag string
		tag, rest = readIdent(rest)
		sel.tag = strings.ToLower(tag)
	}

	for rest != "" {
		switch rest[0] {
		case '#', '.':
			name, remaining := readIdent(rest[1:])
			if name == "" {
				return Selector{}, invalidSelector(s, "missing name after "+rest[:1])
			}

			if rest[0] == '#' {
				sel.attrs = append(sel.attrs, attrMatch{name: "id", op: opEquals, value: name})
			} else {
				sel.attrs = append(sel.attrs, attrMatch{name: "class", op: opWord, value: name})
			}

			rest = remaining
		case '[':
			m, remaining, err := parseAttr(rest[1:])
			if err != nil {
				return Selector{}, invalidSelector(s, err.Error())
			}

			sel.attrs = append(sel.attrs, m)
			rest = remaining
		default:
			return Selector{}, invalidSelector(s, fmt.Sprintf("unexpected character %q", rest[0]))
		}
	}

	return sel, nil
}

// MustParseSelector is like ParseSelector but panics if the selector
// cannot be parsed.
func MustParseSelector(s string) Selector {
	sel, err := ParseSelector(s)
	if err != nil {
		panic(err)
	}

	return sel
}

func (s Selector) String() string { return s.source }

func attrValue(attrs []html.Attribute, name string) (string, bool) {
	for _, a := range attrs {
		if a.Namespace == "" && a.Key == name {
			return a.Val, true
		}
	}

	return "", false
}

func (m attrMatch) match(attrs []html.Attribute) bool {
	v, ok := attrValue(attrs, m.name)
	if !ok {
		return false
	}

	switch m.op {
	case opExists:
		return true
	case opEquals:
		return v == m.value
	case opContains:
		return m.value != "" && strings.Contains(v, m.value)
	case opPrefix:
		return m.value != "" && strings.HasPrefix(v, m.value)
	case opSuffix:
		return m.value != "" && strings.HasSuffix(v, m.value)
	case opWord:
		for _, w := range strings.Fields(v) {
			if w == m.value {
				return true
			}
		}

		return false
	default:
		return false
	}
}

// Match tells whether an element with the given lower-case tag name and
// attributes is selected.
func (s Selector) Match(tag string, attrs []html.Attribute) bool {
	if s.tag != "" && s.tag != tag {
		return false
	}

	for _, m := range s.attrs {
		if !m.match(attrs) {
			return false
		}
	}

	return true
}
