package rewrite

import "strings"

// Theme is the colour theme applied to a page variant.
type Theme int

const (
	Indigo Theme = iota
	Green
)

// ThemeOf returns the theme of a variant index. Variant 0 is Indigo, any
// other variant is Green.
func ThemeOf(index int) Theme {
	if index == 0 {
		return Indigo
	}

	return Green
}

func (t Theme) String() string {
	switch t {
	case Indigo:
		return "Indigo"
	default:
		return "Green"
	}
}

// Token returns the colour name as used in the CSS utility classes.
func (t Theme) Token() string {
	return strings.ToLower(t.String())
}
