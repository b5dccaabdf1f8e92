package rewrite

import (
	"fmt"
	"strings"
)

// Action is the kind of edit applied to a selected element.
type Action int

const (
	// TextAction replaces the content of the element.
	TextAction Action = iota

	// AttributeAction sets an attribute of the element.
	AttributeAction

	// ClassAction sets the class attribute of the element based on
	// its tag name and the theme.
	ClassAction
)

// Rule pairs a selector with an action and the value used by the action.
type Rule struct {
	Selector Selector
	Action   Action

	// Text is the new content of the element for TextAction.
	Text string

	// Name and Value are the attribute name and value for
	// AttributeAction.
	Name  string
	Value string

	// Theme drives the class values generated by ClassAction.
	Theme Theme
}

func (a Action) String() string {
	switch a {
	case TextAction:
		return "replaceText"
	case AttributeAction:
		return "setAttribute"
	case ClassAction:
		return "setClassByTag"
	default:
		return fmt.Sprintf("action(%d)", int(a))
	}
}

// ReplaceText creates a rule replacing the content of the selected
// elements with text. The text is escaped.
func ReplaceText(s Selector, text string) Rule {
	return Rule{Selector: s, Action: TextAction, Text: text}
}

// SetAttribute creates a rule setting the attribute name of the selected
// elements to value.
func SetAttribute(s Selector, name, value string) Rule {
	return Rule{Selector: s, Action: AttributeAction, Name: name, Value: value}
}

// SetClassByTag creates a rule setting the class of the selected elements
// according to ClassFor.
func SetClassByTag(s Selector, t Theme) Rule {
	return Rule{Selector: s, Action: ClassAction, Theme: t}
}

func containsInset(class string) bool {
	return strings.Contains(class, "inset")
}

// ClassFor returns the class of an element with the given tag name and
// original class, in the given theme.
func ClassFor(tag, class string, t Theme) string {
	c := t.Token()
	switch tag {
	case "div":
		if containsInset(class) {
			return "absolute inset-0 bg-" + c + "-500 opacity-25"
		}

		return "mx-auto flex items-center justify-center h-12 w-12 rounded-full bg-" + c + "-100"
	case "svg":
		return "h-6 w-6 text-" + c + "-600"
	default:
		return "text-lg leading-6 font-medium text-" + c + "-600"
	}
}

func (r Rule) String() string {
	switch r.Action {
	case TextAction:
		return fmt.Sprintf("%s -> %s(%q)", r.Selector, r.Action, r.Text)
	case AttributeAction:
		return fmt.Sprintf("%s -> %s(%q, %q)", r.Selector, r.Action, r.Name, r.Value)
	default:
		return fmt.Sprintf("%s -> %s(%s)", r.Selector, r.Action, r.Theme)
	}
}
