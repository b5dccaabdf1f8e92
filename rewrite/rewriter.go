package rewrite

import (
	"fmt"
	"io"
)

const (
	// PageTitle is the title of every variant page.
	PageTitle = "Favourite Colour Picker"

	// LinkText and LinkURL replace the call to action link.
	LinkText = "To my GitHub"
	LinkURL  = "https://github.com/sseanik"
)

// Rewriter applies a fixed set of rules to HTML streams. It is safe for
// concurrent use, every transformation has its own state.
type Rewriter struct {
	rules []Rule
}

// New creates a rewriter from rules.
func New(rules ...Rule) *Rewriter {
	return &Rewriter{rules: append([]Rule(nil), rules...)}
}

// Rules returns a copy of the rules of the rewriter.
func (r *Rewriter) Rules() []Rule {
	return append([]Rule(nil), r.rules...)
}

// Transform returns a reader streaming the edited content of source.
// Closing the returned reader closes source, when it is an io.Closer.
func (r *Rewriter) Transform(source io.Reader) io.ReadCloser {
	return newEditor(source, r.rules)
}

// PageRules returns the rules personalizing a variant page in the given
// theme.
func PageRules(t Theme) []Rule {
	var (
		title       = MustParseSelector("title")
		heading     = MustParseSelector("h1#title")
		description = MustParseSelector("p#description")
		link        = MustParseSelector("a#url")
	)

	return []Rule{
		ReplaceText(title, PageTitle),
		ReplaceText(heading, fmt.Sprintf("%s Variant", t)),
		ReplaceText(description, fmt.Sprintf("Your new favourite colour is %s!", t)),
		ReplaceText(link, LinkText),
		SetAttribute(link, "href", LinkURL),
		SetClassByTag(MustParseSelector(`div[class*="bg-gray"]`), t),
		SetClassByTag(MustParseSelector(`div[class*="bg-green"]`), t),
		SetClassByTag(MustParseSelector(`svg[class*="text-green"]`), t),
		SetClassByTag(heading, t),
	}
}

// NewPage creates a rewriter personalizing variant pages in the given
// theme.
func NewPage(t Theme) *Rewriter {
	return New(PageRules(t)...)
}
