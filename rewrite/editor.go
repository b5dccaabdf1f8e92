package rewrite

import (
	"bytes"
	"errors"
	"io"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

type editor struct {
	source    io.Reader
	tokenizer *html.Tokenizer
	rules     []Rule
	buffer    []byte
	ready     []byte

	// elements open in the content being replaced, the replaced
	// element first
	skipped []string

	err    error
	closed bool
}

var ErrClosed = errors.New("reader closed")

func newEditor(source io.Reader, rules []Rule) *editor {
	return &editor{
		source:    source,
		tokenizer: html.NewTokenizer(source),
		rules:     rules,
	}
}

func isVoid(a atom.Atom) bool {
	switch a {
	case atom.Area, atom.Base, atom.Br, atom.Col, atom.Embed, atom.Hr, atom.Img,
		atom.Input, atom.Keygen, atom.Link, atom.Meta, atom.Param, atom.Source,
		atom.Track, atom.Wbr:
		return true
	default:
		return false
	}
}

// start tags closing an open p element
var closesP = map[string]bool{
	"address": true, "article": true, "aside": true, "blockquote": true,
	"center": true, "dd": true, "details": true, "dialog": true, "dir": true,
	"div": true, "dl": true, "dt": true, "fieldset": true, "figcaption": true,
	"figure": true, "footer": true, "form": true, "h1": true, "h2": true,
	"h3": true, "h4": true, "h5": true, "h6": true, "header": true,
	"hgroup": true, "hr": true, "li": true, "listing": true, "main": true,
	"menu": true, "nav": true, "ol": true, "p": true, "pre": true,
	"search": true, "section": true, "summary": true, "table": true,
	"ul": true,
}

var headings = map[string]bool{"h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true}

// start tags closing the replaced element, when nothing else is open
// inside it
var closesSibling = map[string]map[string]bool{
	"li":     {"li": true},
	"dt":     {"dt": true, "dd": true},
	"dd":     {"dt": true, "dd": true},
	"option": {"option": true, "optgroup": true},
	"a":      {"a": true},
	"h1":     headings,
	"h2":     headings,
	"h3":     headings,
	"h4":     headings,
	"h5":     headings,
	"h6":     headings,
}

func closedByStartTag(open []string, tag string) bool {
	if open[0] == "p" {
		return closesP[tag]
	}

	return len(open) == 1 && closesSibling[open[0]][tag]
}

func setAttr(attrs []html.Attribute, name, value string) []html.Attribute {
	for i := range attrs {
		if attrs[i].Namespace == "" && attrs[i].Key == name {
			attrs[i].Val = value
			return attrs
		}
	}

	return append(attrs, html.Attribute{Key: name, Val: value})
}

// the original raw bytes are appended first, and replaced only when a
// rule changed the element
func (e *editor) editTag(tt html.TokenType) {
	start := len(e.ready)
	e.ready = append(e.ready, e.tokenizer.Raw()...)

	// Token() lower-cases the raw buffer in place, so it needs to come
	// after copying the raw bytes
	t := e.tokenizer.Token()

	var (
		attrs   []html.Attribute
		changed bool
		text    string
		hasText bool
	)

	for _, r := range e.rules {
		if !r.Selector.Match(t.Data, t.Attr) {
			continue
		}

		if !changed && r.Action != TextAction {
			attrs = append([]html.Attribute(nil), t.Attr...)
			changed = true
		}

		switch r.Action {
		case TextAction:
			text, hasText = r.Text, true
		case AttributeAction:
			attrs = setAttr(attrs, r.Name, r.Value)
		case ClassAction:
			class, _ := attrValue(t.Attr, "class")
			attrs = setAttr(attrs, "class", ClassFor(t.Data, class, r.Theme))
		}
	}

	if changed {
		t.Attr = attrs
		e.ready = append(e.ready[:start], t.String()...)
	}

	// the self-closing syntax is ignored on non-void html elements
	if hasText && !isVoid(t.DataAtom) {
		e.ready = append(e.ready, html.EscapeString(text)...)
		e.skipped = append(e.skipped[:0], t.Data)
	}
}

// rawTagName reads the tag name from the raw bytes of a tag token,
// leaving the tokenizer state untouched for a later Token() call
func rawTagName(raw []byte) string {
	raw = bytes.TrimPrefix(bytes.TrimPrefix(raw, []byte("<")), []byte("/"))
	if i := bytes.IndexAny(raw, " \t\n\f\r/>"); i >= 0 {
		raw = raw[:i]
	}

	return strings.ToLower(string(raw))
}

func (e *editor) openSkipped(name string) int {
	for i := len(e.skipped) - 1; i >= 0; i-- {
		if e.skipped[i] == name {
			return i
		}
	}

	return -1
}

// skip drops the content of the replaced element. It returns true when
// the current token closed the replaced element implicitly, and needs
// to be processed as regular content.
func (e *editor) skip(tt html.TokenType) bool {
	switch tt {
	case html.ErrorToken:
		e.err = e.tokenizer.Err()
	case html.StartTagToken:
		tag := rawTagName(e.tokenizer.Raw())
		if closedByStartTag(e.skipped, tag) {
			e.skipped = e.skipped[:0]
			return true
		}

		if !isVoid(atom.Lookup([]byte(tag))) {
			e.skipped = append(e.skipped, tag)
		}
	case html.EndTagToken:
		i := e.openSkipped(rawTagName(e.tokenizer.Raw()))
		if i > 0 {
			e.skipped = e.skipped[:i]
			return false
		}

		// either the end of the replaced element, or of one of its
		// parents, closing it implicitly
		e.skipped = e.skipped[:0]
		e.ready = append(e.ready, e.tokenizer.Raw()...)
	}

	return false
}

func (e *editor) next() {
	e.ready = e.buffer[:0]
	defer func() { e.buffer = e.ready[:0] }()

	tt := e.tokenizer.Next()
	if len(e.skipped) > 0 && !e.skip(tt) {
		return
	}

	switch tt {
	case html.ErrorToken:
		e.ready = append(e.ready, e.tokenizer.Raw()...)
		e.err = e.tokenizer.Err()
	case html.StartTagToken, html.SelfClosingTagToken:
		e.editTag(tt)
	default:
		e.ready = append(e.ready, e.tokenizer.Raw()...)
	}
}

func (e *editor) Read(p []byte) (int, error) {
	if e.closed {
		return 0, ErrClosed
	}

	var count int
	for {
		n := copy(p, e.ready)
		p, e.ready = p[n:], e.ready[n:]
		count += n
		if len(p) == 0 {
			return count, nil
		}

		if e.err != nil {
			if count > 0 {
				return count, nil
			}

			return 0, e.err
		}

		// not blocking on the source while there is edited content
		if count > 0 && len(e.tokenizer.Buffered()) == 0 {
			return count, nil
		}

		e.next()
	}
}

// Close closes the underlying reader, when it is an io.Closer.
func (e *editor) Close() error {
	e.closed = true
	if c, ok := e.source.(io.Closer); ok {
		return c.Close()
	}

	return nil
}
