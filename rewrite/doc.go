/*
Package rewrite provides a streaming HTML editor for response payloads.

A Rewriter is created from a list of rules. Every rule pairs a selector,
matching a single element, with an action:

  - ReplaceText replaces the content of the element with a literal text
  - SetAttribute sets an attribute of the element to a literal value
  - SetClassByTag sets the class attribute to a value depending on the tag
    name, on the original class, and on a colour theme

The selectors support a subset of the CSS selector syntax, without
combinators:

	title
	h1#title
	div[class*="bg-gray"]
	a.button[href^="https://"]

The payload is processed as a stream of HTML tokens, using the tokenizer of
golang.org/x/net/html. The editing happens during the streaming, one token
at a time, and the edited output is available to the reader as soon as a
token was processed. Only the current token is buffered, so the memory used
by the editor doesn't depend on the size of the document.

All the rules matching an element are applied, independent of the order of
their registration. The actions depending on attributes always see the
attributes of the original document, never those set by another rule. When
more than one ReplaceText rule matches, the one registered last wins.

Everything that doesn't match any rule is forwarded byte by byte. The
editor doesn't validate the document: malformed or truncated markup is
forwarded unchanged, and the stream fails only when reading the source
fails.

Limitations:

Elements that are re-serialized because their attributes were changed get
their tag and attribute names lower-cased, and their attribute values
quoted with double quotes.

The content replacement of an element ends at its end tag, or where the
element is closed implicitly: at the end tag of one of its parents, or at
a start tag that closes it, like a div after a p or an li after an li.
The elements opened inside the replaced content are tracked by name only,
so the implicit closing follows the common cases of the HTML parsing
rules, not all of them.

The self-closing syntax is ignored for non-void elements, so <p/> starts
a paragraph whose content can be replaced.
*/
package rewrite
