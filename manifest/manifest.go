/*
Package manifest implements fetching the list of the page variants.

The manifest endpoint responds with a JSON document listing the URLs of
exactly two variants:

	{"variants": ["https://variant-0.example.org", "https://variant-1.example.org"]}

The manifest is fetched for every request, it is never cached.
*/
package manifest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/tidwall/gjson"
)

const (
	// DefaultURL is the manifest endpoint used when no other is
	// configured.
	DefaultURL = "https://cfw-takehome.developers.workers.dev/api/variants"

	// Size is the number of variants in a valid manifest.
	Size = 2

	maxBodySize = 1 << 20
)

var (
	ErrStatus  = errors.New("unexpected manifest status")
	ErrInvalid = errors.New("invalid manifest")
)

// Doer executes outgoing requests. *http.Client implements it.
type Doer interface {
	Do(*http.Request) (*http.Response, error)
}

// Manifest holds the ordered URLs of the variants.
type Manifest struct {
	Variants []string
}

// StatusError is returned when the manifest endpoint responds with a
// status other than 200.
type StatusError struct {
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%v: %d", ErrStatus, e.StatusCode)
}

func (e *StatusError) Unwrap() error { return ErrStatus }

// Parse parses a manifest document. It fails unless the document has a
// variants array of exactly two non-empty strings.
func Parse(b []byte) (Manifest, error) {
	if !gjson.ValidBytes(b) {
		return Manifest{}, fmt.Errorf("%w: malformed JSON", ErrInvalid)
	}

	v := gjson.GetBytes(b, "variants")
	if !v.IsArray() {
		return Manifest{}, fmt.Errorf("%w: missing variants", ErrInvalid)
	}

	items := v.Array()
	if len(items) != Size {
		return Manifest{}, fmt.Errorf("%w: expected %d variants, got %d", ErrInvalid, Size, len(items))
	}

	m := Manifest{Variants: make([]string, 0, Size)}
	for i, item := range items {
		if item.Type != gjson.String || item.Str == "" {
			return Manifest{}, fmt.Errorf("%w: variant %d is not a URL", ErrInvalid, i)
		}

		m.Variants = append(m.Variants, item.Str)
	}

	return m, nil
}

// URL returns the URL of a variant.
func (m Manifest) URL(index int) (string, error) {
	if index < 0 || index >= len(m.Variants) {
		return "", fmt.Errorf("%w: no variant %d", ErrInvalid, index)
	}

	return m.Variants[index], nil
}

// Client fetches the manifest from a fixed endpoint.
type Client struct {
	url  string
	doer Doer
}

// NewClient creates a manifest client. When url is empty, DefaultURL is
// used. When doer is nil, http.DefaultClient is used.
func NewClient(url string, doer Doer) *Client {
	if url == "" {
		url = DefaultURL
	}

	if doer == nil {
		doer = http.DefaultClient
	}

	return &Client{url: url, doer: doer}
}

// URL returns the manifest endpoint.
func (c *Client) URL() string { return c.url }

// Fetch gets and parses the manifest. The header, when not nil, is added
// to the outgoing request.
func (c *Client) Fetch(ctx context.Context, header http.Header) (Manifest, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", c.url, nil)
	if err != nil {
		return Manifest{}, err
	}

	for k, v := range header {
		req.Header[k] = v
	}

	rsp, err := c.doer.Do(req)
	if err != nil {
		return Manifest{}, err
	}

	defer rsp.Body.Close()
	if rsp.StatusCode != http.StatusOK {
		return Manifest{}, &StatusError{StatusCode: rsp.StatusCode}
	}

	b, err := io.ReadAll(io.LimitReader(rsp.Body, maxBodySize))
	if err != nil {
		return Manifest{}, err
	}

	return Parse(b)
}
