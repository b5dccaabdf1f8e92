package proxy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/zalando/variantedge/cookie"
	"github.com/zalando/variantedge/logging"
	"github.com/zalando/variantedge/manifest"
	"github.com/zalando/variantedge/metrics"
	"github.com/zalando/variantedge/rewrite"
	"github.com/zalando/variantedge/traffic"
)

const (
	proxyBufferSize = 8192

	// DefaultAcceptEncoding is sent to the origins, listing the
	// encodings that the proxy can decode before rewriting.
	DefaultAcceptEncoding = "gzip, deflate, br"

	manifestFailureText = "Failed to obtain Variant URLs"
	variantFailureText  = "Failed to obtain Variant %d"
)

var (
	// ErrManifestUnavailable is matched by the errors of the failed
	// manifest requests.
	ErrManifestUnavailable = errors.New("manifest unavailable")

	// ErrVariantUnavailable is matched by the errors of the failed
	// variant requests.
	ErrVariantUnavailable = errors.New("variant unavailable")
)

var hopHeaders = map[string]bool{
	"Te":                  true,
	"Connection":          true,
	"Proxy-Connection":    true,
	"Keep-Alive":          true,
	"Proxy-Authenticate":  true,
	"Proxy-Authorization": true,
	"Trailer":             true,
	"Transfer-Encoding":   true,
	"Upgrade":             true,
}

// Doer executes the outgoing requests to the origins.
type Doer interface {
	Do(*http.Request) (*http.Response, error)
}

// Options to initialize the proxy.
type Options struct {

	// ManifestURL is the endpoint listing the variant URLs. Defaults
	// to manifest.DefaultURL.
	ManifestURL string

	// Client executes the requests to the manifest endpoint and to the
	// variant origins. Defaults to http.DefaultClient.
	Client Doer

	// Selector chooses the variant. Defaults to traffic.New().
	Selector *traffic.Selector

	// Metrics collects the measurements. Defaults to metrics.Void.
	Metrics metrics.Metrics

	// AcceptEncoding is sent to the origins. Defaults to
	// DefaultAcceptEncoding.
	AcceptEncoding string
}

// Proxy serves the variant pages.
type Proxy struct {
	manifest       *manifest.Client
	client         Doer
	selector       *traffic.Selector
	metrics        metrics.Metrics
	acceptEncoding string
}

type fetchError struct {
	stage  string
	index  int
	status int
	err    error
}

func (e *fetchError) Error() string {
	var what string
	if e.stage == metrics.StageManifest {
		what = "variant urls"
	} else {
		what = fmt.Sprintf("variant %d", e.index)
	}

	switch {
	case e.err != nil:
		return fmt.Sprintf("failed to obtain %s: %v", what, e.err)
	case e.status != 0:
		return fmt.Sprintf("failed to obtain %s: unexpected status %d", what, e.status)
	default:
		return fmt.Sprintf("failed to obtain %s", what)
	}
}

func (e *fetchError) Unwrap() []error {
	sentinel := ErrVariantUnavailable
	if e.stage == metrics.StageManifest {
		sentinel = ErrManifestUnavailable
	}

	if e.err == nil {
		return []error{sentinel}
	}

	return []error{sentinel, e.err}
}

func (e *fetchError) responseText() string {
	if e.stage == metrics.StageManifest {
		return manifestFailureText
	}

	return fmt.Sprintf(variantFailureText, e.index)
}

// New creates a proxy.
func New(o Options) *Proxy {
	if o.Client == nil {
		o.Client = http.DefaultClient
	}

	if o.Selector == nil {
		o.Selector = traffic.New()
	}

	if o.Metrics == nil {
		o.Metrics = metrics.Void
	}

	if o.AcceptEncoding == "" {
		o.AcceptEncoding = DefaultAcceptEncoding
	}

	return &Proxy{
		manifest:       manifest.NewClient(o.ManifestURL, o.Client),
		client:         o.Client,
		selector:       o.Selector,
		metrics:        o.Metrics,
		acceptEncoding: o.AcceptEncoding,
	}
}

func copyHeaderExcluding(to, from http.Header, excludeList map[string]bool) {
	for k, v := range from {
		if !excludeList[k] {
			to[k] = v
		}
	}
}

// copies a stream with flushing on every successful read operation
// (similar to io.Copy but with flushing)
func copyStream(to http.ResponseWriter, from io.Reader) error {
	rc := http.NewResponseController(to)
	b := make([]byte, proxyBufferSize)

	for {
		l, rerr := from.Read(b)
		if rerr != nil && rerr != io.EOF {
			return rerr
		}

		if l > 0 {
			_, werr := to.Write(b[:l])
			if werr != nil {
				return werr
			}

			if ferr := rc.Flush(); ferr != nil && !errors.Is(ferr, http.ErrNotSupported) {
				return ferr
			}
		}

		if rerr == io.EOF {
			return nil
		}
	}
}

func isHTML(h http.Header) bool {
	ct := strings.TrimSpace(strings.ToLower(h.Get("Content-Type")))
	return ct == "" || strings.HasPrefix(ct, "text/html")
}

func errorResponse(r *http.Request, text string) *http.Response {
	return &http.Response{
		Status:        fmt.Sprintf("%d %s", http.StatusInternalServerError, http.StatusText(http.StatusInternalServerError)),
		StatusCode:    http.StatusInternalServerError,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        http.Header{"Content-Type": []string{"text/plain; charset=utf-8"}},
		Body:          io.NopCloser(strings.NewReader(text)),
		ContentLength: int64(len(text)),
		Request:       r,
	}
}

func flowID(r *http.Request) string {
	id := r.Header.Get(logging.FlowIDHeader)
	if id == "" {
		id = uuid.New().String()
		r.Header.Set(logging.FlowIDHeader, id)
	}

	return id
}

func outgoingHeader(flowID string) http.Header {
	return http.Header{logging.FlowIDHeader: []string{flowID}}
}

func (p *Proxy) fetchManifest(ctx context.Context, h http.Header) (manifest.Manifest, error) {
	start := time.Now()
	m, err := p.manifest.Fetch(ctx, h)

	status := http.StatusOK
	var serr *manifest.StatusError
	switch {
	case errors.As(err, &serr):
		status = serr.StatusCode
	case err != nil && !errors.Is(err, manifest.ErrInvalid):
		status = 0
	}

	p.metrics.MeasureOrigin(metrics.StageManifest, start, status)
	if err != nil {
		p.metrics.IncOriginErrors(metrics.StageManifest)
		return manifest.Manifest{}, &fetchError{stage: metrics.StageManifest, status: status, err: err}
	}

	return m, nil
}

func (p *Proxy) fetchVariant(ctx context.Context, m manifest.Manifest, index int, h http.Header) (*http.Response, error) {
	fail := func(status int, err error) (*http.Response, error) {
		p.metrics.IncOriginErrors(metrics.StageVariant)
		return nil, &fetchError{stage: metrics.StageVariant, index: index, status: status, err: err}
	}

	u, err := m.URL(index)
	if err != nil {
		return fail(0, err)
	}

	req, err := http.NewRequestWithContext(ctx, "GET", u, nil)
	if err != nil {
		return fail(0, err)
	}

	req.Header = h.Clone()
	req.Header.Set("Accept-Encoding", p.acceptEncoding)

	start := time.Now()
	rsp, err := p.client.Do(req)
	if err != nil {
		p.metrics.MeasureOrigin(metrics.StageVariant, start, 0)
		return fail(0, err)
	}

	p.metrics.MeasureOrigin(metrics.StageVariant, start, rsp.StatusCode)
	if rsp.StatusCode != http.StatusOK {
		rsp.Body.Close()
		return fail(rsp.StatusCode, nil)
	}

	return rsp, nil
}

func decodeResponse(rsp *http.Response, encs []string) error {
	body, err := decodeBody(rsp.Body, encs)
	if err != nil {
		return err
	}

	rsp.Body = body
	rsp.Header.Del("Content-Encoding")
	rsp.Header.Del("Content-Length")
	rsp.Header.Del("Vary")
	rsp.ContentLength = -1
	return nil
}

// rewrite replaces the body of HTML responses with the streaming
// rewriter, decoding it first. Other responses are decoded only when
// the client does not accept their encoding. Bodies in an unsupported
// encoding are left untouched.
func (p *Proxy) rewrite(r *http.Request, rsp *http.Response, index int) error {
	encs := contentEncodings(rsp.Header)
	if !canDecode(encs) {
		return nil
	}

	html := isHTML(rsp.Header)
	if !html && accepts(r.Header.Get("Accept-Encoding"), encs) {
		return nil
	}

	if len(encs) > 0 {
		if err := decodeResponse(rsp, encs); err != nil {
			// the decoder may have consumed from the body already
			rsp.Body.Close()
			rsp.Body = http.NoBody
			return err
		}
	}

	if html {
		rsp.Header.Del("Content-Encoding")
		rsp.Header.Del("Content-Length")
		rsp.ContentLength = -1
		rsp.Body = rewrite.NewPage(rewrite.ThemeOf(index)).Transform(rsp.Body)
	}

	return nil
}

func (p *Proxy) fail(r *http.Request, l *log.Entry, err error) *http.Response {
	text := manifestFailureText
	var ferr *fetchError
	if errors.As(err, &ferr) {
		text = ferr.responseText()
		l = l.WithField("stage", ferr.stage)
	}

	l.Errorf("%v", err)
	return errorResponse(r, text)
}

// Handle serves a request: it fetches the variant manifest, selects the
// variant based on the request cookie, fetches the selected variant,
// marks a new selection with a cookie, and rewrites the page. Failures
// are returned as responses with status 500.
func (p *Proxy) Handle(r *http.Request) *http.Response {
	ctx := r.Context()
	id := flowID(r)
	l := log.WithField("flow-id", id)
	h := outgoingHeader(id)

	m, err := p.fetchManifest(ctx, h)
	if err != nil {
		return p.fail(r, l, err)
	}

	index, ok := cookie.FromRequest(r)
	selection := p.selector.Select(index, ok)
	p.metrics.IncVariantAssignment(selection.Index, selection.New)
	logging.SetSelection(r, selection)
	l = l.WithField("variant", selection.Index)

	rsp, err := p.fetchVariant(ctx, m, selection.Index, h)
	if err != nil {
		return p.fail(r, l, err)
	}

	if selection.New {
		rsp.Header.Set(cookie.SetCookieHeader, cookie.Encode(selection.Index))
	}

	if err := p.rewrite(r, rsp, selection.Index); err != nil {
		return p.fail(r, l, &fetchError{stage: metrics.StageVariant, index: selection.Index, err: err})
	}

	return rsp
}

func (p *Proxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	rsp := p.Handle(r)
	defer rsp.Body.Close()

	copyHeaderExcluding(w.Header(), rsp.Header, hopHeaders)
	w.WriteHeader(rsp.StatusCode)

	if err := copyStream(w, rsp.Body); err != nil {
		p.metrics.IncStreamingErrors()
		log.WithField("flow-id", r.Header.Get(logging.FlowIDHeader)).Errorf("error while copying the response stream: %v", err)
	}

	p.metrics.MeasureResponse(rsp.StatusCode, r.Method, start)
}
