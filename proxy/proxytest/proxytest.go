package proxytest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"time"

	"github.com/zalando/variantedge/metrics"
	snet "github.com/zalando/variantedge/net"
	"github.com/zalando/variantedge/proxy"
	"github.com/zalando/variantedge/proxy/backendtest"
	"github.com/zalando/variantedge/traffic"
)

// TestProxy is a proxy served by a test server, together with the test
// origins of its manifest and its variants.
type TestProxy struct {
	URL      string
	Manifest *backendtest.BackendRecorder
	Variants []*backendtest.BackendRecorder

	client *snet.Client
	proxy  *proxy.Proxy
	server *httptest.Server
}

// Config of a test proxy.
type Config struct {

	// Variants are the handlers of the variant origins.
	Variants []http.Handler

	// Manifest overrides the manifest endpoint. When nil, the manifest
	// lists the URLs of the variant origins.
	Manifest http.Handler

	Selector *traffic.Selector
	Metrics  metrics.Metrics
}

// ManifestHandler serves a manifest listing the urls.
func ManifestHandler(urls ...string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(struct {
			Variants []string `json:"variants"`
		}{urls})
	})
}

func (c Config) Create() *TestProxy {
	var (
		variants []*backendtest.BackendRecorder
		urls     []string
	)

	for _, h := range c.Variants {
		v := backendtest.NewBackendRecorder(h)
		variants = append(variants, v)
		urls = append(urls, v.GetURL())
	}

	mh := c.Manifest
	if mh == nil {
		mh = ManifestHandler(urls...)
	}

	m := backendtest.NewBackendRecorder(mh)

	client := snet.NewClient(snet.Options{
		Timeout:              3 * time.Second,
		CloseIdleConnsPeriod: -time.Second,
	})

	p := proxy.New(proxy.Options{
		ManifestURL: m.GetURL(),
		Client:      client,
		Selector:    c.Selector,
		Metrics:     c.Metrics,
	})

	server := httptest.NewServer(p)
	return &TestProxy{
		URL:      server.URL,
		Manifest: m,
		Variants: variants,
		client:   client,
		proxy:    p,
		server:   server,
	}
}

// New creates a test proxy with variant origins served by the handlers.
func New(variants ...http.Handler) *TestProxy {
	return Config{Variants: variants}.Create()
}

func (p *TestProxy) Proxy() *proxy.Proxy {
	return p.proxy
}

func (p *TestProxy) Close() error {
	p.server.Close()
	p.client.Close()
	p.Manifest.Close()
	for _, v := range p.Variants {
		v.Close()
	}

	return nil
}
