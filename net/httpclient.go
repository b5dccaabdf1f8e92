package net

import (
	"net"
	"net/http"
	"sync"
	"time"
)

const (
	DefaultTimeout              = 60 * time.Second
	DefaultKeepAlive            = 30 * time.Second
	DefaultMaxIdleConnsPerHost  = 64
	DefaultCloseIdleConnsPeriod = 20 * time.Second
)

// Options are mostly passed to the http.Transport of the same
// name. Options.Timeout can be used as default for all timeouts, that
// are not set.
type Options struct {
	// Timeout sets all Timeouts, that are set to 0 to the given
	// value. Basically it's the default timeout value.
	Timeout time.Duration
	// KeepAlive see https://golang.org/pkg/net/#Dialer.KeepAlive
	KeepAlive time.Duration
	// DisableKeepAlives see https://golang.org/pkg/net/http/#Transport.DisableKeepAlives
	DisableKeepAlives bool
	// MaxIdleConns see https://golang.org/pkg/net/http/#Transport.MaxIdleConns
	MaxIdleConns int
	// MaxIdleConnsPerHost see https://golang.org/pkg/net/http/#Transport.MaxIdleConnsPerHost
	MaxIdleConnsPerHost int
	// TLSHandshakeTimeout see
	// https://golang.org/pkg/net/http/#Transport.TLSHandshakeTimeout,
	// if not set or set to 0, its using Options.Timeout.
	TLSHandshakeTimeout time.Duration
	// IdleConnTimeout see
	// https://golang.org/pkg/net/http/#Transport.IdleConnTimeout,
	// if not set or set to 0, its using Options.Timeout.
	IdleConnTimeout time.Duration
	// ResponseHeaderTimeout see
	// https://golang.org/pkg/net/http/#Transport.ResponseHeaderTimeout,
	// if not set or set to 0, its using Options.Timeout.
	ResponseHeaderTimeout time.Duration
	// CloseIdleConnsPeriod sets the period of closing all idle
	// connections. Not closing them when less than 0.
	CloseIdleConnsPeriod time.Duration
	// Transport, when set, is used instead of creating a new one
	// from the options. Used mainly for testing.
	Transport http.RoundTripper
}

// Client executes the outgoing requests towards the variant manifest and
// the variant origins.
type Client struct {
	client *http.Client
	tr     *http.Transport
	quit   chan struct{}
	once   sync.Once
}

func newTransport(o Options) *http.Transport {
	if o.Timeout == 0 {
		o.Timeout = DefaultTimeout
	}

	if o.KeepAlive == 0 {
		o.KeepAlive = DefaultKeepAlive
	}

	if o.MaxIdleConnsPerHost == 0 {
		o.MaxIdleConnsPerHost = DefaultMaxIdleConnsPerHost
	}

	// set timeout defaults
	if o.TLSHandshakeTimeout == 0 {
		o.TLSHandshakeTimeout = o.Timeout
	}
	if o.IdleConnTimeout == 0 {
		o.IdleConnTimeout = o.Timeout
	}
	if o.ResponseHeaderTimeout == 0 {
		o.ResponseHeaderTimeout = o.Timeout
	}

	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   o.Timeout,
			KeepAlive: o.KeepAlive,
		}).DialContext,
		DisableKeepAlives:     o.DisableKeepAlives,
		MaxIdleConns:          o.MaxIdleConns,
		MaxIdleConnsPerHost:   o.MaxIdleConnsPerHost,
		TLSHandshakeTimeout:   o.TLSHandshakeTimeout,
		IdleConnTimeout:       o.IdleConnTimeout,
		ResponseHeaderTimeout: o.ResponseHeaderTimeout,
		ForceAttemptHTTP2:     true,
	}
}

// NewClient creates a client. Close needs to be called to stop closing
// the idle connections periodically.
func NewClient(o Options) *Client {
	c := &Client{quit: make(chan struct{})}

	rt := o.Transport
	if rt == nil {
		c.tr = newTransport(o)
		rt = c.tr
	}

	// redirects are followed with the default policy of at most 10 hops
	c.client = &http.Client{Transport: rt}

	if c.tr != nil && o.CloseIdleConnsPeriod >= 0 {
		period := o.CloseIdleConnsPeriod
		if period == 0 {
			period = DefaultCloseIdleConnsPeriod
		}

		go c.closeIdleConns(period)
	}

	return c
}

func (c *Client) closeIdleConns(period time.Duration) {
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.tr.CloseIdleConnections()
		case <-c.quit:
			return
		}
	}
}

// Do executes a request.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	return c.client.Do(req)
}

// Close stops the idle connection closer and closes the currently idle
// connections. It is safe to call it multiple times.
func (c *Client) Close() {
	c.once.Do(func() {
		close(c.quit)
		if c.tr != nil {
			c.tr.CloseIdleConnections()
		}
	})
}
