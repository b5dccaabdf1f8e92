package proxy_test

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/andybalholm/brotli"
	"github.com/google/uuid"
	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zalando/variantedge/logging"
	"github.com/zalando/variantedge/metrics/metricstest"
	"github.com/zalando/variantedge/proxy"
	"github.com/zalando/variantedge/proxy/backendtest"
	"github.com/zalando/variantedge/proxy/proxytest"
	"github.com/zalando/variantedge/traffic"
)

const variantPage = `<!DOCTYPE html><html><head><title>Variant %d</title></head>` +
	`<body><div class="bg-gray-50"><h1 id="title">Variant %d</h1>` +
	`<p id="description">This is variant %d of the take home project!</p>` +
	`<a id="url" href="https://cloudflare.com">Return to cloudflare.com</a></div></body></html>`

func page(i int) string {
	return strings.ReplaceAll(variantPage, "%d", string(rune('0'+i)))
}

func htmlOrigin(i int) http.Handler {
	return backendtest.Static(http.StatusOK, "text/html; charset=utf-8", page(i))
}

func fixedDraw(v float64) *traffic.Selector {
	return traffic.NewWithRand(func() float64 { return v })
}

func get(t *testing.T, url string, header http.Header) (*http.Response, string) {
	t.Helper()

	req, err := http.NewRequest("GET", url, nil)
	require.NoError(t, err)
	for k, v := range header {
		req.Header[k] = v
	}

	rsp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer rsp.Body.Close()

	b, err := io.ReadAll(rsp.Body)
	require.NoError(t, err)
	return rsp, string(b)
}

func TestStickyVariant(t *testing.T) {
	tp := proxytest.New(htmlOrigin(0), htmlOrigin(1))
	defer tp.Close()

	rsp, body := get(t, tp.URL, http.Header{"Cookie": []string{"variant=1"}})

	assert.Equal(t, http.StatusOK, rsp.StatusCode)
	assert.Empty(t, rsp.Header.Get("Set-Cookie"))
	assert.Equal(t, 0, tp.Variants[0].GetServedRequests())
	assert.Equal(t, 1, tp.Variants[1].GetServedRequests())

	assert.Contains(t, body, "<title>Favourite Colour Picker</title>")
	assert.Contains(t, body, ">Green Variant</h1>")
	assert.Contains(t, body, "Your new favourite colour is Green!")
	assert.Contains(t, body, `href="https://github.com/sseanik"`)
	assert.Contains(t, body, ">To my GitHub</a>")
	assert.Contains(t, body, "bg-green-100")
	assert.NotContains(t, body, "Variant 1<")
}

func TestStickyVariantWithOtherCookies(t *testing.T) {
	tp := proxytest.New(htmlOrigin(0), htmlOrigin(1))
	defer tp.Close()

	rsp, body := get(t, tp.URL, http.Header{"Cookie": []string{"session=42; variant=0"}})

	assert.Equal(t, http.StatusOK, rsp.StatusCode)
	assert.Empty(t, rsp.Header.Get("Set-Cookie"))
	assert.Equal(t, 1, tp.Variants[0].GetServedRequests())
	assert.Equal(t, 0, tp.Variants[1].GetServedRequests())
	assert.Contains(t, body, ">Indigo Variant</h1>")
}

func TestNewVariant(t *testing.T) {
	for _, tt := range []struct {
		draw      float64
		variant   int
		theme     string
		setCookie string
	}{
		{draw: 0.1, variant: 0, theme: "Indigo", setCookie: "variant=0; Expires="},
		{draw: 0.6, variant: 1, theme: "Green", setCookie: "variant=1; Expires="},
	} {
		t.Run(tt.theme, func(t *testing.T) {
			tp := proxytest.Config{
				Variants: []http.Handler{htmlOrigin(0), htmlOrigin(1)},
				Selector: fixedDraw(tt.draw),
			}.Create()
			defer tp.Close()

			rsp, body := get(t, tp.URL, nil)

			assert.Equal(t, http.StatusOK, rsp.StatusCode)
			assert.Equal(t, 1, tp.Variants[tt.variant].GetServedRequests())
			assert.Equal(t, 0, tp.Variants[1-tt.variant].GetServedRequests())

			sc := rsp.Header.Get("Set-Cookie")
			assert.True(t, strings.HasPrefix(sc, tt.setCookie), sc)
			assert.True(t, strings.HasSuffix(sc, " GMT;"), sc)

			expires, err := http.ParseTime(strings.TrimSuffix(strings.TrimPrefix(sc, tt.setCookie), ";"))
			require.NoError(t, err)
			assert.WithinDuration(t, time.Now().Add(time.Hour), expires, time.Minute)

			assert.Contains(t, body, ">"+tt.theme+" Variant</h1>")
		})
	}
}

func TestInvalidCookieGetsNewVariant(t *testing.T) {
	tp := proxytest.Config{
		Variants: []http.Handler{htmlOrigin(0), htmlOrigin(1)},
		Selector: fixedDraw(0.9),
	}.Create()
	defer tp.Close()

	rsp, _ := get(t, tp.URL, http.Header{"Cookie": []string{"variant=7"}})

	assert.Equal(t, http.StatusOK, rsp.StatusCode)
	assert.True(t, strings.HasPrefix(rsp.Header.Get("Set-Cookie"), "variant=1; "))
	assert.Equal(t, 1, tp.Variants[1].GetServedRequests())
}

func TestManifestFailure(t *testing.T) {
	for _, tt := range []struct {
		title    string
		manifest http.Handler
	}{{
		title:    "unavailable",
		manifest: backendtest.Static(http.StatusServiceUnavailable, "text/plain", "try later"),
	}, {
		title:    "not found",
		manifest: backendtest.Static(http.StatusNotFound, "", ""),
	}, {
		title:    "invalid json",
		manifest: backendtest.Static(http.StatusOK, "application/json", `{"variants": [`),
	}, {
		title:    "single variant",
		manifest: backendtest.Static(http.StatusOK, "application/json", `{"variants": ["http://127.0.0.1:1"]}`),
	}, {
		title:    "no variants",
		manifest: backendtest.Static(http.StatusOK, "application/json", `{}`),
	}} {
		t.Run(tt.title, func(t *testing.T) {
			tp := proxytest.Config{
				Variants: []http.Handler{htmlOrigin(0), htmlOrigin(1)},
				Manifest: tt.manifest,
			}.Create()
			defer tp.Close()

			rsp, body := get(t, tp.URL, nil)

			assert.Equal(t, http.StatusInternalServerError, rsp.StatusCode)
			assert.Equal(t, "Failed to obtain Variant URLs", body)
			assert.Empty(t, rsp.Header.Get("Set-Cookie"))
			assert.Equal(t, 0, tp.Variants[0].GetServedRequests())
			assert.Equal(t, 0, tp.Variants[1].GetServedRequests())
		})
	}
}

func TestManifestUnreachable(t *testing.T) {
	closed := httptest.NewServer(http.NotFoundHandler())
	closed.Close()

	p := proxy.New(proxy.Options{ManifestURL: closed.URL})
	rsp := p.Handle(httptest.NewRequest("GET", "/", nil))
	defer rsp.Body.Close()

	b, err := io.ReadAll(rsp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusInternalServerError, rsp.StatusCode)
	assert.Equal(t, "Failed to obtain Variant URLs", string(b))
	assert.Equal(t, "text/plain; charset=utf-8", rsp.Header.Get("Content-Type"))
}

func TestVariantFailure(t *testing.T) {
	tp := proxytest.New(htmlOrigin(0), backendtest.Static(http.StatusNotFound, "text/html", "<h1>not found</h1>"))
	defer tp.Close()

	rsp, body := get(t, tp.URL, http.Header{"Cookie": []string{"variant=1"}})

	assert.Equal(t, http.StatusInternalServerError, rsp.StatusCode)
	assert.Equal(t, "Failed to obtain Variant 1", body)
	assert.Equal(t, 0, tp.Variants[0].GetServedRequests())
	assert.Equal(t, 1, tp.Variants[1].GetServedRequests())
}

func TestVariantUnreachable(t *testing.T) {
	closed := httptest.NewServer(http.NotFoundHandler())
	closed.Close()

	tp := proxytest.Config{
		Manifest: proxytest.ManifestHandler(closed.URL, closed.URL),
		Selector: fixedDraw(0),
	}.Create()
	defer tp.Close()

	rsp, body := get(t, tp.URL, nil)

	assert.Equal(t, http.StatusInternalServerError, rsp.StatusCode)
	assert.Equal(t, "Failed to obtain Variant 0", body)
	assert.Empty(t, rsp.Header.Get("Set-Cookie"))
}

func encodedOrigin(t *testing.T, encoding string, content string) http.Handler {
	var buf bytes.Buffer
	var w io.WriteCloser
	switch encoding {
	case "gzip":
		w = gzip.NewWriter(&buf)
	case "deflate":
		var err error
		w, err = flate.NewWriter(&buf, flate.DefaultCompression)
		require.NoError(t, err)
	case "br":
		w = brotli.NewWriter(&buf)
	default:
		t.Fatalf("unsupported encoding: %s", encoding)
	}

	_, err := w.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	encoded := buf.Bytes()
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Header().Set("Content-Encoding", encoding)
		w.Header().Set("Vary", "Accept-Encoding")
		w.Write(encoded)
	})
}

func TestEncodedVariant(t *testing.T) {
	for _, encoding := range []string{"gzip", "deflate", "br"} {
		t.Run(encoding, func(t *testing.T) {
			tp := proxytest.New(encodedOrigin(t, encoding, page(0)), encodedOrigin(t, encoding, page(1)))
			defer tp.Close()

			rsp, body := get(t, tp.URL, http.Header{"Cookie": []string{"variant=0"}})

			assert.Equal(t, http.StatusOK, rsp.StatusCode)
			assert.Empty(t, rsp.Header.Get("Content-Encoding"))
			assert.Empty(t, rsp.Header.Get("Vary"))
			assert.Contains(t, body, "<title>Favourite Colour Picker</title>")
			assert.Contains(t, body, ">Indigo Variant</h1>")
		})
	}
}

func TestBrokenEncodingFails(t *testing.T) {
	broken := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Header().Set("Content-Encoding", "gzip")
		w.Write([]byte("<html>not gzip</html>"))
	})

	tp := proxytest.New(broken, broken)
	defer tp.Close()

	rsp, body := get(t, tp.URL, http.Header{"Cookie": []string{"variant=1"}})

	assert.Equal(t, http.StatusInternalServerError, rsp.StatusCode)
	assert.Equal(t, "Failed to obtain Variant 1", body)
}

func TestUnsupportedEncodingPassesThrough(t *testing.T) {
	origin := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Header().Set("Content-Encoding", "zstd")
		w.Write([]byte("opaque"))
	})

	tp := proxytest.New(origin, origin)
	defer tp.Close()

	req, err := http.NewRequest("GET", tp.URL, nil)
	require.NoError(t, err)
	req.Header.Set("Cookie", "variant=0")
	req.Header.Set("Accept-Encoding", "zstd")

	rsp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer rsp.Body.Close()

	b, err := io.ReadAll(rsp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, rsp.StatusCode)
	assert.Equal(t, "zstd", rsp.Header.Get("Content-Encoding"))
	assert.Equal(t, "opaque", string(b))
}

func TestNonHTMLPassesThrough(t *testing.T) {
	const doc = `{"title": "Variant 0"}`
	tp := proxytest.Config{
		Variants: []http.Handler{
			backendtest.Static(http.StatusOK, "application/json", doc),
			backendtest.Static(http.StatusOK, "application/json", doc),
		},
		Selector: fixedDraw(0),
	}.Create()
	defer tp.Close()

	rsp, body := get(t, tp.URL, nil)

	assert.Equal(t, http.StatusOK, rsp.StatusCode)
	assert.Equal(t, "application/json", rsp.Header.Get("Content-Type"))
	assert.True(t, strings.HasPrefix(rsp.Header.Get("Set-Cookie"), "variant=0; "))
	assert.Equal(t, doc, body)
}

func TestNonHTMLDecodedForClient(t *testing.T) {
	const doc = `{"title": "Variant 0"}`
	var buf bytes.Buffer
	gw := gzip.NewWriter(&buf)
	_, err := gw.Write([]byte(doc))
	require.NoError(t, err)
	require.NoError(t, gw.Close())
	encoded := buf.Bytes()

	origin := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Content-Encoding", "gzip")
		w.Write(encoded)
	})

	tp := proxytest.New(origin, origin)
	defer tp.Close()

	for _, tt := range []struct {
		accept   string
		encoding string
		body     string
	}{
		{"identity", "", doc},
		{"br", "", doc},
		{"gzip", "gzip", string(encoded)},
	} {
		t.Run(tt.accept, func(t *testing.T) {
			// setting Accept-Encoding disables the transparent decoding of the client
			rsp, body := get(t, tp.URL, http.Header{
				"Cookie":          []string{"variant=0"},
				"Accept-Encoding": []string{tt.accept},
			})

			assert.Equal(t, http.StatusOK, rsp.StatusCode)
			assert.Equal(t, tt.encoding, rsp.Header.Get("Content-Encoding"))
			assert.Equal(t, tt.body, body)
		})
	}
}

func TestMissingContentTypeIsRewritten(t *testing.T) {
	origin := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header()["Content-Type"] = nil
		w.Write([]byte("<title>Variant 0</title>"))
	})

	tp := proxytest.New(origin, origin)
	defer tp.Close()

	_, body := get(t, tp.URL, http.Header{"Cookie": []string{"variant=0"}})
	assert.Equal(t, "<title>Favourite Colour Picker</title>", body)
}

func TestAccessLogSelection(t *testing.T) {
	var accessLog bytes.Buffer
	require.NoError(t, logging.Init(logging.Options{AccessLogOutput: &accessLog}))
	defer logging.Init(logging.Options{AccessLogDisabled: true})

	tp := proxytest.Config{
		Variants: []http.Handler{htmlOrigin(0), htmlOrigin(1)},
		Selector: fixedDraw(0.6),
	}.Create()
	defer tp.Close()

	h := logging.NewHandler(tp.Proxy())

	r := httptest.NewRequest("GET", "/", nil)
	r.Header.Set("X-Flow-Id", "flow-1")
	h.ServeHTTP(httptest.NewRecorder(), r)
	assert.True(t, strings.HasSuffix(strings.TrimSpace(accessLog.String()), "flow-1 1 new"), accessLog.String())

	accessLog.Reset()
	r = httptest.NewRequest("GET", "/", nil)
	r.Header.Set("X-Flow-Id", "flow-2")
	r.Header.Set("Cookie", "variant=0")
	h.ServeHTTP(httptest.NewRecorder(), r)
	assert.True(t, strings.HasSuffix(strings.TrimSpace(accessLog.String()), "flow-2 0 sticky"), accessLog.String())
}

func TestOutgoingRequests(t *testing.T) {
	t.Run("incoming flow id", func(t *testing.T) {
		tp := proxytest.New(htmlOrigin(0), htmlOrigin(1))
		defer tp.Close()

		get(t, tp.URL, http.Header{
			"Cookie":    []string{"variant=0"},
			"X-Flow-Id": []string{"flow-4711"},
		})

		require.Equal(t, 1, tp.Manifest.GetServedRequests())
		require.Equal(t, 1, tp.Variants[0].GetServedRequests())

		mr := tp.Manifest.GetRequests()[0]
		vr := tp.Variants[0].GetRequests()[0]
		assert.Equal(t, "GET", mr.Method)
		assert.Equal(t, "GET", vr.Method)
		assert.Equal(t, "flow-4711", mr.Header.Get("X-Flow-Id"))
		assert.Equal(t, "flow-4711", vr.Header.Get("X-Flow-Id"))
		assert.Equal(t, proxy.DefaultAcceptEncoding, vr.Header.Get("Accept-Encoding"))
		assert.Empty(t, vr.Header.Get("Cookie"))
	})

	t.Run("generated flow id", func(t *testing.T) {
		tp := proxytest.New(htmlOrigin(0), htmlOrigin(1))
		defer tp.Close()

		get(t, tp.URL, http.Header{"Cookie": []string{"variant=1"}})

		require.Equal(t, 1, tp.Manifest.GetServedRequests())
		require.Equal(t, 1, tp.Variants[1].GetServedRequests())

		id := tp.Manifest.GetRequests()[0].Header.Get("X-Flow-Id")
		_, err := uuid.Parse(id)
		assert.NoError(t, err)
		assert.Equal(t, id, tp.Variants[1].GetRequests()[0].Header.Get("X-Flow-Id"))
	})
}

func TestMetrics(t *testing.T) {
	m := &metricstest.MockMetrics{}
	tp := proxytest.Config{
		Variants: []http.Handler{htmlOrigin(0), backendtest.Static(http.StatusNotFound, "", "")},
		Selector: fixedDraw(0),
		Metrics:  m,
	}.Create()
	defer tp.Close()

	get(t, tp.URL, nil)
	get(t, tp.URL, http.Header{"Cookie": []string{"variant=0"}})
	get(t, tp.URL, http.Header{"Cookie": []string{"variant=1"}})

	assert.Equal(t, int64(1), m.Counter("variant.assignments.0.new"))
	assert.Equal(t, int64(1), m.Counter("variant.assignments.0.sticky"))
	assert.Equal(t, int64(1), m.Counter("variant.assignments.1.sticky"))
	assert.Equal(t, int64(1), m.Counter("origin.error.variant"))
	assert.Equal(t, int64(0), m.Counter("origin.error.manifest"))
	assert.Equal(t, 3, m.Measures("origin.manifest.200"))
	assert.Equal(t, 2, m.Measures("origin.variant.200"))
	assert.Equal(t, 1, m.Measures("origin.variant.404"))
	assert.Eventually(t, func() bool {
		return m.Measures("response.200.GET") == 2 && m.Measures("response.500.GET") == 1
	}, time.Second, 10*time.Millisecond)
}

func TestStreamsRewrittenPage(t *testing.T) {
	release := make(chan struct{})
	origin := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte("<html><head><title>Variant 0</title></head>"))
		w.(http.Flusher).Flush()
		<-release
		w.Write([]byte("<body></body></html>"))
	})

	tp := proxytest.New(origin, origin)
	defer tp.Close()
	defer close(release)

	req, err := http.NewRequest("GET", tp.URL, nil)
	require.NoError(t, err)
	req.Header.Set("Cookie", "variant=0")

	rsp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer rsp.Body.Close()

	received := make(chan string, 1)
	go func() {
		var got []byte
		b := make([]byte, 512)
		for {
			n, err := rsp.Body.Read(b)
			got = append(got, b[:n]...)
			if bytes.Contains(got, []byte("</title>")) || err != nil {
				received <- string(got)
				return
			}
		}
	}()

	select {
	case got := <-received:
		assert.Contains(t, got, "<title>Favourite Colour Picker</title>")
	case <-time.After(3 * time.Second):
		t.Fatal("the rewritten head was not streamed before the origin finished")
	}
}
