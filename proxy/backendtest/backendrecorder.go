package backendtest

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
)

// RecordedRequest holds what an origin received.
type RecordedRequest struct {
	Method string
	URL    *url.URL
	Header http.Header
}

// BackendRecorder is a test origin that records every request before
// passing it to its handler.
type BackendRecorder struct {
	server   *httptest.Server
	handler  http.Handler
	requests []RecordedRequest
	mutex    sync.RWMutex
}

func (rec *BackendRecorder) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	rec.mutex.Lock()
	rec.requests = append(rec.requests, RecordedRequest{
		Method: r.Method,
		URL:    r.URL,
		Header: r.Header.Clone(),
	})
	rec.mutex.Unlock()

	rec.handler.ServeHTTP(w, r)
}

// GetRequests returns a copy of the recorded requests.
func (rec *BackendRecorder) GetRequests() []RecordedRequest {
	rec.mutex.RLock()
	requests := make([]RecordedRequest, len(rec.requests))
	copy(requests, rec.requests)
	rec.mutex.RUnlock()
	return requests
}

// GetServedRequests returns the number of the received requests.
func (rec *BackendRecorder) GetServedRequests() int {
	rec.mutex.RLock()
	served := len(rec.requests)
	rec.mutex.RUnlock()
	return served
}

func (rec *BackendRecorder) GetURL() string {
	return rec.server.URL
}

func (rec *BackendRecorder) Close() {
	rec.server.Close()
}

// NewBackendRecorder starts a test origin serving with h.
func NewBackendRecorder(h http.Handler) *BackendRecorder {
	rec := &BackendRecorder{handler: h}
	rec.server = httptest.NewServer(rec)
	return rec
}

// Static returns a handler responding with the given status, content type
// and body.
func Static(status int, contentType, body string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if contentType != "" {
			w.Header().Set("Content-Type", contentType)
		}

		w.WriteHeader(status)
		w.Write([]byte(body))
	})
}
