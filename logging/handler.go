package logging

import (
	"net/http"
	"time"
)

type accessLogHandler struct {
	next http.Handler
}

// NewHandler wraps a handler and logs an access log entry for every
// request it serves. The wrapped handler can record the served variant
// with SetSelection.
func NewHandler(next http.Handler) http.Handler {
	return &accessLogHandler{next: next}
}

func (h *accessLogHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	now := time.Now()

	r, slot := withSelectionSlot(r)
	lw := &loggingWriter{writer: w}
	h.next.ServeHTTP(lw, r)

	if lw.code == 0 {
		lw.code = http.StatusOK
	}

	LogAccess(&AccessEntry{
		Request:      r,
		StatusCode:   lw.code,
		ResponseSize: lw.bytes,
		RequestTime:  now,
		Duration:     time.Since(now),
		Selection:    slot.selection,
	})
}
