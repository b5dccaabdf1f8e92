package logging

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/zalando/variantedge/traffic"
)

const (
	dateFormat = "02/Jan/2006:15:04:05 -0700"

	// remote_host - - [date] "method uri protocol" status response_size "referer" "user_agent"
	// followed by the duration in ms, the requested host, the flow id,
	// the served variant and how it was assigned
	accessLogFormat = `%s - - [%s] "%s %s %s" %d %d "%s" "%s" %d %s %s %s %s` + "\n"

	// FlowIDHeader carries the id correlating the access log entry
	// with the outgoing requests to the origins.
	FlowIDHeader = "X-Flow-Id"

	assignmentNew    = "new"
	assignmentSticky = "sticky"
)

var accessLogKeys = []string{
	"host", "timestamp", "method", "uri", "proto",
	"status", "response-size", "referer", "user-agent",
	"duration", "requested-host", "flow-id", "variant", "assignment",
}

type accessLogFormatter struct {
	format string
}

// AccessEntry is an access log entry.
type AccessEntry struct {

	// The client request.
	Request *http.Request

	// The status code of the response.
	StatusCode int

	// The size of the response in bytes.
	ResponseSize int64

	// The time spent processing request.
	Duration time.Duration

	// The time that the request was received.
	RequestTime time.Time

	// The served variant. Nil when the request failed before a variant
	// was selected.
	Selection *traffic.Selection
}

type selectionKey struct{}

type selectionSlot struct {
	selection *traffic.Selection
}

var accessLog *logrus.Logger

// withSelectionSlot prepares the request to carry the variant selection
// made while serving it.
func withSelectionSlot(r *http.Request) (*http.Request, *selectionSlot) {
	slot := &selectionSlot{}
	return r.WithContext(context.WithValue(r.Context(), selectionKey{}, slot)), slot
}

// SetSelection records the variant served for the request, to be logged
// in its access log entry. It has no effect when the request is not
// served through the handler returned by NewHandler.
func SetSelection(r *http.Request, s traffic.Selection) {
	if slot, ok := r.Context().Value(selectionKey{}).(*selectionSlot); ok {
		slot.selection = &s
	}
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}

	return s
}

// the remote host of the client, taken from X-Forwarded-For when set,
// without the port
func remoteHost(r *http.Request) string {
	a := r.Header.Get("X-Forwarded-For")
	if a == "" {
		a = r.RemoteAddr
	}

	if h, _, err := net.SplitHostPort(a); err == nil {
		a = h
	}

	return orDash(a)
}

func (f *accessLogFormatter) Format(e *logrus.Entry) ([]byte, error) {
	values := make([]interface{}, len(accessLogKeys))
	for i, key := range accessLogKeys {
		values[i] = e.Data[key]
	}

	return []byte(fmt.Sprintf(f.format, values...)), nil
}

func (e *AccessEntry) fields() logrus.Fields {
	f := logrus.Fields{
		"timestamp":      e.RequestTime.Format(dateFormat),
		"host":           "-",
		"method":         "",
		"uri":            "",
		"proto":          "",
		"referer":        "",
		"user-agent":     "",
		"requested-host": "",
		"flow-id":        "-",
		"status":         e.StatusCode,
		"response-size":  e.ResponseSize,
		"duration":       int64(e.Duration / time.Millisecond),
		"variant":        "-",
		"assignment":     "-",
	}

	if r := e.Request; r != nil {
		f["host"] = remoteHost(r)
		f["method"] = r.Method
		f["uri"] = r.RequestURI
		f["proto"] = r.Proto
		f["referer"] = r.Referer()
		f["user-agent"] = r.UserAgent()
		f["requested-host"] = r.Host
		f["flow-id"] = orDash(r.Header.Get(FlowIDHeader))
	}

	if s := e.Selection; s != nil {
		f["variant"] = strconv.Itoa(s.Index)
		f["assignment"] = assignmentSticky
		if s.New {
			f["assignment"] = assignmentNew
		}
	}

	return f
}

// LogAccess logs an access event in Apache combined log format, extended
// with the duration, the requested host, the flow id and the served
// variant.
func LogAccess(entry *AccessEntry) {
	if accessLog == nil || entry == nil {
		return
	}

	accessLog.WithFields(entry.fields()).Infoln()
}
