package logging

import (
	"net/http"
)

type loggingWriter struct {
	writer http.ResponseWriter
	code   int
	bytes  int64
}

func (lw *loggingWriter) Write(data []byte) (count int, err error) {
	if lw.code == 0 {
		lw.code = http.StatusOK
	}

	count, err = lw.writer.Write(data)
	lw.bytes += int64(count)
	return
}

func (lw *loggingWriter) WriteHeader(code int) {
	if code == 0 {
		code = http.StatusOK
	}

	lw.writer.WriteHeader(code)
	lw.code = code
}

func (lw *loggingWriter) Header() http.Header {
	return lw.writer.Header()
}

func (lw *loggingWriter) Flush() {
	if f, ok := lw.writer.(http.Flusher); ok {
		f.Flush()
	}
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (lw *loggingWriter) Unwrap() http.ResponseWriter {
	return lw.writer
}
