package logging

import (
	"bytes"
	"net/http"
	"strconv"
	"strings"
	"testing"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCustomOutputForApplicationLog(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Init(Options{ApplicationLogOutput: &buf}))
	msg := "Hello, world!"
	log.Info(msg)
	if !strings.Contains(buf.String(), msg) {
		t.Error("failed to use custom output")
	}
}

func TestCustomPrefixForApplicationLog(t *testing.T) {
	var buf bytes.Buffer
	prefix := "[TEST_PREFIX]"
	require.NoError(t, Init(Options{
		ApplicationLogOutput: &buf,
		ApplicationLogPrefix: prefix}))
	log.Info("Hello, world!")
	got := buf.String()
	if !strings.HasPrefix(got, "[TEST_PREFIX]") || !strings.Contains(got, "Hello, world!") {
		t.Error("failed to use custom prefix")
	}
}

func TestApplicationLogLevel(t *testing.T) {
	defer log.SetLevel(log.InfoLevel)

	var buf bytes.Buffer
	require.NoError(t, Init(Options{
		ApplicationLogOutput: &buf,
		ApplicationLogLevel:  "warn"}))

	log.Info("dropped")
	log.Warn("kept")

	assert.NotContains(t, buf.String(), "dropped")
	assert.Contains(t, buf.String(), "kept")
}

func TestInvalidApplicationLogLevel(t *testing.T) {
	err := Init(Options{ApplicationLogLevel: "loud"})
	assert.Error(t, err)
}

func TestCustomOutputForAccessLog(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Init(Options{AccessLogOutput: &buf}))
	LogAccess(&AccessEntry{StatusCode: http.StatusTeapot})
	if !strings.Contains(buf.String(), strconv.Itoa(http.StatusTeapot)) {
		t.Error("failed to use custom access log output")
	}
}
