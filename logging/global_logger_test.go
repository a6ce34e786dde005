package logging

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLogLevel(t *testing.T) {
	assert.Equal(t, logrus.DebugLevel, parseLogLevel("error", true))
	assert.Equal(t, logrus.DebugLevel, parseLogLevel("DEBUG", false))
	assert.Equal(t, logrus.InfoLevel, parseLogLevel("", false))
	assert.Equal(t, logrus.WarnLevel, parseLogLevel("warning", false))
	assert.Equal(t, logrus.ErrorLevel, parseLogLevel("error", false))
	assert.Equal(t, logrus.InfoLevel, parseLogLevel("loud", false))
}

func TestLoggerLevelsAndFields(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(Options{Level: "warn", Output: &buf})

	l.Infof("hidden %d", 1)
	l.WithFields(map[string]interface{}{"question": "pickup-wait"}).Warnf("remote failed")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "remote failed")
	assert.Contains(t, out, "question=pickup-wait")
}

func TestLoggerJSON(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(Options{JSON: true, Output: &buf})
	l.Errorf("boom")
	assert.Contains(t, buf.String(), `"msg":"boom"`)
	assert.Contains(t, buf.String(), `"level":"error"`)
}

func TestNilLoggerIsSafe(t *testing.T) {
	var l *Logger
	assert.NotPanics(t, func() {
		l.Debugf("x")
		l.Infof("x")
		l.Warnf("x")
		l.Errorf("x")
		assert.Nil(t, l.WithFields(map[string]interface{}{"a": 1}))
		assert.NoError(t, l.Close())
	})
}

func TestGlobalLogger(t *testing.T) {
	var buf bytes.Buffer
	InitLogger(Options{Level: "debug", Output: &buf})
	t.Cleanup(func() { InitLogger(Options{Output: &bytes.Buffer{}}) })

	LogDebugf("debug %s", "line")
	LogInfof("info line")
	LogWarnf("warn line")
	LogErrorf("error line")
	WithFields(map[string]interface{}{"run_id": "abc"}).Infof("with fields")

	out := buf.String()
	for _, want := range []string{"debug line", "info line", "warn line", "error line", "run_id=abc"} {
		assert.Contains(t, out, want)
	}
	assert.NotNil(t, GetLogger())
}

func TestFileLoggerRotatesThroughLumberjack(t *testing.T) {
	path := filepath.Join(t.TempDir(), "peakcat.log")
	l := NewLogger(Options{File: path, MaxSizeMB: 1})
	l.Infof("to file")
	require.NoError(t, l.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "to file")
}
