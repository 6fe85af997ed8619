package system

import (
	"bytes"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var linePattern = regexp.MustCompile(`^\d{4}-\d{2}-\d{2} \d{2}:\d{2}:\d{2}\.\d{3} - (DEBUG|INFO|WARN|ERROR) - `)

func TestNewLoggerWritesFileAndConsole(t *testing.T) {
	path := filepath.Join(t.TempDir(), "email_log.txt")
	var console bytes.Buffer

	log, closeFn, err := NewLogger(LogOptions{FilePath: path, Console: &console})
	require.NoError(t, err)

	log.Infow("Message sent", "recipient", "a@example.com")
	log.Errorw("Failed to send message", "recipient", "b@example.com")
	log.Debug("hidden at info level")
	require.NoError(t, closeFn())

	content, err := os.ReadFile(path)
	require.NoError(t, err)

	fileLines := strings.Split(strings.TrimRight(string(content), "\n"), "\n")
	require.Len(t, fileLines, 2)
	for _, line := range fileLines {
		assert.Regexp(t, linePattern, line)
	}
	assert.Contains(t, fileLines[0], " - INFO - Message sent")
	assert.Contains(t, fileLines[0], `"recipient": "a@example.com"`)
	assert.Contains(t, fileLines[1], " - ERROR - Failed to send message")

	assert.Equal(t, string(content), console.String(), "console should mirror the file sink")
}

func TestNewLoggerAppendsToExistingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "email_log.txt")
	require.NoError(t, os.WriteFile(path, []byte("previous run\n"), 0o644))

	log, closeFn, err := NewLogger(LogOptions{FilePath: path, Console: &bytes.Buffer{}})
	require.NoError(t, err)
	log.Info("next run")
	require.NoError(t, closeFn())

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(content), "previous run\n"))
	assert.Contains(t, string(content), " - INFO - next run")
}

func TestNewLoggerDebugLevel(t *testing.T) {
	var console bytes.Buffer
	log, closeFn, err := NewLogger(LogOptions{Console: &console, Debug: true})
	require.NoError(t, err)
	log.Debug("visible")
	require.NoError(t, closeFn())
	assert.Contains(t, console.String(), " - DEBUG - visible")
}

func TestNewLoggerFailsOnUnwritablePath(t *testing.T) {
	_, _, err := NewLogger(LogOptions{FilePath: filepath.Join(t.TempDir(), "missing", "log.txt")})
	require.Error(t, err)
}

func TestNewTestLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := NewTestLogger(&buf)
	require.NotNil(t, logger)

	logger.Debugw("test message with fields", "key", "value")
	assert.Regexp(t, linePattern, buf.String())
	assert.Contains(t, buf.String(), `"key": "value"`)
}
