package digest

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeLog(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "email_log.txt")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func numberedLines(n int) string {
	var b strings.Builder
	for i := 1; i <= n; i++ {
		fmt.Fprintf(&b, "2025-01-01 09:00:00.000 - INFO - line %d\n", i)
	}
	return b.String()
}

func TestTail(t *testing.T) {
	tests := []struct {
		name      string
		content   string
		n         int
		wantLen   int
		wantFirst string
		wantLast  string
	}{
		{
			name:      "eighty lines keep the last fifty",
			content:   numberedLines(80),
			n:         50,
			wantLen:   50,
			wantFirst: "2025-01-01 09:00:00.000 - INFO - line 31",
			wantLast:  "2025-01-01 09:00:00.000 - INFO - line 80",
		},
		{
			name:      "fewer lines than requested returns all",
			content:   numberedLines(7),
			n:         50,
			wantLen:   7,
			wantFirst: "2025-01-01 09:00:00.000 - INFO - line 1",
			wantLast:  "2025-01-01 09:00:00.000 - INFO - line 7",
		},
		{
			name:      "exactly n lines",
			content:   numberedLines(50),
			n:         50,
			wantLen:   50,
			wantFirst: "2025-01-01 09:00:00.000 - INFO - line 1",
			wantLast:  "2025-01-01 09:00:00.000 - INFO - line 50",
		},
		{
			name:      "no trailing newline",
			content:   "a\nb\nc",
			n:         2,
			wantLen:   2,
			wantFirst: "b",
			wantLast:  "c",
		},
		{
			name:    "empty log",
			content: "",
			n:       50,
			wantLen: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Tail(writeLog(t, tt.content), tt.n)
			require.NoError(t, err)
			require.Len(t, got, tt.wantLen)
			if tt.wantLen == 0 {
				return
			}
			assert.Equal(t, tt.wantFirst, got[0])
			assert.Equal(t, tt.wantLast, got[len(got)-1])
		})
	}
}

func TestTailPreservesOrder(t *testing.T) {
	got, err := Tail(writeLog(t, numberedLines(80)), 50)
	require.NoError(t, err)

	for i, line := range got {
		assert.True(t, strings.HasSuffix(line, fmt.Sprintf("line %d", 31+i)), "line %d out of order: %q", i, line)
	}
}

func TestTailMissingFile(t *testing.T) {
	_, err := Tail(filepath.Join(t.TempDir(), "nope.txt"), 10)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestCompose(t *testing.T) {
	now := time.Date(2025, 3, 4, 17, 30, 12, 0, time.UTC)
	lines := []string{
		"2025-03-04 17:00:00.000 - INFO - Message sent",
		"2025-03-04 17:02:00.000 - ERROR - Failed to send message <b>bold</b>",
	}

	msg, err := Compose("Dispatch log digest", lines, now)
	require.NoError(t, err)

	assert.Equal(t, "Dispatch log digest - 2025-03-04 17:30", msg.Subject)
	assert.Contains(t, msg.PlainBody, "Last 2 log lines as of 2025-03-04 17:30:12")
	assert.Contains(t, msg.PlainBody, lines[0]+"\n"+lines[1]+"\n")

	assert.Contains(t, msg.HTMLBody, "Last 2 lines of the dispatch log as of 2025-03-04 17:30:12")
	assert.Contains(t, msg.HTMLBody, "1 error</strong>")
	assert.Contains(t, msg.HTMLBody, "&lt;b&gt;bold&lt;/b&gt;")
	assert.NotContains(t, msg.HTMLBody, "<b>bold</b>")
}

func TestComposeEmptyLog(t *testing.T) {
	msg, err := Compose("Digest", nil, time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)

	assert.Contains(t, msg.HTMLBody, "The log is empty.")
	assert.Contains(t, msg.HTMLBody, "Last 0 lines")
	assert.NotContains(t, msg.HTMLBody, "error</strong>")
}
