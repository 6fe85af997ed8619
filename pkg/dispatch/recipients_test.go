package dispatch

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeList(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "email_list.txt")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadRecipients(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    []string
	}{
		{
			name:    "blank and whitespace-only lines are dropped",
			content: "a@x.com\n\nb@x.com\n  \nc@x.com",
			want:    []string{"a@x.com", "b@x.com", "c@x.com"},
		},
		{
			name:    "surrounding whitespace and CRLF are trimmed",
			content: "  a@x.com \r\n\tb@x.com\r\n",
			want:    []string{"a@x.com", "b@x.com"},
		},
		{
			name:    "leading byte order mark is stripped",
			content: "\ufeffa@x.com\nb@x.com\n",
			want:    []string{"a@x.com", "b@x.com"},
		},
		{
			name:    "order and duplicates are preserved",
			content: "c@x.com\na@x.com\nc@x.com\n",
			want:    []string{"c@x.com", "a@x.com", "c@x.com"},
		},
		{
			name:    "empty file",
			content: "",
			want:    nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := LoadRecipients(writeList(t, tt.content))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestLoadRecipientsMissingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing.txt")

	_, err := LoadRecipients(path)

	var le *ListLoadError
	require.ErrorAs(t, err, &le)
	assert.Equal(t, path, le.Path)
	assert.ErrorIs(t, err, os.ErrNotExist)
	assert.Contains(t, err.Error(), "missing.txt")
}
