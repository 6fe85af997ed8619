package dispatch

import (
	"bufio"
	"fmt"
	"os"
	"strings"
)

// ListLoadError reports that the recipient list could not be read.
type ListLoadError struct {
	Path string
	Err  error
}

func (e *ListLoadError) Error() string {
	return fmt.Sprintf("loading recipient list %s: %v", e.Path, e.Err)
}

func (e *ListLoadError) Unwrap() error { return e.Err }

// LoadRecipients reads one address per line. Lines are trimmed and blank
// lines are dropped; nothing else is validated.
func LoadRecipients(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &ListLoadError{Path: path, Err: err}
	}
	defer f.Close()

	var recipients []string
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	first := true
	for sc.Scan() {
		line := sc.Text()
		if first {
			line = strings.TrimPrefix(line, "\ufeff")
			first = false
		}
		if line = strings.TrimSpace(line); line != "" {
			recipients = append(recipients, line)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, &ListLoadError{Path: path, Err: err}
	}
	return recipients, nil
}
