package digest

import (
	"bufio"
	"fmt"
	"os"
)

// Tail returns the last n lines of the file at path in their original order,
// or every line if there are fewer. A trailing newline does not produce an
// empty final line.
func Tail(path string, n int) ([]string, error) {
	if n <= 0 {
		return nil, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening log %s: %w", path, err)
	}
	defer f.Close()

	ring := make([]string, 0, n)
	next := 0
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		if len(ring) < n {
			ring = append(ring, sc.Text())
			continue
		}
		ring[next] = sc.Text()
		next = (next + 1) % n
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("reading log %s: %w", path, err)
	}

	out := make([]string, 0, len(ring))
	out = append(out, ring[next:]...)
	return append(out, ring[:next]...), nil
}
