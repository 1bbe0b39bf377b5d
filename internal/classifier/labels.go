package classifier

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
)

// LoadLabels reads one label per line from path.
func LoadLabels(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open labels: %w", err)
	}
	defer f.Close()

	return ParseLabels(f)
}

// ParseLabels accepts bare labels or exported "<index> <label>" lines; the
// numeric prefix is dropped. Blank lines are skipped.
func ParseLabels(r io.Reader) ([]string, error) {
	var labels []string

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		labels = append(labels, stripIndex(line))
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read labels: %w", err)
	}

	if len(labels) == 0 {
		return nil, fmt.Errorf("%w: label file is empty", ErrShapeMismatch)
	}
	return labels, nil
}

func stripIndex(line string) string {
	head, rest, found := strings.Cut(line, " ")
	if !found || !isDigits(head) {
		return line
	}
	rest = strings.TrimSpace(rest)
	if rest == "" {
		return line
	}
	return rest
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
