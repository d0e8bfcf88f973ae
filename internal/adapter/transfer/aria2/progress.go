package aria2

import (
	"bytes"
	"regexp"
	"strconv"
	"strings"
)

// progressLine matches aria2's own progress readout.
var progressLine = regexp.MustCompile(`\((\d+)%\)`)

// Tried in order; the first match wins.
var percentPatterns = []*regexp.Regexp{
	progressLine,
	regexp.MustCompile(`(\d+)%\s+`),
	regexp.MustCompile(`(\d+\.?\d?)%`),
}

// ParsePercent extracts a completion percentage from one line of transfer
// tool output. Lines without a percentage yield 0.
func ParsePercent(line string) int {
	pct, _ := parsePercent(line)
	return pct
}

func parsePercent(line string) (int, bool) {
	if !strings.Contains(line, "%") {
		return 0, false
	}
	for _, re := range percentPatterns {
		m := re.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		f, err := strconv.ParseFloat(m[1], 64)
		if err != nil {
			continue
		}
		pct := int(f)
		if pct > 100 {
			pct = 100
		}
		return pct, true
	}
	return 0, false
}

// scanLines splits on \n, \r\n or a bare \r; aria2 redraws its progress line
// with carriage returns.
func scanLines(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if i := bytes.IndexAny(data, "\r\n"); i >= 0 {
		advance = i + 1
		if data[i] == '\r' && i+1 < len(data) && data[i+1] == '\n' {
			advance++
		}
		return advance, data[:i], nil
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}

// tail keeps the last lines of output for failure diagnostics.
type tail struct {
	lines []string
	max   int
}

const maxLineLength = 500

func newTail(max int) *tail {
	return &tail{max: max}
}

func (t *tail) add(line string) {
	line = strings.TrimSpace(line)
	if line == "" {
		return
	}
	if len(line) > maxLineLength {
		line = line[:maxLineLength]
	}
	t.lines = append(t.lines, line)
	if len(t.lines) > t.max {
		t.lines = t.lines[len(t.lines)-t.max:]
	}
}

func (t *tail) String() string {
	return strings.Join(t.lines, "\n")
}
