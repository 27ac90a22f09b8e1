package summarizer

import (
	"strconv"
	"strings"
)

// DefaultCommand is the token that triggers a summary.
const DefaultCommand = "#resumo"

// ParseCommand reports whether body invokes command and returns the requested
// message count. The command must be the first whitespace-separated token of
// the trimmed body. A missing, non-numeric or non-positive argument yields a
// limit of 0 (time-window mode).
func ParseCommand(body, command string) (limit int, ok bool) {
	fields := strings.Fields(body)
	if len(fields) == 0 || fields[0] != command {
		return 0, false
	}
	if len(fields) < 2 {
		return 0, true
	}
	n, err := strconv.Atoi(fields[1])
	if err != nil || n <= 0 {
		return 0, true
	}
	return n, true
}
