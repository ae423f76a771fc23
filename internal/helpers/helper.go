package helpers

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

var noisePatterns = []string{
	"WARNING: apt does not have a stable CLI interface. Use with caution in scripts.",
	"debconf: delaying package configuration, since apt-utils is not installed",
}

// Excerpt trims command output down to its last useful lines, dropping known
// noise, so it can be shown next to a failure marker.
func Excerpt(output string, maxLines int) string {
	for _, pattern := range noisePatterns {
		output = strings.ReplaceAll(output, pattern, "")
	}

	var lines []string
	for _, line := range strings.Split(output, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			lines = append(lines, line)
		}
	}
	if maxLines > 0 && len(lines) > maxLines {
		lines = lines[len(lines)-maxLines:]
	}
	return strings.Join(lines, "\n")
}

// NewTransactionID returns a sortable, timestamp-derived identifier with a
// short random suffix so two runs in the same second stay distinct.
func NewTransactionID(now time.Time) string {
	return fmt.Sprintf("%s-%s", now.UTC().Format("20060102T150405Z"), uuid.NewString()[:8])
}

// SummarizeErrors collapses the errors recorded during a run into one message.
func SummarizeErrors(errs []error) error {
	var msgs []string
	for _, err := range errs {
		if err != nil {
			msgs = append(msgs, err.Error())
		}
	}
	if len(msgs) == 0 {
		return nil
	}
	return fmt.Errorf("run recorded %d error(s):\n%s", len(msgs), strings.Join(msgs, "\n"))
}
