package helpers

import (
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExcerptKeepsLastLines(t *testing.T) {
	out := "line1\n\nWARNING: apt does not have a stable CLI interface. Use with caution in scripts.\nline2\nline3\n  line4  \n"
	assert.Equal(t, "line3\nline4", Excerpt(out, 2))
	assert.Equal(t, "line1\nline2\nline3\nline4", Excerpt(out, 0))
	assert.Equal(t, "", Excerpt("\n\n", 3))
}

func TestNewTransactionID(t *testing.T) {
	now := time.Date(2026, 10, 16, 8, 4, 5, 0, time.UTC)
	a := NewTransactionID(now)
	b := NewTransactionID(now)

	assert.Regexp(t, regexp.MustCompile(`^20261016T080405Z-[0-9a-f]{8}$`), a)
	assert.NotEqual(t, a, b)
}

func TestSummarizeErrors(t *testing.T) {
	assert.NoError(t, SummarizeErrors(nil))
	assert.NoError(t, SummarizeErrors([]error{nil}))

	err := SummarizeErrors([]error{errors.New("first"), nil, errors.New("second")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "2 error(s)")
	assert.Contains(t, err.Error(), "first\nsecond")
}
