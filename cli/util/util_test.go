package util

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFormatBytes(t *testing.T) {
	tests := []struct {
		bytes    int64
		expected string
	}{
		{0, "0 B"},
		{1, "1 B"},
		{1023, "1023 B"},
		{1024, "1 kB"},
		{1536, "1.5 kB"},
		{1587, "1.55 kB"},
		{1048576, "1 MB"},
		{5 * 1024 * 1024, "5 MB"},
		{1073741824, "1 GB"},
		{3 * 1073741824 / 2, "1.5 GB"},
		{2048 * 1073741824, "2048 GB"},
		{-1536, "-1.5 kB"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			assert.Equal(t, tt.expected, FormatBytes(tt.bytes))
		})
	}
}

func TestFormatDelta(t *testing.T) {
	assert.Equal(t, "+1.5 kB (+1,536 B)", FormatDelta(1536))
	assert.Equal(t, "-1 kB (-1,024 B)", FormatDelta(-1024))
	assert.Equal(t, "+0 B (+0 B)", FormatDelta(0))
}

func TestFormatPercent(t *testing.T) {
	assert.Equal(t, "+12.5%", FormatPercent(12.5))
	assert.Equal(t, "-3.0%", FormatPercent(-3))
}

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "250ms", FormatDuration(250*time.Millisecond))
	assert.Equal(t, "1.5s", FormatDuration(1500*time.Millisecond))
}

func TestTruncateString(t *testing.T) {
	assert.Equal(t, "short", TruncateString("short", 10))
	assert.Equal(t, "abcdefg...", TruncateString("abcdefghijklmnop", 10))
	assert.Equal(t, "ab", TruncateString("abcdef", 2))
}

func TestSplitList(t *testing.T) {
	assert.Equal(t, []string{"a", "b", "c"}, SplitList([]string{"a, b", "", "c,"}))
	assert.Nil(t, SplitList(nil))
}
