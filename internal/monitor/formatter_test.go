package monitor

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFormatPercentage(t *testing.T) {
	tests := []struct {
		name     string
		ratio    float64
		expected string
	}{
		{"normal", 0.985, "98.5%"},
		{"zero", 0.0, "0.0%"},
		{"one", 1.0, "100.0%"},
		{"small", 0.012, "1.2%"},
		{"very_small", 0.0003, "0.0%"},
		{"over_hundred", 1.5, "150.0%"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, FormatPercentage(tt.ratio))
		})
	}
}

func TestFormatSlots(t *testing.T) {
	assert.Equal(t, "0/10 slots", FormatSlots(0, 10))
	assert.Equal(t, "3/3 slots", FormatSlots(3, 3))
}

func TestFormatIDs(t *testing.T) {
	tests := []struct {
		name     string
		ids      []int64
		expected string
	}{
		{"nil", nil, "none"},
		{"empty", []int64{}, "none"},
		{"one", []int64{7}, "#7"},
		{"several", []int64{1, 4, 12}, "#1 #4 #12"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, FormatIDs(tt.ids))
		})
	}
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		name     string
		in       string
		max      int
		expected string
	}{
		{"short", "build", 10, "build"},
		{"exact", "build", 5, "build"},
		{"cut", "refactor parser", 8, "refacto…"},
		{"multibyte", "héllo wörld", 6, "héllo…"},
		{"zero", "anything", 0, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Truncate(tt.in, tt.max))
		})
	}
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		name     string
		seconds  int64
		expected string
	}{
		{"hours_and_minutes", 8100, "2h 15m"},
		{"only_hours", 7200, "2h 0m"},
		{"only_minutes", 900, "15m"},
		{"zero", 0, "0m"},
		{"one_minute", 60, "1m"},
		{"many_hours", 36000, "10h 0m"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, FormatDuration(tt.seconds))
		})
	}
}
