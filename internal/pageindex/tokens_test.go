package pageindex

import (
	"strings"
	"testing"
)

func TestEstimateTokens(t *testing.T) {
	tests := []struct {
		name        string
		input       string
		minExpected int
		maxExpected int
	}{
		{"empty string", "", 0, 0},
		{"whitespace only", "   \n\t", 0, 0},
		{"single word", "hello", 1, 3},
		{"simple sentence", "Hello world!", 2, 5},
		{"longer text", "The quick brown fox jumps over the lazy dog.", 10, 20},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := EstimateTokens(tt.input)
			if result < tt.minExpected || result > tt.maxExpected {
				t.Errorf("EstimateTokens(%q) = %d, want between %d and %d",
					tt.input, result, tt.minExpected, tt.maxExpected)
			}
		})
	}
}

func TestEstimateTokensGrowsWithText(t *testing.T) {
	short := EstimateTokens("one page of text")
	long := EstimateTokens(strings.Repeat("one page of text ", 50))
	if long <= short {
		t.Errorf("EstimateTokens() for longer text = %d, want more than %d", long, short)
	}
}

func TestEstimateTokensCountsWordsAcrossWhitespace(t *testing.T) {
	if a, b := EstimateTokens("alpha beta gamma"), EstimateTokens("alpha\n\tbeta   gamma"); a != b {
		t.Errorf("EstimateTokens() differs on whitespace: %d vs %d", a, b)
	}
	if got := EstimateTokens("ten words here and there, then some more words now."); got != 14 {
		t.Errorf("EstimateTokens() = %d, want 14", got)
	}
}
