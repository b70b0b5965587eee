package compactor

import (
	"strings"

	"github.com/lanternai/lantern/internal/canonical"
)

// EstimateTokens approximates the token count of text without a
// tokenizer. It averages a chars/4 estimate with a words*4/3 estimate,
// which tracks real tokenizers within ~15% on mixed prose and code.
// Tokenizer-exact counts are not worth a per-model dependency here.
func EstimateTokens(text string) int {
	if text == "" {
		return 0
	}
	byChars := len(text) / 4
	byWords := len(strings.Fields(text)) * 4 / 3
	return (byChars + byWords) / 2
}

// EstimateTurn sums the estimated tokens of every segment in a turn,
// plus a small per-message overhead for role framing.
func EstimateTurn(t canonical.Turn) int {
	total := 0
	for _, m := range t.Messages {
		total += 4
		for _, seg := range m.Segments {
			switch seg.Type {
			case canonical.SegmentText, canonical.SegmentThinking:
				total += EstimateTokens(seg.Text)
			case canonical.SegmentToolCall:
				if seg.ToolCall != nil {
					total += EstimateTokens(seg.ToolCall.Name) + EstimateTokens(string(seg.ToolCall.Input))
				}
			case canonical.SegmentToolResult:
				if seg.ToolResult != nil {
					total += EstimateTokens(seg.ToolResult.Content)
				}
			}
		}
	}
	return total
}

// EstimateTurns sums estimates across turns.
func EstimateTurns(turns []canonical.Turn) int {
	total := 0
	for _, t := range turns {
		total += EstimateTurn(t)
	}
	return total
}

// DefaultContextWindow is used for models with no table entry.
const DefaultContextWindow = 128_000

var contextWindows = []struct {
	prefix string
	tokens int
}{
	{"claude-", 200_000},
	{"gpt-5", 272_000},
	{"gpt-4.1", 1_000_000},
	{"gpt-4o", 128_000},
	{"o3", 200_000},
	{"o4", 200_000},
	{"gemini-2", 1_048_576},
	{"gemini-1.5", 1_048_576},
	{"deepseek-", 64_000},
	{"qwen", 131_072},
	{"glm-", 128_000},
	{"llama", 128_000},
}

// ContextWindow returns the context window for a model by prefix match.
func ContextWindow(model string) int {
	m := strings.ToLower(model)
	for _, e := range contextWindows {
		if strings.HasPrefix(m, e.prefix) {
			return e.tokens
		}
	}
	return DefaultContextWindow
}
