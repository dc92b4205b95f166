package compaction

import (
	"fmt"
	"strings"
	"unicode/utf8"

	ctxwin "github.com/ewoodruff/tacit/internal/context"
	"github.com/ewoodruff/tacit/pkg/models"
)

// TruncationMarkerFormat closes a capped tool result, reporting the
// estimated token count of the removed text.
const TruncationMarkerFormat = "\n[truncated: %d tokens removed]"

// CapToolResult truncates a tool message whose content exceeds maxTokens,
// appending a marker with the removed token count. The cut prefers a
// whitespace or newline boundary near the cap. Non-tool messages pass
// through unchanged.
func CapToolResult(msg models.Message, maxTokens int, counter ctxwin.TokenCounter) models.Message {
	if msg.Role != models.RoleTool || maxTokens <= 0 {
		return msg
	}
	total := counter.Count(msg.Content)
	if total <= maxTokens {
		return msg
	}

	// Binary search the longest prefix within the cap; Count is monotonic
	// in prefix length for any reasonable tokenizer.
	lo, hi := 0, len(msg.Content)
	for lo < hi {
		mid := (lo + hi + 1) / 2
		if counter.Count(msg.Content[:mid]) <= maxTokens {
			lo = mid
		} else {
			hi = mid - 1
		}
	}
	cut := lo

	// The search works in bytes; back up so the cut never splits a
	// multibyte rune.
	for cut > 0 && !utf8.RuneStart(msg.Content[cut]) {
		cut--
	}

	// Prefer breaking at whitespace within the trailing stretch of the
	// kept prefix.
	if idx := strings.LastIndexAny(msg.Content[:cut], " \t\n"); idx > cut*3/4 {
		cut = idx
	}

	removed := counter.Count(msg.Content[cut:])
	out := msg
	out.Content = msg.Content[:cut] + fmt.Sprintf(TruncationMarkerFormat, removed)
	return out
}

// CapToolResults applies CapToolResult across a message list.
func CapToolResults(messages []models.Message, maxTokens int, counter ctxwin.TokenCounter) []models.Message {
	out := make([]models.Message, len(messages))
	for i := range messages {
		out[i] = CapToolResult(messages[i], maxTokens, counter)
	}
	return out
}
