// Package compaction replaces the middle span of a conversation with an
// LLM-produced summary when truncation alone would discard semantic value,
// and caps oversized tool results.
package compaction

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	ctxwin "github.com/ewoodruff/tacit/internal/context"
	"github.com/ewoodruff/tacit/pkg/models"
)

// SummaryPrefix opens every synthetic summary message.
const SummaryPrefix = "[Previous conversation summary] "

// DefaultPreserveLast is how many trailing messages survive compaction
// untouched when the caller does not specify.
const DefaultPreserveLast = 4

// Summarizer produces a summary of a message span. Implemented by the LLM
// provider wiring; tests supply deterministic fakes.
type Summarizer interface {
	Summarize(ctx context.Context, messages []models.Message) (string, error)
}

// Compactor shrinks conversations via summarisation.
type Compactor struct {
	summarizer   Summarizer
	counter      ctxwin.TokenCounter
	preserveLast int
	logger       *slog.Logger
}

// New creates a compactor. preserveLast <= 0 selects DefaultPreserveLast.
func New(summarizer Summarizer, counter ctxwin.TokenCounter, preserveLast int, logger *slog.Logger) *Compactor {
	if logger == nil {
		logger = slog.Default()
	}
	if preserveLast <= 0 {
		preserveLast = DefaultPreserveLast
	}
	return &Compactor{
		summarizer:   summarizer,
		counter:      counter,
		preserveLast: preserveLast,
		logger:       logger.With("component", "compaction"),
	}
}

// Compact partitions messages into prefix (system), middle (summarisable)
// and tail (preserveLast most recent), summarises the middle, and returns
// prefix + summary + tail. Compaction never makes things worse: if the
// summary's estimated tokens exceed the remaining budget, or the LLM call
// fails, the original list is returned unchanged.
func (c *Compactor) Compact(ctx context.Context, messages []models.Message, budget int) []models.Message {
	prefix, middle, tail := c.partition(messages)
	if len(middle) == 0 {
		return messages
	}

	summary, err := c.summarizer.Summarize(ctx, middle)
	if err != nil {
		c.logger.Warn("summarisation failed, keeping original history", "error", err)
		return messages
	}

	summaryMsg := models.Message{
		Role:    models.RoleUser,
		Content: SummaryPrefix + summary,
	}

	kept := make([]models.Message, 0, len(prefix)+1+len(tail))
	kept = append(kept, prefix...)
	kept = append(kept, summaryMsg)
	kept = append(kept, tail...)

	if c.counter.CountMessages(kept) > budget {
		c.logger.Debug("summary exceeds remaining budget, keeping original",
			"summary_tokens", c.counter.Count(summaryMsg.Content),
			"budget", budget)
		return messages
	}
	return kept
}

// Summary produces a standalone summary of a parent conversation for
// context inheritance by nested agents.
func (c *Compactor) Summary(ctx context.Context, messages []models.Message) (models.Message, error) {
	if len(messages) == 0 {
		return models.Message{}, fmt.Errorf("no messages to summarise")
	}
	text, err := c.summarizer.Summarize(ctx, messages)
	if err != nil {
		return models.Message{}, err
	}
	return models.Message{Role: models.RoleUser, Content: SummaryPrefix + text}, nil
}

func (c *Compactor) partition(messages []models.Message) (prefix, middle, tail []models.Message) {
	i := 0
	for i < len(messages) && messages[i].IsSystem() {
		i++
	}
	prefix = messages[:i]
	rest := messages[i:]

	keep := c.preserveLast
	if keep > len(rest) {
		keep = len(rest)
	}
	middle = rest[:len(rest)-keep]
	tail = rest[len(rest)-keep:]
	return prefix, middle, tail
}

// FormatForSummary renders a message span as plain text for the
// summarisation prompt.
func FormatForSummary(messages []models.Message) string {
	var sb strings.Builder
	for i := range messages {
		m := &messages[i]
		sb.WriteString(fmt.Sprintf("[%s]: %s", m.Role, m.Text()))
		for _, tc := range m.ToolCalls {
			sb.WriteString(fmt.Sprintf("\n  [tool call %s(%s)]", tc.Name, clip(string(tc.Arguments), 200)))
		}
		sb.WriteString("\n\n")
	}
	return sb.String()
}

func clip(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
