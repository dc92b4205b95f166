package compaction

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"unicode/utf8"

	ctxwin "github.com/ewoodruff/tacit/internal/context"
	"github.com/ewoodruff/tacit/pkg/models"
)

type fakeSummarizer struct {
	summary string
	err     error
	calls   int
}

func (f *fakeSummarizer) Summarize(ctx context.Context, messages []models.Message) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return f.summary, nil
}

func history(n int) []models.Message {
	out := []models.Message{{Role: models.RoleSystem, Content: "system prompt"}}
	for i := 0; i < n; i++ {
		out = append(out, models.Message{
			Role:    models.RoleUser,
			Content: strings.Repeat("conversation turn content ", 10),
		})
	}
	return out
}

func TestCompactReplacesMiddle(t *testing.T) {
	counter := ctxwin.NewApproximateCounter()
	sum := &fakeSummarizer{summary: "short summary"}
	c := New(sum, counter, 2, nil)

	messages := history(10)
	out := c.Compact(context.Background(), messages, 1_000_000)

	// prefix(1) + summary(1) + tail(2)
	if len(out) != 4 {
		t.Fatalf("len = %d, want 4", len(out))
	}
	if !strings.HasPrefix(out[1].Content, SummaryPrefix) {
		t.Errorf("summary message = %q, want prefix %q", out[1].Content, SummaryPrefix)
	}
	if out[1].Role != models.RoleUser {
		t.Errorf("summary role = %s, want user", out[1].Role)
	}
	// Tail preserved verbatim.
	if out[2].Content != messages[len(messages)-2].Content {
		t.Error("tail message not preserved")
	}
}

func TestCompactNeverMakesWorse(t *testing.T) {
	counter := ctxwin.NewApproximateCounter()
	sum := &fakeSummarizer{summary: strings.Repeat("an enormous summary ", 500)}
	c := New(sum, counter, 2, nil)

	messages := history(10)
	out := c.Compact(context.Background(), messages, 50)

	if len(out) != len(messages) {
		t.Errorf("oversized summary was applied: %d messages, want %d unchanged", len(out), len(messages))
	}
}

func TestCompactLLMFailureNonFatal(t *testing.T) {
	counter := ctxwin.NewApproximateCounter()
	sum := &fakeSummarizer{err: errors.New("provider unavailable")}
	c := New(sum, counter, 2, nil)

	messages := history(8)
	out := c.Compact(context.Background(), messages, 1_000_000)

	if len(out) != len(messages) {
		t.Errorf("failure changed the history: %d, want %d", len(out), len(messages))
	}
}

func TestCompactEmptyMiddleNoop(t *testing.T) {
	counter := ctxwin.NewApproximateCounter()
	sum := &fakeSummarizer{summary: "s"}
	c := New(sum, counter, 10, nil)

	messages := history(3) // tail absorbs everything
	out := c.Compact(context.Background(), messages, 1_000_000)

	if sum.calls != 0 {
		t.Errorf("summarizer called %d times for empty middle, want 0", sum.calls)
	}
	if len(out) != len(messages) {
		t.Errorf("len = %d, want %d", len(out), len(messages))
	}
}

func TestCapToolResult(t *testing.T) {
	counter := ctxwin.NewApproximateCounter()
	content := strings.Repeat("line of tool output here\n", 200)
	msg := models.Message{Role: models.RoleTool, ToolCallID: "t1", Content: content}

	out := CapToolResult(msg, 50, counter)

	if !strings.Contains(out.Content, "[truncated:") {
		t.Fatal("no truncation marker appended")
	}
	if len(out.Content) >= len(content) {
		t.Error("content was not shortened")
	}

	// Removed token report within +/-5% of the true removed count.
	body := strings.SplitN(out.Content, "\n[truncated:", 2)[0]
	removedTrue := counter.Count(content) - counter.Count(body)
	idx := strings.LastIndex(out.Content, "[truncated:")
	var reported int
	if _, err := fmt.Sscanf(out.Content[idx:], "[truncated: %d tokens removed]", &reported); err != nil {
		t.Fatalf("cannot parse marker: %v", err)
	}
	tolerance := removedTrue / 20
	if tolerance < 2 {
		tolerance = 2
	}
	if reported < removedTrue-tolerance || reported > removedTrue+tolerance {
		t.Errorf("reported removed tokens = %d, true = %d (tolerance %d)", reported, removedTrue, tolerance)
	}
}

func TestCapToolResultPassThrough(t *testing.T) {
	counter := ctxwin.NewApproximateCounter()

	small := models.Message{Role: models.RoleTool, Content: "tiny"}
	if out := CapToolResult(small, 50, counter); out.Content != "tiny" {
		t.Error("small tool result modified")
	}

	user := models.Message{Role: models.RoleUser, Content: strings.Repeat("x ", 5000)}
	if out := CapToolResult(user, 5, counter); out.Content != user.Content {
		t.Error("non-tool message modified")
	}
}

func TestCapToolResultRuneBoundary(t *testing.T) {
	counter := ctxwin.NewApproximateCounter()
	content := strings.Repeat("héllöwörldçafé", 400)
	msg := models.Message{Role: models.RoleTool, ToolCallID: "t1", Content: content}

	out := CapToolResult(msg, 40, counter)

	if !strings.Contains(out.Content, "[truncated:") {
		t.Fatal("no truncation marker appended")
	}
	body := strings.SplitN(out.Content, "\n[truncated:", 2)[0]
	if !utf8.ValidString(body) {
		t.Errorf("kept prefix splits a multibyte rune: %q", body[len(body)-4:])
	}
}
