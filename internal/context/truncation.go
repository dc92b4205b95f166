package context

import (
	"fmt"

	"github.com/ewoodruff/tacit/pkg/models"
)

// Strategy reduces a message list to fit a token budget without consulting
// an LLM. All strategies preserve the relative order of surviving messages
// and never split an individual message.
type Strategy interface {
	// Name identifies the strategy in logs and config.
	Name() string

	// Apply returns a list whose counted tokens fit within budget when the
	// budget allows at least the system messages. An already-compliant
	// list is returned unchanged.
	Apply(messages []models.Message, budget int, counter TokenCounter) []models.Message
}

// SlidingWindow keeps the last N messages, optionally pinning system
// messages at the front.
type SlidingWindow struct {
	// Window is the number of trailing messages to keep.
	Window int

	// KeepSystem pins system messages at the front regardless of Window.
	KeepSystem bool
}

func (s *SlidingWindow) Name() string { return "sliding_window" }

func (s *SlidingWindow) Apply(messages []models.Message, budget int, counter TokenCounter) []models.Message {
	if counter.CountMessages(messages) <= budget {
		return messages
	}
	window := s.Window
	if window <= 0 {
		window = 1
	}

	var head []models.Message
	rest := messages
	if s.KeepSystem {
		head, rest = splitSystemPrefix(messages)
	}
	if len(rest) > window {
		rest = rest[len(rest)-window:]
	}
	out := make([]models.Message, 0, len(head)+len(rest))
	out = append(out, head...)
	out = append(out, rest...)
	return out
}

// TokenBudget drops the oldest non-system messages until the list fits.
// If the system messages alone exceed the budget, only they survive.
type TokenBudget struct{}

func (s *TokenBudget) Name() string { return "token_budget" }

func (s *TokenBudget) Apply(messages []models.Message, budget int, counter TokenCounter) []models.Message {
	if counter.CountMessages(messages) <= budget {
		return messages
	}
	system, rest := splitSystemPrefix(messages)
	if counter.CountMessages(system) > budget {
		return system
	}
	for len(rest) > 0 {
		candidate := append(append([]models.Message{}, system...), rest...)
		if counter.CountMessages(candidate) <= budget {
			return candidate
		}
		rest = rest[1:]
	}
	return system
}

// Smart keeps the first KeepFirst and last KeepLast messages and replaces
// the omitted middle span with a synthetic marker message. If the result
// still exceeds the budget, the tail shrinks further.
type Smart struct {
	KeepFirst int
	KeepLast  int
}

func (s *Smart) Name() string { return "smart" }

func (s *Smart) Apply(messages []models.Message, budget int, counter TokenCounter) []models.Message {
	if counter.CountMessages(messages) <= budget {
		return messages
	}
	first, last := s.KeepFirst, s.KeepLast
	if first < 0 {
		first = 0
	}
	if last < 1 {
		last = 1
	}
	if len(messages) <= first+last {
		return (&TokenBudget{}).Apply(messages, budget, counter)
	}

	omitted := len(messages) - first - last
	marker := models.Message{
		Role:    models.RoleUser,
		Content: fmt.Sprintf("[%d messages omitted]", omitted),
	}
	out := make([]models.Message, 0, first+1+last)
	out = append(out, messages[:first]...)
	out = append(out, marker)
	out = append(out, messages[len(messages)-last:]...)

	// Shrink the tail until the marker form fits.
	for counter.CountMessages(out) > budget && last > 1 {
		last--
		omitted++
		out = out[:first]
		out = append(out, models.Message{
			Role:    models.RoleUser,
			Content: fmt.Sprintf("[%d messages omitted]", omitted),
		})
		out = append(out, messages[len(messages)-last:]...)
	}
	return out
}

// Selective keeps messages whose role is in PreserveRoles or which carry
// the Preserve flag, then fills with the most recent remaining messages
// until the budget is exhausted.
type Selective struct {
	PreserveRoles []models.Role
}

func (s *Selective) Name() string { return "selective" }

func (s *Selective) Apply(messages []models.Message, budget int, counter TokenCounter) []models.Message {
	if counter.CountMessages(messages) <= budget {
		return messages
	}

	preserved := make([]bool, len(messages))
	for i := range messages {
		if messages[i].Preserve {
			preserved[i] = true
			continue
		}
		for _, role := range s.PreserveRoles {
			if messages[i].Role == role {
				preserved[i] = true
				break
			}
		}
	}

	// Fill from the most recent backwards while staying under budget.
	selected := append([]bool(nil), preserved...)
	for i := len(messages) - 1; i >= 0; i-- {
		if selected[i] {
			continue
		}
		selected[i] = true
		if counter.CountMessages(collect(messages, selected)) > budget {
			selected[i] = false
		}
	}
	return collect(messages, selected)
}

// Composite applies strategies in order, stopping at the first whose
// output is within budget.
type Composite struct {
	Strategies []Strategy
}

func (s *Composite) Name() string { return "composite" }

func (s *Composite) Apply(messages []models.Message, budget int, counter TokenCounter) []models.Message {
	out := messages
	for _, strat := range s.Strategies {
		out = strat.Apply(out, budget, counter)
		if counter.CountMessages(out) <= budget {
			return out
		}
	}
	return out
}

// splitSystemPrefix partitions messages into the leading system run and
// the remainder. System messages appearing later are treated as ordinary
// history.
func splitSystemPrefix(messages []models.Message) (system, rest []models.Message) {
	i := 0
	for i < len(messages) && messages[i].IsSystem() {
		i++
	}
	return messages[:i], messages[i:]
}

func collect(messages []models.Message, selected []bool) []models.Message {
	out := make([]models.Message, 0, len(messages))
	for i := range messages {
		if selected[i] {
			out = append(out, messages[i])
		}
	}
	return out
}
