// Package context provides token counting and message-list truncation for
// fitting LLM conversations within a token budget.
package context

import (
	"strings"
	"sync"
	"unicode"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/pkoukk/tiktoken-go"

	"github.com/ewoodruff/tacit/pkg/models"
)

// Approximate-counter tuning. The constants trade accuracy for zero
// dependency on a tokenizer vocabulary.
const (
	// WordsPerToken is the multiplier applied to whitespace-separated words.
	WordsPerToken = 1.3

	// CharsPerPunct is the weight applied to punctuation characters.
	CharsPerPunct = 0.25

	// MessageOverheadTokens is the per-message framing cost.
	MessageOverheadTokens = 4

	// ReplyPrimingTokens is the fixed cost of priming the assistant reply.
	ReplyPrimingTokens = 2
)

// TokenCounter estimates token usage for text and message lists.
// Implementations must be safe for concurrent use.
type TokenCounter interface {
	// Count returns the token count for a raw text string.
	Count(text string) int

	// CountMessages returns the total for a message list including
	// per-message overhead and reply priming.
	CountMessages(messages []models.Message) int
}

// ApproximateCounter estimates tokens from word and punctuation counts.
// It needs no vocabulary and is the fallback when no tokenizer is
// available for a model.
type ApproximateCounter struct{}

// NewApproximateCounter returns a heuristic token counter.
func NewApproximateCounter() *ApproximateCounter { return &ApproximateCounter{} }

// Count implements TokenCounter.
func (c *ApproximateCounter) Count(text string) int {
	if text == "" {
		return 0
	}
	words := len(strings.Fields(text))
	punct := 0
	for _, r := range text {
		if unicode.IsPunct(r) || unicode.IsSymbol(r) {
			punct++
		}
	}
	tokens := int(float64(words)*WordsPerToken + float64(punct)*CharsPerPunct)
	if tokens == 0 {
		return 1
	}
	return tokens
}

// CountMessages implements TokenCounter.
func (c *ApproximateCounter) CountMessages(messages []models.Message) int {
	total := ReplyPrimingTokens
	for i := range messages {
		total += MessageOverheadTokens
		total += c.Count(messages[i].Text())
		for _, tc := range messages[i].ToolCalls {
			total += c.Count(tc.Name) + c.Count(string(tc.Arguments))
		}
	}
	return total
}

// TiktokenCounter counts tokens with a model-specific byte-pair encoding.
type TiktokenCounter struct {
	encoding *tiktoken.Tiktoken
	model    string
}

// NewTiktokenCounter resolves the encoding for a model. Unknown models
// fall back to cl100k_base; if no encoding can be loaded at all the
// returned error signals the caller to use the approximate counter.
func NewTiktokenCounter(model string) (*TiktokenCounter, error) {
	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		enc, err = tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			return nil, err
		}
	}
	return &TiktokenCounter{encoding: enc, model: model}, nil
}

// Model returns the model the counter was built for.
func (c *TiktokenCounter) Model() string { return c.model }

// Count implements TokenCounter.
func (c *TiktokenCounter) Count(text string) int {
	if text == "" {
		return 0
	}
	return len(c.encoding.Encode(text, nil, nil))
}

// CountMessages implements TokenCounter.
func (c *TiktokenCounter) CountMessages(messages []models.Message) int {
	total := ReplyPrimingTokens
	for i := range messages {
		total += MessageOverheadTokens
		total += c.Count(string(messages[i].Role))
		total += c.Count(messages[i].Text())
		for _, tc := range messages[i].ToolCalls {
			total += c.Count(tc.Name) + c.Count(string(tc.Arguments))
		}
	}
	return total
}

// NewCounterForModel returns the best available counter for a model: a
// tokenizer-backed counter when an encoding exists, the approximate
// counter otherwise.
func NewCounterForModel(model string) TokenCounter {
	if tk, err := NewTiktokenCounter(model); err == nil {
		return tk
	}
	return NewApproximateCounter()
}

// CachingCounter wraps a TokenCounter with a bounded LRU over Count.
// CountMessages delegates straight through and is not cached.
type CachingCounter struct {
	inner TokenCounter
	cache *lru.Cache[string, int]

	mu     sync.Mutex
	hits   int64
	misses int64
}

// DefaultCountCacheSize bounds the Count cache when size <= 0 is given.
const DefaultCountCacheSize = 4096

// NewCachingCounter wraps inner with an LRU of the given size.
func NewCachingCounter(inner TokenCounter, size int) *CachingCounter {
	if size <= 0 {
		size = DefaultCountCacheSize
	}
	cache, _ := lru.New[string, int](size)
	return &CachingCounter{inner: inner, cache: cache}
}

// Count implements TokenCounter with caching.
func (c *CachingCounter) Count(text string) int {
	if n, ok := c.cache.Get(text); ok {
		c.mu.Lock()
		c.hits++
		c.mu.Unlock()
		return n
	}
	n := c.inner.Count(text)
	c.cache.Add(text, n)
	c.mu.Lock()
	c.misses++
	c.mu.Unlock()
	return n
}

// CountMessages implements TokenCounter. Not cached.
func (c *CachingCounter) CountMessages(messages []models.Message) int {
	return c.inner.CountMessages(messages)
}

// Stats returns cache hit and miss counts.
func (c *CachingCounter) Stats() (hits, misses int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits, c.misses
}
