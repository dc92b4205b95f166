// Package hooks delivers runtime lifecycle events to in-process
// handlers and user-configured subprocess hooks.
package hooks

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// EventType identifies a lifecycle event as category:event.
type EventType string

const (
	// Tool events
	EventToolPreExecute  EventType = "tool:pre_execute"
	EventToolPostExecute EventType = "tool:post_execute"
	EventToolError       EventType = "tool:error"

	// LLM events
	EventLLMPreRequest   EventType = "llm:pre_request"
	EventLLMPostResponse EventType = "llm:post_response"
	EventLLMStreamStart  EventType = "llm:stream_start"
	EventLLMStreamEnd    EventType = "llm:stream_end"

	// Session events
	EventSessionStart   EventType = "session:start"
	EventSessionEnd     EventType = "session:end"
	EventSessionMessage EventType = "session:message"

	// Permission events
	EventPermissionCheck   EventType = "permission:check"
	EventPermissionPrompt  EventType = "permission:prompt"
	EventPermissionGranted EventType = "permission:granted"
	EventPermissionDenied  EventType = "permission:denied"

	// User events
	EventUserPromptSubmit EventType = "user:prompt_submit"
	EventUserInterrupt    EventType = "user:interrupt"
)

// Category returns the part before the first colon.
func (t EventType) Category() string {
	cat, _, _ := strings.Cut(string(t), ":")
	return cat
}

// Name returns the part after the first colon.
func (t EventType) Name() string {
	_, name, _ := strings.Cut(string(t), ":")
	return name
}

// PreExecute reports whether hooks for this event may veto.
func (t EventType) PreExecute() bool {
	return t.Name() == "pre_execute"
}

// Event is one lifecycle occurrence delivered to hooks.
type Event struct {
	Type      EventType      `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	SessionID string         `json:"session_id,omitempty"`
	ToolName  string         `json:"tool_name,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
}

// NewEvent creates an event with the timestamp set.
func NewEvent(eventType EventType) *Event {
	return &Event{
		Type:      eventType,
		Timestamp: time.Now(),
		Data:      make(map[string]any),
	}
}

// WithSession sets the session id.
func (e *Event) WithSession(sessionID string) *Event {
	e.SessionID = sessionID
	return e
}

// WithTool sets the tool name.
func (e *Event) WithTool(name string) *Event {
	e.ToolName = name
	return e
}

// WithData adds one data entry.
func (e *Event) WithData(key string, value any) *Event {
	if e.Data == nil {
		e.Data = make(map[string]any)
	}
	e.Data[key] = value
	return e
}

// Key returns the match key category:event[:tool].
func (e *Event) Key() string {
	if e.ToolName != "" {
		return string(e.Type) + ":" + e.ToolName
	}
	return string(e.Type)
}

// Handler processes an event in-process. A non-nil error on a
// pre_execute event vetoes the pending tool call; on any other event it
// is logged and ignored.
type Handler func(ctx context.Context, event *Event) error

// Priority determines in-process handler order. Lower runs earlier.
type Priority int

const (
	PriorityHighest Priority = 0
	PriorityHigh    Priority = 25
	PriorityNormal  Priority = 50
	PriorityLow     Priority = 75
	PriorityLowest  Priority = 100
)

// Registration is one in-process handler binding.
type Registration struct {
	ID       string
	Pattern  string
	Handler  Handler
	Priority Priority
	Name     string
	Source   string
}

// VetoError is returned from Emit when a pre_execute hook rejects the
// pending tool call.
type VetoError struct {
	Hook   string
	Reason string
}

func (e *VetoError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("vetoed by hook %s", e.Hook)
	}
	return fmt.Sprintf("vetoed by hook %s: %s", e.Hook, e.Reason)
}

// MatchPattern reports whether a hook pattern matches an event key.
// Patterns are comma-separated alternatives; each alternative is a
// colon-segmented glob matched against category:event[:tool], where a
// shorter pattern matches any trailing key segments.
func MatchPattern(pattern, key string) bool {
	keySegs := strings.Split(key, ":")
	for _, alt := range strings.Split(pattern, ",") {
		alt = strings.TrimSpace(alt)
		if alt == "" {
			continue
		}
		if matchSegments(strings.Split(alt, ":"), keySegs) {
			return true
		}
	}
	return false
}

func matchSegments(pattern, key []string) bool {
	if len(pattern) > len(key) {
		return false
	}
	for i, p := range pattern {
		if !segmentMatch(p, key[i]) {
			return false
		}
	}
	return true
}

// segmentMatch matches one glob segment where * spans any run and ?
// matches one character.
func segmentMatch(pattern, s string) bool {
	// Fast paths cover almost every real pattern.
	if pattern == "*" || pattern == s {
		return true
	}
	if !strings.ContainsAny(pattern, "*?") {
		return false
	}
	return globSegment(pattern, s)
}

func globSegment(pattern, s string) bool {
	pi, si := 0, 0
	starP, starS := -1, 0
	for si < len(s) {
		switch {
		case pi < len(pattern) && (pattern[pi] == '?' || pattern[pi] == s[si]):
			pi++
			si++
		case pi < len(pattern) && pattern[pi] == '*':
			starP, starS = pi, si
			pi++
		case starP >= 0:
			starS++
			pi, si = starP+1, starS
		default:
			return false
		}
	}
	for pi < len(pattern) && pattern[pi] == '*' {
		pi++
	}
	return pi == len(pattern)
}
