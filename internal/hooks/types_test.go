package hooks

import (
	"testing"
	"time"
)

func TestMatchPattern(t *testing.T) {
	tests := []struct {
		name    string
		pattern string
		key     string
		want    bool
	}{
		{"exact with tool", "tool:pre_execute:bash", "tool:pre_execute:bash", true},
		{"exact wrong tool", "tool:pre_execute:bash", "tool:pre_execute:read_file", false},
		{"category wildcard", "llm:*", "llm:pre_request", true},
		{"category wildcard other category", "llm:*", "tool:pre_execute", false},
		{"bare star", "*", "session:start", true},
		{"shorter pattern matches prefix", "tool:pre_execute", "tool:pre_execute:bash", true},
		{"glob in tool segment", "tool:pre_execute:ba*", "tool:pre_execute:bash", true},
		{"comma alternatives", "llm:*,tool:error", "tool:error", true},
		{"comma alternatives miss", "llm:*,tool:error", "tool:post_execute", false},
		{"question mark", "tool:pre_execute:bas?", "tool:pre_execute:bash", true},
		{"longer pattern than key", "tool:pre_execute:bash", "tool:pre_execute", false},
		{"empty pattern", "", "tool:pre_execute", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := MatchPattern(tt.pattern, tt.key); got != tt.want {
				t.Errorf("MatchPattern(%q, %q) = %v, want %v", tt.pattern, tt.key, got, tt.want)
			}
		})
	}
}

func TestEventKey(t *testing.T) {
	e := NewEvent(EventToolPreExecute).WithTool("bash")
	if e.Key() != "tool:pre_execute:bash" {
		t.Errorf("Key = %q, want tool:pre_execute:bash", e.Key())
	}
	if NewEvent(EventSessionStart).Key() != "session:start" {
		t.Errorf("Key without tool = %q", NewEvent(EventSessionStart).Key())
	}
}

func TestEventTypeParts(t *testing.T) {
	if EventLLMPreRequest.Category() != "llm" || EventLLMPreRequest.Name() != "pre_request" {
		t.Errorf("category/name = %s/%s", EventLLMPreRequest.Category(), EventLLMPreRequest.Name())
	}
	if !EventToolPreExecute.PreExecute() {
		t.Error("tool:pre_execute should be a pre_execute event")
	}
	if EventToolPostExecute.PreExecute() {
		t.Error("tool:post_execute should not be a pre_execute event")
	}
}

func TestEffectiveTimeout(t *testing.T) {
	tests := []struct {
		name    string
		seconds float64
		want    time.Duration
	}{
		{"zero uses default", 0, DefaultHookTimeout},
		{"below min clamps", 0.01, MinHookTimeout},
		{"in range", 5, 5 * time.Second},
		{"above max clamps", 1000, MaxHookTimeout},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := Hook{Timeout: tt.seconds}
			if got := h.EffectiveTimeout(); got != tt.want {
				t.Errorf("EffectiveTimeout() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestSanitizeEnvKey(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"tool_name", "TOOL_NAME"},
		{"exit-code", "EXIT_CODE"},
		{"weird key!", "WEIRD_KEY_"},
		{"ALREADY_OK_9", "ALREADY_OK_9"},
	}
	for _, tt := range tests {
		if got := SanitizeEnvKey(tt.in); got != tt.want {
			t.Errorf("SanitizeEnvKey(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestSanitizeEnvValue(t *testing.T) {
	if got := SanitizeEnvValue("a\x00b"); got != "ab" {
		t.Errorf("null bytes not stripped: %q", got)
	}
	if got := SanitizeEnvValue("line1\nline2\r\nline3"); got != "line1 line2 line3" {
		t.Errorf("newlines not collapsed: %q", got)
	}

	long := make([]byte, 20000)
	for i := range long {
		long[i] = 'x'
	}
	capped := SanitizeEnvValue(string(long))
	if len(capped) != 8192 {
		t.Errorf("len(capped) = %d, want 8192", len(capped))
	}
	if capped[len(capped)-3:] != "..." {
		t.Errorf("capped value missing truncation suffix: %q", capped[len(capped)-10:])
	}
}
