package agent

import (
	"errors"
	"strings"
	"testing"
)

func TestClassifyProviderError(t *testing.T) {
	tests := []struct {
		name   string
		status int
		err    error
		want   ProviderErrorKind
	}{
		{"429 is rate limit", 429, nil, ProviderRateLimit},
		{"401 is auth", 401, nil, ProviderAuthFailed},
		{"403 is auth", 403, nil, ProviderAuthFailed},
		{"422 is bad request", 422, nil, ProviderBadRequest},
		{"500 is server", 500, nil, ProviderServerError},
		{"503 is server", 503, nil, ProviderServerError},
		{"no status, rate limit text", 0, errors.New("rate limit exceeded"), ProviderRateLimit},
		{"no status, api key text", 0, errors.New("invalid api key"), ProviderAuthFailed},
		{"no status, overloaded text", 0, errors.New("model overloaded"), ProviderServerError},
		{"no status, opaque", 0, errors.New("connection reset"), ProviderNetworkError},
		{"nothing at all", 0, nil, ProviderNetworkError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pe := NewProviderError("test", tt.status, tt.err)
			if pe.Kind != tt.want {
				t.Errorf("Kind = %s, want %s", pe.Kind, tt.want)
			}
		})
	}
}

func TestProviderErrorRetryable(t *testing.T) {
	retryable := map[ProviderErrorKind]bool{
		ProviderRateLimit:    false,
		ProviderAuthFailed:   false,
		ProviderBadRequest:   false,
		ProviderServerError:  true,
		ProviderNetworkError: true,
	}
	for kind, want := range retryable {
		if got := kind.Retryable(); got != want {
			t.Errorf("%s.Retryable() = %v, want %v", kind, got, want)
		}
	}

	wrapped := NewProviderError("fake", 500, errors.New("boom"))
	if !IsProviderRetryable(wrapped) {
		t.Error("wrapped server error should be retryable")
	}
	if IsProviderRetryable(errors.New("plain")) {
		t.Error("plain error should not be retryable")
	}
}

func TestDispatchErrorFormat(t *testing.T) {
	base := errors.New("command not allowed")
	de := NewDispatchError(KindHookVeto, "bash", base).WithToolCallID("call-9")

	msg := de.Error()
	if !strings.HasPrefix(msg, "HookVeto:") {
		t.Errorf("Error() = %q, want HookVeto prefix", msg)
	}
	if !strings.Contains(msg, "bash") || !strings.Contains(msg, "command not allowed") {
		t.Errorf("Error() = %q, missing detail", msg)
	}
	if !errors.Is(de, base) {
		t.Error("Unwrap chain broken")
	}
	if de.ToolCallID != "call-9" {
		t.Errorf("ToolCallID = %q", de.ToolCallID)
	}
}

func TestGetDispatchError(t *testing.T) {
	de := NewDispatchError(KindInvalidArgs, "echo", errors.New("missing text"))
	if got, ok := GetDispatchError(de); !ok || got.Kind != KindInvalidArgs {
		t.Errorf("GetDispatchError = %+v, %v", got, ok)
	}
	if _, ok := GetDispatchError(errors.New("other")); ok {
		t.Error("unexpected extraction from plain error")
	}
}
