package agent

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for agent operations.
var (
	// ErrNoProvider indicates no LLM provider is configured.
	ErrNoProvider = errors.New("no provider configured")

	// ErrCancelled indicates the agent's cancellation token was set.
	ErrCancelled = errors.New("agent cancelled")
)

// FailureReason is the terminal reason recorded on a failed agent run.
type FailureReason string

const (
	ReasonMaxIterations FailureReason = "max_iterations"
	ReasonMaxTokens     FailureReason = "max_tokens"
	ReasonMaxTime       FailureReason = "max_time"
	ReasonCancelled     FailureReason = "cancelled"
	ReasonProviderError FailureReason = "provider_error"
)

// DispatchErrorKind categorises tool dispatch failures. These surface
// into the tool message's content and never terminate the loop.
type DispatchErrorKind string

const (
	KindUnknownTool      DispatchErrorKind = "UnknownTool"
	KindInvalidArgs      DispatchErrorKind = "InvalidArgs"
	KindPermissionDenied DispatchErrorKind = "PermissionDenied"
	KindHookVeto         DispatchErrorKind = "HookVeto"
	KindToolError        DispatchErrorKind = "ToolError"
)

// DispatchError is a structured failure from the tool dispatch pipeline.
type DispatchError struct {
	// Kind categorises the failure stage.
	Kind DispatchErrorKind

	// ToolName is the tool whose dispatch failed.
	ToolName string

	// ToolCallID correlates the failure with a specific call.
	ToolCallID string

	// Message is the human-readable failure description.
	Message string

	// Cause is the underlying error.
	Cause error
}

// Error implements the error interface.
func (e *DispatchError) Error() string {
	var parts []string
	parts = append(parts, fmt.Sprintf("%s:", e.Kind))
	if e.ToolName != "" {
		parts = append(parts, e.ToolName)
	}
	if e.Message != "" {
		parts = append(parts, e.Message)
	} else if e.Cause != nil {
		parts = append(parts, e.Cause.Error())
	}
	return strings.Join(parts, " ")
}

// Unwrap returns the underlying error.
func (e *DispatchError) Unwrap() error {
	return e.Cause
}

// NewDispatchError creates a dispatch failure of the given kind.
func NewDispatchError(kind DispatchErrorKind, toolName string, cause error) *DispatchError {
	err := &DispatchError{Kind: kind, ToolName: toolName, Cause: cause}
	if cause != nil {
		err.Message = cause.Error()
	}
	return err
}

// WithToolCallID sets the tool call id for correlation.
func (e *DispatchError) WithToolCallID(id string) *DispatchError {
	e.ToolCallID = id
	return e
}

// WithMessage sets a custom human-readable message.
func (e *DispatchError) WithMessage(msg string) *DispatchError {
	e.Message = msg
	return e
}

// GetDispatchError extracts a DispatchError from an error chain.
func GetDispatchError(err error) (*DispatchError, bool) {
	var de *DispatchError
	if errors.As(err, &de) {
		return de, true
	}
	return nil, false
}

// ProviderErrorKind categorises LLM transport failures.
type ProviderErrorKind string

const (
	ProviderRateLimit    ProviderErrorKind = "rate_limit"
	ProviderAuthFailed   ProviderErrorKind = "auth_failed"
	ProviderBadRequest   ProviderErrorKind = "bad_request"
	ProviderServerError  ProviderErrorKind = "server_error"
	ProviderNetworkError ProviderErrorKind = "network_error"
)

// Retryable reports whether this kind is worth retrying with backoff.
// Only transient transport and server failures qualify.
func (k ProviderErrorKind) Retryable() bool {
	switch k {
	case ProviderNetworkError, ProviderServerError:
		return true
	default:
		return false
	}
}

// ProviderError is a structured failure from the LLM transport.
type ProviderError struct {
	// Kind categorises the failure for retry logic.
	Kind ProviderErrorKind

	// Provider is the provider's name.
	Provider string

	// StatusCode is the HTTP status when available.
	StatusCode int

	// Message is the human-readable failure description.
	Message string

	// Cause is the underlying error.
	Cause error
}

// Error implements the error interface.
func (e *ProviderError) Error() string {
	var parts []string
	parts = append(parts, fmt.Sprintf("[llm:%s]", e.Kind))
	if e.Provider != "" {
		parts = append(parts, e.Provider)
	}
	if e.StatusCode != 0 {
		parts = append(parts, fmt.Sprintf("status=%d", e.StatusCode))
	}
	if e.Message != "" {
		parts = append(parts, e.Message)
	} else if e.Cause != nil {
		parts = append(parts, e.Cause.Error())
	}
	return strings.Join(parts, " ")
}

// Unwrap returns the underlying error.
func (e *ProviderError) Unwrap() error {
	return e.Cause
}

// NewProviderError creates a provider error, classifying the kind from
// the status code when one is given.
func NewProviderError(provider string, statusCode int, cause error) *ProviderError {
	err := &ProviderError{
		Provider:   provider,
		StatusCode: statusCode,
		Cause:      cause,
		Kind:       classifyProviderError(statusCode, cause),
	}
	if cause != nil {
		err.Message = cause.Error()
	}
	return err
}

func classifyProviderError(statusCode int, cause error) ProviderErrorKind {
	switch {
	case statusCode == 429:
		return ProviderRateLimit
	case statusCode == 401 || statusCode == 403:
		return ProviderAuthFailed
	case statusCode >= 400 && statusCode < 500:
		return ProviderBadRequest
	case statusCode >= 500:
		return ProviderServerError
	}

	if cause == nil {
		return ProviderNetworkError
	}
	errStr := strings.ToLower(cause.Error())
	switch {
	case strings.Contains(errStr, "rate limit") || strings.Contains(errStr, "too many requests"):
		return ProviderRateLimit
	case strings.Contains(errStr, "unauthorized") || strings.Contains(errStr, "api key"):
		return ProviderAuthFailed
	case strings.Contains(errStr, "invalid request") || strings.Contains(errStr, "bad request"):
		return ProviderBadRequest
	case strings.Contains(errStr, "internal server") || strings.Contains(errStr, "overloaded"):
		return ProviderServerError
	default:
		return ProviderNetworkError
	}
}

// IsProviderRetryable reports whether the error is a transient provider
// failure worth retrying.
func IsProviderRetryable(err error) bool {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Kind.Retryable()
	}
	return false
}
