package plugins

import (
	"errors"
	"fmt"
)

// ErrQuarantined marks a plugin that failed a previous load attempt.
var ErrQuarantined = errors.New("plugin is quarantined")

// ErrorKind categorises plugin failures by the stage they occur in.
type ErrorKind string

const (
	KindLoad       ErrorKind = "load"
	KindLifecycle  ErrorKind = "lifecycle"
	KindManifest   ErrorKind = "manifest"
	KindDependency ErrorKind = "dependency"
	KindConfig     ErrorKind = "config"
)

// Error is a structured plugin failure.
type Error struct {
	Kind     ErrorKind
	PluginID string
	Message  string
	Cause    error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Cause != nil {
		msg = e.Cause.Error()
	}
	if e.PluginID != "" {
		return fmt.Sprintf("plugin %s: %s: %s", e.PluginID, e.Kind, msg)
	}
	return fmt.Sprintf("plugin: %s: %s", e.Kind, msg)
}

func (e *Error) Unwrap() error { return e.Cause }

func newError(kind ErrorKind, pluginID string, cause error) *Error {
	return &Error{Kind: kind, PluginID: pluginID, Cause: cause}
}
