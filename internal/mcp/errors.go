package mcp

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Standard JSON-RPC 2.0 error codes.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
)

// Client-side error codes, outside the reserved JSON-RPC range.
const (
	CodeRequestTimeout  = -32000
	CodeConnectionError = -32010
)

// RPCError is a JSON-RPC error object. It doubles as the client's
// structured error type for timeouts and connection failures.
type RPCError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("mcp error %d: %s", e.Code, e.Message)
}

// ErrNotConnected is returned when a call is attempted on a closed
// transport.
var ErrNotConnected = errors.New("mcp: not connected")

func timeoutError(timeout string) *RPCError {
	return &RPCError{Code: CodeRequestTimeout, Message: "request timeout after " + timeout}
}

func connectionError(reason string) *RPCError {
	return &RPCError{Code: CodeConnectionError, Message: reason}
}

// IsTimeout reports whether err is a request deadline failure.
func IsTimeout(err error) bool {
	var rpcErr *RPCError
	return errors.As(err, &rpcErr) && rpcErr.Code == CodeRequestTimeout
}

// IsConnectionError reports whether err marks the session dead.
func IsConnectionError(err error) bool {
	var rpcErr *RPCError
	return errors.As(err, &rpcErr) && rpcErr.Code == CodeConnectionError
}
