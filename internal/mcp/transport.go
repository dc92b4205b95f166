package mcp

import (
	"context"
	"encoding/json"
)

// Transport frames JSON-RPC messages over a byte channel.
type Transport interface {
	// Connect establishes the connection.
	Connect(ctx context.Context) error

	// Close tears the connection down. Idempotent.
	Close() error

	// Call sends a request and waits for the matching response.
	Call(ctx context.Context, method string, params any) (json.RawMessage, error)

	// Notify sends a notification. No response is expected.
	Notify(ctx context.Context, method string, params any) error

	// Events delivers server-initiated notifications.
	Events() <-chan *Notification

	// Requests delivers server-initiated requests.
	Requests() <-chan *Request

	// Respond answers a server-initiated request.
	Respond(ctx context.Context, id any, result any, rpcErr *RPCError) error

	// Connected reports whether the transport is usable.
	Connected() bool
}

// NewTransport builds the transport for a server configuration.
func NewTransport(cfg *ServerConfig) Transport {
	switch cfg.Transport {
	case TransportHTTP:
		return NewHTTPTransport(cfg)
	default:
		return NewStdioTransport(cfg)
	}
}

func marshalParams(params any) (json.RawMessage, error) {
	if params == nil {
		return nil, nil
	}
	return json.Marshal(params)
}
