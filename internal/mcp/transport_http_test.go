package mcp

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestHTTPTransportCall(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req Request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.JSONRPC != "2.0" || req.Method != "tools/list" {
			t.Errorf("request = %+v", req)
		}
		if r.Header.Get("Authorization") != "Bearer token123" {
			t.Errorf("missing auth header")
		}
		json.NewEncoder(w).Encode(Response{
			JSONRPC: "2.0",
			ID:      req.ID,
			Result:  json.RawMessage(`{"tools":[]}`),
		})
	}))
	defer server.Close()

	transport := NewHTTPTransport(&ServerConfig{
		ID:      "web",
		URL:     server.URL,
		Headers: map[string]string{"Authorization": "Bearer token123"},
	})
	if err := transport.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer transport.Close()

	result, err := transport.Call(context.Background(), "tools/list", nil)
	if err != nil {
		t.Fatalf("Call() error = %v", err)
	}
	if string(result) != `{"tools":[]}` {
		t.Errorf("result = %s", result)
	}
}

func TestHTTPTransportRPCError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(Response{
			JSONRPC: "2.0",
			ID:      "1",
			Error:   &RPCError{Code: CodeMethodNotFound, Message: "nope"},
		})
	}))
	defer server.Close()

	transport := NewHTTPTransport(&ServerConfig{ID: "web", URL: server.URL})
	if err := transport.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer transport.Close()

	_, err := transport.Call(context.Background(), "bogus/method", nil)
	rpcErr, ok := err.(*RPCError)
	if !ok {
		t.Fatalf("error type = %T, want *RPCError", err)
	}
	if rpcErr.Code != CodeMethodNotFound {
		t.Errorf("code = %d, want %d", rpcErr.Code, CodeMethodNotFound)
	}
}

func TestHTTPTransportNon200(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "backend down", http.StatusBadGateway)
	}))
	defer server.Close()

	transport := NewHTTPTransport(&ServerConfig{ID: "web", URL: server.URL})
	if err := transport.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer transport.Close()

	_, err := transport.Call(context.Background(), "tools/list", nil)
	if !IsConnectionError(err) {
		t.Errorf("Call() error = %v, want connection error", err)
	}
}

func TestHTTPTransportNotConnected(t *testing.T) {
	transport := NewHTTPTransport(&ServerConfig{ID: "web", URL: "http://localhost:1"})
	if _, err := transport.Call(context.Background(), "tools/list", nil); err != ErrNotConnected {
		t.Errorf("Call() before Connect error = %v, want ErrNotConnected", err)
	}
}

func TestHTTPTransportCloseWithoutSSE(t *testing.T) {
	transport := NewHTTPTransport(&ServerConfig{ID: "web", URL: "http://example.com"})
	if err := transport.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if err := transport.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if transport.Connected() {
		t.Error("Connected() = true after Close")
	}
	// Inbound channels close so consumers can drain and exit.
	if _, ok := <-transport.Events(); ok {
		t.Error("events channel still open after Close")
	}
	if _, ok := <-transport.Requests(); ok {
		t.Error("requests channel still open after Close")
	}
	// Close is idempotent.
	if err := transport.Close(); err != nil {
		t.Fatalf("second Close() error = %v", err)
	}
}
