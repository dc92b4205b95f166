package mcp

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestServerConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		config  ServerConfig
		wantErr bool
	}{
		{"valid stdio", ServerConfig{ID: "fs", Transport: TransportStdio, Command: "mcp-fs"}, false},
		{"default transport is stdio", ServerConfig{ID: "fs", Command: "mcp-fs"}, false},
		{"valid http", ServerConfig{ID: "web", Transport: TransportHTTP, URL: "https://example.com/mcp"}, false},
		{"missing id", ServerConfig{Transport: TransportStdio, Command: "x"}, true},
		{"stdio without command", ServerConfig{ID: "fs", Transport: TransportStdio}, true},
		{"command traversal", ServerConfig{ID: "fs", Transport: TransportStdio, Command: "../../bin/sh"}, true},
		{"workdir traversal", ServerConfig{ID: "fs", Transport: TransportStdio, Command: "mcp-fs", WorkDir: "/tmp/../../etc"}, true},
		{"arg with pipe", ServerConfig{ID: "fs", Transport: TransportStdio, Command: "mcp-fs", Args: []string{"a | b"}}, true},
		{"arg with substitution", ServerConfig{ID: "fs", Transport: TransportStdio, Command: "mcp-fs", Args: []string{"$(rm -rf)"}}, true},
		{"arg with spaces ok", ServerConfig{ID: "fs", Transport: TransportStdio, Command: "mcp-fs", Args: []string{"--root", "my dir"}}, false},
		{"http without url", ServerConfig{ID: "web", Transport: TransportHTTP}, true},
		{"http bad scheme", ServerConfig{ID: "web", Transport: TransportHTTP, URL: "ftp://x"}, true},
		{"unknown transport", ServerConfig{ID: "x", Transport: "grpc"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestNewTransportSelection(t *testing.T) {
	if _, ok := NewTransport(&ServerConfig{ID: "a", Transport: TransportHTTP, URL: "http://x"}).(*HTTPTransport); !ok {
		t.Error("http config should build an HTTPTransport")
	}
	if _, ok := NewTransport(&ServerConfig{ID: "b", Command: "x"}).(*StdioTransport); !ok {
		t.Error("default config should build a StdioTransport")
	}
}

func TestRPCErrorClassification(t *testing.T) {
	timeout := timeoutError((5 * time.Second).String())
	if !IsTimeout(timeout) {
		t.Error("IsTimeout(timeoutError) = false")
	}
	if IsConnectionError(timeout) {
		t.Error("timeout misclassified as connection error")
	}

	conn := connectionError("broken pipe")
	if !IsConnectionError(conn) {
		t.Error("IsConnectionError(connectionError) = false")
	}
	if IsTimeout(conn) {
		t.Error("connection error misclassified as timeout")
	}

	wrapped := fmt.Errorf("call tool: %w", conn)
	if !IsConnectionError(wrapped) {
		t.Error("classification should see through wrapping")
	}
	if IsTimeout(errors.New("plain")) || IsConnectionError(errors.New("plain")) {
		t.Error("plain errors should not classify")
	}
}

func TestRPCErrorMessage(t *testing.T) {
	err := &RPCError{Code: CodeMethodNotFound, Message: "no such method"}
	want := "mcp error -32601: no such method"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}
