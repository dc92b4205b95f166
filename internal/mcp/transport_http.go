package mcp

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// HTTPTransport POSTs each outbound message to the server URL and
// queues inbound messages. When SSE is enabled a reader goroutine
// holds a GET stream open for server-initiated traffic.
type HTTPTransport struct {
	config *ServerConfig
	logger *slog.Logger
	client *http.Client

	events    chan *Notification
	requests  chan *Request
	connected atomic.Bool
	stopChan  chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewHTTPTransport creates an HTTP transport for cfg.
func NewHTTPTransport(cfg *ServerConfig) *HTTPTransport {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &HTTPTransport{
		config:   cfg,
		logger:   slog.Default().With("mcp_server", cfg.ID, "transport", "http"),
		client:   &http.Client{Timeout: timeout},
		events:   make(chan *Notification, 100),
		requests: make(chan *Request, 100),
		stopChan: make(chan struct{}),
	}
}

// Connect marks the transport ready and, when configured, starts the
// SSE reader. The initialize handshake is the client's job.
func (t *HTTPTransport) Connect(ctx context.Context) error {
	if t.config.URL == "" {
		return fmt.Errorf("url is required for http transport")
	}
	t.connected.Store(true)
	t.logger.Info("http transport ready", "url", t.config.URL)

	if t.config.SSE {
		t.wg.Add(1)
		go t.sseLoop(ctx)
	}
	return nil
}

// Close stops the SSE reader and marks the transport dead.
func (t *HTTPTransport) Close() error {
	t.closeOnce.Do(func() {
		t.connected.Store(false)
		close(t.stopChan)
		if !t.config.SSE {
			// no producer exists, close the inbound channels here
			close(t.events)
			close(t.requests)
		}
	})
	t.wg.Wait()
	return nil
}

// Call POSTs a request and decodes the response body.
func (t *HTTPTransport) Call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	if !t.connected.Load() {
		return nil, ErrNotConnected
	}

	req := Request{JSONRPC: "2.0", ID: uuid.New().String(), Method: method}
	var err error
	if req.Params, err = marshalParams(params); err != nil {
		return nil, fmt.Errorf("marshal params: %w", err)
	}
	body, _ := json.Marshal(req)

	resp, err := t.post(ctx, body)
	if err != nil {
		return nil, connectionError("http request: " + err.Error())
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		payload, _ := io.ReadAll(resp.Body)
		return nil, connectionError(fmt.Sprintf("HTTP %d: %s", resp.StatusCode, string(payload)))
	}

	var rpcResp Response
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return nil, &RPCError{Code: CodeParseError, Message: "decode response: " + err.Error()}
	}
	if rpcResp.Error != nil {
		return nil, rpcResp.Error
	}
	return rpcResp.Result, nil
}

// Notify POSTs a notification and discards the response body.
func (t *HTTPTransport) Notify(ctx context.Context, method string, params any) error {
	if !t.connected.Load() {
		return ErrNotConnected
	}
	notif := Notification{JSONRPC: "2.0", Method: method}
	var err error
	if notif.Params, err = marshalParams(params); err != nil {
		return fmt.Errorf("marshal params: %w", err)
	}
	body, _ := json.Marshal(notif)

	resp, err := t.post(ctx, body)
	if err != nil {
		return connectionError("http request: " + err.Error())
	}
	resp.Body.Close()
	return nil
}

func (t *HTTPTransport) Events() <-chan *Notification { return t.events }

func (t *HTTPTransport) Requests() <-chan *Request { return t.requests }

// Respond POSTs the answer to a server-initiated request.
func (t *HTTPTransport) Respond(ctx context.Context, id any, result any, rpcErr *RPCError) error {
	if !t.connected.Load() {
		return ErrNotConnected
	}
	resp := Response{JSONRPC: "2.0", ID: id, Error: rpcErr}
	if rpcErr == nil && result != nil {
		data, err := json.Marshal(result)
		if err != nil {
			return fmt.Errorf("marshal result: %w", err)
		}
		resp.Result = data
	}
	body, _ := json.Marshal(resp)

	httpResp, err := t.post(ctx, body)
	if err != nil {
		return connectionError("http request: " + err.Error())
	}
	httpResp.Body.Close()
	return nil
}

func (t *HTTPTransport) Connected() bool { return t.connected.Load() }

func (t *HTTPTransport) post(ctx context.Context, body []byte) (*http.Response, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, t.config.URL, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	for k, v := range t.config.Headers {
		httpReq.Header.Set(k, v)
	}
	return t.client.Do(httpReq)
}

// sseLoop keeps an SSE stream open, reconnecting until the transport
// closes. It owns the inbound channels and closes them on exit.
func (t *HTTPTransport) sseLoop(ctx context.Context) {
	defer t.wg.Done()
	defer close(t.events)
	defer close(t.requests)

	sseURL := strings.TrimSuffix(t.config.URL, "/") + "/sse"
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.stopChan:
			return
		default:
		}

		t.readSSE(ctx, sseURL)

		select {
		case <-ctx.Done():
			return
		case <-t.stopChan:
			return
		case <-time.After(5 * time.Second):
		}
	}
}

func (t *HTTPTransport) readSSE(ctx context.Context, sseURL string) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sseURL, nil)
	if err != nil {
		t.logger.Debug("failed to create SSE request", "error", err)
		return
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	for k, v := range t.config.Headers {
		req.Header.Set(k, v)
	}

	// The shared client enforces a request timeout that would cut the
	// stream short, so the SSE reader uses its own client.
	sseClient := &http.Client{}
	resp, err := sseClient.Do(req)
	if err != nil {
		t.logger.Debug("SSE connection failed", "error", err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.logger.Debug("SSE returned non-200", "status", resp.StatusCode)
		return
	}
	t.logger.Debug("SSE connected", "url", sseURL)

	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return
		case <-t.stopChan:
			return
		default:
		}

		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		t.dispatchSSE(strings.TrimPrefix(line, "data: "))
	}
	if err := scanner.Err(); err != nil {
		t.logger.Debug("SSE scanner error", "error", err)
	}
}

func (t *HTTPTransport) dispatchSSE(data string) {
	var envelope struct {
		JSONRPC string          `json:"jsonrpc"`
		ID      any             `json:"id"`
		Method  string          `json:"method"`
		Params  json.RawMessage `json:"params,omitempty"`
	}
	if err := json.Unmarshal([]byte(data), &envelope); err != nil || envelope.Method == "" {
		return
	}
	if envelope.ID != nil {
		select {
		case t.requests <- &Request{JSONRPC: envelope.JSONRPC, ID: envelope.ID, Method: envelope.Method, Params: envelope.Params}:
		default:
			t.logger.Warn("request channel full, dropping")
		}
		return
	}
	select {
	case t.events <- &Notification{JSONRPC: envelope.JSONRPC, Method: envelope.Method, Params: envelope.Params}:
	default:
		t.logger.Warn("notification channel full, dropping")
	}
}
