package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"
)

// startupGrace is how long Connect watches for an immediate child exit
// before declaring the process alive.
const startupGrace = 200 * time.Millisecond

// StdioTransport frames one JSON object per line over a child
// process's stdin/stdout.
type StdioTransport struct {
	config *ServerConfig
	logger *slog.Logger

	process *exec.Cmd
	stdin   io.WriteCloser
	stdout  *bufio.Scanner
	stderr  io.ReadCloser

	pending   map[int64]chan *Response
	pendingMu sync.Mutex
	events    chan *Notification
	requests  chan *Request
	nextID    atomic.Int64

	connected atomic.Bool
	stopChan  chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewStdioTransport creates a stdio transport for cfg.
func NewStdioTransport(cfg *ServerConfig) *StdioTransport {
	return &StdioTransport{
		config:   cfg,
		logger:   slog.Default().With("mcp_server", cfg.ID, "transport", "stdio"),
		pending:  make(map[int64]chan *Response),
		events:   make(chan *Notification, 100),
		requests: make(chan *Request, 100),
		stopChan: make(chan struct{}),
	}
}

// Connect spawns the server process and starts the reader. A child
// that exits within the startup grace period fails the connect.
func (t *StdioTransport) Connect(ctx context.Context) error {
	if t.config.Command == "" {
		return fmt.Errorf("command is required for stdio transport")
	}

	t.process = exec.CommandContext(ctx, t.config.Command, t.config.Args...)
	t.process.Env = os.Environ()
	for k, v := range t.config.Env {
		t.process.Env = append(t.process.Env, fmt.Sprintf("%s=%s", k, v))
	}
	if t.config.WorkDir != "" {
		t.process.Dir = t.config.WorkDir
	}

	var err error
	t.stdin, err = t.process.StdinPipe()
	if err != nil {
		return fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := t.process.StdoutPipe()
	if err != nil {
		return fmt.Errorf("stdout pipe: %w", err)
	}
	t.stdout = bufio.NewScanner(stdout)
	t.stdout.Buffer(make([]byte, 1024*1024), 1024*1024)
	t.stderr, _ = t.process.StderrPipe()

	if err := t.process.Start(); err != nil {
		return fmt.Errorf("start process: %w", err)
	}

	t.connected.Store(true)
	t.logger.Info("started MCP server process",
		"command", t.config.Command,
		"pid", t.process.Process.Pid)

	t.wg.Add(1)
	go t.readLoop()
	if t.stderr != nil {
		t.wg.Add(1)
		go t.logStderr()
	}

	exited := make(chan error, 1)
	go func() {
		err := t.process.Wait()
		exited <- err
		t.connected.Store(false)
		t.failPending(connectionError("server process exited"))
	}()

	select {
	case err := <-exited:
		t.connected.Store(false)
		return fmt.Errorf("server exited immediately: %v", err)
	case <-ctx.Done():
		t.Close()
		return ctx.Err()
	case <-time.After(startupGrace):
	}
	return nil
}

// Close kills the child and releases the reader goroutines.
func (t *StdioTransport) Close() error {
	t.closeOnce.Do(func() {
		t.connected.Store(false)
		close(t.stopChan)
		if t.stdin != nil {
			t.stdin.Close()
		}
		if t.process != nil && t.process.Process != nil {
			t.process.Process.Kill()
		}
		t.failPending(connectionError("transport closed"))
	})
	t.wg.Wait()
	return nil
}

// Call sends a request and waits for the response, the context, the
// per-request timeout, or transport shutdown, whichever fires first.
func (t *StdioTransport) Call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	if !t.connected.Load() {
		return nil, ErrNotConnected
	}

	id := t.nextID.Add(1)
	req := Request{JSONRPC: "2.0", ID: id, Method: method}
	var err error
	if req.Params, err = marshalParams(params); err != nil {
		return nil, fmt.Errorf("marshal params: %w", err)
	}

	respChan := make(chan *Response, 1)
	t.pendingMu.Lock()
	t.pending[id] = respChan
	t.pendingMu.Unlock()
	defer func() {
		t.pendingMu.Lock()
		delete(t.pending, id)
		t.pendingMu.Unlock()
	}()

	data, _ := json.Marshal(req)
	if _, err := t.stdin.Write(append(data, '\n')); err != nil {
		return nil, connectionError("write request: " + err.Error())
	}

	timeout := t.config.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	select {
	case resp := <-respChan:
		if resp.Error != nil {
			return nil, resp.Error
		}
		return resp.Result, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(timeout):
		return nil, timeoutError(timeout.String())
	case <-t.stopChan:
		return nil, connectionError("transport closed")
	}
}

// Notify sends a fire-and-forget notification.
func (t *StdioTransport) Notify(ctx context.Context, method string, params any) error {
	if !t.connected.Load() {
		return ErrNotConnected
	}
	notif := Notification{JSONRPC: "2.0", Method: method}
	var err error
	if notif.Params, err = marshalParams(params); err != nil {
		return fmt.Errorf("marshal params: %w", err)
	}
	data, _ := json.Marshal(notif)
	if _, err := t.stdin.Write(append(data, '\n')); err != nil {
		return connectionError("write notification: " + err.Error())
	}
	return nil
}

func (t *StdioTransport) Events() <-chan *Notification { return t.events }

func (t *StdioTransport) Requests() <-chan *Request { return t.requests }

// Respond answers a server-initiated request over stdin.
func (t *StdioTransport) Respond(ctx context.Context, id any, result any, rpcErr *RPCError) error {
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
	data, _ := json.Marshal(resp)
	if _, err := t.stdin.Write(append(data, '\n')); err != nil {
		return connectionError("write response: " + err.Error())
	}
	return nil
}

func (t *StdioTransport) Connected() bool { return t.connected.Load() }

// failPending completes every inflight waiter with rpcErr.
func (t *StdioTransport) failPending(rpcErr *RPCError) {
	t.pendingMu.Lock()
	defer t.pendingMu.Unlock()
	for id, ch := range t.pending {
		select {
		case ch <- &Response{JSONRPC: "2.0", ID: id, Error: rpcErr}:
		default:
		}
		delete(t.pending, id)
	}
}

// readLoop routes line-delimited messages from the child's stdout.
// It owns the events and requests channels and closes them on exit.
func (t *StdioTransport) readLoop() {
	defer t.wg.Done()
	defer close(t.events)
	defer close(t.requests)
	defer t.connected.Store(false)
	defer t.failPending(connectionError("server closed stdout"))

	for t.stdout.Scan() {
		select {
		case <-t.stopChan:
			return
		default:
		}
		line := t.stdout.Text()
		if line == "" {
			continue
		}
		t.processLine(line)
	}
	if err := t.stdout.Err(); err != nil {
		t.logger.Error("stdout scanner error", "error", err)
	}
}

// processLine dispatches one JSON-RPC message: responses complete
// pending waiters, requests and notifications go to their channels.
func (t *StdioTransport) processLine(line string) {
	var envelope struct {
		JSONRPC string          `json:"jsonrpc"`
		ID      any             `json:"id"`
		Method  string          `json:"method"`
		Result  json.RawMessage `json:"result,omitempty"`
		Error   *RPCError       `json:"error,omitempty"`
		Params  json.RawMessage `json:"params,omitempty"`
	}
	if err := json.Unmarshal([]byte(line), &envelope); err != nil {
		t.logger.Warn("unparseable message from server", "error", err)
		return
	}

	// Server-initiated request: has both method and id.
	if envelope.Method != "" && envelope.ID != nil {
		select {
		case t.requests <- &Request{JSONRPC: envelope.JSONRPC, ID: envelope.ID, Method: envelope.Method, Params: envelope.Params}:
		default:
			t.logger.Warn("request channel full, dropping")
		}
		return
	}

	if envelope.Method != "" {
		select {
		case t.events <- &Notification{JSONRPC: envelope.JSONRPC, Method: envelope.Method, Params: envelope.Params}:
		default:
			t.logger.Warn("notification channel full, dropping")
		}
		return
	}

	if envelope.ID == nil {
		return
	}
	var id int64
	switch v := envelope.ID.(type) {
	case float64:
		id = int64(v)
	case int64:
		id = v
	case int:
		id = int64(v)
	default:
		t.logger.Warn("unexpected response id type", "id", envelope.ID)
		return
	}

	t.pendingMu.Lock()
	ch, ok := t.pending[id]
	if ok {
		select {
		case ch <- &Response{JSONRPC: envelope.JSONRPC, ID: envelope.ID, Result: envelope.Result, Error: envelope.Error}:
		default:
		}
		delete(t.pending, id)
	}
	t.pendingMu.Unlock()
	if !ok {
		t.logger.Debug("dropping response with no pending request", "id", id)
	}
}

func (t *StdioTransport) logStderr() {
	defer t.wg.Done()
	scanner := bufio.NewScanner(t.stderr)
	for scanner.Scan() {
		select {
		case <-t.stopChan:
			return
		default:
		}
		if line := scanner.Text(); line != "" {
			t.logger.Debug("server stderr", "message", line)
		}
	}
}
