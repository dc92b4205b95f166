package hooks

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestRegistryDispatchOrder(t *testing.T) {
	r := NewRegistry(nil)
	var order []string

	r.Register("tool:*", func(ctx context.Context, e *Event) error {
		order = append(order, "low")
		return nil
	}, WithPriority(PriorityLow), WithName("low"))
	r.Register("tool:*", func(ctx context.Context, e *Event) error {
		order = append(order, "high")
		return nil
	}, WithPriority(PriorityHigh), WithName("high"))

	if err := r.Dispatch(context.Background(), NewEvent(EventToolPostExecute)); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if len(order) != 2 || order[0] != "high" || order[1] != "low" {
		t.Errorf("order = %v, want [high low]", order)
	}
}

func TestRegistryPreExecuteVeto(t *testing.T) {
	r := NewRegistry(nil)
	r.Register("tool:pre_execute", func(ctx context.Context, e *Event) error {
		return errors.New("not allowed here")
	}, WithName("guard"))

	err := r.Dispatch(context.Background(), NewEvent(EventToolPreExecute).WithTool("bash"))
	var veto *VetoError
	if !errors.As(err, &veto) {
		t.Fatalf("error = %v, want VetoError", err)
	}
	if veto.Hook != "guard" || !strings.Contains(veto.Reason, "not allowed") {
		t.Errorf("veto = %+v", veto)
	}
}

func TestRegistryNonPreExecuteErrorsSwallowed(t *testing.T) {
	r := NewRegistry(nil)
	calls := 0
	r.Register("tool:*", func(ctx context.Context, e *Event) error {
		calls++
		return errors.New("boom")
	}, WithPriority(PriorityHigh))
	r.Register("tool:*", func(ctx context.Context, e *Event) error {
		calls++
		return nil
	}, WithPriority(PriorityLow))

	if err := r.Dispatch(context.Background(), NewEvent(EventToolError)); err != nil {
		t.Errorf("Dispatch returned %v, want nil", err)
	}
	if calls != 2 {
		t.Errorf("calls = %d, want 2 (chain continues past errors)", calls)
	}
}

func TestRegistryPanicRecovered(t *testing.T) {
	r := NewRegistry(nil)
	r.Register("session:*", func(ctx context.Context, e *Event) error {
		panic("handler bug")
	})
	if err := r.Dispatch(context.Background(), NewEvent(EventSessionStart)); err != nil {
		t.Errorf("panic leaked as error on non-pre_execute event: %v", err)
	}
}

func TestRegistryUnregisterSource(t *testing.T) {
	r := NewRegistry(nil)
	noop := func(ctx context.Context, e *Event) error { return nil }
	r.Register("tool:*", noop, WithSource("pluginA"))
	r.Register("llm:*", noop, WithSource("pluginA"))
	kept := r.Register("session:*", noop, WithSource("pluginB"))

	if removed := r.UnregisterSource("pluginA"); removed != 2 {
		t.Errorf("removed = %d, want 2", removed)
	}
	if r.Count() != 1 {
		t.Errorf("count = %d, want 1", r.Count())
	}
	if !r.Unregister(kept) {
		t.Error("surviving registration missing")
	}
}

func TestBusSubprocessEnv(t *testing.T) {
	dir := t.TempDir()
	outFile := dir + "/env.out"

	bus := NewBus(nil, nil)
	bus.AddHook(Hook{
		Pattern: "tool:post_execute",
		Command: fmt.Sprintf(`printf '%%s|%%s|%%s\n' "$RUNTIME_EVENT" "$RUNTIME_TOOL_NAME" "$RUNTIME_EXIT_CODE" > %s`, outFile),
		Enabled: true,
	})

	event := NewEvent(EventToolPostExecute).
		WithSession("sess-1").
		WithTool("bash").
		WithData("exit_code", 0)
	if err := bus.Emit(context.Background(), event); err != nil {
		t.Fatalf("Emit: %v", err)
	}

	data := readFileEventually(t, outFile)
	want := "tool:post_execute|bash|0"
	if strings.TrimSpace(data) != want {
		t.Errorf("hook env = %q, want %q", strings.TrimSpace(data), want)
	}
}

func TestBusPreExecuteVetoFromStderr(t *testing.T) {
	bus := NewBus(nil, nil)
	bus.AddHook(Hook{
		Pattern: "tool:pre_execute:bash",
		Command: `echo "dangerous command blocked" >&2; exit 1`,
		Enabled: true,
	})

	err := bus.Emit(context.Background(), NewEvent(EventToolPreExecute).WithTool("bash"))
	var veto *VetoError
	if !errors.As(err, &veto) {
		t.Fatalf("error = %v, want VetoError", err)
	}
	if !strings.Contains(veto.Reason, "dangerous command blocked") {
		t.Errorf("reason = %q, want stderr text", veto.Reason)
	}
}

func TestBusNonPreExecuteIgnoresExitCode(t *testing.T) {
	bus := NewBus(nil, nil)
	bus.AddHook(Hook{
		Pattern: "tool:post_execute",
		Command: "exit 3",
		Enabled: true,
	})
	if err := bus.Emit(context.Background(), NewEvent(EventToolPostExecute).WithTool("bash")); err != nil {
		t.Errorf("Emit = %v, want nil for non-pre_execute exit codes", err)
	}
}

func TestBusDisabledHookSkipped(t *testing.T) {
	bus := NewBus(nil, nil)
	bus.AddHook(Hook{
		Pattern: "tool:pre_execute",
		Command: "exit 1",
		Enabled: false,
	})
	if err := bus.Emit(context.Background(), NewEvent(EventToolPreExecute).WithTool("bash")); err != nil {
		t.Errorf("disabled hook still ran: %v", err)
	}
}

func TestBusTimeoutKillsHook(t *testing.T) {
	bus := NewBus(nil, nil)
	bus.AddHook(Hook{
		Pattern: "tool:pre_execute",
		Command: "sleep 30",
		Timeout: 0.1,
		Enabled: true,
	})

	start := time.Now()
	err := bus.Emit(context.Background(), NewEvent(EventToolPreExecute).WithTool("bash"))
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Fatalf("hook not killed at deadline, took %s", elapsed)
	}
	var veto *VetoError
	if !errors.As(err, &veto) {
		t.Errorf("killed pre_execute hook should veto, got %v", err)
	}
}

func TestBusConcurrentDispatch(t *testing.T) {
	dir := t.TempDir()

	bus := NewBus(nil, nil)
	for i := 0; i < 3; i++ {
		bus.AddHook(Hook{
			Pattern: "session:start",
			Command: fmt.Sprintf("sleep 0.2; touch %s/hook%d", dir, i),
			Enabled: true,
		})
	}

	start := time.Now()
	if err := bus.Emit(context.Background(), NewEvent(EventSessionStart)); err != nil {
		t.Fatalf("Emit: %v", err)
	}
	// Three 200ms hooks run concurrently, not serially.
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("emit took %s, hooks appear serialised", elapsed)
	}
}

func TestBusInProcessRunsBeforeSubprocess(t *testing.T) {
	bus := NewBus(nil, nil)
	bus.AddHook(Hook{
		Pattern: "tool:pre_execute",
		Command: "exit 1",
		Enabled: true,
	})

	var mu sync.Mutex
	inProcessRan := false
	bus.Registry().Register("tool:pre_execute", func(ctx context.Context, e *Event) error {
		mu.Lock()
		inProcessRan = true
		mu.Unlock()
		return errors.New("in-process veto")
	}, WithName("first"))

	err := bus.Emit(context.Background(), NewEvent(EventToolPreExecute).WithTool("bash"))
	var veto *VetoError
	if !errors.As(err, &veto) {
		t.Fatalf("error = %v, want VetoError", err)
	}
	if veto.Hook != "first" {
		t.Errorf("veto hook = %s, want the in-process handler", veto.Hook)
	}
	if !inProcessRan {
		t.Error("in-process handler did not run")
	}
}

func readFileEventually(t *testing.T, path string) string {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		data, err := os.ReadFile(path)
		if err == nil {
			return string(data)
		}
		if time.Now().After(deadline) {
			t.Fatalf("file %s never appeared: %v", path, err)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestBusHookStdoutLogged(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	b := NewBus(NewRegistry(logger), logger)
	b.SetHooks([]Hook{{
		Pattern: "tool:post_execute",
		Command: "echo hook saw the call",
		Timeout: 5,
		Enabled: true,
	}})

	if err := b.Emit(context.Background(), NewEvent(EventToolPostExecute)); err != nil {
		t.Fatalf("Emit: %v", err)
	}
	if !strings.Contains(buf.String(), "hook saw the call") {
		t.Errorf("hook stdout missing from log:\n%s", buf.String())
	}
}
