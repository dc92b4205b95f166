package shell

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"sort"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
)

// Grace window for pruning finished shells.
const (
	DefaultGraceWindow = 30 * time.Minute
	MinGraceWindow     = 1 * time.Minute
	MaxGraceWindow     = 3 * time.Hour

	// ReadOutput waits this long for fresh output before returning empty.
	outputPollInterval = 50 * time.Millisecond
)

var (
	ErrShellNotFound   = errors.New("shell not found")
	ErrShellNotRunning = errors.New("shell not running")
	ErrWaitTimeout     = errors.New("wait timed out")
)

// Manager is the process-wide registry of background shells. Ids are
// globally unique within the process and never reused.
type Manager struct {
	mu          sync.Mutex
	shells      map[string]*Shell
	seq         uint64
	graceWindow time.Duration
	logger      *slog.Logger

	sweeperStop chan struct{}
	sweeperDone chan struct{}
}

var (
	defaultManager *Manager
	defaultOnce    sync.Once
)

// Default returns the process-wide shell manager, creating it on first use.
func Default() *Manager {
	defaultOnce.Do(func() {
		defaultManager = NewManager(nil)
	})
	return defaultManager
}

// NewManager creates a standalone manager. Most callers want Default.
func NewManager(logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		shells:      make(map[string]*Shell),
		graceWindow: DefaultGraceWindow,
		logger:      logger.With("component", "shell_manager"),
	}
}

// ClampGraceWindow bounds the grace window to sane limits.
func ClampGraceWindow(d time.Duration) time.Duration {
	if d < MinGraceWindow {
		return MinGraceWindow
	}
	if d > MaxGraceWindow {
		return MaxGraceWindow
	}
	return d
}

// SetGraceWindow updates the prune window and restarts the sweeper.
func (m *Manager) SetGraceWindow(d time.Duration) {
	m.mu.Lock()
	m.graceWindow = ClampGraceWindow(d)
	m.mu.Unlock()

	m.StopSweeper()
	m.StartSweeper()
}

// GraceWindow returns the current prune window.
func (m *Manager) GraceWindow() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.graceWindow
}

// Create spawns command under /bin/sh in cwd with env overlaid on the
// parent environment. The shell is registered before Create returns, so
// the id is immediately usable from other goroutines.
func (m *Manager) Create(ctx context.Context, command, cwd string, env map[string]string) (*Shell, error) {
	if command == "" {
		return nil, fmt.Errorf("command is required")
	}

	cmd := exec.CommandContext(ctx, "/bin/sh", "-c", command)
	if cwd != "" {
		cmd.Dir = cwd
	}
	if len(env) > 0 {
		base := os.Environ()
		for k, v := range env {
			base = append(base, k+"="+v)
		}
		cmd.Env = base
	}

	sh := &Shell{
		Command:   command,
		CWD:       cwd,
		state:     StatePending,
		createdAt: time.Now(),
		stdout:    &stream{},
		stderr:    &stream{},
		cmd:       cmd,
		done:      make(chan struct{}),
	}
	cmd.Stdout = sh.stdout
	cmd.Stderr = sh.stderr

	m.mu.Lock()
	m.seq++
	sh.ID = fmt.Sprintf("shell_%d_%s", m.seq, uuid.NewString()[:8])

	if err := cmd.Start(); err != nil {
		m.mu.Unlock()
		return nil, fmt.Errorf("start shell: %w", err)
	}
	sh.state = StateRunning
	sh.startedAt = time.Now()
	m.shells[sh.ID] = sh
	m.mu.Unlock()

	m.StartSweeper()

	go m.reap(sh)

	m.logger.Debug("shell created",
		"id", sh.ID,
		"command", command,
		"pid", cmd.Process.Pid)
	return sh, nil
}

// reap waits for the process and records its terminal state.
func (m *Manager) reap(sh *Shell) {
	err := sh.cmd.Wait()
	code := 0
	if err != nil {
		code = -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			code = exitErr.ExitCode()
		}
	}

	sh.mu.Lock()
	sh.exitCode = &code
	killed := sh.killRequested
	sh.mu.Unlock()

	switch {
	case killed:
		sh.setState(StateKilled)
	case code == 0:
		sh.setState(StateCompleted)
	default:
		sh.setState(StateFailed)
	}
	close(sh.done)

	m.logger.Debug("shell exited", "id", sh.ID, "exit_code", code, "state", sh.State())
}

// Get returns the shell for id.
func (m *Manager) Get(id string) (*Shell, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sh, ok := m.shells[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrShellNotFound, id)
	}
	return sh, nil
}

// Output is one ReadOutput drain.
type Output struct {
	Stdout string `json:"stdout"`
	Stderr string `json:"stderr,omitempty"`
	State  State  `json:"state"`
}

// ReadOutput returns output appended since the previous read of each
// stream. It never blocks longer than one poll interval: if no fresh
// output is buffered and the shell is still running, it waits up to
// ~50ms for more before returning.
func (m *Manager) ReadOutput(id string, includeStderr bool) (Output, error) {
	sh, err := m.Get(id)
	if err != nil {
		return Output{}, err
	}

	if !sh.stdout.pending() && !(includeStderr && sh.stderr.pending()) && !sh.State().Terminal() {
		select {
		case <-sh.done:
		case <-time.After(outputPollInterval):
		}
	}

	out := Output{
		Stdout: sh.stdout.drain(),
		State:  sh.State(),
	}
	if includeStderr {
		out.Stderr = sh.stderr.drain()
	}
	return out, nil
}

// Wait blocks until the shell exits, the timeout elapses, or ctx is
// cancelled. A timeout marks the shell timed_out and kills it.
func (m *Manager) Wait(ctx context.Context, id string, timeout time.Duration) (Info, error) {
	sh, err := m.Get(id)
	if err != nil {
		return Info{}, err
	}

	var deadline <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		deadline = timer.C
	}

	select {
	case <-sh.done:
		return sh.Snapshot(), nil
	case <-ctx.Done():
		return sh.Snapshot(), ctx.Err()
	case <-deadline:
		sh.setState(StateTimedOut)
		m.signal(sh, syscall.SIGKILL)
		return sh.Snapshot(), fmt.Errorf("%w: shell %s after %s", ErrWaitTimeout, id, timeout)
	}
}

// Kill sends SIGKILL and marks the shell killed.
func (m *Manager) Kill(id string) error {
	return m.stop(id, syscall.SIGKILL)
}

// Terminate sends SIGTERM and marks the shell killed.
func (m *Manager) Terminate(id string) error {
	return m.stop(id, syscall.SIGTERM)
}

func (m *Manager) stop(id string, sig syscall.Signal) error {
	sh, err := m.Get(id)
	if err != nil {
		return err
	}
	if sh.State().Terminal() {
		return fmt.Errorf("%w: %s is %s", ErrShellNotRunning, id, sh.State())
	}

	sh.mu.Lock()
	sh.killRequested = true
	sh.mu.Unlock()

	m.signal(sh, sig)
	m.logger.Debug("shell signalled", "id", id, "signal", sig.String())
	return nil
}

func (m *Manager) signal(sh *Shell, sig syscall.Signal) {
	if sh.cmd.Process == nil {
		return
	}
	_ = sh.cmd.Process.Signal(sig)
}

// List returns a snapshot of every shell, ordered by creation.
func (m *Manager) List() []Info {
	return m.snapshot(func(*Shell) bool { return true })
}

// ListRunning returns a snapshot of shells that have not exited.
func (m *Manager) ListRunning() []Info {
	return m.snapshot(func(sh *Shell) bool { return !sh.State().Terminal() })
}

func (m *Manager) snapshot(keep func(*Shell) bool) []Info {
	m.mu.Lock()
	shells := make([]*Shell, 0, len(m.shells))
	for _, sh := range m.shells {
		if keep(sh) {
			shells = append(shells, sh)
		}
	}
	m.mu.Unlock()

	sort.Slice(shells, func(i, j int) bool {
		a, b := shells[i].Snapshot(), shells[j].Snapshot()
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})

	out := make([]Info, 0, len(shells))
	for _, sh := range shells {
		out = append(out, sh.Snapshot())
	}
	return out
}

// Cleanup removes terminal shells whose completion is older than maxAge
// and returns the removed count.
func (m *Manager) Cleanup(maxAge time.Duration) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for id, sh := range m.shells {
		if age, ok := sh.terminalAge(); ok && age > maxAge {
			delete(m.shells, id)
			removed++
			m.logger.Debug("pruned shell", "id", id)
		}
	}
	return removed
}

// KillAll forcibly terminates every still-running shell. Used on shutdown.
func (m *Manager) KillAll() {
	m.mu.Lock()
	shells := make([]*Shell, 0, len(m.shells))
	for _, sh := range m.shells {
		shells = append(shells, sh)
	}
	m.mu.Unlock()

	for _, sh := range shells {
		if sh.State().Terminal() {
			continue
		}
		sh.mu.Lock()
		sh.killRequested = true
		sh.mu.Unlock()
		m.signal(sh, syscall.SIGKILL)
	}
}

// Reset kills every running shell and drops all entries. Tests only.
// The id sequence is preserved so ids are never reused.
func (m *Manager) Reset() {
	m.KillAll()
	m.StopSweeper()

	m.mu.Lock()
	defer m.mu.Unlock()
	m.shells = make(map[string]*Shell)
	m.logger.Debug("reset shell manager")
}

// StartSweeper starts the background goroutine that prunes old shells.
func (m *Manager) StartSweeper() {
	m.mu.Lock()
	if m.sweeperStop != nil {
		m.mu.Unlock()
		return
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	m.sweeperStop = stop
	m.sweeperDone = done
	grace := m.graceWindow
	m.mu.Unlock()

	// Sweep at most every 30 seconds or 1/6 of the grace window.
	interval := grace / 6
	if interval < 30*time.Second {
		interval = 30 * time.Second
	}

	go m.sweepLoop(interval, stop, done)
}

// StopSweeper stops the background sweeper goroutine.
func (m *Manager) StopSweeper() {
	m.mu.Lock()
	if m.sweeperStop == nil {
		m.mu.Unlock()
		return
	}
	stop := m.sweeperStop
	done := m.sweeperDone
	m.sweeperStop = nil
	m.sweeperDone = nil
	m.mu.Unlock()

	close(stop)
	<-done
}

func (m *Manager) sweepLoop(interval time.Duration, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			m.Cleanup(m.GraceWindow())
		}
	}
}

// Count returns the number of tracked shells.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.shells)
}
