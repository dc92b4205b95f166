// Package shell manages background shell processes for the runtime.
package shell

import (
	"os/exec"
	"strings"
	"sync"
	"time"
)

// State represents the lifecycle state of a shell process.
type State string

const (
	StatePending   State = "pending"
	StateRunning   State = "running"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
	StateKilled    State = "killed"
	StateTimedOut  State = "timed_out"
)

// Terminal reports whether the state is final.
func (s State) Terminal() bool {
	switch s {
	case StateCompleted, StateFailed, StateKilled, StateTimedOut:
		return true
	}
	return false
}

// Shell is a background process owned by the Manager.
type Shell struct {
	ID      string
	Command string
	CWD     string

	mu          sync.Mutex
	state       State
	exitCode    *int
	createdAt   time.Time
	startedAt   time.Time
	completedAt time.Time

	stdout *stream
	stderr *stream

	cmd           *exec.Cmd
	done          chan struct{}
	killRequested bool
}

// Info is a point-in-time snapshot of a shell.
type Info struct {
	ID          string     `json:"id"`
	Command     string     `json:"command"`
	CWD         string     `json:"cwd,omitempty"`
	State       State      `json:"state"`
	ExitCode    *int       `json:"exit_code,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// State returns the current lifecycle state.
func (s *Shell) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// ExitCode returns the exit code once the process has exited.
func (s *Shell) ExitCode() (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.exitCode == nil {
		return 0, false
	}
	return *s.exitCode, true
}

// Done returns a channel closed when the process exits.
func (s *Shell) Done() <-chan struct{} {
	return s.done
}

// Snapshot returns the shell's current metadata.
func (s *Shell) Snapshot() Info {
	s.mu.Lock()
	defer s.mu.Unlock()

	info := Info{
		ID:        s.ID,
		Command:   s.Command,
		CWD:       s.CWD,
		State:     s.state,
		CreatedAt: s.createdAt,
	}
	if s.exitCode != nil {
		code := *s.exitCode
		info.ExitCode = &code
	}
	if !s.startedAt.IsZero() {
		t := s.startedAt
		info.StartedAt = &t
	}
	if !s.completedAt.IsZero() {
		t := s.completedAt
		info.CompletedAt = &t
	}
	return info
}

func (s *Shell) setState(state State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.Terminal() {
		return
	}
	s.state = state
	if state.Terminal() {
		s.completedAt = time.Now()
	}
}

// terminalAge returns how long ago the shell reached a terminal state.
// time.Now deltas use the monotonic clock, so wall jumps do not affect it.
func (s *Shell) terminalAge() (time.Duration, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.state.Terminal() || s.completedAt.IsZero() {
		return 0, false
	}
	return time.Since(s.completedAt), true
}

// stream accumulates one output pipe and tracks the consumer's read offset.
type stream struct {
	mu     sync.Mutex
	buf    []byte
	offset int
}

func (st *stream) Write(p []byte) (int, error) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.buf = append(st.buf, p...)
	return len(p), nil
}

// drain returns bytes appended since the previous drain, decoded as UTF-8
// with invalid sequences replaced, and advances the offset.
func (st *stream) drain() string {
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.offset >= len(st.buf) {
		return ""
	}
	chunk := st.buf[st.offset:]
	st.offset = len(st.buf)
	return strings.ToValidUTF8(string(chunk), "�")
}

// pending reports whether unread output is available.
func (st *stream) pending() bool {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.offset < len(st.buf)
}
