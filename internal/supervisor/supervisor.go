// Package supervisor owns the agent subprocess: locating its executable,
// spawning it with the right environment and pipes, monitoring it for
// unexpected exit, and forwarding signals.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/lukele/CodexMonitor/internal/logging"
	"go.uber.org/zap"
)

// ErrAgentUnavailable is returned when a command is attempted while the
// agent subprocess is absent or has exited.
var ErrAgentUnavailable = errors.New("supervisor: agent process unavailable")

// ErrNoExecutable is returned when no locate strategy found the agent binary.
var ErrNoExecutable = errors.New("supervisor: agent executable not found")

// Handle wraps a running agent subprocess and its pipes.
type Handle struct {
	cmd    *exec.Cmd
	Stdin  io.WriteCloser
	Stdout io.ReadCloser
	Stderr io.ReadCloser

	// Done is closed when the process has exited; the error (if any) from
	// cmd.Wait() is sent before the channel closes.
	Done chan error
}

// Pid returns the child process id.
func (h *Handle) Pid() int {
	if h.cmd == nil || h.cmd.Process == nil {
		return 0
	}
	return h.cmd.Process.Pid
}

// Supervisor spawns and monitors a single agent subprocess at a time.
// The bridge session is the sole owner of the Supervisor's methods. No
// internal locking is needed beyond protecting the handle pointer itself,
// since the single-threaded runtime never calls concurrently.
type Supervisor struct {
	logger       *logging.Logger
	locateOpts   []locateOption
	envAllowlist []string
	onSpawn      func(*Handle)

	mu     sync.Mutex
	handle *Handle
}

// OnSpawn registers a callback invoked synchronously, with no lock held,
// immediately after every successful Spawn. The bridge uses this to attach
// its stdout/stderr readers to a freshly spawned handle without polling.
func (s *Supervisor) OnSpawn(fn func(*Handle)) {
	s.mu.Lock()
	s.onSpawn = fn
	s.mu.Unlock()
}

// New creates a Supervisor. locateOpts determines how the agent binary is
// found (see DefaultLocateOptions); envAllowlist names the credential
// environment variables forwarded unchanged to the child. The bridge
// itself does not consume these, only the agent does.
func New(logger *logging.Logger, locateOpts []locateOption, envAllowlist []string) *Supervisor {
	if logger == nil {
		logger = logging.Default()
	}
	return &Supervisor{
		logger:       logger.WithFields(zap.String("component", "supervisor")),
		locateOpts:   locateOpts,
		envAllowlist: envAllowlist,
	}
}

// Current returns the currently running handle, or nil if the agent is not running.
func (s *Supervisor) Current() *Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handle
}

// Spawn locates and starts the agent subprocess in cwd, wiring its three
// pipes: stdin for commands, stdout for newline-JSON events and responses,
// stderr for diagnostic lines. Replaces any previously tracked
// handle without stopping it. Callers must Stop() an old handle first if
// they want a clean restart.
func (s *Supervisor) Spawn(ctx context.Context, cwd string) (*Handle, error) {
	binary := Locate(ctx, s.locateOpts...)
	if binary == "" {
		return nil, ErrNoExecutable
	}

	cmd := exec.Command(binary)
	cmd.Dir = cwd
	cmd.Env = s.buildEnv()

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("supervisor: stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("supervisor: stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("supervisor: stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("supervisor: start %s: %w", binary, err)
	}

	handle := &Handle{cmd: cmd, Stdin: stdin, Stdout: stdout, Stderr: stderr, Done: make(chan error, 1)}

	go func() {
		err := cmd.Wait()
		handle.Done <- err
		close(handle.Done)
	}()

	s.mu.Lock()
	s.handle = handle
	onSpawn := s.onSpawn
	s.mu.Unlock()

	s.logger.Info("agent spawned", zap.String("binary", binary), zap.Int("pid", handle.Pid()))
	if onSpawn != nil {
		onSpawn(handle)
	}
	return handle, nil
}

// baseEnvPassthrough names the operational variables every child process
// needs regardless of allowlist, so that PATH-relative tool lookups and
// home-relative config resolution inside the agent keep working.
var baseEnvPassthrough = map[string]bool{
	"PATH": true,
	"HOME": true,
	"TERM": true,
	"LANG": true,
}

// buildEnv returns the child's environment: the operational passthrough
// variables plus only the allowlisted credential variables, both read from
// the bridge's own environment. Unlisted variables (the bridge's own
// unrelated configuration, other providers' credentials, ...) are not
// forwarded to the agent subprocess.
func (s *Supervisor) buildEnv() []string {
	allowed := make(map[string]bool, len(s.envAllowlist))
	for _, name := range s.envAllowlist {
		allowed[name] = true
	}

	env := make([]string, 0, len(baseEnvPassthrough)+len(allowed))
	for _, e := range os.Environ() {
		key, _, ok := strings.Cut(e, "=")
		if !ok {
			continue
		}
		if baseEnvPassthrough[key] || allowed[key] {
			env = append(env, e)
		}
	}
	return env
}

// Clear drops the tracked handle without touching the process (used after
// the process has already exited on its own).
func (s *Supervisor) Clear() {
	s.mu.Lock()
	s.handle = nil
	s.mu.Unlock()
}

// Stop forwards an interrupt to the child and waits up to timeout for clean
// exit before force-killing it.
func (s *Supervisor) Stop(timeout time.Duration) {
	s.mu.Lock()
	handle := s.handle
	s.handle = nil
	s.mu.Unlock()

	if handle == nil || handle.cmd.Process == nil {
		return
	}

	_ = handle.cmd.Process.Signal(os.Interrupt)

	select {
	case <-handle.Done:
		return
	case <-time.After(timeout):
		_ = handle.cmd.Process.Kill()
		<-handle.Done
	}
}

// Signal forwards an OS signal to the running child, if any.
func (s *Supervisor) Signal(sig os.Signal) error {
	handle := s.Current()
	if handle == nil || handle.cmd.Process == nil {
		return ErrAgentUnavailable
	}
	return handle.cmd.Process.Signal(sig)
}
