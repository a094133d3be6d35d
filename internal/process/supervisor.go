package process

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"
)

// Status represents the current state of a supervised process.
type Status string

const (
	StatusStopped  Status = "stopped"
	StatusStarting Status = "starting"
	StatusRunning  Status = "running"
	StatusFailed   Status = "failed"
)

// Output stream names passed to LineHandler.
const (
	Stdout = "stdout"
	Stderr = "stderr"
)

// MaxLineSize is the longest output line delivered whole. Longer lines are
// split.
const MaxLineSize = 64 * 1024

// ErrAlreadyRunning is returned by Start on a running supervisor.
var ErrAlreadyRunning = errors.New("process: already running")

// LineHandler receives one line of output without its trailing newline.
// It is called from the stdout and stderr readers concurrently and must
// not retain line.
type LineHandler func(stream string, line []byte)

// Config holds configuration for a supervised process.
type Config struct {
	// Name is a human-readable identifier for logging.
	Name string

	// Binary is the executable, resolved through PATH if not absolute.
	Binary string

	// Args are command-line arguments to pass to the binary.
	Args []string

	// Env are additional environment variables (key=value format) on top
	// of the parent environment.
	Env []string

	// WorkDir is the working directory. Empty inherits the parent's.
	WorkDir string

	// RestartOnFailure restarts the process when it exits on its own.
	RestartOnFailure bool

	// RestartDelay is the wait before each restart.
	RestartDelay time.Duration

	// MaxRestarts limits restarts. 0 means unlimited.
	MaxRestarts int

	// GracefulTimeout is how long to wait after SIGTERM before SIGKILL.
	GracefulTimeout time.Duration

	// OnLine receives output lines. Nil discards output.
	OnLine LineHandler

	// OnExit is called whenever the process exits, with nil for a
	// requested stop.
	OnExit func(err error)
}

// Logger defines the logging interface for the supervisor.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Supervisor runs and restarts one external process.
type Supervisor struct {
	config Config
	logger Logger

	mu        sync.RWMutex
	cmd       *exec.Cmd
	status    Status
	restarts  int
	lastError error
	startTime time.Time
	cancel    context.CancelFunc
	done      chan struct{}
}

// New creates a supervisor, filling zero timings with defaults.
func New(cfg Config) *Supervisor {
	if cfg.RestartDelay == 0 {
		cfg.RestartDelay = time.Second
	}
	if cfg.GracefulTimeout == 0 {
		cfg.GracefulTimeout = 5 * time.Second
	}
	return &Supervisor{
		config: cfg,
		logger: noopLogger{},
		status: StatusStopped,
	}
}

// SetLogger sets the logger for the supervisor.
func (s *Supervisor) SetLogger(logger Logger) {
	s.logger = logger
}

// Start launches the process and monitors it until Stop or until ctx is
// cancelled. An error means the first launch failed and nothing is running.
func (s *Supervisor) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.status == StatusRunning || s.status == StatusStarting {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrAlreadyRunning, s.config.Name)
	}
	if s.cancel != nil {
		s.cancel() // previous run that gave up on restarts
	}
	s.status = StatusStarting
	s.restarts = 0
	s.lastError = nil
	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	s.cancel, s.done = cancel, done
	s.mu.Unlock()

	run, err := s.spawn(runCtx)
	if err != nil {
		cancel()
		close(done)
		s.mu.Lock()
		s.cancel, s.done = nil, nil
		s.mu.Unlock()
		s.setFailed(err)
		return err
	}

	go s.monitor(runCtx, run, done)
	return nil
}

// running is one launched process and its output readers.
type running struct {
	cmd     *exec.Cmd
	readers sync.WaitGroup
	exited  chan struct{}
}

// wait blocks until output is drained and the process has exited.
func (r *running) wait() error {
	r.readers.Wait()
	err := r.cmd.Wait()
	close(r.exited)
	return err
}

// escalate kills the whole process group once ctx is done and the run has
// not finished within grace. exec.Cmd's own WaitDelay kill reaches only
// the leader, and a child still holding the output pipes would block wait.
func (r *running) escalate(ctx context.Context, grace time.Duration) {
	select {
	case <-r.exited:
		return
	case <-ctx.Done():
	}

	timer := time.NewTimer(grace)
	defer timer.Stop()
	select {
	case <-r.exited:
	case <-timer.C:
		//nolint:errcheck // ESRCH when the group is already gone
		syscall.Kill(-r.cmd.Process.Pid, syscall.SIGKILL)
	}
}

func (s *Supervisor) spawn(ctx context.Context) (*running, error) {
	s.logger.Info("starting process",
		"name", s.config.Name,
		"binary", s.config.Binary,
		"args", s.config.Args,
	)

	cmd := exec.CommandContext(ctx, s.config.Binary, s.config.Args...) //nolint:gosec // Binary comes from operator-written plugin manifests

	// Own process group so termination reaches the tool's children.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGTERM)
	}
	cmd.WaitDelay = s.config.GracefulTimeout

	if s.config.Env != nil {
		cmd.Env = append(os.Environ(), s.config.Env...)
	}
	if s.config.WorkDir != "" {
		cmd.Dir = s.config.WorkDir
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("creating stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("creating stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting %s: %w", s.config.Name, err)
	}

	run := &running{cmd: cmd, exited: make(chan struct{})}
	go run.escalate(ctx, s.config.GracefulTimeout)
	run.readers.Add(2)
	go s.readLines(&run.readers, Stdout, stdout)
	go s.readLines(&run.readers, Stderr, stderr)

	s.mu.Lock()
	s.cmd = cmd
	s.status = StatusRunning
	s.startTime = time.Now()
	s.mu.Unlock()

	s.logger.Info("process started", "name", s.config.Name, "pid", cmd.Process.Pid)
	return run, nil
}

func (s *Supervisor) readLines(wg *sync.WaitGroup, stream string, r io.Reader) {
	defer wg.Done()

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 4096), MaxLineSize)
	for sc.Scan() {
		if s.config.OnLine != nil {
			s.config.OnLine(stream, sc.Bytes())
		}
	}
	if err := sc.Err(); err != nil {
		s.logger.Debug("output stream closed", "name", s.config.Name, "stream", stream, "error", err)
		//nolint:errcheck // Drain so the process never blocks on a full pipe
		io.Copy(io.Discard, r)
	}
}

// monitor waits for each exit and restarts as configured.
func (s *Supervisor) monitor(ctx context.Context, run *running, done chan struct{}) {
	defer close(done)

	for {
		var err error
		if run != nil {
			err = run.wait()
		}

		if ctx.Err() != nil {
			s.logger.Info("process stopped as requested", "name", s.config.Name)
			s.setStatus(StatusStopped)
			if s.config.OnExit != nil {
				s.config.OnExit(nil)
			}
			return
		}

		if err == nil {
			err = errors.New("exited with status 0")
		}
		s.logger.Warn("process exited unexpectedly", "name", s.config.Name, "error", err)
		s.setFailed(err)
		if s.config.OnExit != nil {
			s.config.OnExit(err)
		}

		if !s.config.RestartOnFailure {
			return
		}

		s.mu.Lock()
		s.restarts++
		attempt := s.restarts
		s.mu.Unlock()

		if s.config.MaxRestarts > 0 && attempt > s.config.MaxRestarts {
			s.logger.Error("max restart attempts reached", "name", s.config.Name, "attempts", attempt-1)
			return
		}

		s.logger.Info("restarting process",
			"name", s.config.Name,
			"attempt", attempt,
			"delay", s.config.RestartDelay,
		)

		select {
		case <-ctx.Done():
			s.setStatus(StatusStopped)
			return
		case <-time.After(s.config.RestartDelay):
		}

		run, err = s.spawn(ctx)
		if err != nil {
			s.logger.Error("failed to restart process", "name", s.config.Name, "error", err)
			s.setFailed(err)
			run = nil
		}
	}
}

// Stop terminates the process group (SIGTERM, then SIGKILL after
// GracefulTimeout) and waits for the monitor to finish. Safe to call on a
// stopped supervisor.
func (s *Supervisor) Stop() error {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()

	if cancel == nil {
		return nil
	}
	s.logger.Info("stopping process", "name", s.config.Name, "pid", s.PID())
	cancel()
	<-done
	return nil
}

// Done is closed when the current run ends for good: after Stop, after a
// failure with restarts disabled, or once restarts are exhausted. Nil
// before Start.
func (s *Supervisor) Done() <-chan struct{} {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.done
}

func (s *Supervisor) setStatus(st Status) {
	s.mu.Lock()
	s.status = st
	s.mu.Unlock()
}

func (s *Supervisor) setFailed(err error) {
	s.mu.Lock()
	s.status = StatusFailed
	s.lastError = err
	s.mu.Unlock()
}

// Status returns the current status.
func (s *Supervisor) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// IsRunning returns true if the process is currently running.
func (s *Supervisor) IsRunning() bool {
	return s.Status() == StatusRunning
}

// LastError returns the error from the most recent unexpected exit.
func (s *Supervisor) LastError() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastError
}

// Restarts returns how often the process was restarted since Start.
func (s *Supervisor) Restarts() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.restarts
}

// PID returns the process ID, or 0 if not running.
func (s *Supervisor) PID() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.status == StatusRunning && s.cmd != nil && s.cmd.Process != nil {
		return s.cmd.Process.Pid
	}
	return 0
}

// Stats is a snapshot of a supervisor.
type Stats struct {
	Name      string        `json:"name"`
	Status    Status        `json:"status"`
	PID       int           `json:"pid,omitempty"`
	Uptime    time.Duration `json:"uptime,omitempty"`
	Restarts  int           `json:"restarts"`
	LastError string        `json:"last_error,omitempty"`
}

// Stats returns current statistics for the process.
func (s *Supervisor) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := Stats{
		Name:     s.config.Name,
		Status:   s.status,
		Restarts: s.restarts,
	}
	if s.status == StatusRunning {
		if s.cmd != nil && s.cmd.Process != nil {
			stats.PID = s.cmd.Process.Pid
		}
		stats.Uptime = time.Since(s.startTime)
	}
	if s.lastError != nil {
		stats.LastError = s.lastError.Error()
	}
	return stats
}
