package process

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// lineRecorder collects OnLine callbacks.
type lineRecorder struct {
	mu    sync.Mutex
	lines map[string][]string
}

func newLineRecorder() *lineRecorder {
	return &lineRecorder{lines: make(map[string][]string)}
}

func (r *lineRecorder) handle(stream string, line []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lines[stream] = append(r.lines[stream], string(line))
}

func (r *lineRecorder) get(stream string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.lines[stream]...)
}

func waitUntil(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func TestNew_Defaults(t *testing.T) {
	s := New(Config{Name: "test-proc", Binary: "/bin/true"})

	if s.config.RestartDelay != time.Second {
		t.Errorf("RestartDelay = %v, want 1s", s.config.RestartDelay)
	}
	if s.config.GracefulTimeout != 5*time.Second {
		t.Errorf("GracefulTimeout = %v, want 5s", s.config.GracefulTimeout)
	}
}

func TestSupervisor_InitialState(t *testing.T) {
	s := New(Config{Name: "test", Binary: "/bin/true"})

	if s.Status() != StatusStopped {
		t.Errorf("initial Status() = %q, want %q", s.Status(), StatusStopped)
	}
	if s.IsRunning() {
		t.Error("IsRunning() = true, want false")
	}
	if s.PID() != 0 {
		t.Errorf("PID() = %d, want 0", s.PID())
	}
	if s.Done() != nil {
		t.Error("Done() before Start should be nil")
	}
	if err := s.Stop(); err != nil {
		t.Errorf("Stop() on stopped supervisor = %v", err)
	}
}

func TestSupervisor_StartFailure(t *testing.T) {
	s := New(Config{Name: "missing", Binary: "/nonexistent/helper-binary"})

	if err := s.Start(context.Background()); err == nil {
		t.Fatal("Start() with missing binary should fail")
	}
	if s.Status() != StatusFailed {
		t.Errorf("Status() = %q, want %q", s.Status(), StatusFailed)
	}
	if s.LastError() == nil {
		t.Error("LastError() = nil after failed start")
	}
}

func TestSupervisor_LinesDelivered(t *testing.T) {
	rec := newLineRecorder()
	s := New(Config{
		Name:   "echo",
		Binary: "/bin/sh",
		Args:   []string{"-c", "echo one; echo two; echo oops >&2"},
		OnLine: rec.handle,
	})

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() = %v", err)
	}
	select {
	case <-s.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("process did not finish")
	}

	if got := rec.get(Stdout); len(got) != 2 || got[0] != "one" || got[1] != "two" {
		t.Errorf("stdout lines = %v, want [one two]", got)
	}
	if got := rec.get(Stderr); len(got) != 1 || got[0] != "oops" {
		t.Errorf("stderr lines = %v, want [oops]", got)
	}
	// Exiting on its own counts as a failure.
	if s.Status() != StatusFailed {
		t.Errorf("Status() = %q, want %q", s.Status(), StatusFailed)
	}
}

func TestSupervisor_AlreadyRunning(t *testing.T) {
	s := New(Config{Name: "sleeper", Binary: "/bin/sleep", Args: []string{"30"}})
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() = %v", err)
	}
	defer s.Stop()

	if err := s.Start(context.Background()); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("second Start() = %v, want ErrAlreadyRunning", err)
	}
}

func TestSupervisor_StopTerminatesGracefully(t *testing.T) {
	var exits []error
	var mu sync.Mutex
	s := New(Config{
		Name:            "sleeper",
		Binary:          "/bin/sleep",
		Args:            []string{"30"},
		GracefulTimeout: 2 * time.Second,
		OnExit: func(err error) {
			mu.Lock()
			exits = append(exits, err)
			mu.Unlock()
		},
	})
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() = %v", err)
	}
	if !s.IsRunning() || s.PID() == 0 {
		t.Fatalf("not running after Start: %+v", s.Stats())
	}

	start := time.Now()
	if err := s.Stop(); err != nil {
		t.Fatalf("Stop() = %v", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("Stop() took %v, SIGTERM should end sleep at once", elapsed)
	}
	if s.Status() != StatusStopped {
		t.Errorf("Status() = %q, want %q", s.Status(), StatusStopped)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(exits) != 1 || exits[0] != nil {
		t.Errorf("OnExit calls = %v, want one nil", exits)
	}
}

func TestSupervisor_StopKillsGroupIgnoringTERM(t *testing.T) {
	s := New(Config{
		Name:            "stubborn",
		Binary:          "/bin/sh",
		Args:            []string{"-c", `trap "" TERM; sleep 20`},
		GracefulTimeout: 200 * time.Millisecond,
	})
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() = %v", err)
	}
	// Let the shell install its trap and fork sleep.
	time.Sleep(100 * time.Millisecond)

	stopped := make(chan struct{})
	start := time.Now()
	go func() {
		s.Stop() //nolint:errcheck // Stop never fails
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-time.After(3 * time.Second):
		t.Fatal("Stop() blocked: SIGKILL did not reach the process group")
	}
	if elapsed := time.Since(start); elapsed < 200*time.Millisecond {
		t.Errorf("Stop() took %v, want the graceful timeout first", elapsed)
	}
	if s.Status() != StatusStopped {
		t.Errorf("Status() = %q, want %q", s.Status(), StatusStopped)
	}
}

func TestSupervisor_ContextCancelStops(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	s := New(Config{Name: "sleeper", Binary: "/bin/sleep", Args: []string{"30"}})
	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start() = %v", err)
	}
	done := s.Done()

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("supervisor did not stop on context cancel")
	}
	if s.Status() != StatusStopped {
		t.Errorf("Status() = %q, want %q", s.Status(), StatusStopped)
	}
}

func TestSupervisor_RestartsUntilLimit(t *testing.T) {
	rec := newLineRecorder()
	s := New(Config{
		Name:             "flaky",
		Binary:           "/bin/sh",
		Args:             []string{"-c", "echo run; exit 3"},
		RestartOnFailure: true,
		RestartDelay:     10 * time.Millisecond,
		MaxRestarts:      2,
		OnLine:           rec.handle,
	})
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() = %v", err)
	}

	select {
	case <-s.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("restarts never exhausted")
	}

	// One initial run plus two restarts.
	waitUntil(t, time.Second, func() bool { return len(rec.get(Stdout)) == 3 })
	if s.Status() != StatusFailed {
		t.Errorf("Status() = %q, want %q", s.Status(), StatusFailed)
	}
	if s.LastError() == nil {
		t.Error("LastError() = nil, want exit status error")
	}
	if stats := s.Stats(); stats.LastError == "" || stats.PID != 0 {
		t.Errorf("Stats() = %+v, want last error and no pid", stats)
	}
}
