// Package supervise owns the runtime state of every launched tool: the
// process table, the lifecycle state machine, log capture, and the
// reconciliation of in-memory state against observed OS reality. All
// mutation funnels through the Supervisor; nothing else touches records.
package supervise

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/danmuck/webuictl/internal/observability"
)

var (
	ErrAlreadyRunning = errors.New("supervise: tool already running")
	ErrPortConflict   = errors.New("supervise: port claimed by another live tool")
	ErrSpawn          = errors.New("supervise: process spawn failed")
	ErrUnexpectedExit = errors.New("supervise: process exited unexpectedly")
	ErrLifecycleOrder = errors.New("supervise: invalid lifecycle transition")
	ErrNoRecord       = errors.New("supervise: no process record for tool")
	ErrNotErrored     = errors.New("supervise: record is not errored")
)

const killGrace = 3 * time.Second

// Record is one running or terminated tool instance. Owned exclusively by
// the Supervisor; callers see copies via Snapshot/Tail.
type Record struct {
	ToolID    string
	PID       int
	Args      []string
	Port      int
	StartedAt time.Time
	State     State
	Failure   error
	Degraded  bool

	ring    *logRing
	logFile *os.File
	cmd     *exec.Cmd
	done    chan struct{}
	drained chan struct{}
}

// LaunchRequest carries everything needed to spawn one tool process. The
// argument list is already fully merged; centralization was applied and
// verified before this request was built.
type LaunchRequest struct {
	ToolID   string
	Command  string
	Args     []string
	Dir      string
	Env      []string
	Port     int
	Degraded bool
}

// SupervisorConfig tunes stop behavior and log capture.
type SupervisorConfig struct {
	LogDir      string
	StopTimeout time.Duration
	RingSize    int
}

// Supervisor maintains the mutex-guarded process table.
type Supervisor struct {
	mu    sync.Mutex
	table map[string]*Record

	logDir      string
	stopTimeout time.Duration
	ringSize    int
}

// NewSupervisor creates an empty process table.
func NewSupervisor(cfg SupervisorConfig) *Supervisor {
	stopTimeout := cfg.StopTimeout
	if stopTimeout <= 0 {
		stopTimeout = 30 * time.Second
	}
	return &Supervisor{
		table:       make(map[string]*Record),
		logDir:      cfg.LogDir,
		stopTimeout: stopTimeout,
		ringSize:    cfg.RingSize,
	}
}

// Launch runs the Stopped->Starting->Running transition. Precondition
// checks and table insertion happen under one lock acquisition, so
// concurrent launches for the same tool serialize and exactly one wins.
func (s *Supervisor) Launch(req LaunchRequest) (*Record, error) {
	rec, err := s.admit(req)
	if err != nil {
		observability.RecordLaunch(req.ToolID, "rejected")
		return nil, err
	}

	cmd := exec.Command(req.Command, req.Args...)
	cmd.Dir = req.Dir
	if len(req.Env) > 0 {
		cmd.Env = append(os.Environ(), req.Env...)
	}
	// own process group so stop signals reach the tool's children too
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	pr, pw := io.Pipe()
	cmd.Stdout = pw
	cmd.Stderr = pw

	if err := cmd.Start(); err != nil {
		pw.Close()
		pr.Close()
		s.markSpawnFailure(rec, err)
		observability.RecordLaunch(req.ToolID, "spawn_error")
		return nil, fmt.Errorf("tool=%s phase=spawn: %w: %v", req.ToolID, ErrSpawn, err)
	}

	s.mu.Lock()
	rec.cmd = cmd
	rec.PID = cmd.Process.Pid
	rec.StartedAt = time.Now()
	// a concurrent Stop may have moved the record past Starting already;
	// never walk that back to Running
	if rec.State == StateStarting && pidAlive(rec.PID) {
		rec.State = StateRunning
	}
	s.mu.Unlock()
	s.updateLiveGauge()

	go s.drain(rec, pr)
	go s.wait(rec, cmd, pw)

	observability.RecordLaunch(req.ToolID, "ok")
	log.Info().Str("tool", req.ToolID).Int("pid", rec.PID).Int("port", req.Port).
		Bool("degraded_centralization", req.Degraded).Msg("tool launched")
	return rec, nil
}

// admit enforces the single-instance and port invariants and reserves the
// table slot in Starting state.
func (s *Supervisor) admit(req LaunchRequest) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.table[req.ToolID]; ok && !existing.State.Terminal() {
		return nil, fmt.Errorf("tool=%s phase=launch: %w (state=%s pid=%d)",
			req.ToolID, ErrAlreadyRunning, existing.State, existing.PID)
	}
	for id, other := range s.table {
		if id == req.ToolID || other.State.Terminal() {
			continue
		}
		if other.Port == req.Port {
			return nil, fmt.Errorf("tool=%s phase=launch: %w: port %d held by %s",
				req.ToolID, ErrPortConflict, req.Port, id)
		}
	}

	rec := &Record{
		ToolID:   req.ToolID,
		Args:     append([]string(nil), req.Args...),
		Port:     req.Port,
		State:    StateStarting,
		Degraded: req.Degraded,
		ring:     newLogRing(s.ringSize),
		done:     make(chan struct{}),
		drained:  make(chan struct{}),
	}
	rec.logFile = s.openLogFile(req.ToolID)
	s.table[req.ToolID] = rec
	return rec, nil
}

// Stop runs the Running->Stopping->Stopped transition: SIGTERM the process
// group, wait up to the configured timeout, then SIGKILL and mark Stopped
// regardless. The escalation lands in the tool's log trail, not in the
// returned error.
func (s *Supervisor) Stop(ctx context.Context, toolID string) (State, error) {
	s.mu.Lock()
	rec, ok := s.table[toolID]
	if !ok {
		s.mu.Unlock()
		return "", fmt.Errorf("tool=%s phase=stop: %w", toolID, ErrNoRecord)
	}
	switch rec.State {
	case StateRunning, StateStarting:
		if rec.PID <= 0 {
			// admit ran but the spawn has not produced a pid yet;
			// kill(-0) would signal our own process group
			s.mu.Unlock()
			return StateStarting, fmt.Errorf("tool=%s phase=stop: %w", toolID, transitionError(StateStarting, StateStopping))
		}
		rec.State = StateStopping
	case StateStopped, StateErrored:
		state := rec.State
		s.mu.Unlock()
		return state, nil
	case StateStopping:
		s.mu.Unlock()
		return StateStopping, fmt.Errorf("tool=%s phase=stop: %w", toolID, transitionError(StateStopping, StateStopping))
	}
	pid := rec.PID
	done := rec.done
	s.mu.Unlock()

	rec.logLine("[webuictl] sending SIGTERM")
	if pid > 0 {
		_ = syscall.Kill(-pid, syscall.SIGTERM)
	}

	select {
	case <-done:
	case <-ctx.Done():
		s.forceKill(rec, pid, done)
	case <-time.After(s.stopTimeout):
		s.forceKill(rec, pid, done)
	}

	s.mu.Lock()
	rec.State = StateStopped
	s.mu.Unlock()
	s.updateLiveGauge()
	log.Info().Str("tool", toolID).Int("pid", pid).Msg("tool stopped")
	return StateStopped, nil
}

// forceKill escalates to SIGKILL on the process group and waits briefly
// for the exit to be observed. GPU workers that ignore SIGTERM are the
// reason the graceful window exists at all; past it, termination wins.
func (s *Supervisor) forceKill(rec *Record, pid int, done chan struct{}) {
	rec.logLine("[webuictl] graceful stop timed out, escalating to SIGKILL")
	log.Warn().Str("tool", rec.ToolID).Int("pid", pid).Msg("stop escalated to SIGKILL")
	observability.RecordStopEscalation(rec.ToolID)
	if pid > 0 {
		_ = syscall.Kill(-pid, syscall.SIGKILL)
	}
	select {
	case <-done:
	case <-time.After(killGrace):
	}
}

// Tail returns the last n buffered log lines for a tool without touching
// the drain path.
func (s *Supervisor) Tail(toolID string, n int) ([]string, error) {
	s.mu.Lock()
	rec, ok := s.table[toolID]
	s.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("tool=%s phase=tail: %w", toolID, ErrNoRecord)
	}
	return rec.ring.Tail(n), nil
}

// ClearError removes an Errored record so the tool may launch again.
func (s *Supervisor) ClearError(toolID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.table[toolID]
	if !ok {
		return fmt.Errorf("tool=%s phase=clear: %w", toolID, ErrNoRecord)
	}
	if rec.State != StateErrored {
		return fmt.Errorf("tool=%s phase=clear: %w (state=%s)", toolID, ErrNotErrored, rec.State)
	}
	delete(s.table, toolID)
	return nil
}

func (s *Supervisor) markSpawnFailure(rec *Record, cause error) {
	s.mu.Lock()
	rec.State = StateErrored
	rec.Failure = fmt.Errorf("%w: %v", ErrSpawn, cause)
	s.mu.Unlock()
	rec.logLine("[webuictl] spawn failed: " + cause.Error())
	rec.closeLog()
	s.updateLiveGauge()
}

// drain pumps combined process output into the ring buffer and the
// persistent per-tool log file.
func (s *Supervisor) drain(rec *Record, pr *io.PipeReader) {
	scanner := bufio.NewScanner(pr)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		rec.logLine(scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		// the writer side must never block on a stalled pipe, so keep
		// consuming even though capture is over
		rec.logLine("[webuictl] log capture truncated: " + err.Error())
		io.Copy(io.Discard, pr)
	}
	pr.Close()
	close(rec.drained)
}

// wait observes process exit and applies the matching transition: an exit
// during Stopping is the operator's doing, anything else is a crash.
func (s *Supervisor) wait(rec *Record, cmd *exec.Cmd, pw *io.PipeWriter) {
	err := cmd.Wait()
	pw.Close()
	<-rec.drained

	s.mu.Lock()
	switch rec.State {
	case StateStopping, StateStopped:
		rec.State = StateStopped
	default:
		rec.State = StateErrored
		if err != nil {
			rec.Failure = fmt.Errorf("%w: %v", ErrUnexpectedExit, err)
		} else {
			rec.Failure = fmt.Errorf("%w: process terminated", ErrUnexpectedExit)
		}
		log.Error().Str("tool", rec.ToolID).Int("pid", rec.PID).Err(err).
			Msg("tool exited unexpectedly")
	}
	s.mu.Unlock()

	rec.logLine("[webuictl] process exited")
	rec.closeLog()
	close(rec.done)
	s.updateLiveGauge()
}

func (s *Supervisor) openLogFile(toolID string) *os.File {
	if s.logDir == "" {
		return nil
	}
	if err := os.MkdirAll(s.logDir, 0o755); err != nil {
		log.Error().Err(err).Str("tool", toolID).Msg("log dir create failed")
		return nil
	}
	path := filepath.Join(s.logDir, toolID+".log")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		log.Error().Err(err).Str("tool", toolID).Str("path", path).Msg("log file open failed")
		return nil
	}
	return f
}

func (s *Supervisor) updateLiveGauge() {
	s.mu.Lock()
	live := 0
	for _, rec := range s.table {
		if rec.State.Live() {
			live++
		}
	}
	s.mu.Unlock()
	observability.SetLiveProcesses(live)
}

func (r *Record) logLine(line string) {
	r.ring.Append(line)
	if r.logFile != nil {
		fmt.Fprintln(r.logFile, line)
	}
}

func (r *Record) closeLog() {
	if r.logFile != nil {
		r.logFile.Close()
		r.logFile = nil
	}
}

// pidAlive checks OS-level process existence. EPERM still means alive.
func pidAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := syscall.Kill(pid, 0)
	return err == nil || errors.Is(err, syscall.EPERM)
}
