package session

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	defaultScannerBufSize   = 1024 * 1024 // 1 MB
	defaultRingBufCapacity  = 1000
	defaultSubscriberBufCap = 100
	drainTimeout            = 2 * time.Second
	killWaitTimeout         = 5 * time.Second
	exitGrace               = 250 * time.Millisecond
)

var (
	ErrTerminated = errors.New("session terminated")
	ErrEnding     = errors.New("session is shutting down")
)

// Session is a live handle to one child process and its pipes.
type Session struct {
	id        string
	createdAt time.Time
	opts      Options
	log       *zap.Logger

	cmd     *exec.Cmd
	stdin   *stdinWriter
	readers []*os.File
	ringBuf *RingBuffer

	subscribers map[string]chan OutputEvent
	subMu       sync.RWMutex

	mu       sync.Mutex
	state    State
	exitCode int

	lastOutput atomic.Int64 // unix nanos of the most recent line, 0 if none
	scanWG     sync.WaitGroup
	done       chan struct{}
}

// stdinWriter wraps a pipe writer with mutex protection.
type stdinWriter struct {
	mu     sync.Mutex
	writer *os.File
	closed bool
}

func (sw *stdinWriter) Write(data []byte) error {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	if sw.closed {
		return fmt.Errorf("stdin pipe closed")
	}
	_, err := sw.writer.Write(data)
	return err
}

func (sw *stdinWriter) Close() {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	if !sw.closed {
		sw.writer.Close()
		sw.closed = true
	}
}

// Start spawns the child process described by opts.
// Any failure to get the process running is returned as a *LaunchError.
func Start(opts Options) (*Session, error) {
	opts = opts.withDefaults()

	launchErr := func(err error) error {
		return &LaunchError{Executable: opts.Executable, Err: err}
	}

	if opts.Executable == "" {
		return nil, launchErr(errors.New("no executable configured"))
	}

	// Validate working directory.
	if opts.WorkDir != "" {
		info, err := os.Stat(opts.WorkDir)
		if err != nil {
			return nil, launchErr(fmt.Errorf("working directory does not exist: %s", opts.WorkDir))
		}
		if !info.IsDir() {
			return nil, launchErr(fmt.Errorf("path is not a directory: %s", opts.WorkDir))
		}
	}

	binaryPath, err := exec.LookPath(opts.Executable)
	if err != nil {
		return nil, launchErr(err)
	}
	// Relative paths would otherwise be resolved against cmd.Dir.
	if abs, err := filepath.Abs(binaryPath); err == nil {
		binaryPath = abs
	}

	s := &Session{
		id:          uuid.New().String(),
		createdAt:   time.Now().UTC(),
		opts:        opts,
		state:       StateUnstarted,
		ringBuf:     NewRingBuffer(defaultRingBufCapacity),
		subscribers: make(map[string]chan OutputEvent),
		done:        make(chan struct{}),
	}
	s.log = opts.Logger.With(zap.String("session", s.id))

	cmd := exec.Command(binaryPath, opts.Args...)
	cmd.Dir = opts.WorkDir
	cmd.Env = append(os.Environ(), opts.Env...)
	configureProcAttr(cmd)

	// Set up pipes.
	var files []*os.File
	closeAll := func() {
		for _, f := range files {
			f.Close()
		}
	}
	pipe := func() (*os.File, *os.File, error) {
		r, w, err := os.Pipe()
		if err == nil {
			files = append(files, r, w)
		}
		return r, w, err
	}

	stdinR, stdinW, err := pipe()
	if err != nil {
		return nil, launchErr(fmt.Errorf("create stdin pipe: %w", err))
	}
	stdoutR, stdoutW, err := pipe()
	if err != nil {
		closeAll()
		return nil, launchErr(fmt.Errorf("create stdout pipe: %w", err))
	}
	stderrR, stderrW, err := pipe()
	if err != nil {
		closeAll()
		return nil, launchErr(fmt.Errorf("create stderr pipe: %w", err))
	}
	cmd.Stdin = stdinR
	cmd.Stdout = stdoutW
	cmd.Stderr = stderrW

	if err := cmd.Start(); err != nil {
		closeAll()
		return nil, launchErr(err)
	}

	// The child holds its own copies of these ends now.
	stdinR.Close()
	stdoutW.Close()
	stderrW.Close()

	s.cmd = cmd
	s.stdin = &stdinWriter{writer: stdinW}
	s.readers = []*os.File{stdoutR, stderrR}

	s.mu.Lock()
	s.state = StateRunning
	s.mu.Unlock()

	s.scanWG.Add(2)
	go s.scanOutput(stdoutR, OutputStdout)
	go s.scanOutput(stderrR, OutputStderr)
	go s.waitForExit()

	s.log.Info("child started",
		zap.String("executable", binaryPath),
		zap.Strings("args", opts.Args),
		zap.String("workdir", opts.WorkDir),
		zap.Int("pid", cmd.Process.Pid))

	return s, nil
}

// scanOutput reads lines from a pipe and distributes them as OutputEvents.
func (s *Session) scanOutput(r io.Reader, stream OutputEventType) {
	defer s.scanWG.Done()

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), defaultScannerBufSize)

	for scanner.Scan() {
		now := time.Now().UTC()
		s.lastOutput.Store(now.UnixNano())
		s.publish(OutputEvent{
			SessionID: s.id,
			Type:      stream,
			Data:      scanner.Text(),
			Timestamp: now,
		})
	}

	if err := scanner.Err(); err != nil && !errors.Is(err, os.ErrClosed) {
		s.log.Debug("scanner error", zap.String("stream", string(stream)), zap.Error(err))
	}
}

// waitForExit reaps the child, marks the session terminated and drains
// whatever output is still buffered in the pipes.
func (s *Session) waitForExit() {
	err := s.cmd.Wait()

	exitCode := 0
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			exitCode = exitErr.ExitCode()
		} else {
			exitCode = -1
		}
	}

	s.stdin.Close()

	s.mu.Lock()
	s.state = StateTerminated
	s.exitCode = exitCode
	s.mu.Unlock()
	close(s.done)

	s.log.Info("child exited", zap.Int("exit_code", exitCode))

	// A grandchild may still hold the write ends open; don't wait for it forever.
	drained := make(chan struct{})
	go func() {
		s.scanWG.Wait()
		close(drained)
	}()
	select {
	case <-drained:
	case <-time.After(drainTimeout):
		s.closeReaders()
		<-drained
	}
	s.closeReaders()

	s.publish(OutputEvent{
		SessionID: s.id,
		Type:      OutputExit,
		Data:      fmt.Sprintf("exit_code:%d", exitCode),
		Timestamp: time.Now().UTC(),
	})
}

func (s *Session) closeReaders() {
	for _, r := range s.readers {
		r.Close()
	}
}

// publish records an event and sends it to all subscribers. Both happen
// under subMu so Subscribe sees each event exactly once.
func (s *Session) publish(event OutputEvent) {
	s.subMu.RLock()
	defer s.subMu.RUnlock()

	s.ringBuf.Write(event)
	for _, ch := range s.subscribers {
		select {
		case ch <- event:
		default:
			// Subscriber channel full, drop the event.
		}
	}
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Info returns a snapshot of the session metadata.
func (s *Session) Info() Info {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Info{
		ID:         s.id,
		State:      s.state,
		Executable: s.opts.Executable,
		WorkDir:    s.opts.WorkDir,
		PID:        s.cmd.Process.Pid,
		ExitCode:   s.exitCode,
		CreatedAt:  s.createdAt,
	}
}

// Done is closed once the child process has exited and been reaped.
func (s *Session) Done() <-chan struct{} { return s.done }

// IsAlive reports whether the child process is still running.
func (s *Session) IsAlive() bool {
	select {
	case <-s.done:
		return false
	default:
		return true
	}
}

// LastOutput returns when the child last produced a line, or the zero time.
func (s *Session) LastOutput() time.Time {
	n := s.lastOutput.Load()
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}

// Output returns the buffered output history.
func (s *Session) Output() []OutputEvent {
	return s.ringBuf.ReadAll()
}

// Send writes one command line to the child's stdin. The pipe is unbuffered
// on our side, so the child can read the line as soon as Send returns.
func (s *Session) Send(text string) error {
	switch s.State() {
	case StateTerminated:
		return &SendError{Command: text, Err: ErrTerminated}
	case StateEnding:
		return &SendError{Command: text, Err: ErrEnding}
	}
	if err := s.stdin.Write([]byte(text + "\n")); err != nil {
		return &SendError{Command: text, Err: err}
	}
	return nil
}

// End asks the child to quit and waits up to the quit timeout, killing it
// if it does not comply. It is safe to call repeatedly and concurrently;
// calls after the first return nil once the child is gone.
//
// A *ShutdownError with Killed set means the graceful path failed but the
// child is gone. Any other *ShutdownError means the child may still be alive.
func (s *Session) End() error {
	s.mu.Lock()
	switch s.state {
	case StateTerminated:
		s.mu.Unlock()
		return nil
	case StateEnding:
		s.mu.Unlock()
		s.waitDone(s.opts.QuitTimeout + killWaitTimeout)
		return nil
	}
	s.state = StateEnding
	s.mu.Unlock()

	var cause error
	if err := s.stdin.Write([]byte(s.opts.QuitCommand + "\n")); err != nil {
		// Usually the child already exited and the pipe is broken.
		if s.waitDone(exitGrace) {
			return nil
		}
		cause = fmt.Errorf("write quit command: %w", err)
	} else {
		s.stdin.Close()
		if s.waitDone(s.opts.QuitTimeout) {
			s.log.Info("child quit gracefully")
			return nil
		}
		cause = fmt.Errorf("no exit within %s", s.opts.QuitTimeout)
	}

	s.log.Warn("graceful shutdown failed, killing child", zap.Error(cause))
	if err := s.Kill(); err != nil {
		return &ShutdownError{Timeout: s.opts.QuitTimeout, Err: errors.Join(cause, err)}
	}
	return &ShutdownError{Timeout: s.opts.QuitTimeout, Killed: true, Err: cause}
}

// Kill forcibly terminates the child and its process group.
// Killing an already exited child is not an error.
func (s *Session) Kill() error {
	if !s.IsAlive() {
		return nil
	}

	s.mu.Lock()
	if s.state == StateRunning {
		s.state = StateEnding
	}
	s.mu.Unlock()

	pid := s.cmd.Process.Pid
	if err := killProcess(s.cmd.Process); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("kill pid %d: %w", pid, err)
	}
	if !s.waitDone(killWaitTimeout) {
		return fmt.Errorf("pid %d still running %s after kill", pid, killWaitTimeout)
	}
	s.log.Info("child killed", zap.Int("pid", pid))
	return nil
}

func (s *Session) waitDone(timeout time.Duration) bool {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-s.done:
		return true
	case <-timer.C:
		return false
	}
}

// Subscribe creates a channel that receives output events.
// Returns the subscription ID, the channel, and the buffered history.
func (s *Session) Subscribe() (string, <-chan OutputEvent, []OutputEvent) {
	subID := uuid.New().String()
	ch := make(chan OutputEvent, defaultSubscriberBufCap)

	s.subMu.Lock()
	history := s.ringBuf.ReadAll()
	s.subscribers[subID] = ch
	s.subMu.Unlock()

	return subID, ch, history
}

// Unsubscribe removes a subscriber and closes its channel.
func (s *Session) Unsubscribe(subID string) {
	s.subMu.Lock()
	if ch, exists := s.subscribers[subID]; exists {
		close(ch)
		delete(s.subscribers, subID)
	}
	s.subMu.Unlock()
}
