//go:build unix

package session

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"testing"
	"time"
)

// echoScript acknowledges every line and exits on /quit.
const echoScript = `while IFS= read -r line; do
  echo "ack:$line"
  [ "$line" = "/quit" ] && exit 0
done`

// stubbornScript ignores stdin and termination signals.
const stubbornScript = `trap '' INT TERM HUP; while :; do sleep 1; done`

func shOptions(t *testing.T, script string) Options {
	t.Helper()
	return Options{
		Executable:  "sh",
		Args:        []string{"-c", script},
		WorkDir:     t.TempDir(),
		QuitTimeout: 2 * time.Second,
	}
}

func startSession(t *testing.T, script string) *Session {
	t.Helper()
	s, err := Start(shOptions(t, script))
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	t.Cleanup(func() { s.Kill() })
	return s
}

func waitForLine(t *testing.T, ch <-chan OutputEvent, want string) {
	t.Helper()
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev := <-ch:
			if ev.Data == want {
				return
			}
		case <-timeout:
			t.Fatalf("timed out waiting for output %q", want)
		}
	}
}

func TestStart_InvalidWorkDir(t *testing.T) {
	_, err := Start(Options{Executable: "sh", WorkDir: "/nonexistent/path/xyz"})
	var launchErr *LaunchError
	if !errors.As(err, &launchErr) {
		t.Fatalf("expected LaunchError, got %v", err)
	}
}

func TestStart_WorkDirIsFile(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "test")
	if err != nil {
		t.Fatal(err)
	}
	f.Close()

	_, err = Start(Options{Executable: "sh", WorkDir: f.Name()})
	var launchErr *LaunchError
	if !errors.As(err, &launchErr) {
		t.Fatalf("expected LaunchError for file path, got %v", err)
	}
}

func TestStart_ExecutableNotFound(t *testing.T) {
	_, err := Start(Options{Executable: "definitely-not-a-real-binary-xyz", WorkDir: t.TempDir()})
	var launchErr *LaunchError
	if !errors.As(err, &launchErr) {
		t.Fatalf("expected LaunchError, got %v", err)
	}
	if launchErr.Executable != "definitely-not-a-real-binary-xyz" {
		t.Errorf("unexpected executable in error: %s", launchErr.Executable)
	}
}

func TestStart_PermissionDenied(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "not-executable")
	if err := os.WriteFile(path, []byte("#!/bin/sh\necho hi\n"), 0644); err != nil {
		t.Fatal(err)
	}

	_, err := Start(Options{Executable: path, WorkDir: dir})
	var launchErr *LaunchError
	if !errors.As(err, &launchErr) {
		t.Fatalf("expected LaunchError, got %v", err)
	}
}

func TestStart_EmptyExecutable(t *testing.T) {
	_, err := Start(Options{})
	var launchErr *LaunchError
	if !errors.As(err, &launchErr) {
		t.Fatalf("expected LaunchError, got %v", err)
	}
}

func TestSession_SendAndReceive(t *testing.T) {
	s := startSession(t, echoScript)

	if s.State() != StateRunning {
		t.Fatalf("expected state running, got %s", s.State())
	}
	if s.ID() == "" {
		t.Error("expected non-empty session ID")
	}

	subID, ch, _ := s.Subscribe()
	defer s.Unsubscribe(subID)

	if err := s.Send("hello"); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	waitForLine(t, ch, "ack:hello")

	if s.LastOutput().IsZero() {
		t.Error("expected LastOutput to be set after output")
	}

	found := false
	for _, ev := range s.Output() {
		if ev.Data == "ack:hello" {
			found = true
		}
	}
	if !found {
		t.Error("expected ack:hello in output history")
	}

	if err := s.End(); err != nil {
		t.Fatalf("End failed: %v", err)
	}
}

func TestSession_StderrCaptured(t *testing.T) {
	s := startSession(t, `echo oops 1>&2; read line`)

	subID, ch, history := s.Subscribe()
	defer s.Unsubscribe(subID)

	for _, ev := range history {
		if ev.Type == OutputStderr && ev.Data == "oops" {
			s.End()
			return
		}
	}
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev := <-ch:
			if ev.Type == OutputStderr && ev.Data == "oops" {
				s.End()
				return
			}
		case <-timeout:
			t.Fatal("timed out waiting for stderr line")
		}
	}
}

func TestSession_RunsInWorkDir(t *testing.T) {
	opts := shOptions(t, `pwd; read line`)
	s, err := Start(opts)
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer s.Kill()

	subID, ch, history := s.Subscribe()
	defer s.Unsubscribe(subID)

	want, _ := filepath.EvalSymlinks(opts.WorkDir)
	for _, ev := range history {
		if got, _ := filepath.EvalSymlinks(ev.Data); got == want {
			return
		}
	}
	select {
	case ev := <-ch:
		if got, _ := filepath.EvalSymlinks(ev.Data); got != want {
			t.Errorf("expected pwd %s, got %s", want, ev.Data)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for pwd output")
	}
}

func TestSession_EndIsIdempotent(t *testing.T) {
	s := startSession(t, echoScript)

	if err := s.End(); err != nil {
		t.Fatalf("first End failed: %v", err)
	}
	if err := s.End(); err != nil {
		t.Fatalf("second End failed: %v", err)
	}
	if s.IsAlive() {
		t.Error("expected process to be gone")
	}
	if s.State() != StateTerminated {
		t.Errorf("expected state terminated, got %s", s.State())
	}
}

func TestSession_EndAfterChildExited(t *testing.T) {
	s := startSession(t, `exit 3`)

	select {
	case <-s.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("child did not exit")
	}

	if err := s.End(); err != nil {
		t.Fatalf("End on exited child failed: %v", err)
	}
	if err := s.Kill(); err != nil {
		t.Fatalf("Kill on exited child failed: %v", err)
	}
	if got := s.Info().ExitCode; got != 3 {
		t.Errorf("expected exit code 3, got %d", got)
	}
}

func TestSession_EndKillsStubbornChild(t *testing.T) {
	opts := shOptions(t, stubbornScript)
	opts.QuitTimeout = 200 * time.Millisecond
	s, err := Start(opts)
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	err = s.End()
	var shutdownErr *ShutdownError
	if !errors.As(err, &shutdownErr) {
		t.Fatalf("expected ShutdownError, got %v", err)
	}
	if !shutdownErr.Killed {
		t.Errorf("expected child to be killed, got %v", shutdownErr)
	}
	if s.IsAlive() {
		t.Fatal("expected child to be gone after forced termination")
	}

	if err := s.cmd.Process.Signal(syscall.Signal(0)); !errors.Is(err, os.ErrProcessDone) {
		t.Errorf("expected os.ErrProcessDone from liveness probe, got %v", err)
	}

	if err := s.End(); err != nil {
		t.Errorf("End after kill returned %v", err)
	}
}

func TestSession_SendAfterExit(t *testing.T) {
	s := startSession(t, `exit 0`)
	<-s.Done()

	err := s.Send("hello")
	var sendErr *SendError
	if !errors.As(err, &sendErr) {
		t.Fatalf("expected SendError, got %v", err)
	}
	if !errors.Is(err, ErrTerminated) {
		t.Errorf("expected ErrTerminated, got %v", err)
	}
}

func TestSession_ExitEventPublished(t *testing.T) {
	s := startSession(t, `echo bye; exit 0`)

	subID, ch, history := s.Subscribe()
	defer s.Unsubscribe(subID)

	for _, ev := range history {
		if ev.Type == OutputExit {
			return
		}
	}
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev := <-ch:
			if ev.Type == OutputExit {
				if !strings.HasPrefix(ev.Data, "exit_code:") {
					t.Errorf("unexpected exit data %q", ev.Data)
				}
				return
			}
		case <-timeout:
			t.Fatal("timed out waiting for exit event")
		}
	}
}

func TestSession_UnsubscribeUnknown(t *testing.T) {
	s := startSession(t, echoScript)
	defer s.End()

	// Should not panic.
	s.Unsubscribe("sub-id")
}
