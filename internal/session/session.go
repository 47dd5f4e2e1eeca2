package session

import (
	"time"

	"go.uber.org/zap"
)

// State represents the lifecycle state of a session.
type State string

const (
	StateUnstarted  State = "unstarted"
	StateRunning    State = "running"
	StateEnding     State = "ending"
	StateTerminated State = "terminated"
)

const (
	DefaultQuitCommand = "/quit"
	DefaultQuitTimeout = 10 * time.Second
)

// Options describes the child process a session launches.
type Options struct {
	Executable string
	Args       []string
	WorkDir    string
	// Env is appended to the parent environment.
	Env []string

	// QuitCommand is written to stdin by End to request a graceful exit.
	QuitCommand string
	QuitTimeout time.Duration

	Logger *zap.Logger
}

func (o Options) withDefaults() Options {
	if o.QuitCommand == "" {
		o.QuitCommand = DefaultQuitCommand
	}
	if o.QuitTimeout <= 0 {
		o.QuitTimeout = DefaultQuitTimeout
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	return o
}

// Info is a point-in-time view of a session, safe to serialize.
type Info struct {
	ID         string    `json:"id"`
	State      State     `json:"state"`
	Executable string    `json:"executable"`
	WorkDir    string    `json:"workDir"`
	PID        int       `json:"pid"`
	ExitCode   int       `json:"exitCode"`
	CreatedAt  time.Time `json:"createdAt"`
}

// OutputEventType distinguishes stdout, stderr, and exit events.
type OutputEventType string

const (
	OutputStdout OutputEventType = "stdout"
	OutputStderr OutputEventType = "stderr"
	OutputExit   OutputEventType = "exit"
)

// OutputEvent is a single line of output from the child process.
type OutputEvent struct {
	SessionID string          `json:"sessionId"`
	Type      OutputEventType `json:"type"`
	Data      string          `json:"data"`
	Timestamp time.Time       `json:"timestamp"`
}
