package protocol

import (
	"encoding/json"
	"fmt"
	"time"

	"chat-harness/internal/workspace"
)

// Message is the envelope for all monitor messages.
type Message struct {
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp time.Time       `json:"timestamp"`
}

// NewMessage creates a server-originated message with the current timestamp.
func NewMessage(msgType string, payload interface{}) (*Message, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	return &Message{
		Type:      msgType,
		Payload:   data,
		Timestamp: time.Now().UTC(),
	}, nil
}

// Server → Client message types.
const (
	TypeScenarioStarted  = "scenario.started"
	TypeScenarioFinished = "scenario.finished"
	TypeStepStarted      = "step.started"
	TypeStepSent         = "step.sent"
	TypeStepFailed       = "step.failed"
	TypeWorkspaceListing = "workspace.listing"
	TypeWorkspaceChanged = "workspace.changed"
	TypeSessionOutput    = "session.output"
	TypeSessionState     = "session.state"
	TypeStatus           = "scenario.status"
	TypeError            = "error"
)

// Client → Server message types.
const (
	TypeWorkspaceRequestListing = "workspace.requestListing"
	TypeScenarioRequestStatus   = "scenario.requestStatus"
)

// Error codes.
const (
	ErrInvalidMessage   = "INVALID_MESSAGE"
	ErrLaunchFailed     = "LAUNCH_FAILED"
	ErrSendFailed       = "SEND_FAILED"
	ErrInspectionFailed = "INSPECTION_FAILED"
	ErrShutdownFailed   = "SHUTDOWN_FAILED"
)

// Server → Client payloads.

type ScenarioStartedPayload struct {
	RunID      string   `json:"runId"`
	Name       string   `json:"name"`
	StepCount  int      `json:"stepCount"`
	Executable string   `json:"executable"`
	Args       []string `json:"args,omitempty"`
	WorkDir    string   `json:"workDir"`
}

type ScenarioFinishedPayload struct {
	RunID       string `json:"runId"`
	Steps       int    `json:"steps"`
	Sent        int    `json:"sent"`
	Failed      int    `json:"failed"`
	Interrupted bool   `json:"interrupted"`
	Duration    string `json:"duration"`
}

type StepStartedPayload struct {
	Index       int    `json:"index"` // 1-based
	Total       int    `json:"total"`
	Command     string `json:"command"`
	Description string `json:"description"`
	Timeout     string `json:"timeout,omitempty"`
}

type StepResultPayload struct {
	Index  int    `json:"index"`
	Waited string `json:"waited,omitempty"`
	Error  string `json:"error,omitempty"`
}

type WorkspaceListingPayload struct {
	Dir     string            `json:"dir"`
	Label   string            `json:"label"`
	Entries []workspace.Entry `json:"entries"`
	Diff    *workspace.Diff   `json:"diff,omitempty"`
}

type WorkspaceChangedPayload struct {
	Dir       string `json:"dir"`
	FileCount int    `json:"fileCount"`
}

type SessionOutputPayload struct {
	SessionID string `json:"sessionId"`
	Stream    string `json:"stream"` // "stdout" | "stderr"
	Data      string `json:"data"`
}

type SessionStatePayload struct {
	SessionID string `json:"sessionId"`
	State     string `json:"state"`
	PID       int    `json:"pid,omitempty"`
	ExitCode  int    `json:"exitCode"`
}

type ErrorPayload struct {
	Message string `json:"message"`
	Code    string `json:"code"`
}

// Client → Server payloads.

type WorkspaceRequestListingPayload struct {
	Label string `json:"label,omitempty"`
}
