package protocol

import (
	"encoding/json"
	"testing"
	"time"

	"chat-harness/internal/workspace"
)

func TestNewMessage(t *testing.T) {
	payload := StepStartedPayload{
		Index:       1,
		Total:       6,
		Command:     "/list",
		Description: "List all agents",
	}

	msg, err := NewMessage(TypeStepStarted, payload)
	if err != nil {
		t.Fatalf("NewMessage failed: %v", err)
	}

	if msg.Type != TypeStepStarted {
		t.Errorf("expected type %s, got %s", TypeStepStarted, msg.Type)
	}

	if msg.Timestamp.IsZero() {
		t.Error("expected non-zero timestamp")
	}

	var p StepStartedPayload
	if err := json.Unmarshal(msg.Payload, &p); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if p.Command != "/list" || p.Total != 6 {
		t.Errorf("unexpected payload %+v", p)
	}
}

func TestNewMessage_UnmarshalablePayload(t *testing.T) {
	_, err := NewMessage(TypeError, map[string]interface{}{"bad": make(chan int)})
	if err == nil {
		t.Fatal("expected error for unmarshalable payload")
	}
}

func TestWorkspaceListingPayload_OmitsMissingPreview(t *testing.T) {
	msg, err := NewMessage(TypeWorkspaceListing, WorkspaceListingPayload{
		Dir:   "/tmp/ws",
		Label: "final",
		Entries: []workspace.Entry{
			{Name: "big.bin", Size: 10 << 20},
		},
	})
	if err != nil {
		t.Fatalf("NewMessage failed: %v", err)
	}

	var raw struct {
		Entries []map[string]interface{} `json:"entries"`
	}
	json.Unmarshal(msg.Payload, &raw)
	if len(raw.Entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(raw.Entries))
	}
	if _, ok := raw.Entries[0]["preview"]; ok {
		t.Error("expected preview to be omitted")
	}
}

func TestValidateClientMessage_ValidRequestListing(t *testing.T) {
	msg := map[string]interface{}{
		"type":      TypeWorkspaceRequestListing,
		"payload":   map[string]interface{}{"label": "manual"},
		"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
	}
	data, _ := json.Marshal(msg)

	result, err := ValidateClientMessage(data)
	if err != nil {
		t.Fatalf("expected valid message, got error: %v", err)
	}
	if result.Type != TypeWorkspaceRequestListing {
		t.Errorf("expected type %s, got %s", TypeWorkspaceRequestListing, result.Type)
	}
}

func TestValidateClientMessage_ValidRequestStatus(t *testing.T) {
	msg := map[string]interface{}{
		"type":      TypeScenarioRequestStatus,
		"payload":   map[string]interface{}{},
		"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
	}
	data, _ := json.Marshal(msg)

	_, err := ValidateClientMessage(data)
	if err != nil {
		t.Fatalf("expected valid message, got error: %v", err)
	}
}

func TestValidateClientMessage_InvalidJSON(t *testing.T) {
	_, err := ValidateClientMessage([]byte("not json"))
	if err == nil {
		t.Fatal("expected error for invalid JSON")
	}
}

func TestValidateClientMessage_MissingType(t *testing.T) {
	msg := map[string]interface{}{
		"payload":   map[string]interface{}{},
		"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
	}
	data, _ := json.Marshal(msg)

	_, err := ValidateClientMessage(data)
	if err == nil {
		t.Fatal("expected error for missing type")
	}
}

func TestValidateClientMessage_UnknownType(t *testing.T) {
	msg := map[string]interface{}{
		"type":      "session.prompt",
		"payload":   map[string]interface{}{},
		"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
	}
	data, _ := json.Marshal(msg)

	_, err := ValidateClientMessage(data)
	if err == nil {
		t.Fatal("expected error for unknown type")
	}
}

func TestValidateClientMessage_MissingPayload(t *testing.T) {
	data := []byte(`{"type":"workspace.requestListing","timestamp":"2024-01-01T00:00:00.000Z"}`)

	_, err := ValidateClientMessage(data)
	if err == nil {
		t.Fatal("expected error for missing payload")
	}
}

func TestValidateClientMessage_WrongPayloadShape(t *testing.T) {
	data := []byte(`{"type":"workspace.requestListing","payload":{"label":42}}`)

	_, err := ValidateClientMessage(data)
	if err == nil {
		t.Fatal("expected error for non-string label")
	}
}

func TestValidateClientMessage_StatusPayloadNotObject(t *testing.T) {
	data := []byte(`{"type":"scenario.requestStatus","payload":[1,2]}`)

	_, err := ValidateClientMessage(data)
	if err == nil {
		t.Fatal("expected error for array payload")
	}
}

func TestNewErrorMessage(t *testing.T) {
	msg, err := NewErrorMessage(ErrInspectionFailed, "workspace unreadable")
	if err != nil {
		t.Fatalf("NewErrorMessage failed: %v", err)
	}
	if msg.Type != TypeError {
		t.Errorf("expected type %s, got %s", TypeError, msg.Type)
	}

	var p ErrorPayload
	json.Unmarshal(msg.Payload, &p)
	if p.Code != ErrInspectionFailed {
		t.Errorf("expected code %s, got %s", ErrInspectionFailed, p.Code)
	}
}
