package report

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"chat-harness/internal/harness"
	"chat-harness/internal/protocol"
	"chat-harness/internal/workspace"
)

func render(t *testing.T, msgType string, payload any, opts ...TextOption) string {
	t.Helper()
	var buf bytes.Buffer
	NewText(&buf, append([]TextOption{WithColor(false)}, opts...)...).Report(msgType, payload)
	return buf.String()
}

func TestText_StepLines(t *testing.T) {
	out := render(t, protocol.TypeStepStarted, protocol.StepStartedPayload{
		Index: 2, Total: 6, Command: "hello", Description: "Greeting",
	})
	assert.Contains(t, out, "Step 2/6: Greeting")
	assert.Contains(t, out, "  > hello")

	out = render(t, protocol.TypeStepFailed, protocol.StepResultPayload{Index: 2, Error: "broken pipe"})
	assert.Equal(t, "  failed: broken pipe\n", out)

	out = render(t, protocol.TypeStepSent, protocol.StepResultPayload{Index: 2, Waited: "15s"})
	assert.Equal(t, "  sent, waited 15s\n", out)
}

func TestText_Listing(t *testing.T) {
	entries := []workspace.Entry{
		{Name: "agent_test_file.txt", Size: 18, Preview: "Hello from Agent 0", HasPreview: true},
		{Name: "big.bin", Size: 10 << 20},
		{Name: "sub", IsDir: true},
	}
	diff := workspace.Compare(nil, entries[:1])

	out := render(t, protocol.TypeWorkspaceListing, protocol.WorkspaceListingPayload{
		Dir: "/ws", Label: "after step 3", Entries: entries, Diff: &diff,
	})

	assert.Contains(t, out, "Files in /ws (after step 3):")
	assert.Contains(t, out, "  agent_test_file.txt (18 bytes)\n      Hello from Agent 0\n")
	assert.Contains(t, out, "  big.bin (10485760 bytes)\n  sub/\n")
	assert.Contains(t, out, "  + agent_test_file.txt")
}

func TestText_EmptyListing(t *testing.T) {
	out := render(t, protocol.TypeWorkspaceListing, protocol.WorkspaceListingPayload{Dir: "/ws"})
	assert.Equal(t, "Files in /ws:\n  (empty)\n", out)
}

func TestText_OutputEcho(t *testing.T) {
	payload := protocol.SessionOutputPayload{Stream: "stdout", Data: "Agent 0: hi"}

	assert.Equal(t, "  | Agent 0: hi\n", render(t, protocol.TypeSessionOutput, payload))
	assert.Empty(t, render(t, protocol.TypeSessionOutput, payload, WithEcho(false)))
}

func TestText_Finished(t *testing.T) {
	tests := []struct {
		payload protocol.ScenarioFinishedPayload
		want    string
	}{
		{protocol.ScenarioFinishedPayload{Steps: 6, Sent: 6, Duration: "40s"}, "Finished: 6/6 steps sent, 0 failed in 40s"},
		{protocol.ScenarioFinishedPayload{Steps: 6, Sent: 5, Failed: 1, Duration: "40s"}, "Finished with failures: 5/6"},
		{protocol.ScenarioFinishedPayload{Steps: 6, Sent: 2, Interrupted: true, Duration: "9s"}, "Interrupted: 2/6"},
	}
	for _, tt := range tests {
		assert.Contains(t, render(t, protocol.TypeScenarioFinished, tt.payload), tt.want)
	}
}

func TestText_UnknownPayloadIgnored(t *testing.T) {
	assert.Empty(t, render(t, "custom", struct{}{}))
}

func TestMulti(t *testing.T) {
	var a, b bytes.Buffer
	var seen []string
	m := Multi{
		NewText(&a, WithColor(false)),
		nil,
		harness.ReporterFunc(func(msgType string, _ any) { seen = append(seen, msgType) }),
		NewText(&b, WithColor(false)),
	}

	m.Report(protocol.TypeError, protocol.ErrorPayload{Code: protocol.ErrSendFailed, Message: "closed"})

	assert.Equal(t, "error [SEND_FAILED]: closed\n", a.String())
	assert.Equal(t, a.String(), b.String())
	assert.Equal(t, []string{protocol.TypeError}, seen)
	assert.False(t, strings.Contains(a.String(), "\x1b["), "no ANSI escapes without color")
}
