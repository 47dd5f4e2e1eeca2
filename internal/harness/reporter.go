package harness

// Reporter receives progress events. msgType is one of the protocol.Type*
// server message types and payload the matching protocol payload struct.
// Implementations must be safe for concurrent use; child output is reported
// from a separate goroutine.
type Reporter interface {
	Report(msgType string, payload any)
}

// ReporterFunc adapts a function to the Reporter interface.
type ReporterFunc func(msgType string, payload any)

func (f ReporterFunc) Report(msgType string, payload any) { f(msgType, payload) }

type nopReporter struct{}

func (nopReporter) Report(string, any) {}
