package report

import "chat-harness/internal/harness"

// Multi fans every event out to each reporter in order.
type Multi []harness.Reporter

func (m Multi) Report(msgType string, payload any) {
	for _, r := range m {
		if r != nil {
			r.Report(msgType, payload)
		}
	}
}
