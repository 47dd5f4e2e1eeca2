// Package quiesce decides when a child has finished answering a command.
//
// A plain text pipe carries no completion marker, so every Detector is a
// heuristic: fixed delays, an output idle window, or a line pattern such as
// a prompt string. Detectors never fail on timeout; they only return an
// error when the context is cancelled.
package quiesce

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"chat-harness/internal/session"
)

const (
	ModeFixed   = "fixed"
	ModeIdle    = "idle"
	ModePattern = "pattern"

	DefaultWarmup = 10 * time.Second
	DefaultSettle = 5 * time.Second
	DefaultQuiet  = 3 * time.Second
	DefaultPoll   = 100 * time.Millisecond
)

// Process is the view of a session a Detector needs.
type Process interface {
	Done() <-chan struct{}
	LastOutput() time.Time
	Subscribe() (string, <-chan session.OutputEvent, []session.OutputEvent)
	Unsubscribe(id string)
}

// Detector blocks until p is considered quiet after a command sent at sent.
// A budget <= 0 means no upper bound beyond the detector's own timings.
type Detector interface {
	Wait(ctx context.Context, p Process, sent time.Time, budget time.Duration) error
}

// DetectorFunc adapts a function to the Detector interface.
type DetectorFunc func(ctx context.Context, p Process, sent time.Time, budget time.Duration) error

func (f DetectorFunc) Wait(ctx context.Context, p Process, sent time.Time, budget time.Duration) error {
	return f(ctx, p, sent, budget)
}

// Sleeper suspends for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// Sleep is the wall-clock Sleeper.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// FixedDelay sleeps Warmup, and if the child is still running, sleeps Settle.
// Each sleep is capped by what is left of the budget.
type FixedDelay struct {
	Warmup time.Duration
	Settle time.Duration
	Sleep  Sleeper
}

func (f FixedDelay) Wait(ctx context.Context, p Process, sent time.Time, budget time.Duration) error {
	sleep := f.Sleep
	if sleep == nil {
		sleep = Sleep
	}

	warm := capped(f.Warmup, budget)
	if err := sleep(ctx, warm); err != nil {
		return err
	}
	if exited(p) {
		return nil
	}

	remaining := budget
	if budget > 0 {
		remaining = budget - warm
		if remaining <= 0 {
			return nil
		}
	}
	return sleep(ctx, capped(f.Settle, remaining))
}

// IdleOutput returns once the child has been silent for Quiet.
type IdleOutput struct {
	Quiet time.Duration
	Poll  time.Duration
	Sleep Sleeper
	Now   func() time.Time
}

func (d IdleOutput) Wait(ctx context.Context, p Process, sent time.Time, budget time.Duration) error {
	sleep, now := d.Sleep, d.Now
	if sleep == nil {
		sleep = Sleep
	}
	if now == nil {
		now = time.Now
	}
	poll := d.Poll
	if poll <= 0 {
		poll = DefaultPoll
	}

	var deadline time.Time
	if budget > 0 {
		deadline = sent.Add(budget)
	}

	for {
		if exited(p) {
			return nil
		}
		last := p.LastOutput()
		if last.Before(sent) {
			last = sent
		}
		t := now()
		if t.Sub(last) >= d.Quiet {
			return nil
		}
		if !deadline.IsZero() && !t.Before(deadline) {
			return nil
		}
		if err := sleep(ctx, poll); err != nil {
			return err
		}
	}
}

// LinePattern returns once a line written after the command matches Pattern.
type LinePattern struct {
	Pattern *regexp.Regexp
}

func (d LinePattern) Wait(ctx context.Context, p Process, sent time.Time, budget time.Duration) error {
	id, ch, history := p.Subscribe()
	defer p.Unsubscribe(id)

	for _, ev := range history {
		if !ev.Timestamp.Before(sent) && d.matches(ev) {
			return nil
		}
	}

	var timeout <-chan time.Time
	if budget > 0 {
		timer := time.NewTimer(time.Until(sent.Add(budget)))
		defer timer.Stop()
		timeout = timer.C
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-p.Done():
			return nil
		case <-timeout:
			return nil
		case ev, ok := <-ch:
			if !ok || d.matches(ev) {
				return nil
			}
		}
	}
}

func (d LinePattern) matches(ev session.OutputEvent) bool {
	if ev.Type == session.OutputExit {
		return false
	}
	return d.Pattern.MatchString(ev.Data)
}

// Settings selects and parameterizes a Detector.
type Settings struct {
	Mode    string
	Warmup  time.Duration
	Settle  time.Duration
	Quiet   time.Duration
	Poll    time.Duration
	Pattern string
}

// New builds the Detector described by s.
func New(s Settings) (Detector, error) {
	switch s.Mode {
	case "", ModeFixed:
		return FixedDelay{Warmup: s.Warmup, Settle: s.Settle}, nil
	case ModeIdle:
		quiet := s.Quiet
		if quiet <= 0 {
			quiet = DefaultQuiet
		}
		return IdleOutput{Quiet: quiet, Poll: s.Poll}, nil
	case ModePattern:
		if s.Pattern == "" {
			return nil, fmt.Errorf("detector %q needs a pattern", ModePattern)
		}
		re, err := regexp.Compile(s.Pattern)
		if err != nil {
			return nil, fmt.Errorf("compile ready pattern: %w", err)
		}
		return LinePattern{Pattern: re}, nil
	default:
		return nil, fmt.Errorf("unknown detector mode %q", s.Mode)
	}
}

func capped(d, budget time.Duration) time.Duration {
	if budget > 0 && d > budget {
		return budget
	}
	return d
}

func exited(p Process) bool {
	select {
	case <-p.Done():
		return true
	default:
		return false
	}
}
