// Package harness drives one chat CLI session through a scripted scenario.
package harness

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"chat-harness/internal/metrics"
	"chat-harness/internal/protocol"
	"chat-harness/internal/quiesce"
	"chat-harness/internal/scenario"
	"chat-harness/internal/session"
	"chat-harness/internal/workspace"
)

const (
	DefaultInitDelay      = 2 * time.Second
	DefaultStepDelay      = 3 * time.Second
	DefaultFileCheckDelay = 2 * time.Second
)

const (
	PhaseIdle     = "idle"
	PhaseStarting = "starting"
	PhaseRunning  = "running"
	PhaseEnding   = "ending"
	PhaseFinished = "finished"
)

var errNoSession = errors.New("no active session")

// Config controls a Driver. Zero delays are honored as "no delay"; use
// DefaultConfig for the standard timings.
type Config struct {
	Session        session.Options
	InitDelay      time.Duration
	StepDelay      time.Duration
	FileCheckDelay time.Duration
	FileIntent     *scenario.FileIntent
	Listing        workspace.Options
	WatchWorkspace bool
}

// DefaultConfig returns the standard timings for the given child.
func DefaultConfig(opts session.Options) Config {
	return Config{
		Session:        opts,
		InitDelay:      DefaultInitDelay,
		StepDelay:      DefaultStepDelay,
		FileCheckDelay: DefaultFileCheckDelay,
	}
}

// Status is a snapshot of the driver's progress.
type Status struct {
	RunID   string        `json:"runId,omitempty"`
	Name    string        `json:"name,omitempty"`
	Phase   string        `json:"phase"`
	Step    int           `json:"step"`
	Total   int           `json:"total"`
	WorkDir string        `json:"workDir"`
	Session *session.Info `json:"session,omitempty"`
}

// StepResult records what happened to one step.
type StepResult struct {
	Index   int
	Step    scenario.Step
	Sent    bool
	Err     error
	Waited  time.Duration
	Listing []workspace.Entry
	Diff    *workspace.Diff
}

// Result summarizes a scenario run.
type Result struct {
	RunID       string
	Name        string
	Steps       []StepResult
	Final       []workspace.Entry
	Interrupted bool
	ShutdownErr error
	Duration    time.Duration
}

// Failed counts the steps whose command could not be sent.
func (r *Result) Failed() int {
	n := 0
	for _, s := range r.Steps {
		if !s.Sent {
			n++
		}
	}
	return n
}

// Option configures a Driver.
type Option func(*Driver)

func WithLogger(l *zap.Logger) Option          { return func(d *Driver) { d.log = l } }
func WithReporter(r Reporter) Option           { return func(d *Driver) { d.reporter = r } }
func WithDetector(det quiesce.Detector) Option { return func(d *Driver) { d.detector = det } }
func WithSleeper(s quiesce.Sleeper) Option     { return func(d *Driver) { d.sleep = s } }
func WithMetrics(m *metrics.Metrics) Option    { return func(d *Driver) { d.metrics = m } }

// Driver owns at most one child session at a time.
type Driver struct {
	cfg      Config
	log      *zap.Logger
	reporter Reporter
	detector quiesce.Detector
	sleep    quiesce.Sleeper
	metrics  *metrics.Metrics

	mu      sync.Mutex
	sess    *session.Session
	ended   bool
	outSub  string
	outDone chan struct{}
	status  Status
}

// New creates a Driver.
func New(cfg Config, opts ...Option) (*Driver, error) {
	if cfg.FileIntent == nil {
		intent, err := scenario.NewFileIntent("")
		if err != nil {
			return nil, err
		}
		cfg.FileIntent = intent
	}

	d := &Driver{
		cfg:      cfg,
		log:      zap.NewNop(),
		reporter: nopReporter{},
		detector: quiesce.FixedDelay{Warmup: quiesce.DefaultWarmup, Settle: quiesce.DefaultSettle},
		sleep:    quiesce.Sleep,
		status:   Status{Phase: PhaseIdle, WorkDir: cfg.Session.WorkDir},
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.metrics == nil {
		d.metrics = metrics.New()
	}
	d.cfg.Session.Logger = d.log
	return d, nil
}

// WorkDir returns the workspace inspected by the driver.
func (d *Driver) WorkDir() string {
	if d.cfg.Session.WorkDir == "" {
		return "."
	}
	return d.cfg.Session.WorkDir
}

// Status returns a snapshot of the current run.
func (d *Driver) Status() Status {
	d.mu.Lock()
	defer d.mu.Unlock()
	st := d.status
	if d.sess != nil {
		info := d.sess.Info()
		st.Session = &info
	}
	return st
}

func (d *Driver) setStatus(fn func(*Status)) {
	d.mu.Lock()
	fn(&d.status)
	d.mu.Unlock()
}

// Start launches the child process. Failures are *session.LaunchError.
func (d *Driver) Start() (*session.Session, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.sess != nil && !d.ended {
		return nil, fmt.Errorf("session %s already active", d.sess.ID())
	}

	sess, err := session.Start(d.cfg.Session)
	if err != nil {
		d.metrics.LaunchFailures.Inc()
		return nil, err
	}

	d.sess = sess
	d.ended = false
	d.metrics.SessionActive.Set(1)

	subID, ch, _ := sess.Subscribe()
	d.outSub = subID
	d.outDone = make(chan struct{})
	go d.forwardOutput(sess.ID(), ch, d.outDone)

	info := sess.Info()
	d.reporter.Report(protocol.TypeSessionState, protocol.SessionStatePayload{
		SessionID: info.ID,
		State:     string(info.State),
		PID:       info.PID,
	})
	return sess, nil
}

// forwardOutput relays child output to the reporter until unsubscribed.
func (d *Driver) forwardOutput(sessionID string, ch <-chan session.OutputEvent, done chan struct{}) {
	defer close(done)
	for ev := range ch {
		if ev.Type == session.OutputExit {
			d.log.Debug("child output closed", zap.String("data", ev.Data))
			continue
		}
		d.reporter.Report(protocol.TypeSessionOutput, protocol.SessionOutputPayload{
			SessionID: sessionID,
			Stream:    string(ev.Type),
			Data:      ev.Data,
		})
	}
}

func (d *Driver) active() *session.Session {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.ended {
		return nil
	}
	return d.sess
}

// SendCommand writes text to the child and waits for it to go quiet.
// Only a failed write is an error; a wait that runs out of budget is not.
// A cancelled context aborts the wait and returns ctx.Err().
func (d *Driver) SendCommand(ctx context.Context, text string, budget time.Duration) error {
	sess := d.active()
	if sess == nil {
		d.metrics.SendFailures.Inc()
		return &session.SendError{Command: text, Err: errNoSession}
	}

	sent := time.Now()
	if err := sess.Send(text); err != nil {
		d.metrics.SendFailures.Inc()
		return err
	}
	d.metrics.StepsSent.Inc()
	d.log.Debug("command sent", zap.String("command", text), zap.Duration("budget", budget))

	err := d.detector.Wait(ctx, sess, sent, budget)
	d.metrics.StepWait.Observe(time.Since(sent).Seconds())
	return err
}

// ListWorkspace lists the driver's workspace directory.
func (d *Driver) ListWorkspace() ([]workspace.Entry, error) {
	entries, err := workspace.List(d.WorkDir(), d.cfg.Listing)
	if err != nil {
		d.metrics.Inspections.WithLabelValues("error").Inc()
		return nil, err
	}
	d.metrics.Inspections.WithLabelValues("ok").Inc()
	return entries, nil
}

// EndSession shuts the active child down. It is a no-op when no session is
// active or the session was already ended.
func (d *Driver) EndSession() error {
	d.mu.Lock()
	sess := d.sess
	if sess == nil || d.ended {
		d.mu.Unlock()
		return nil
	}
	d.ended = true
	subID, outDone := d.outSub, d.outDone
	d.outSub = ""
	d.mu.Unlock()

	err := sess.End()

	var shutdownErr *session.ShutdownError
	if errors.As(err, &shutdownErr) {
		if shutdownErr.Killed {
			d.metrics.ForcedKills.Inc()
			d.log.Warn("child did not quit, forced termination", zap.Error(err))
		} else {
			d.log.Error("child cleanup failed", zap.Error(err))
		}
	}

	if subID != "" {
		sess.Unsubscribe(subID)
		<-outDone
	}
	d.metrics.SessionActive.Set(0)

	info := sess.Info()
	d.reporter.Report(protocol.TypeSessionState, protocol.SessionStatePayload{
		SessionID: info.ID,
		State:     string(info.State),
		PID:       info.PID,
		ExitCode:  info.ExitCode,
	})
	if err != nil {
		d.reporter.Report(protocol.TypeError, protocol.ErrorPayload{
			Code:    protocol.ErrShutdownFailed,
			Message: err.Error(),
		})
	}
	return err
}

// Kill force-terminates the child without the quit handshake. It also
// cuts short an EndSession that is still waiting for the child to quit.
func (d *Driver) Kill() error {
	d.mu.Lock()
	sess := d.sess
	d.mu.Unlock()
	if sess == nil || !sess.IsAlive() {
		return nil
	}
	d.metrics.ForcedKills.Inc()
	return sess.Kill()
}

// Run executes the scenario against a freshly started child. Only a launch
// failure (or an invalid scenario) is returned as an error; every per-step
// problem is recorded in the Result and reported. Cancelling ctx stops
// issuing steps and runs the normal shutdown path.
func (d *Driver) Run(ctx context.Context, sc scenario.Scenario) (*Result, error) {
	if err := sc.Validate(); err != nil {
		return nil, err
	}

	res := &Result{RunID: uuid.New().String(), Name: sc.Name}
	started := time.Now()
	log := d.log.With(zap.String("run", res.RunID))

	d.setStatus(func(s *Status) {
		*s = Status{RunID: res.RunID, Name: sc.Name, Phase: PhaseStarting, Total: len(sc.Steps), WorkDir: d.WorkDir()}
	})
	d.reporter.Report(protocol.TypeScenarioStarted, protocol.ScenarioStartedPayload{
		RunID:      res.RunID,
		Name:       sc.Name,
		StepCount:  len(sc.Steps),
		Executable: d.cfg.Session.Executable,
		Args:       d.cfg.Session.Args,
		WorkDir:    d.WorkDir(),
	})

	if _, err := d.Start(); err != nil {
		log.Error("launch failed", zap.Error(err))
		d.reporter.Report(protocol.TypeError, protocol.ErrorPayload{Code: protocol.ErrLaunchFailed, Message: err.Error()})
		d.setStatus(func(s *Status) { s.Phase = PhaseFinished })
		return res, err
	}

	if d.cfg.WatchWorkspace {
		w := workspace.NewWatcher(d.WorkDir(), func(n int) {
			d.reporter.Report(protocol.TypeWorkspaceChanged, protocol.WorkspaceChangedPayload{Dir: d.WorkDir(), FileCount: n})
		}, log)
		if err := w.Start(); err != nil {
			log.Warn("workspace watcher unavailable", zap.Error(err))
		} else {
			defer w.Close()
		}
	}

	d.setStatus(func(s *Status) { s.Phase = PhaseRunning })

	if err := d.sleep(ctx, d.cfg.InitDelay); err != nil {
		res.Interrupted = true
	}

	for i, step := range sc.Steps {
		if res.Interrupted || ctx.Err() != nil {
			res.Interrupted = true
			break
		}
		sr := d.runStep(ctx, log, i, len(sc.Steps), step)
		res.Steps = append(res.Steps, sr)
	}
	if ctx.Err() != nil {
		res.Interrupted = true
	}

	if res.Interrupted {
		log.Warn("scenario interrupted, ending session")
	} else if entries, err := d.inspect(log, "final", nil); err == nil {
		res.Final = entries
	}

	d.setStatus(func(s *Status) { s.Phase = PhaseEnding })
	res.ShutdownErr = d.EndSession()
	res.Duration = time.Since(started)
	d.setStatus(func(s *Status) { s.Phase = PhaseFinished })

	d.reporter.Report(protocol.TypeScenarioFinished, protocol.ScenarioFinishedPayload{
		RunID:       res.RunID,
		Steps:       len(sc.Steps),
		Sent:        len(res.Steps) - res.Failed(),
		Failed:      res.Failed(),
		Interrupted: res.Interrupted,
		Duration:    res.Duration.Round(time.Millisecond).String(),
	})
	return res, nil
}

func (d *Driver) runStep(ctx context.Context, log *zap.Logger, i, total int, step scenario.Step) StepResult {
	sr := StepResult{Index: i + 1, Step: step}
	d.setStatus(func(s *Status) { s.Step = sr.Index })

	d.reporter.Report(protocol.TypeStepStarted, protocol.StepStartedPayload{
		Index:       sr.Index,
		Total:       total,
		Command:     step.Command,
		Description: step.Description,
		Timeout:     durationString(step.Timeout),
	})

	fileStep := d.cfg.FileIntent.Match(step)
	var before []workspace.Entry
	if fileStep {
		// Baseline for the diff; failures here only lose the diff.
		before, _ = d.ListWorkspace()
	}

	t0 := time.Now()
	err := d.SendCommand(ctx, step.Command, step.Timeout)
	sr.Waited = time.Since(t0)

	switch {
	case err != nil && ctx.Err() != nil:
		// Interrupted while waiting; the command itself went out.
		sr.Sent = true
		return sr
	case err != nil:
		sr.Err = err
		log.Warn("step failed", zap.Int("step", sr.Index), zap.Error(err))
		d.reporter.Report(protocol.TypeStepFailed, protocol.StepResultPayload{Index: sr.Index, Error: err.Error()})
	default:
		sr.Sent = true
		d.reporter.Report(protocol.TypeStepSent, protocol.StepResultPayload{Index: sr.Index, Waited: sr.Waited.Round(time.Millisecond).String()})
	}

	if err := d.sleep(ctx, d.cfg.StepDelay); err != nil {
		return sr
	}

	if fileStep {
		if err := d.sleep(ctx, d.cfg.FileCheckDelay); err != nil {
			return sr
		}
		label := fmt.Sprintf("after step %d", sr.Index)
		if entries, err := d.inspect(log, label, before); err == nil {
			sr.Listing = entries
			diff := workspace.Compare(before, entries)
			sr.Diff = &diff
		}
	}
	return sr
}

// inspect lists the workspace and reports it. Errors are logged and
// reported, never propagated into the scenario.
func (d *Driver) inspect(log *zap.Logger, label string, before []workspace.Entry) ([]workspace.Entry, error) {
	entries, err := d.ListWorkspace()
	if err != nil {
		log.Warn("workspace inspection failed", zap.String("label", label), zap.Error(err))
		d.reporter.Report(protocol.TypeError, protocol.ErrorPayload{Code: protocol.ErrInspectionFailed, Message: err.Error()})
		return nil, err
	}

	payload := protocol.WorkspaceListingPayload{Dir: d.WorkDir(), Label: label, Entries: entries}
	if before != nil {
		diff := workspace.Compare(before, entries)
		payload.Diff = &diff
	}
	d.reporter.Report(protocol.TypeWorkspaceListing, payload)
	return entries, nil
}

func durationString(d time.Duration) string {
	if d <= 0 {
		return ""
	}
	return d.String()
}
