package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"chat-harness/internal/config"
	"chat-harness/internal/harness"
	"chat-harness/internal/metrics"
	"chat-harness/internal/quiesce"
	"chat-harness/internal/realtime"
	"chat-harness/internal/report"
	"chat-harness/internal/scenario"
	"chat-harness/internal/session"
)

const monitorShutdownTimeout = 5 * time.Second

func (a *app) runCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run [scenario.yaml]",
		Short: "Run a scenario against the chat CLI",
		Long: `Starts the chat CLI, sends each scenario step, lists the workspace after
file-creating steps and at the end, then asks the CLI to quit.

Without a scenario file the built-in smoke scenario is used. Interrupting
the run (Ctrl+C) ends the session the same way; a second interrupt kills
the child immediately.`,
		Args: cobra.MaximumNArgs(1),
		RunE: a.run,
	}

	f := cmd.Flags()
	f.String("command", config.DefaultCommand, "Chat CLI command line")
	f.String("quit-command", session.DefaultQuitCommand, "Command that asks the chat CLI to exit")
	f.Duration("quit-timeout", session.DefaultQuitTimeout, "How long to wait for a graceful exit")
	f.String("detector", quiesce.ModeFixed, "Quiescence detector: fixed, idle or pattern")
	f.String("ready-pattern", "", "Regexp matching the chat CLI's ready line (pattern detector)")
	f.String("monitor", "", "Serve the live monitor on this address, e.g. :8420")
	f.Bool("watch", false, "Report workspace file count changes while running")
	f.Bool("echo", true, "Print the chat CLI's output")
	bindFlags(a.v, f, map[string]string{
		config.KeyCommand:      "command",
		config.KeyQuitCommand:  "quit-command",
		config.KeyQuitTimeout:  "quit-timeout",
		config.KeyDetector:     "detector",
		config.KeyReadyPattern: "ready-pattern",
		config.KeyMonitorAddr:  "monitor",
		config.KeyWatch:        "watch",
		config.KeyEchoOutput:   "echo",
	})
	return cmd
}

func (a *app) run(cmd *cobra.Command, args []string) error {
	sc, err := a.loadScenario(args)
	if err != nil {
		return err
	}

	hc, err := a.cfg.HarnessConfig()
	if err != nil {
		return err
	}
	detector, err := quiesce.New(a.cfg.Detector)
	if err != nil {
		return err
	}

	m := metrics.New()
	reporters := report.Multi{
		report.NewText(cmd.OutOrStdout(), report.WithEcho(a.cfg.EchoOutput), report.WithColor(!a.cfg.NoColor)),
	}
	// The monitor needs the driver as its source, so reporters is extended
	// after the driver exists.
	fanOut := harness.ReporterFunc(func(msgType string, payload any) {
		reporters.Report(msgType, payload)
	})

	driver, err := harness.New(hc,
		harness.WithLogger(a.log),
		harness.WithReporter(fanOut),
		harness.WithDetector(detector),
		harness.WithMetrics(m),
	)
	if err != nil {
		return err
	}

	if a.cfg.MonitorAddr != "" {
		monitor := realtime.New(driver, m.Handler(), a.log)
		stopMonitor := a.serveMonitor(monitor)
		defer stopMonitor()
		reporters = append(reporters, monitor)
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()
	done := make(chan struct{})
	defer close(done)
	go a.handleSignals(ctx, cancel, driver, done)

	res, err := driver.Run(ctx, sc)
	if err != nil {
		return err
	}

	if res.Interrupted {
		a.log.Info("run interrupted", zap.String("run", res.RunID), zap.Int("steps", len(res.Steps)))
	}
	return nil
}

// handleSignals cancels the run on the first SIGINT/SIGTERM and kills the
// child on the second.
func (a *app) handleSignals(ctx context.Context, cancel context.CancelFunc, driver *harness.Driver, done <-chan struct{}) {
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case sig := <-sigCh:
		a.log.Info("received signal, ending session", zap.String("signal", sig.String()))
		cancel()
	case <-ctx.Done():
		return
	case <-done:
		return
	}

	select {
	case <-sigCh:
		a.log.Warn("second signal, killing child")
		if err := driver.Kill(); err != nil {
			a.log.Error("kill failed", zap.Error(err))
		}
	case <-done:
	}
}

func (a *app) serveMonitor(monitor *realtime.Server) func() {
	httpServer := &http.Server{
		Addr:    a.cfg.MonitorAddr,
		Handler: monitor.Handler(),
	}

	go func() {
		a.log.Info("monitor listening", zap.String("addr", a.cfg.MonitorAddr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.Error("monitor server error", zap.Error(err))
		}
	}()

	return func() {
		monitor.Close()
		ctx, cancel := context.WithTimeout(context.Background(), monitorShutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(ctx); err != nil {
			a.log.Warn("monitor shutdown", zap.Error(err))
		}
	}
}

func (a *app) loadScenario(args []string) (scenario.Scenario, error) {
	path := a.cfg.ScenarioFile
	if len(args) > 0 {
		path = args[0]
	}
	if path == "" {
		return scenario.Default(), nil
	}
	return scenario.Load(path)
}
