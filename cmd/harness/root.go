package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"chat-harness/internal/config"
)

type app struct {
	v       *viper.Viper
	cfgFile string
	cfg     *config.Config
	log     *zap.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{v: config.New(), log: zap.NewNop()}

	root := &cobra.Command{
		Use:   "chat-harness",
		Short: "Drive an interactive chat CLI through a scripted scenario",
		Long: `chat-harness launches a line-oriented chat CLI as a child process, sends it
a scripted list of commands over stdin, waits for each answer to settle, and
reports the files the session leaves in its workspace.

Settings come from flags, HARNESS_* environment variables, a .env file and
an optional harness.yaml.`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: a.init,
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			_ = a.log.Sync()
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&a.cfgFile, "config", "", "config file (default is ./harness.yaml)")
	pf.BoolP("verbose", "v", false, "Enable debug logging")
	pf.Bool("no-color", false, "Disable styled output")
	pf.String("workdir", ".", "Workspace directory the chat CLI runs in")
	bindFlags(a.v, pf, map[string]string{
		config.KeyVerbose: "verbose",
		config.KeyNoColor: "no-color",
		config.KeyWorkDir: "workdir",
	})

	root.AddCommand(a.runCmd(), a.lsCmd(), a.scenarioCmd())
	return root
}

// init loads configuration and the logger before any subcommand runs.
func (a *app) init(cmd *cobra.Command, args []string) error {
	if err := config.ReadFiles(a.v, a.cfgFile); err != nil {
		return err
	}
	cfg, err := config.Load(a.v)
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	a.cfg = cfg

	logger, err := newLogger(cfg.Verbose)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	a.log = logger
	return nil
}

func newLogger(verbose bool) (*zap.Logger, error) {
	zcfg := zap.NewProductionConfig()
	zcfg.Encoding = "console"
	zcfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	if verbose {
		zcfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}
	return zcfg.Build()
}

func bindFlags(v *viper.Viper, fs *pflag.FlagSet, keys map[string]string) {
	for key, name := range keys {
		v.BindPFlag(key, fs.Lookup(name))
	}
}
