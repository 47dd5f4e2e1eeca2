// Package config loads harness settings from flags, environment, an optional
// YAML file and a .env file.
package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/mattn/go-shellwords"
	"github.com/spf13/viper"

	"chat-harness/internal/harness"
	"chat-harness/internal/quiesce"
	"chat-harness/internal/scenario"
	"chat-harness/internal/session"
	"chat-harness/internal/workspace"
)

const (
	EnvPrefix       = "HARNESS"
	DefaultFileName = "harness"
	DefaultCommand  = "agentry chat"
)

// Keys.
const (
	KeyCommand        = "command"
	KeyExecutable     = "executable"
	KeyArgs           = "args"
	KeyWorkDir        = "workdir"
	KeyQuitCommand    = "quit_command"
	KeyQuitTimeout    = "quit_timeout"
	KeyInitDelay      = "init_delay"
	KeyStepDelay      = "step_delay"
	KeyFileCheckDelay = "file_check_delay"
	KeyDetector       = "detector.mode"
	KeyWarmup         = "detector.warmup"
	KeySettle         = "detector.settle"
	KeyQuiet          = "detector.quiet"
	KeyPoll           = "detector.poll"
	KeyReadyPattern   = "detector.ready_pattern"
	KeyFileIntent     = "file_intent"
	KeyPreviewMax     = "preview.max_bytes"
	KeyPreviewLimit   = "preview.size_limit"
	KeyPreviewExts    = "preview.extensions"
	KeyScenario       = "scenario"
	KeyMonitorAddr    = "monitor_addr"
	KeyWatch          = "watch"
	KeyVerbose        = "verbose"
	KeyEchoOutput     = "echo_output"
	KeyNoColor        = "no_color"
)

// Config is the resolved harness configuration.
type Config struct {
	Executable     string
	Args           []string
	WorkDir        string
	QuitCommand    string
	QuitTimeout    time.Duration
	InitDelay      time.Duration
	StepDelay      time.Duration
	FileCheckDelay time.Duration
	Detector       quiesce.Settings
	FileIntent     string
	PreviewMax     int64
	PreviewLimit   int64
	PreviewExts    []string
	ScenarioFile   string
	MonitorAddr    string
	Watch          bool
	Verbose        bool
	EchoOutput     bool
	NoColor        bool
}

// New returns a viper instance with defaults and environment binding.
func New() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// SetDefaults registers every key so AutomaticEnv and Unmarshal see it.
func SetDefaults(v *viper.Viper) {
	v.SetDefault(KeyCommand, DefaultCommand)
	v.SetDefault(KeyExecutable, "")
	v.SetDefault(KeyArgs, []string{})
	v.SetDefault(KeyWorkDir, ".")
	v.SetDefault(KeyQuitCommand, session.DefaultQuitCommand)
	v.SetDefault(KeyQuitTimeout, session.DefaultQuitTimeout)
	v.SetDefault(KeyInitDelay, harness.DefaultInitDelay)
	v.SetDefault(KeyStepDelay, harness.DefaultStepDelay)
	v.SetDefault(KeyFileCheckDelay, harness.DefaultFileCheckDelay)
	v.SetDefault(KeyDetector, quiesce.ModeFixed)
	v.SetDefault(KeyWarmup, quiesce.DefaultWarmup)
	v.SetDefault(KeySettle, quiesce.DefaultSettle)
	v.SetDefault(KeyQuiet, quiesce.DefaultQuiet)
	v.SetDefault(KeyPoll, quiesce.DefaultPoll)
	v.SetDefault(KeyReadyPattern, "")
	v.SetDefault(KeyFileIntent, scenario.DefaultFileIntent)
	v.SetDefault(KeyPreviewMax, workspace.DefaultMaxPreviewBytes)
	v.SetDefault(KeyPreviewLimit, workspace.DefaultPreviewSizeLimit)
	v.SetDefault(KeyPreviewExts, []string{})
	v.SetDefault(KeyScenario, "")
	v.SetDefault(KeyMonitorAddr, "")
	v.SetDefault(KeyWatch, false)
	v.SetDefault(KeyVerbose, false)
	v.SetDefault(KeyEchoOutput, true)
	v.SetDefault(KeyNoColor, false)
}

// ReadFiles loads .env (if present) into the process environment and then
// the YAML config file. An explicit path must exist; otherwise ./harness.yaml
// is read when present.
func ReadFiles(v *viper.Viper, path string) error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("load .env: %w", err)
	}

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.AddConfigPath(".")
		v.SetConfigName(DefaultFileName)
		v.SetConfigType("yaml")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path == "" && errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

// Load resolves and validates the configuration held by v.
func Load(v *viper.Viper) (*Config, error) {
	exe, args, err := resolveCommand(v)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Executable:     exe,
		Args:           args,
		WorkDir:        v.GetString(KeyWorkDir),
		QuitCommand:    v.GetString(KeyQuitCommand),
		QuitTimeout:    v.GetDuration(KeyQuitTimeout),
		InitDelay:      v.GetDuration(KeyInitDelay),
		StepDelay:      v.GetDuration(KeyStepDelay),
		FileCheckDelay: v.GetDuration(KeyFileCheckDelay),
		Detector: quiesce.Settings{
			Mode:    v.GetString(KeyDetector),
			Warmup:  v.GetDuration(KeyWarmup),
			Settle:  v.GetDuration(KeySettle),
			Quiet:   v.GetDuration(KeyQuiet),
			Poll:    v.GetDuration(KeyPoll),
			Pattern: v.GetString(KeyReadyPattern),
		},
		FileIntent:   v.GetString(KeyFileIntent),
		PreviewMax:   v.GetInt64(KeyPreviewMax),
		PreviewLimit: v.GetInt64(KeyPreviewLimit),
		PreviewExts:  v.GetStringSlice(KeyPreviewExts),
		ScenarioFile: v.GetString(KeyScenario),
		MonitorAddr:  v.GetString(KeyMonitorAddr),
		Watch:        v.GetBool(KeyWatch),
		Verbose:      v.GetBool(KeyVerbose),
		EchoOutput:   v.GetBool(KeyEchoOutput),
		NoColor:      v.GetBool(KeyNoColor),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// resolveCommand prefers an explicit executable; otherwise the command
// string is split with shell quoting rules.
func resolveCommand(v *viper.Viper) (string, []string, error) {
	if exe := v.GetString(KeyExecutable); exe != "" {
		return exe, v.GetStringSlice(KeyArgs), nil
	}

	words, err := shellwords.Parse(v.GetString(KeyCommand))
	if err != nil {
		return "", nil, fmt.Errorf("parse command: %w", err)
	}
	if len(words) == 0 {
		return "", nil, errors.New("no command configured")
	}
	return words[0], words[1:], nil
}

// Validate checks ranges and patterns.
func (c *Config) Validate() error {
	var errs []error
	if c.Executable == "" {
		errs = append(errs, errors.New("executable is required"))
	}
	if c.QuitCommand == "" {
		errs = append(errs, errors.New("quit_command must not be empty"))
	}
	for key, d := range map[string]time.Duration{
		KeyQuitTimeout:    c.QuitTimeout,
		KeyInitDelay:      c.InitDelay,
		KeyStepDelay:      c.StepDelay,
		KeyFileCheckDelay: c.FileCheckDelay,
		KeyWarmup:         c.Detector.Warmup,
		KeySettle:         c.Detector.Settle,
		KeyQuiet:          c.Detector.Quiet,
		KeyPoll:           c.Detector.Poll,
	} {
		if d < 0 {
			errs = append(errs, fmt.Errorf("%s must not be negative, got %s", key, d))
		}
	}
	if c.QuitTimeout == 0 {
		errs = append(errs, fmt.Errorf("%s must be positive", KeyQuitTimeout))
	}
	if _, err := quiesce.New(c.Detector); err != nil {
		errs = append(errs, err)
	}
	if _, err := regexp.Compile(c.FileIntent); err != nil {
		errs = append(errs, fmt.Errorf("%s: %w", KeyFileIntent, err))
	}
	if c.PreviewMax < 0 || c.PreviewLimit < 0 {
		errs = append(errs, errors.New("preview limits must not be negative"))
	}
	return errors.Join(errs...)
}

// SessionOptions returns the child launch options.
func (c *Config) SessionOptions() session.Options {
	return session.Options{
		Executable:  c.Executable,
		Args:        c.Args,
		WorkDir:     c.WorkDir,
		QuitCommand: c.QuitCommand,
		QuitTimeout: c.QuitTimeout,
	}
}

// ListingOptions returns the workspace listing options.
func (c *Config) ListingOptions() workspace.Options {
	opts := workspace.Options{MaxPreviewBytes: c.PreviewMax}
	if len(c.PreviewExts) > 0 || c.PreviewLimit != workspace.DefaultPreviewSizeLimit {
		exts := c.PreviewExts
		if len(exts) == 0 {
			exts = workspace.TextExtensions()
		}
		opts.Preview = workspace.ExtensionPreview(c.PreviewLimit, exts...)
	}
	return opts
}

// HarnessConfig returns the driver configuration.
func (c *Config) HarnessConfig() (harness.Config, error) {
	intent, err := scenario.NewFileIntent(c.FileIntent)
	if err != nil {
		return harness.Config{}, err
	}
	return harness.Config{
		Session:        c.SessionOptions(),
		InitDelay:      c.InitDelay,
		StepDelay:      c.StepDelay,
		FileCheckDelay: c.FileCheckDelay,
		FileIntent:     intent,
		Listing:        c.ListingOptions(),
		WatchWorkspace: c.Watch,
	}, nil
}
