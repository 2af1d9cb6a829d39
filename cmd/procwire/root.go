package main

import (
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"procwire/backend"
	"procwire/backend/process"
	"procwire/config"
	"procwire/core/logging"
)

type app struct {
	configFile string
	envFile    string
	logLevel   string
	logFormat  string
	strategy   string

	cfg     config.Config
	runID   string
	restore func()
}

// newRootCmd builds the command tree. The caller runs app.teardown once
// execution finishes, whether or not it failed.
func newRootCmd() (*cobra.Command, *app) {
	a := &app{}
	root := &cobra.Command{
		Use:           "procwire",
		Short:         "Spawn processes and pipelines with precise stdio and lifecycle control",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd)
		},
	}
	flags := root.PersistentFlags()
	flags.StringVar(&a.configFile, "config", "", "config file (yaml, toml or json)")
	flags.StringVar(&a.envFile, "env-file", "", ".env file loaded before PROCWIRE_* variables are read")
	flags.StringVar(&a.logLevel, "log-level", "", "log level (debug, info, warn, error)")
	flags.StringVar(&a.logFormat, "log-format", "", "log format (console or json)")
	flags.StringVar(&a.strategy, "strategy", "", "spawn strategy (auto, fast or fork)")

	root.AddCommand(newRunCmd(a))
	root.AddCommand(newPipelineCmd(a))
	root.AddCommand(newFDsCmd())
	root.AddCommand(newVersionCmd())
	return root, a
}

// setup loads configuration, installs the logger and the process backend
// for this invocation. Flags win over the config file and environment.
func (a *app) setup(cmd *cobra.Command) error {
	var opts []config.Option
	if a.configFile != "" {
		opts = append(opts, config.WithConfigFile(a.configFile))
	}
	if a.envFile != "" {
		opts = append(opts, config.WithEnvFile(a.envFile))
	}
	cfg, err := config.Load(opts...)
	if err != nil {
		return err
	}
	if a.logLevel != "" {
		cfg.LogLevel = a.logLevel
	}
	if a.logFormat != "" {
		cfg.LogFormat = a.logFormat
	}
	if a.strategy != "" {
		cfg.Strategy = a.strategy
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	a.cfg = cfg
	a.runID = uuid.New().String()

	logger := logging.New(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat, Output: cmd.ErrOrStderr()})
	logging.Set(logger.With().Str("run_id", a.runID).Logger())
	a.restore = backend.Override(process.FromConfig(cfg))
	logging.Component("cli").Debug().
		Str("command", cmd.Name()).
		Str("strategy", cfg.Strategy).
		Dur("kill_grace", cfg.KillGrace).
		Msg("configured")
	return nil
}

func (a *app) teardown() {
	if a.restore != nil {
		a.restore()
		a.restore = nil
	}
}
