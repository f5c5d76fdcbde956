package main

import (
	"fmt"
	"os"

	"github.com/dc0d/onexit"
	"github.com/spf13/cobra"

	"nanojit/internal/config"
	"nanojit/internal/jit"
)

// loadConfig reads --config and applies the trace flags on top. A missing
// default config file is not an error; a missing explicit one is.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	flags := cmd.Root().PersistentFlags()
	path, err := flags.GetString("config")
	if err != nil {
		return config.Config{}, err
	}
	var cfg config.Config
	if flags.Changed("config") {
		cfg, err = config.LoadFile(path)
	} else {
		cfg, err = config.Load(path)
	}
	if err != nil {
		return config.Config{}, err
	}

	output, err := flags.GetString("trace")
	if err != nil {
		return config.Config{}, err
	}
	level, err := flags.GetString("trace-level")
	if err != nil {
		return config.Config{}, err
	}
	if output != "" {
		cfg.Trace.Output = output
		if level == "" && (cfg.Trace.Level == "" || cfg.Trace.Level == "off") {
			level = "phase"
		}
	}
	if level != "" {
		cfg.Trace.Level = level
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func fatalHook(msg string, err error) {
	printError(os.Stderr, fmt.Errorf("fatal: %s: %w", msg, err))
	exitProcess(jit.ExitFatal)
}

// openEngine builds the engine for a command. The returned func closes it
// and prints timings when --timings is set.
func openEngine(cmd *cobra.Command) (*jit.Engine, func() error, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, nil, err
	}
	e, err := jit.New(jit.Options{Config: cfg, Fatal: fatalHook})
	if err != nil {
		return nil, nil, err
	}
	showTimings, err := cmd.Root().PersistentFlags().GetBool("timings")
	if err != nil {
		return nil, nil, err
	}
	onexit.Register(func() { _ = e.Close() })
	closeEngine := func() error {
		if showTimings {
			st := e.Stats()
			printTimings(cmd.ErrOrStderr(), st.Timings, st.Translations)
		}
		return e.Close()
	}
	return e, closeEngine, nil
}
