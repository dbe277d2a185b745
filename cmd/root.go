package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/madello/paarvai/cmd/seed"
	"github.com/madello/paarvai/cmd/serve"
	"github.com/madello/paarvai/cmd/simulate"
	"github.com/madello/paarvai/internal/conf"
	"github.com/madello/paarvai/internal/logger"
)

// BuildInfo is set at link time.
type BuildInfo struct {
	Version   string
	BuildDate string
}

// flagKeys maps config keys to the flags that override them. Flags a
// subcommand does not define are skipped.
var flagKeys = map[string]string{
	"logging.default_level": "log-level",
	"logging.console.level": "log-level",
	"main.timezone":         "timezone",
	"feed.capacity":         "capacity",
	"webserver.listen":      "listen",
	"simulator.enabled":     "simulate",
	"simulator.interval":    "interval",
	"simulator.seed_count":  "seed-count",
	"simulator.random_seed": "random-seed",
	"seed.file":             "seed-file",
	"mqtt.enabled":          "mqtt",
	"mqtt.broker":           "mqtt-broker",
	"mqtt.topic":            "mqtt-topic",
}

// RootCommand creates and returns the root command. settings is filled in
// before any subcommand runs.
func RootCommand(settings *conf.Settings, info BuildInfo) *cobra.Command {
	var configFile string

	rootCmd := &cobra.Command{
		Use:          "paarvai",
		Short:        "Paarvai detection feed",
		Long:         "Paarvai keeps a bounded live feed of face-recognition detections and serves it to dashboards.",
		Version:      info.Version,
		SilenceUsage: true,
	}

	setupFlags(rootCmd, &configFile)

	rootCmd.AddCommand(
		serve.Command(settings, info.Version),
		simulate.Command(settings),
		seed.Command(settings),
	)

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		return initialize(cmd, settings, configFile)
	}

	return rootCmd
}

// Execute runs rootCmd and then closes the global logger, flushing any
// buffered file output, whether or not the command failed.
func Execute(ctx context.Context, rootCmd *cobra.Command) error {
	err := rootCmd.ExecuteContext(ctx)
	if cerr := logger.Global().Close(); cerr != nil {
		fmt.Fprintf(rootCmd.ErrOrStderr(), "failed to close log file: %v\n", cerr)
	}
	return err
}

// initialize loads the configuration and sets up logging. It runs before
// any subcommand.
func initialize(cmd *cobra.Command, settings *conf.Settings, configFile string) error {
	loaded, used, err := conf.Load(conf.LoadOptions{
		ConfigFile: configFile,
		Flags:      cmd.Flags(),
		FlagKeys:   flagKeys,
	})
	if err != nil {
		return err
	}
	*settings = *loaded

	cl, err := logger.NewCentralLogger(&settings.Logging)
	if err != nil {
		return err
	}
	logger.SetGlobal(cl)

	log := cl.Module("main")
	if used != "" {
		log.Info("configuration loaded", logger.String("path", used))
	} else {
		log.Debug("no config file found, using defaults")
	}
	return nil
}

// setupFlags defines flags that are global to the command line interface.
func setupFlags(rootCmd *cobra.Command, configFile *string) {
	flags := rootCmd.PersistentFlags()
	flags.StringVarP(configFile, "config", "c", "", "Path to config file (default: search ., user config dir, /etc/paarvai)")
	flags.String("log-level", "", "Log level: trace, debug, info, warn or error")
	flags.String("timezone", "", "Time zone for date filters and trend buckets (Local, UTC or IANA name)")
	flags.Int("capacity", 0, "Maximum number of records kept in the feed")
}
