package cmd

import (
	"context"
	"fmt"
	"os"
	"slices"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/tphakala/patchwork-go/cmd/benchmark"
	"github.com/tphakala/patchwork-go/cmd/extract"
	"github.com/tphakala/patchwork-go/cmd/label"
	"github.com/tphakala/patchwork-go/cmd/sample"
	"github.com/tphakala/patchwork-go/cmd/subset"
	"github.com/tphakala/patchwork-go/cmd/version"
	"github.com/tphakala/patchwork-go/internal/buildinfo"
	"github.com/tphakala/patchwork-go/internal/conf"
	"github.com/tphakala/patchwork-go/internal/logger"
	"github.com/tphakala/patchwork-go/internal/telemetry"
)

// app carries what the root command prepares for its subcommands.
type app struct {
	settings   *conf.Settings
	viper      *viper.Viper
	buildInfo  *buildinfo.Context
	configFile string
	closers    []func()
}

// Execute runs the command line and returns the process exit code.
func Execute(ctx context.Context, bi *buildinfo.Context, args []string) int {
	a := &app{settings: &conf.Settings{}, viper: viper.New(), buildInfo: bi}
	root := a.rootCommand()
	root.SetArgs(args)

	err := root.ExecuteContext(ctx)
	a.close()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

// rootCommand creates the command tree. a.settings is filled from the config
// file, the environment and the command line before a subcommand runs.
func (a *app) rootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "patchwork",
		Short:         "Active learning for binary image classification",
		Long:          "patchwork labels image patches with as few annotations as possible by asking about the patches a model is least sure of.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	setupFlags(rootCmd, &a.configFile)

	versionCmd := version.Command(a.buildInfo)
	subcommands := []*cobra.Command{
		label.Command(a.settings),
		benchmark.Command(a.settings),
		sample.Command(a.settings),
		subset.Command(a.settings),
		extract.Command(a.settings),
		versionCmd,
	}
	rootCmd.AddCommand(subcommands...)

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		// version needs no configuration
		if cmd.Name() == versionCmd.Name() {
			return nil
		}
		return a.initialize(cmd)
	}

	return rootCmd
}

// setupFlags defines the flags shared by every subcommand.
func setupFlags(rootCmd *cobra.Command, configFile *string) {
	flags := rootCmd.PersistentFlags()
	flags.StringVarP(configFile, "config", "c", "", "Path to the configuration file")
	flags.BoolP("debug", "d", false, "Enable debug output")
	flags.Uint64("seed", 0, "Seed of the random source")

	conf.BindFlag(flags, "debug", "debug")
	conf.BindFlag(flags, "seed", "seed")
}

// initialize loads the settings, then sets up logging and error telemetry.
func (a *app) initialize(cmd *cobra.Command) error {
	if err := conf.BindFlags(a.viper, cmd.Flags()); err != nil {
		return err
	}
	settings, err := conf.Load(a.viper, a.configFile)
	if err != nil {
		return err
	}
	*a.settings = *settings

	if a.settings.Debug {
		a.settings.Logging.DefaultLevel = "debug"
		if a.settings.Logging.Console != nil {
			a.settings.Logging.Console.Level = "debug"
		}
	}
	central, err := logger.NewCentralLogger(&a.settings.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	logger.SetGlobal(central)
	a.closers = append(a.closers, func() { _ = central.Close() })

	shutdown, err := telemetry.Init(a.settings.Sentry, a.buildInfo)
	if err != nil {
		return err
	}
	a.closers = append(a.closers, shutdown)
	return nil
}

// close releases what initialize set up, in reverse order.
func (a *app) close() {
	for _, fn := range slices.Backward(a.closers) {
		fn()
	}
	a.closers = nil
}
