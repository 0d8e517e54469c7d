// Package cli implements the meadow command line.
package cli

import (
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/pthm-cable/meadow/config"
)

// Version is set at build time.
var Version = "dev"

// Execute runs the root command.
func Execute() error {
	return newRootCmd().Execute()
}

func newRootCmd() *cobra.Command {
	v := viper.New()
	v.SetEnvPrefix("MEADOW")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	rootCmd := &cobra.Command{
		Use:           "meadow",
		Short:         "Agent population simulator",
		Long:          "meadow runs pooled agent populations on a continuous 2D world, with cover-grid placement, aging, replication and energy exchange between classes.",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := bindFlags(v, cmd.Flags()); err != nil {
				return err
			}
			if err := setupLogging(cmd.ErrOrStderr(), v.GetString("log-level"), v.GetString("log-format")); err != nil {
				return err
			}
			return config.Init(v.GetString("config"))
		},
	}

	pf := rootCmd.PersistentFlags()
	pf.String("config", "", "Path to a YAML or TOML config file (empty = embedded defaults)")
	pf.String("log-level", "info", "Log level: debug, info, warn, error")
	pf.String("log-format", "json", "Log format: json or text")

	rootCmd.AddCommand(
		newVersionCmd(),
		newRunCmd(v),
		newServeCmd(v),
		newPresetsCmd(v),
		newEpisodesCmd(v),
		newEventsCmd(),
	)
	return rootCmd
}

// bindFlags makes every flag of the running command readable through v, so
// MEADOW_<FLAG> environment variables fill flags the user did not set.
func bindFlags(v *viper.Viper, flags *pflag.FlagSet) error {
	var err error
	flags.VisitAll(func(f *pflag.Flag) {
		if err != nil {
			return
		}
		err = v.BindPFlag(f.Name, f)
	})
	return err
}

func setupLogging(w io.Writer, level, format string) error {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return fmt.Errorf("invalid log level %q", level)
	}
	opts := &slog.HandlerOptions{Level: lvl}

	var h slog.Handler
	switch format {
	case "json":
		h = slog.NewJSONHandler(w, opts)
	case "text":
		h = slog.NewTextHandler(w, opts)
	default:
		return fmt.Errorf("invalid log format %q", format)
	}
	slog.SetDefault(slog.New(h))
	return nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		PersistentPreRunE: func(*cobra.Command, []string) error {
			return nil
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := fmt.Fprintln(cmd.OutOrStdout(), Version)
			return err
		},
	}
}
