package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pthm-cable/meadow/telemetry"
)

func newRunCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a headless simulation",
		RunE: func(cmd *cobra.Command, _ []string) error {
			maxTicks := v.GetInt64("max-ticks")
			maxEpisodes := v.GetInt("max-episodes")
			if maxTicks <= 0 && maxEpisodes <= 0 {
				return errors.New("set --max-ticks or --max-episodes")
			}

			a, err := wireApp(v)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			slog.Info("starting headless simulation",
				"run_id", a.sim.RunID(),
				"seed", a.seed,
				"max_ticks", maxTicks,
				"max_episodes", maxEpisodes,
			)
			err = a.sim.Run(ctx, maxTicks, maxEpisodes)
			if err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			slog.Info("simulation finished", "tick", a.sim.Tick(), "episode", a.sim.Episode())

			return writeSummaries(cmd.OutOrStdout(), a.sim.Summaries(), v.GetBool("json"))
		},
	}

	fs := cmd.Flags()
	addSimFlags(fs)
	fs.Int64("max-ticks", 0, "Stop after N ticks (0 = unlimited)")
	fs.Int("max-episodes", 0, "Stop after N finished episodes (0 = unlimited)")
	fs.Bool("json", false, "Print episode summaries as JSON")
	return cmd
}

func writeSummaries(w io.Writer, eps []telemetry.EpisodeSummary, asJSON bool) error {
	if asJSON {
		if eps == nil {
			eps = []telemetry.EpisodeSummary{}
		}
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(eps)
	}

	if _, err := fmt.Fprintf(w, "episodes: %d\n", len(eps)); err != nil {
		return err
	}
	for _, e := range eps {
		if _, err := fmt.Fprintf(w, "%4d  %-10s  steps=%-6d spawns=%-5d expirations=%-5d replications=%-5d exchanges=%-5d lifespan=%.1f\n",
			e.Episode, e.Reason, e.Steps, e.Spawns, e.Expirations, e.Replications, e.Exchanges, e.MeanLifespanTicks); err != nil {
			return err
		}
	}
	return nil
}
