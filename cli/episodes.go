package cli

import (
	"errors"
	"fmt"
	"slices"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pthm-cable/meadow/persistence/eventlog"
	"github.com/pthm-cable/meadow/persistence/indexdb"
)

func newEpisodesCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "episodes",
		Short: "List runs and episodes recorded in an index",
		RunE: func(cmd *cobra.Command, _ []string) error {
			path := v.GetString("index")
			if path == "" {
				return errors.New("--index is required")
			}
			idx, err := indexdb.OpenSQLite(path)
			if err != nil {
				return err
			}
			defer idx.Close()

			runID := v.GetString("run")
			if runID == "" {
				runs, err := idx.Runs(cmd.Context())
				if err != nil {
					return err
				}
				for _, r := range runs {
					fmt.Fprintf(cmd.OutOrStdout(), "%s  seed=%d  started=%s\n",
						r.RunID, r.Seed, r.StartedAt.Format("2006-01-02T15:04:05Z"))
				}
				return nil
			}

			eps, err := idx.Episodes(cmd.Context(), runID, v.GetInt("limit"))
			if err != nil {
				return err
			}
			return writeSummaries(cmd.OutOrStdout(), eps, v.GetBool("json"))
		},
	}

	fs := cmd.Flags()
	fs.String("index", "", "SQLite index file")
	fs.String("run", "", "Run id (empty = list runs)")
	fs.Int("limit", 0, "Print only the latest N episodes (0 = all)")
	fs.Bool("json", false, "Print episode summaries as JSON")
	return cmd
}

func newEventsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "events <file>",
		Short: "Summarize a lifecycle event log",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sum, err := eventlog.Summarize(args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "events: %d\nepisodes: %d\nlast_tick: %d\n", sum.Events, sum.Episodes, sum.LastTick)
			for _, t := range sortedKeys(sum.ByType) {
				fmt.Fprintf(out, "type %-17s %d\n", t, sum.ByType[t])
			}
			for _, c := range sortedKeys(sum.ByClass) {
				fmt.Fprintf(out, "class %-16s %d\n", c, sum.ByClass[c])
			}
			return nil
		},
	}
}

func sortedKeys[K ~string, V any](m map[K]V) []K {
	keys := make([]K, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
