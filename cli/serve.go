package cli

import (
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pthm-cable/meadow/config"
	"github.com/pthm-cable/meadow/server"
)

func newServeCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the simulation behind the HTTP and websocket observer",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := config.Cfg()
			addr := v.GetString("addr")
			if addr == "" {
				addr = cfg.Server.Addr
			}

			a, err := wireApp(v)
			if err != nil {
				return err
			}
			defer a.Close()

			srv := server.New(a.sim, server.Options{
				TickInterval:      time.Duration(cfg.Server.TickIntervalMS) * time.Millisecond,
				BroadcastInterval: time.Duration(cfg.Server.BroadcastIntervalMS) * time.Millisecond,
				Index:             a.index,
				StartPaused:       v.GetBool("paused"),
			})

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return srv.ListenAndServe(ctx, addr)
		},
	}

	fs := cmd.Flags()
	addSimFlags(fs)
	fs.String("addr", "", "Listen address (empty = server.addr from config)")
	fs.Bool("paused", false, "Start with stepping paused")
	return cmd
}
