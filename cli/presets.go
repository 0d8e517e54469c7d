package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pthm-cable/meadow/config"
	"github.com/pthm-cable/meadow/preset"
)

func newPresetsCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "presets",
		Short: "Inspect and validate agent presets",
	}
	cmd.PersistentFlags().String("presets-dir", "", "Preset directory (empty = presets.dir from config)")
	cmd.AddCommand(newPresetsListCmd(v), newPresetsValidateCmd(v))
	return cmd
}

func presetLoader(v *viper.Viper) (*preset.Loader, error) {
	dir := v.GetString("presets-dir")
	if dir == "" {
		dir = config.Cfg().Presets.Dir
	}
	return preset.NewLoader(dir)
}

func newPresetsListCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List available presets",
		RunE: func(cmd *cobra.Command, _ []string) error {
			loader, err := presetLoader(v)
			if err != nil {
				return err
			}
			names, err := loader.List()
			if err != nil {
				return err
			}
			for _, name := range names {
				def, err := loader.Load(name)
				if err != nil {
					fmt.Fprintf(cmd.OutOrStdout(), "%-12s  invalid: %v\n", name, err)
					continue
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%-12s  %-8s class=%s maxAge=%g replicationAge=%g\n",
					name, def.AgentType, def.AgentClass, def.MaxAge, def.ReplicationAge)
			}
			return nil
		},
	}
}

func newPresetsValidateCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "validate <file>...",
		Short: "Validate preset files against the preset schema",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			loader, err := presetLoader(v)
			if err != nil {
				return err
			}
			var failed int
			for _, path := range args {
				if err := loader.ValidateFile(path); err != nil {
					failed++
					fmt.Fprintf(cmd.OutOrStdout(), "FAIL  %s: %v\n", path, err)
					continue
				}
				fmt.Fprintf(cmd.OutOrStdout(), "ok    %s\n", path)
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d presets invalid", failed, len(args))
			}
			return nil
		},
	}
}
