package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/tdreloc/internal/config"
	"github.com/sells-group/tdreloc/internal/fault"
)

var (
	cfg     *config.Config
	cfgFile string
)

var rootCmd = &cobra.Command{
	Use:   "tdreloc",
	Short: "Triple-difference earthquake relocation",
	Long:  "Clusters an earthquake catalog, extracts triple differences from per-event differential times and relocates each cluster with a damped least-squares solver.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.LoadFile(cfgFile)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		applyFlagOverrides(cmd, c)
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ./config.yaml)")
}

// applyFlagOverrides copies explicitly set command flags over the loaded
// configuration. Commands register only the flags they use.
func applyFlagOverrides(cmd *cobra.Command, c *config.Config) {
	flags := cmd.Flags()
	str := func(name string, dst *string) {
		if flags.Changed(name) {
			*dst, _ = flags.GetString(name)
		}
	}
	str("catalog", &c.Input.Catalog)
	str("stations", &c.Input.Stations)
	str("dat-dir", &c.Input.DatDir)
	str("out", &c.Output.Dir)
	str("tdiff-format", &c.Output.TDiffFormat)
	str("store", &c.Store.Driver)

	if flags.Changed("min-pts") {
		c.Cluster.MinPts, _ = flags.GetInt("min-pts")
	}
	if flags.Changed("eps") {
		c.Cluster.Eps, _ = flags.GetFloat64("eps")
	}
	if flags.Changed("jobs") {
		c.Relocation.Jobs, _ = flags.GetInt("jobs")
	}
	if flags.Changed("port") {
		c.Server.Port, _ = flags.GetInt("port")
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		if fault.IsInterrupted(err) {
			os.Exit(130)
		}
		os.Exit(1)
	}
}
