package main

import (
	"github.com/spf13/cobra"

	"github.com/sells-group/tdreloc/internal/config"
	"github.com/sells-group/tdreloc/internal/pipeline"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Cluster and relocate in one pass",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signalContext(cmd)
		defer stop()

		dryRun, _ := cmd.Flags().GetBool("dry-run")
		env, err := initPipeline(ctx, config.ModeRun, dryRun)
		if err != nil {
			return err
		}
		defer env.Close()

		cres, rres, err := env.Pipeline.Run(ctx)
		if err != nil {
			return err
		}
		return writeJSON(cmd.OutOrStdout(), struct {
			Cluster  *pipeline.ClusterResult  `json:"cluster"`
			Relocate *pipeline.RelocateResult `json:"relocate"`
		}{cres, rres})
	},
}

func init() {
	addInputFlags(runCmd)
	runCmd.Flags().Int("min-pts", 0, "DBSCAN minimum points (overrides cluster.min_pts)")
	runCmd.Flags().Float64("eps", 0, "DBSCAN radius in km, negative to estimate (overrides cluster.eps)")
	runCmd.Flags().Int("jobs", 0, "derivative workers (overrides relocation.jobs)")
	rootCmd.AddCommand(runCmd)
}
