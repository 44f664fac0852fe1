package main

import (
	"github.com/spf13/cobra"

	"github.com/sells-group/tdreloc/internal/config"
)

var clusterCmd = &cobra.Command{
	Use:   "cluster",
	Short: "Cluster the catalog and extract triple differences",
	Long:  "Filters and clusters the catalog with DBSCAN, writes <base>_cls.csv and one triple-difference file per cluster.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signalContext(cmd)
		defer stop()

		dryRun, _ := cmd.Flags().GetBool("dry-run")
		env, err := initPipeline(ctx, config.ModeCluster, dryRun)
		if err != nil {
			return err
		}
		defer env.Close()

		res, err := env.Pipeline.Cluster(ctx)
		if err != nil {
			return err
		}
		return writeJSON(cmd.OutOrStdout(), res)
	},
}

func init() {
	addInputFlags(clusterCmd)
	clusterCmd.Flags().Int("min-pts", 0, "DBSCAN minimum points (overrides cluster.min_pts)")
	clusterCmd.Flags().Float64("eps", 0, "DBSCAN radius in km, negative to estimate (overrides cluster.eps)")
	rootCmd.AddCommand(clusterCmd)
}
