package main

import (
	"github.com/spf13/cobra"

	"github.com/sells-group/tdreloc/internal/config"
)

var relocateCmd = &cobra.Command{
	Use:   "relocate",
	Short: "Relocate the clusters of a clustered catalog",
	Long:  "Reads a clustered catalog and its triple-difference files, relocates every cluster and writes <base>_trd.csv plus per-event .dat files.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signalContext(cmd)
		defer stop()

		dryRun, _ := cmd.Flags().GetBool("dry-run")
		env, err := initPipeline(ctx, config.ModeRelocate, dryRun)
		if err != nil {
			return err
		}
		defer env.Close()

		res, err := env.Pipeline.Relocate(ctx, "")
		if err != nil {
			return err
		}
		return writeJSON(cmd.OutOrStdout(), res)
	},
}

func init() {
	addInputFlags(relocateCmd)
	relocateCmd.Flags().Int("jobs", 0, "derivative workers (overrides relocation.jobs)")
	rootCmd.AddCommand(relocateCmd)
}
