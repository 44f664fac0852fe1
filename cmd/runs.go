package main

import (
	"fmt"
	"io"
	"os"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/tdreloc/internal/config"
	"github.com/sells-group/tdreloc/internal/model"
	"github.com/sells-group/tdreloc/internal/store"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Inspect the run ledger",
	Long:  "Commands for listing, viewing, and summarizing cluster and relocate runs.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := rootCmd.PersistentPreRunE(cmd, args); err != nil {
			return err
		}
		return cfg.Validate(config.ModeLedger)
	},
}

// -- runs list --

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List runs",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		status, _ := cmd.Flags().GetString("status")
		kind, _ := cmd.Flags().GetString("kind")
		limit, _ := cmd.Flags().GetInt("limit")
		offset, _ := cmd.Flags().GetInt("offset")

		runs, err := st.ListRuns(ctx, store.RunFilter{
			Status: model.RunStatus(status),
			Kind:   model.RunKind(kind),
			Limit:  limit,
			Offset: offset,
		})
		if err != nil {
			return eris.Wrap(err, "runs list")
		}

		if len(runs) == 0 {
			fmt.Fprintln(os.Stderr, "No runs found.")
			return nil
		}

		formatRunsList(cmd.OutOrStdout(), runs)
		return nil
	},
}

// -- runs show --

var runsShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Show a run and its per-cluster outcomes",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		run, err := st.GetRun(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "runs show")
		}
		clusters, err := st.ListClusters(ctx, run.ID)
		if err != nil {
			return eris.Wrap(err, "runs show")
		}

		return writeJSON(cmd.OutOrStdout(), struct {
			*model.Run
			Clusters []model.ClusterRecord `json:"clusters"`
		}{run, clusters})
	},
}

// -- runs stats --

var runsStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show aggregate ledger statistics",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		stats, err := st.Stats(ctx)
		if err != nil {
			return eris.Wrap(err, "runs stats")
		}
		formatRunStats(cmd.OutOrStdout(), stats)
		return nil
	},
}

func init() {
	runsCmd.PersistentFlags().String("store", "", "run ledger driver: sqlite or postgres")

	runsListCmd.Flags().String("status", "", "filter by run status (queued, relocating, complete, failed, ...)")
	runsListCmd.Flags().String("kind", "", "filter by run kind (cluster, relocate)")
	runsListCmd.Flags().Int("limit", 50, "max number of runs to display")
	runsListCmd.Flags().Int("offset", 0, "number of runs to skip")

	runsCmd.AddCommand(runsListCmd)
	runsCmd.AddCommand(runsShowCmd)
	runsCmd.AddCommand(runsStatsCmd)
	rootCmd.AddCommand(runsCmd)
}

// formatRunsList writes a tabular list of runs to w.
func formatRunsList(out io.Writer, runs []model.Run) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tKIND\tSTATUS\tCLUSTERS\tRELOCATED\tCREATED\tDURATION\tCATALOG")
	_, _ = fmt.Fprintln(w, "--\t----\t------\t--------\t---------\t-------\t--------\t-------")

	for _, r := range runs {
		dur := r.UpdatedAt.Sub(r.CreatedAt).Round(time.Second).String()
		clusters, relocated := "", ""
		if r.Result != nil {
			clusters = fmt.Sprint(r.Result.Clusters)
			relocated = fmt.Sprint(r.Result.Relocated)
			dur = (time.Duration(r.Result.DurationMs) * time.Millisecond).Round(time.Millisecond).String()
		}

		cat := r.Catalog
		if len(cat) > 40 {
			cat = "..." + cat[len(cat)-37:]
		}

		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			truncateID(r.ID),
			r.Kind,
			r.Status,
			clusters,
			relocated,
			r.CreatedAt.Format("2006-01-02 15:04"),
			dur,
			cat,
		)
	}
	_ = w.Flush()
}

// formatRunStats writes aggregate stats to w.
func formatRunStats(out io.Writer, s *store.Stats) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Total runs:\t%d\n", s.Runs)
	statuses := make([]string, 0, len(s.ByStatus))
	for k := range s.ByStatus {
		statuses = append(statuses, k)
	}
	sort.Strings(statuses)
	for _, k := range statuses {
		_, _ = fmt.Fprintf(w, "  %s:\t%d\n", k, s.ByStatus[k])
	}
	_, _ = fmt.Fprintf(w, "Clusters:\t%d\n", s.Clusters)
	_, _ = fmt.Fprintf(w, "  Failed:\t%d\n", s.Failed)
	_, _ = fmt.Fprintf(w, "Events saved:\t%d\n", s.Events)
	_, _ = fmt.Fprintf(w, "  Relocated:\t%d\n", s.Relocated)
	_ = w.Flush()
}

// truncateID returns the first 8 characters of a UUID for compact display.
func truncateID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
