package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/tdreloc/internal/tripdiff"
)

var tdiffCmd = &cobra.Command{
	Use:   "tdiff",
	Short: "Inspect and convert triple-difference files",
}

// -- tdiff show --

var tdiffShowCmd = &cobra.Command{
	Use:   "show <file>",
	Short: "Summarise a triple-difference file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		tds, err := tripdiff.Read(args[0])
		if err != nil {
			return err
		}
		asJSON, _ := cmd.Flags().GetBool("json")
		s := tripdiff.Summarize(tds)
		if asJSON {
			return writeJSON(cmd.OutOrStdout(), s)
		}
		formatTDiffSummary(cmd.OutOrStdout(), args[0], s)
		return nil
	},
}

// -- tdiff convert --

var tdiffConvertCmd = &cobra.Command{
	Use:   "convert <in> <out>",
	Short: "Convert between the binary and CSV encodings",
	Long:  "Reads a triple-difference file and writes it in the encoding implied by the output extension (.csv or .bin).",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		tds, err := tripdiff.Read(args[0])
		if err != nil {
			return err
		}
		f := tripdiff.FormatFromPath(args[1])
		if err := tripdiff.Write(args[1], tds, f); err != nil {
			return eris.Wrap(err, "tdiff convert")
		}
		zap.L().Info("tdiff: converted",
			zap.String("in", args[0]),
			zap.String("out", args[1]),
			zap.String("format", string(f)),
			zap.Int("rows", len(tds)),
		)
		return nil
	},
}

func init() {
	tdiffShowCmd.Flags().Bool("json", false, "print the summary as JSON")

	tdiffCmd.AddCommand(tdiffShowCmd)
	tdiffCmd.AddCommand(tdiffConvertCmd)
	rootCmd.AddCommand(tdiffCmd)
}

// formatTDiffSummary writes a summary table to out.
func formatTDiffSummary(out io.Writer, path string, s tripdiff.Summary) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "File:\t%s\n", path)
	_, _ = fmt.Fprintf(w, "Triple differences:\t%d\n", s.Count)
	_, _ = fmt.Fprintf(w, "Clusters:\t%v\n", s.Clusters)
	_, _ = fmt.Fprintf(w, "Events:\t%d\n", s.Events)
	_, _ = fmt.Fprintf(w, "Stations:\t%d\n", s.Stations)
	if s.Count > 0 {
		_, _ = fmt.Fprintf(w, "Distance (km):\t%.3f .. %.3f (median %.3f)\n", s.MinDistKm, s.MaxDistKm, s.MedianDist)
		_, _ = fmt.Fprintf(w, "Lag (s):\tmean %.4f, std %.4f, median %.4f\n", s.MeanLag, s.StdLag, s.MedianLag)
	}
	_ = w.Flush()
}
