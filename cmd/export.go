package main

import (
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/tdreloc/internal/catalog"
	"github.com/sells-group/tdreloc/internal/config"
	"github.com/sells-group/tdreloc/internal/export"
	"github.com/sells-group/tdreloc/internal/model"
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export a catalog as GeoJSON, shapefile or XLSX",
	Long:  "Writes the events of a catalog CSV, or of a ledger run with --run, in a GIS or spreadsheet format.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		formatName, _ := cmd.Flags().GetString("format")
		format, err := export.ParseFormat(formatName)
		if err != nil {
			return err
		}
		runID, _ := cmd.Flags().GetString("run")
		output, _ := cmd.Flags().GetString("output")

		var (
			records []model.EventRecord
			source  string
		)
		if runID != "" {
			if err := cfg.Validate(config.ModeLedger); err != nil {
				return err
			}
			st, err := initStore(ctx)
			if err != nil {
				return err
			}
			defer st.Close() //nolint:errcheck
			records, err = st.ListEvents(ctx, runID)
			if err != nil {
				return eris.Wrap(err, "export")
			}
			source = runID + ".csv"
		} else {
			if cfg.Input.Catalog == "" {
				return eris.New("export: --catalog or --run is required")
			}
			events, err := catalog.Load(cfg.Input.Catalog, cfg.Input.Encoding)
			if err != nil {
				return err
			}
			records = export.Records("", events)
			source = cfg.Input.Catalog
		}

		if output == "" {
			outDir, _ := cmd.Flags().GetString("out")
			if outDir == "" && runID != "" {
				outDir = cfg.Output.Dir
			}
			output = export.OutputPath(source, outDir, format)
		}
		if err := os.MkdirAll(filepath.Dir(output), 0o755); err != nil {
			return eris.Wrap(err, "export: create output dir")
		}
		if err := export.Write(output, format, records); err != nil {
			return err
		}
		zap.L().Info("export: written",
			zap.String("path", output),
			zap.String("format", string(format)),
			zap.Int("events", len(records)),
		)
		return nil
	},
}

func init() {
	exportCmd.Flags().String("catalog", "", "catalog CSV to export (overrides input.catalog)")
	exportCmd.Flags().String("run", "", "export the final events of a ledger run instead of a catalog")
	exportCmd.Flags().String("store", "", "run ledger driver used with --run: sqlite or postgres")
	exportCmd.Flags().String("format", "geojson", "geojson, shp or xlsx")
	exportCmd.Flags().String("out", "", "output directory (default: next to the catalog)")
	exportCmd.Flags().StringP("output", "o", "", "output file (overrides --out)")
	rootCmd.AddCommand(exportCmd)
}
