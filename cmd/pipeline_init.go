package main

import (
	"context"
	"encoding/json"
	"io"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/sells-group/tdreloc/internal/pipeline"
	"github.com/sells-group/tdreloc/internal/store"
)

// pipelineEnv holds the store and pipeline used by cluster, relocate and run.
type pipelineEnv struct {
	Store    store.Store // nil with store.driver none
	Pipeline *pipeline.Pipeline
	release  func()
}

// Close releases the derivative cache and the store.
func (pe *pipelineEnv) Close() {
	if pe.release != nil {
		pe.release()
	}
	if pe.Store != nil {
		_ = pe.Store.Close()
	}
}

// initPipeline validates the configuration for mode, opens the store and
// builds the Pipeline. Callers should defer env.Close().
func initPipeline(ctx context.Context, mode string, dryRun bool) (*pipelineEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	provider, release, err := pipeline.NewProvider(cfg)
	if err != nil {
		return nil, err
	}

	var st store.Store
	if !dryRun {
		st, err = initStore(ctx)
		if err != nil {
			release()
			return nil, err
		}
	}

	p := pipeline.New(cfg, st, provider)
	p.SetDryRun(dryRun)
	return &pipelineEnv{Store: st, Pipeline: p, release: release}, nil
}

// signalContext cancels on SIGINT or SIGTERM so long runs stop cooperatively.
func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
}

// addInputFlags registers the flags shared by the pipeline commands.
func addInputFlags(cmd *cobra.Command) {
	cmd.Flags().String("catalog", "", "catalog CSV (overrides input.catalog)")
	cmd.Flags().String("stations", "", "station file (overrides input.stations)")
	cmd.Flags().String("dat-dir", "", "directory of per-event .dat files (overrides input.dat_dir)")
	cmd.Flags().String("out", "", "output directory (overrides output.dir)")
	cmd.Flags().String("tdiff-format", "", "triple-difference file format: bin or csv")
	cmd.Flags().String("store", "", "run ledger driver: sqlite, postgres or none")
	cmd.Flags().Bool("dry-run", false, "report planned work without writing files")
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
