package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/tdreloc/internal/config"
	"github.com/sells-group/tdreloc/internal/export"
	"github.com/sells-group/tdreloc/internal/model"
	"github.com/sells-group/tdreloc/internal/store"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve a read-only HTTP API over the run ledger",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signalContext(cmd)
		defer stop()

		if err := cfg.Validate(config.ModeServe); err != nil {
			return err
		}
		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
			Handler:           buildRouter(st),
			ReadHeaderTimeout: 10 * time.Second,
		}

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				zap.L().Warn("server shutdown", zap.Error(err))
			}
		}()

		zap.L().Info("starting server", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return eris.Wrap(err, "server listen")
		}
		return nil
	},
}

func init() {
	serveCmd.Flags().Int("port", 0, "server port (overrides server.port)")
	serveCmd.Flags().String("store", "", "run ledger driver: sqlite or postgres")
	rootCmd.AddCommand(serveCmd)
}

// pinger is implemented by stores that can check their connection.
type pinger interface {
	Ping(ctx context.Context) error
}

// buildRouter returns the API routes over st.
func buildRouter(st store.Store) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", func(w http.ResponseWriter, req *http.Request) {
		if p, ok := st.(pinger); ok {
			if err := p.Ping(req.Context()); err != nil {
				zap.L().Warn("serve: health check", zap.Error(err))
				writeJSONResponse(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
				return
			}
		}
		writeJSONResponse(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Get("/runs", func(w http.ResponseWriter, req *http.Request) {
		q := req.URL.Query()
		filter := store.RunFilter{
			Status: model.RunStatus(q.Get("status")),
			Kind:   model.RunKind(q.Get("kind")),
			Limit:  50,
		}
		for name, dst := range map[string]*int{"limit": &filter.Limit, "offset": &filter.Offset} {
			if v := q.Get(name); v != "" {
				n, err := strconv.Atoi(v)
				if err != nil || n < 0 {
					writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid %s %q", name, v))
					return
				}
				*dst = n
			}
		}
		runs, err := st.ListRuns(req.Context(), filter)
		if err != nil {
			writeStoreError(w, err)
			return
		}
		if runs == nil {
			runs = []model.Run{}
		}
		writeJSONResponse(w, http.StatusOK, runs)
	})

	r.Route("/runs/{id}", func(r chi.Router) {
		r.Get("/", func(w http.ResponseWriter, req *http.Request) {
			run, err := st.GetRun(req.Context(), chi.URLParam(req, "id"))
			if err != nil {
				writeStoreError(w, err)
				return
			}
			writeJSONResponse(w, http.StatusOK, run)
		})

		r.Get("/clusters", func(w http.ResponseWriter, req *http.Request) {
			run, err := st.GetRun(req.Context(), chi.URLParam(req, "id"))
			if err != nil {
				writeStoreError(w, err)
				return
			}
			clusters, err := st.ListClusters(req.Context(), run.ID)
			if err != nil {
				writeStoreError(w, err)
				return
			}
			if clusters == nil {
				clusters = []model.ClusterRecord{}
			}
			writeJSONResponse(w, http.StatusOK, clusters)
		})

		r.Get("/events.geojson", func(w http.ResponseWriter, req *http.Request) {
			run, err := st.GetRun(req.Context(), chi.URLParam(req, "id"))
			if err != nil {
				writeStoreError(w, err)
				return
			}
			events, err := st.ListEvents(req.Context(), run.ID)
			if err != nil {
				writeStoreError(w, err)
				return
			}
			w.Header().Set("Content-Type", "application/geo+json")
			if err := export.WriteGeoJSON(w, events); err != nil {
				zap.L().Error("serve: write geojson", zap.String("run_id", run.ID), zap.Error(err))
			}
		})
	})

	return r
}

func writeJSONResponse(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSONResponse(w, status, map[string]string{"error": msg})
}

// writeStoreError maps ErrNotFound to 404 and everything else to 500.
func writeStoreError(w http.ResponseWriter, err error) {
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}
	zap.L().Error("serve: store", zap.Error(err))
	writeError(w, http.StatusInternalServerError, "internal error")
}
