package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/consolidate-cli/internal/model"
	"github.com/sells-group/consolidate-cli/internal/store"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the review-decision API",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		st, err := store.Open(ctx, cfg)
		if err != nil {
			return eris.Wrap(err, "open store")
		}
		defer st.Close()

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           newRouter(st),
			ReadHeaderTimeout: 5 * time.Second,
		}

		errCh := make(chan error, 1)
		go func() {
			zap.L().Info("review server listening", zap.Int("port", port))
			errCh <- srv.ListenAndServe()
		}()

		select {
		case err := <-errCh:
			return eris.Wrap(err, "serve")
		case <-ctx.Done():
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		zap.L().Info("shutting down")
		return eris.Wrap(srv.Shutdown(shutdownCtx), "shutdown")
	},
}

func newRouter(st store.Store) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost},
		AllowedHeaders: []string{"Content-Type"},
	}))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Get("/reviews", func(w http.ResponseWriter, req *http.Request) {
		items, err := st.PendingReviews(req.Context(), 100)
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
			return
		}
		if items == nil {
			items = []model.ReviewItem{}
		}
		writeJSON(w, http.StatusOK, items)
	})

	r.Post("/reviews/{id}/decision", func(w http.ResponseWriter, req *http.Request) {
		var body struct {
			Decision string `json:"decision"`
			Value    string `json:"value,omitempty"`
			By       string `json:"by,omitempty"`
		}
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
			return
		}

		decision := model.Decision(body.Decision)
		switch decision {
		case model.DecisionApprove, model.DecisionReject, model.DecisionOverride:
		default:
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "decision must be approve, reject, or override"})
			return
		}
		if decision == model.DecisionOverride && body.Value == "" {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "value is required for override"})
			return
		}

		d := model.DecidedItem{
			ItemID:        chi.URLParam(req, "id"),
			Decision:      decision,
			OverrideValue: body.Value,
			DecidedBy:     body.By,
			DecidedAt:     time.Now().UTC(),
		}
		if err := st.SubmitDecision(req.Context(), d); err != nil {
			writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
			return
		}
		zap.L().Info("decision received",
			zap.String("item_id", d.ItemID),
			zap.String("decision", string(d.Decision)))
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
	})

	r.Get("/runs", func(w http.ResponseWriter, req *http.Request) {
		summaries, err := st.ListRunSummaries(req.Context(), 10)
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
			return
		}
		if summaries == nil {
			summaries = []model.RunSummary{}
		}
		writeJSON(w, http.StatusOK, summaries)
	})

	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "listen port (overrides config)")
	rootCmd.AddCommand(serveCmd)
}
