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

	"github.com/sells-group/leadflow-engine/internal/model"
	"github.com/sells-group/leadflow-engine/internal/pipeline"
	"github.com/sells-group/leadflow-engine/internal/store"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the run engine HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		engine, st, err := initEngine(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		router := newRouter(engine, st)

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
		}

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

func newRouter(engine *pipeline.Engine, st store.Store) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "Idempotency-Key"},
		MaxAge:         300,
	}))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/agents/{agentID}", func(r chi.Router) {
		r.Post("/runs", handleRun(engine))
		r.Get("/settings", handleGetSettings(st))
		r.Put("/settings", handleSaveSettings(st))
		r.Post("/settings/snapshots", handleCreateSnapshot(st))
		r.Get("/settings/snapshots/{snapshotID}", handleGetSnapshot(st))
	})

	return r
}

type runBody struct {
	AgentID            string           `json:"agentId"`
	Source             model.LeadSource `json:"source"`
	SettingsSnapshotID string           `json:"settingsSnapshotId"`
	Simulate           bool             `json:"simulate"`
	Leads              []model.RawLead  `json:"leads"`
	Settings           *model.Settings  `json:"settings,omitempty"`
}

func handleRun(engine *pipeline.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body runBody
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeRunError(w, model.NewRunError(model.ErrInvalidInput, "invalid request body"))
			return
		}

		routeAgent := model.NormalizeAgentID(chi.URLParam(r, "agentID"))
		if body.AgentID != "" && model.NormalizeAgentID(body.AgentID) != routeAgent {
			writeRunError(w, model.NewRunError(model.ErrInvalidInput, "agentId in body does not match route"))
			return
		}

		req := model.RunRequest{
			AgentID:            routeAgent,
			Source:             body.Source,
			SettingsSnapshotID: body.SettingsSnapshotID,
			Simulate:           body.Simulate,
			Leads:              body.Leads,
			Settings:           body.Settings,
		}

		payload, runErr := engine.Execute(r.Context(), req, r.Header.Get("Idempotency-Key"))
		if runErr != nil {
			writeRunError(w, runErr)
			return
		}

		writeJSON(w, http.StatusOK, map[string]any{
			"ok":   true,
			"data": json.RawMessage(payload),
		})
	}
}

func handleGetSettings(st store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		agentID := model.NormalizeAgentID(chi.URLParam(r, "agentID"))
		settings, err := st.GetSettings(r.Context(), agentID)
		if err != nil {
			zap.L().Error("serve: get settings", zap.String("agent_id", agentID), zap.Error(err))
			writeRunError(w, model.NewRunError(model.ErrEngineFailure, "failed to load settings"))
			return
		}
		writeJSON(w, http.StatusOK, settings)
	}
}

func handleSaveSettings(st store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		agentID := model.NormalizeAgentID(chi.URLParam(r, "agentID"))

		var patch model.SettingsPatch
		if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
			writeRunError(w, model.NewRunError(model.ErrInvalidInput, "invalid request body"))
			return
		}

		settings, err := st.SaveSettings(r.Context(), agentID, patch)
		if err != nil {
			zap.L().Error("serve: save settings", zap.String("agent_id", agentID), zap.Error(err))
			writeRunError(w, model.NewRunError(model.ErrEngineFailure, "failed to save settings"))
			return
		}
		writeJSON(w, http.StatusOK, settings)
	}
}

func handleCreateSnapshot(st store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		agentID := model.NormalizeAgentID(chi.URLParam(r, "agentID"))

		settings, err := st.GetSettings(r.Context(), agentID)
		if err != nil {
			zap.L().Error("serve: load settings for snapshot", zap.String("agent_id", agentID), zap.Error(err))
			writeRunError(w, model.NewRunError(model.ErrEngineFailure, "failed to load settings"))
			return
		}

		id, err := st.CreateSnapshot(r.Context(), agentID, settings)
		if err != nil {
			zap.L().Error("serve: create snapshot", zap.String("agent_id", agentID), zap.Error(err))
			writeRunError(w, model.NewRunError(model.ErrEngineFailure, "failed to create snapshot"))
			return
		}

		writeJSON(w, http.StatusCreated, map[string]any{
			"settingsSnapshotId": id,
			"settings":           settings,
		})
	}
}

func handleGetSnapshot(st store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		agentID := model.NormalizeAgentID(chi.URLParam(r, "agentID"))
		snapshotID := chi.URLParam(r, "snapshotID")

		settings, err := st.GetSnapshot(r.Context(), agentID, snapshotID)
		if err != nil {
			zap.L().Error("serve: get snapshot", zap.String("agent_id", agentID), zap.Error(err))
			writeRunError(w, model.NewRunError(model.ErrEngineFailure, "failed to load snapshot"))
			return
		}
		if settings == nil {
			writeRunError(w, model.NewRunError(model.ErrInvalidInput,
				fmt.Sprintf("settings snapshot %s not found", snapshotID)))
			return
		}

		writeJSON(w, http.StatusOK, map[string]any{
			"settingsSnapshotId": snapshotID,
			"settings":           settings,
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeRunError(w http.ResponseWriter, runErr *model.RunError) {
	writeJSON(w, runErr.Code.HTTPStatus(), map[string]any{
		"ok":    false,
		"error": runErr,
	})
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
