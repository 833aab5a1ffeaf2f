package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/leadsense/internal/model"
	"github.com/sells-group/leadsense/internal/store"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the turn-ingest HTTP server",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initPipeline(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		// Bound debounce gate memory on long-lived servers.
		go func() {
			ticker := time.NewTicker(10 * time.Minute)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					env.Pipeline.Gate().Sweep()
				}
			}
		}()

		mux := newServeMux(env)

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{Handler: mux}

		ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
		if err != nil {
			return eris.Wrap(err, "server listen")
		}

		zap.L().Info("starting server", zap.Int("port", port))
		return runServer(ctx, srv, ln)
	},
}

// shutdownGrace bounds how long in-flight requests may take to drain after a
// stop signal.
const shutdownGrace = 10 * time.Second

// runServer serves until ctx is cancelled, then drains in-flight requests.
// The drain runs on a fresh timeout context: the signal context is already
// cancelled at that point and would abort Shutdown immediately.
func runServer(ctx context.Context, srv *http.Server, ln net.Listener) error {
	done := make(chan error, 1)
	go func() {
		<-ctx.Done()
		zap.L().Info("shutting down server")
		shutCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		done <- srv.Shutdown(shutCtx)
	}()

	if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
		return eris.Wrap(err, "server serve")
	}
	if err := <-done; err != nil {
		return eris.Wrap(err, "server shutdown")
	}
	return nil
}

func newServeMux(env *pipelineEnv) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	mux.HandleFunc("POST /v1/turns", func(w http.ResponseWriter, r *http.Request) {
		var turn model.TurnEnvelope
		if err := json.NewDecoder(r.Body).Decode(&turn); err != nil {
			http.Error(w, `{"error":"invalid request body"}`, http.StatusBadRequest)
			return
		}
		if turn.ConversationID == "" {
			http.Error(w, `{"error":"conversation_id is required"}`, http.StatusBadRequest)
			return
		}

		outcome := env.Pipeline.ProcessTurn(r.Context(), turn)
		writeJSON(w, http.StatusOK, outcome)
	})

	mux.HandleFunc("GET /v1/leads", func(w http.ResponseWriter, r *http.Request) {
		filter, err := leadFilterFromQuery(r)
		if err != nil {
			http.Error(w, fmt.Sprintf(`{"error":%q}`, err.Error()), http.StatusBadRequest)
			return
		}
		leads, err := env.Store.ListLeads(r.Context(), filter)
		if err != nil {
			zap.L().Error("serve: list leads failed", zap.Error(err))
			http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"leads": leads})
	})

	mux.HandleFunc("GET /v1/leads/{id}", func(w http.ResponseWriter, r *http.Request) {
		lead, err := env.Store.GetLead(r.Context(), r.PathValue("id"))
		if err != nil {
			if store.IsNotFound(err) {
				http.Error(w, `{"error":"lead not found"}`, http.StatusNotFound)
				return
			}
			zap.L().Error("serve: get lead failed", zap.Error(err))
			http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, lead)
	})

	mux.HandleFunc("GET /v1/leads/{id}/events", func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")
		if _, err := env.Store.GetLead(r.Context(), id); err != nil {
			if store.IsNotFound(err) {
				http.Error(w, `{"error":"lead not found"}`, http.StatusNotFound)
				return
			}
			zap.L().Error("serve: get lead failed", zap.Error(err))
			http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
			return
		}
		events, err := env.Store.ListEvents(r.Context(), id, 100)
		if err != nil {
			zap.L().Error("serve: list events failed", zap.Error(err))
			http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"events": events})
	})

	return mux
}

func leadFilterFromQuery(r *http.Request) (model.LeadFilter, error) {
	q := r.URL.Query()
	filter := model.LeadFilter{
		TenantID: q.Get("tenant_id"),
		AgentID:  q.Get("agent_id"),
		Status:   q.Get("status"),
	}

	if v := q.Get("qualified"); v != "" {
		qualified := v == "true"
		filter.Qualified = &qualified
	}
	if v := q.Get("min_score"); v != "" {
		if _, err := fmt.Sscanf(v, "%d", &filter.MinScore); err != nil {
			return filter, errors.New("min_score must be an integer")
		}
	}
	if v := q.Get("intent_level"); v != "" {
		level := model.IntentLevel(v)
		if !level.Valid() {
			return filter, fmt.Errorf("unknown intent_level %q", v)
		}
		filter.IntentLevel = level
	}
	if v := q.Get("limit"); v != "" {
		if _, err := fmt.Sscanf(v, "%d", &filter.Limit); err != nil {
			return filter, errors.New("limit must be an integer")
		}
	}
	return filter, nil
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
