package app

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"tether/cmd/internal/session"
)

// statusDeps is what the status surface reads from.
type statusDeps struct {
	tracker *session.Tracker
	events  session.EventStore
	gather  prometheus.Gatherer
	dbPool  *pgxpool.Pool
}

func registerHTTP(mux *http.ServeMux, log Logger, deps statusDeps) {
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})

	// Ready once any session is heartbeating.
	mux.HandleFunc("GET /readyz", func(w http.ResponseWriter, r *http.Request) {
		if deps.dbPool != nil {
			if err := PingDB(r.Context(), deps.dbPool, 2*time.Second); err != nil {
				http.Error(w, "db not ready", http.StatusServiceUnavailable)
				log.Info("readyz.db.not_ready", "err", err)
				return
			}
		}
		if !deps.tracker.Ready() {
			http.Error(w, "no heartbeating session", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready\n"))
	})

	mux.HandleFunc("GET /sessions", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, log, http.StatusOK, map[string]any{
			"counts":   deps.tracker.Counts(),
			"sessions": deps.tracker.Snapshot(),
		})
	})

	mux.HandleFunc("GET /events", func(w http.ResponseWriter, r *http.Request) {
		limit := 0
		if raw := r.URL.Query().Get("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n < 0 {
				http.Error(w, "invalid limit", http.StatusBadRequest)
				return
			}
			limit = n
		}
		events, err := deps.events.Recent(r.Context(), limit)
		if err != nil {
			log.Error("events.recent.fail", "err", err)
			http.Error(w, "event store unavailable", http.StatusServiceUnavailable)
			return
		}
		if events == nil {
			events = []session.Event{}
		}
		writeJSON(w, log, http.StatusOK, map[string]any{"events": events})
	})

	mux.Handle("GET /metrics", promhttp.HandlerFor(deps.gather, promhttp.HandlerOpts{}))
}

func writeJSON(w http.ResponseWriter, log Logger, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Debug("http.write.fail", "err", err)
	}
}
