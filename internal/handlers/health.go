package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/PortNumber53/agency-portal/internal/worker"
)

// Pinger reports whether a dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// StatsReporter exposes the background worker's run counters.
type StatsReporter interface {
	GetStats() worker.Stats
}

// Health responds with status 200 when the service and its database are
// reachable, and 503 otherwise. A nil db skips the database check; a nil
// sweeper omits worker counters.
func Health(db Pinger, sweeper StatsReporter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		payload := map[string]any{
			"status":    "ok",
			"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
		}
		status := http.StatusOK
		if db != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := db.Ping(ctx); err != nil {
				payload["status"] = "degraded"
				payload["database"] = "unreachable"
				status = http.StatusServiceUnavailable
			}
		}
		if sweeper != nil {
			stats := sweeper.GetStats()
			sweep := map[string]any{
				"runsStarted":   stats.RunsStarted,
				"runsSucceeded": stats.RunsSucceeded,
				"runsFailed":    stats.RunsFailed,
				"activeRuns":    stats.ActiveRuns,
			}
			if !stats.LastRunAt.IsZero() {
				sweep["lastRunAt"] = stats.LastRunAt.UTC().Format(time.RFC3339)
			}
			if stats.LastFailureTask != "" {
				sweep["lastFailureTask"] = stats.LastFailureTask
			}
			payload["worker"] = sweep
		}
		writeJSON(w, status, payload)
	}
}
