package httpserver

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"
)

// AgentSummary is the read-only shape exposed by the debug mux's
// /debug/agents endpoint — a trimmed view, never the JSON-RPC list_agents
// payload, since this surface carries no authentication.
type AgentSummary struct {
	AgentID        string `json:"agent_id"`
	IsTemp         bool   `json:"is_temp"`
	ParentAgentID  string `json:"parent_agent_id,omitempty"`
	ShouldShutdown bool   `json:"should_shutdown"`
}

// DebugPool is the narrow read-only surface the debug mux needs.
type DebugPool interface {
	Snapshot() []AgentSummary
	ShouldShutdown() bool
}

// NewDebugMux builds a chi-routed, localhost-only introspection server
// distinct from the raw JSON-RPC framing listener: a small operator-facing
// surface (process liveness, a read-only agent roster) that has no business
// sharing the hand-rolled size-capped parser the RPC surface needs. CORS is
// permissive-local only (no credentials, GET only) since this never leaves
// the host.
func NewDebugMux(pool DebugPool, log zerolog.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:*", "http://127.0.0.1:*"},
		AllowedMethods:   []string{"GET"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/debug/healthz", func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"status":            "ok",
			"should_shutdown":   pool.ShouldShutdown(),
			"server_time_unix":  time.Now().Unix(),
		})
	})

	r.Get("/debug/agents", func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"agents": pool.Snapshot()})
	})

	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
