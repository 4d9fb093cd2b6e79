package server

import (
	"errors"
	"net/http"
	"sort"

	"github.com/onnwee/chatmon/telemetry"
)

// HandleHealthz responds to liveness checks.
func (h *Handlers) HandleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// HandleReadyz runs the readiness checks and reports each by name.
func (h *Handlers) HandleReadyz(w http.ResponseWriter, r *http.Request) {
	checks := []struct {
		name string
		fn   func() error
	}{
		{"server", func() error {
			if h.ctx.Err() != nil {
				return errors.New("shutting down")
			}
			return nil
		}},
	}
	if h.deps.Archive != nil {
		checks = append(checks, struct {
			name string
			fn   func() error
		}{"archive", func() error { return h.deps.Archive.Ping(r.Context()) }})
	}

	results := make(map[string]string, len(checks))
	var failed string
	for _, check := range checks {
		if err := check.fn(); err != nil {
			results[check.name] = err.Error()
			if failed == "" {
				failed = check.name
			}
			continue
		}
		results[check.name] = "ok"
	}

	if failed != "" {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status":       "not_ready",
			"failed_check": failed,
			"checks":       results,
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ready", "checks": results})
}

// HandleStats reports emote cache contents, viewers per channel and live chat sessions.
func (h *Handlers) HandleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	out := map[string]any{
		"viewers": h.deps.Hub.Channels(),
		"tracing": telemetry.IsTracingEnabled(),
	}
	if h.deps.Cache != nil {
		out["emotes"] = h.deps.Cache.Stats()
	}
	if h.deps.Chat != nil {
		sessions := h.deps.Chat.Channels()
		sort.Strings(sessions)
		out["chatSessions"] = sessions
	}
	writeJSON(w, http.StatusOK, out)
}
