package server

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/onnwee/chatmon/hub"
	"github.com/onnwee/chatmon/telemetry"
)

// HandleAdminInvalidateEmotes drops cached emotes (and channel badges) for one
// channel, or all when neither channel_id nor channel is given. channel is a
// login resolved through Helix.
func (h *Handlers) HandleAdminInvalidateEmotes(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if h.deps.Cache == nil {
		http.Error(w, "emote cache not configured", http.StatusServiceUnavailable)
		return
	}
	q := r.URL.Query()
	id := q.Get("channel_id")
	if login := q.Get("channel"); id == "" && login != "" {
		if h.deps.Users == nil {
			http.Error(w, "channel lookup requires Twitch app credentials; pass channel_id", http.StatusBadRequest)
			return
		}
		resolved, err := h.deps.Users.GetUserID(r.Context(), login)
		if err != nil {
			telemetry.LoggerWithCorr(r.Context()).Warn("channel lookup failed", slog.String("channel", login), slog.Any("err", err))
			http.Error(w, "channel not found", http.StatusNotFound)
			return
		}
		id = resolved
	}
	h.deps.Cache.Invalidate(id)
	if h.deps.Badges != nil {
		h.deps.Badges.ForgetChannel(id)
	}
	scope := id
	if scope == "" {
		scope = "all"
	}
	telemetry.LoggerWithCorr(r.Context()).Info("emote cache invalidated", slog.String("scope", scope), slog.String("component", "admin"))
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "invalidated": scope})
}

type statusRequest struct {
	Channel    string `json:"channel"`
	Message    string `json:"message"`
	DurationMs int64  `json:"durationMs"`
}

// HandleAdminStatus posts (POST) or clears (DELETE) the status overlay of a channel.
func (h *Handlers) HandleAdminStatus(w http.ResponseWriter, r *http.Request) {
	if h.deps.Status == nil {
		http.Error(w, "status overlay not configured", http.StatusServiceUnavailable)
		return
	}
	switch r.Method {
	case http.MethodPost:
		var req statusRequest
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 16<<10)).Decode(&req); err != nil {
			http.Error(w, "invalid JSON body", http.StatusBadRequest)
			return
		}
		if !hub.ValidChannel(req.Channel) {
			http.Error(w, "invalid channel", http.StatusBadRequest)
			return
		}
		if strings.TrimSpace(req.Message) == "" {
			http.Error(w, "message required", http.StatusBadRequest)
			return
		}
		h.deps.Status.Send(req.Channel, req.Message, time.Duration(req.DurationMs)*time.Millisecond)
		writeJSON(w, http.StatusAccepted, map[string]any{"status": "queued", "channel": strings.ToLower(req.Channel)})
	case http.MethodDelete:
		channel := r.URL.Query().Get("channel")
		if !hub.ValidChannel(channel) {
			http.Error(w, "invalid channel", http.StatusBadRequest)
			return
		}
		h.deps.Status.Clear(channel)
		writeJSON(w, http.StatusOK, map[string]any{"status": "cleared", "channel": strings.ToLower(channel)})
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}
