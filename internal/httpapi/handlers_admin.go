package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/clawroute/clawroute/internal/catalog"
	"github.com/clawroute/clawroute/internal/oai"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// HealthHandler reports liveness plus the live routing flags.
func HealthHandler(d Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"status":    "ok",
			"version":   d.Version,
			"enabled":   d.Router.Enabled(),
			"dryRun":    d.Router.DryRun(),
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		})
	}
}

// StatsHandler serves the aggregate routing view: durable totals from the
// store plus the rolling in-memory windows.
func StatsHandler(d Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		out := map[string]any{}
		if d.Store != nil {
			since := time.Time{}
			if win := r.URL.Query().Get("since"); win != "" {
				if dur, err := time.ParseDuration(win); err == nil {
					since = time.Now().Add(-dur)
				}
			}
			sum, err := d.Store.Aggregate(r.Context(), since)
			if err != nil {
				d.Logger.Error("stats aggregation failed", "error", err)
				oai.WriteError(w, http.StatusInternalServerError, "stats aggregation failed", "server_error", "internal_error")
				return
			}
			out["totals"] = sum
		}
		if d.Stats != nil {
			out["windows"] = map[string]any{
				"global":   d.Stats.Global(),
				"by_tier":  d.Stats.ByTier(),
				"by_model": d.Stats.ByModel(),
			}
		}
		writeJSON(w, http.StatusOK, out)
	}
}

// ConfigHandler returns the running configuration with secrets redacted.
func ConfigHandler(d Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		view := map[string]any{}
		if d.ConfigView != nil {
			view = d.ConfigView()
		}
		view["enabled"] = d.Router.Enabled()
		view["dryRun"] = d.Router.DryRun()
		view["globalForceModel"] = d.Router.GlobalOverride()
		view["sessionOverrides"] = d.Router.SessionOverrides()
		writeJSON(w, http.StatusOK, view)
	}
}

// ModelsHandler lists the static model catalog.
func ModelsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"models": catalog.All()})
	}
}

// SetEnabledHandler toggles routing on or off.
func SetEnabledHandler(d Dependencies, enabled bool) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		d.Router.SetEnabled(enabled)
		d.Logger.Info("proxy enabled state changed", "enabled", enabled)
		writeJSON(w, http.StatusOK, map[string]any{"enabled": enabled})
	}
}

// SetDryRunHandler toggles dry-run mode.
func SetDryRunHandler(d Dependencies, dryRun bool) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		d.Router.SetDryRun(dryRun)
		d.Logger.Info("dry-run state changed", "dry_run", dryRun)
		writeJSON(w, http.StatusOK, map[string]any{"dryRun": dryRun})
	}
}

// GlobalOverrideHandler sets or clears the global force model. Body is
// either {"model": "..."} or {"enabled": false}.
func GlobalOverrideHandler(d Dependencies) http.HandlerFunc {
	type request struct {
		Model   string `json:"model"`
		Enabled *bool  `json:"enabled"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		var req request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			oai.WriteError(w, http.StatusBadRequest, "invalid JSON body", "invalid_request_error", "invalid_json")
			return
		}
		if req.Enabled != nil && !*req.Enabled {
			d.Router.ClearGlobalOverride()
			d.Logger.Info("global override cleared")
			writeJSON(w, http.StatusOK, map[string]any{"globalForceModel": ""})
			return
		}
		if req.Model == "" {
			oai.WriteError(w, http.StatusBadRequest, "model is required", "invalid_request_error", "missing_field")
			return
		}
		d.Router.SetGlobalOverride(req.Model)
		d.Logger.Info("global override set", "model", req.Model)
		writeJSON(w, http.StatusOK, map[string]any{"globalForceModel": req.Model})
	}
}

// SessionOverrideHandler upserts a per-session override. turns omitted
// means the override never expires.
func SessionOverrideHandler(d Dependencies) http.HandlerFunc {
	type request struct {
		SessionID string `json:"sessionId"`
		Model     string `json:"model"`
		Turns     *int   `json:"turns"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		var req request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			oai.WriteError(w, http.StatusBadRequest, "invalid JSON body", "invalid_request_error", "invalid_json")
			return
		}
		if req.SessionID == "" || req.Model == "" {
			oai.WriteError(w, http.StatusBadRequest, "sessionId and model are required", "invalid_request_error", "missing_field")
			return
		}
		turns := -1
		if req.Turns != nil {
			turns = *req.Turns
		}
		d.Router.SetSessionOverride(req.SessionID, req.Model, turns)
		d.Logger.Info("session override set", "session_id", req.SessionID, "model", req.Model, "turns", turns)
		writeJSON(w, http.StatusOK, map[string]any{"sessionId": req.SessionID, "model": req.Model})
	}
}

// SessionOverrideDeleteHandler removes a session override.
func SessionOverrideDeleteHandler(d Dependencies) http.HandlerFunc {
	type request struct {
		SessionID string `json:"sessionId"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		var req request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			oai.WriteError(w, http.StatusBadRequest, "invalid JSON body", "invalid_request_error", "invalid_json")
			return
		}
		if req.SessionID == "" {
			oai.WriteError(w, http.StatusBadRequest, "sessionId is required", "invalid_request_error", "missing_field")
			return
		}
		if !d.Router.DeleteSessionOverride(req.SessionID) {
			oai.WriteError(w, http.StatusNotFound, "no override for session", "invalid_request_error", "not_found")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"deleted": req.SessionID})
	}
}
