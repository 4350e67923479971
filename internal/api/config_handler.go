package api

import (
	"encoding/json"
	"net/http"

	"github.com/mikeyg42/posecapture/internal/config"
	"github.com/mikeyg42/posecapture/internal/recorder/recorderlog"
)

// ConfigHandler serves the effective configuration, read only. Secrets
// are excluded by the config types' json tags.
type ConfigHandler struct {
	config *config.Config
	logger recorderlog.Logger
}

// NewConfigHandler creates a new configuration handler
func NewConfigHandler(cfg *config.Config, logger recorderlog.Logger) *ConfigHandler {
	return &ConfigHandler{config: cfg, logger: logger}
}

// GetConfig handles GET /api/config
func (h *ConfigHandler) GetConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if h.config == nil {
		http.Error(w, "Configuration not available", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, h.logger, h.config)
}

// RegisterRoutes registers HTTP routes for configuration API
func (h *ConfigHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/config", h.GetConfig)
}

func writeJSON(w http.ResponseWriter, logger recorderlog.Logger, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("Failed to encode response", recorderlog.Error(err))
	}
}
