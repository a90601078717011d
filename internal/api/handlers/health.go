package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
)

// Pinger reports whether a backing store is reachable
type Pinger interface {
	Ping() error
}

// HealthHandler handles health check requests
type HealthHandler struct {
	store   Pinger
	started time.Time
	logger  *logrus.Logger
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(store Pinger, logger *logrus.Logger) *HealthHandler {
	return &HealthHandler{store: store, started: time.Now(), logger: logger}
}

// ServeHTTP handles the health check endpoint
func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	response := map[string]string{
		"status": "healthy",
		"uptime": time.Since(h.started).Round(time.Second).String(),
	}
	code := http.StatusOK
	if err := h.store.Ping(); err != nil {
		h.logger.WithError(err).Error("Health check failed")
		response["status"] = "unhealthy"
		code = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(response)
}
