package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/amaumene/multimediabot/internal/controllers"
	"github.com/amaumene/multimediabot/internal/models"
	"github.com/sirupsen/logrus"
)

// StatsSource provides catalog counters
type StatsSource interface {
	Stats() (*models.CatalogStats, error)
}

// StatusHandler handles status requests
type StatusHandler struct {
	catalog  StatsSource
	sessions *controllers.SessionStore
	logger   *logrus.Logger
}

// NewStatusHandler creates a new status handler
func NewStatusHandler(catalog StatsSource, sessions *controllers.SessionStore, logger *logrus.Logger) *StatusHandler {
	return &StatusHandler{
		catalog:  catalog,
		sessions: sessions,
		logger:   logger,
	}
}

// EmptySeason identifies a season without episodes
type EmptySeason struct {
	SeriesID int64 `json:"series_id"`
	SeasonID int64 `json:"season_id"`
	Number   int   `json:"number"`
}

// StatusResponse represents the status response
type StatusResponse struct {
	Series       int                       `json:"series"`
	FlatSeries   int                       `json:"flat_series"`
	MultiSeries  int                       `json:"multi_series"`
	Seasons      int                       `json:"seasons"`
	Episodes     int                       `json:"episodes"`
	EmptySeasons []EmptySeason             `json:"empty_seasons"`
	Sessions     []controllers.SessionInfo `json:"sessions"`
}

// ServeHTTP handles the status endpoint
func (h *StatusHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	stats, err := h.catalog.Stats()
	if err != nil {
		h.logger.WithError(err).Error("Failed to compute catalog stats")
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	response := StatusResponse{
		Series:       stats.Series,
		FlatSeries:   stats.FlatSeries,
		MultiSeries:  stats.MultiSeries,
		Seasons:      stats.Seasons,
		Episodes:     stats.Episodes,
		EmptySeasons: make([]EmptySeason, 0, len(stats.EmptySeasons)),
		Sessions:     h.sessions.Snapshot(),
	}
	for _, season := range stats.EmptySeasons {
		response.EmptySeasons = append(response.EmptySeasons, EmptySeason{
			SeriesID: season.SeriesID,
			SeasonID: season.ID,
			Number:   season.Number,
		})
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}
