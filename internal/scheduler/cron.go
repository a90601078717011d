package scheduler

import (
	"fmt"

	"github.com/amaumene/multimediabot/internal/controllers"
	"github.com/amaumene/multimediabot/internal/models"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

var catalogRecords = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Namespace: "multimediabot",
	Name:      "catalog_records",
	Help:      "Catalog records by type, refreshed by the audit job",
}, []string{"type"})

// StatsSource provides catalog counters
type StatsSource interface {
	Stats() (*models.CatalogStats, error)
}

// Scheduler manages scheduled tasks
type Scheduler struct {
	cron     *cron.Cron
	catalog  StatsSource
	sessions *controllers.SessionStore
	logger   *logrus.Logger
}

// NewScheduler creates a new scheduler
func NewScheduler(catalog StatsSource, sessions *controllers.SessionStore, logger *logrus.Logger) *Scheduler {
	return &Scheduler{
		cron:     cron.New(),
		catalog:  catalog,
		sessions: sessions,
		logger:   logger,
	}
}

// Start starts the scheduler
func (s *Scheduler) Start() error {
	s.logger.Info("Starting scheduler")

	// Every hour: audit catalog contents
	_, err := s.cron.AddFunc("0 * * * *", func() {
		s.runAudit()
	})
	if err != nil {
		return fmt.Errorf("failed to add audit job: %w", err)
	}

	// Every 10 minutes: report ingestion sessions in progress
	_, err = s.cron.AddFunc("*/10 * * * *", func() {
		s.runSessionReport()
	})
	if err != nil {
		return fmt.Errorf("failed to add session report job: %w", err)
	}

	s.cron.Start()
	s.logger.Info("Scheduler started")

	// Run initial audit immediately
	go s.runAudit()

	return nil
}

// Stop stops the scheduler
func (s *Scheduler) Stop() {
	s.logger.Info("Stopping scheduler")
	<-s.cron.Stop().Done()
}

// runAudit refreshes catalog gauges and reports seasons left without
// episodes by a failed upload
func (s *Scheduler) runAudit() {
	s.logger.Debug("Running catalog audit")

	stats, err := s.catalog.Stats()
	if err != nil {
		s.logger.WithError(err).Error("Catalog audit failed")
		return
	}

	catalogRecords.WithLabelValues("series").Set(float64(stats.Series))
	catalogRecords.WithLabelValues("season").Set(float64(stats.Seasons))
	catalogRecords.WithLabelValues("episode").Set(float64(stats.Episodes))
	catalogRecords.WithLabelValues("empty_season").Set(float64(len(stats.EmptySeasons)))

	for _, season := range stats.EmptySeasons {
		s.logger.WithFields(logrus.Fields{
			"series_id": season.SeriesID,
			"season_id": season.ID,
			"number":    season.Number,
		}).Warn("Season has no episodes")
	}

	s.logger.WithFields(logrus.Fields{
		"series":        stats.Series,
		"flat_series":   stats.FlatSeries,
		"multi_series":  stats.MultiSeries,
		"seasons":       stats.Seasons,
		"episodes":      stats.Episodes,
		"empty_seasons": len(stats.EmptySeasons),
	}).Info("Catalog audit completed")
}

// runSessionReport logs every active ingestion session
func (s *Scheduler) runSessionReport() {
	sessions := s.sessions.Snapshot()
	if len(sessions) == 0 {
		s.logger.Debug("No ingestion sessions in progress")
		return
	}

	for _, info := range sessions {
		s.logger.WithFields(logrus.Fields{
			"session":    info.Key,
			"kind":       info.Kind,
			"phase":      info.Phase,
			"files":      info.Files,
			"started_at": info.StartedAt,
		}).Info("Ingestion session in progress")
	}
}
