package models

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/timshannon/bolthold"
	"go.etcd.io/bbolt"
)

// ErrNotFound is returned when a record does not exist
var ErrNotFound = bolthold.ErrNotFound

// ErrDuplicateSeason is returned when a series already has a different
// season record with the same number
var ErrDuplicateSeason = errors.New("season number already used by another season of this series")

// Database wraps the bolthold store
type Database struct {
	store *bolthold.Store
}

// NewDatabase creates a new database connection
func NewDatabase(path string) (*Database, error) {
	store, err := bolthold.Open(path, 0600, &bolthold.Options{
		Options: &bbolt.Options{
			Timeout: 1 * time.Second,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	return &Database{store: store}, nil
}

// Close closes the database connection
func (db *Database) Close() error {
	return db.store.Close()
}

// Ping checks that the underlying bolt file is readable
func (db *Database) Ping() error {
	return db.store.Bolt().View(func(tx *bbolt.Tx) error { return nil })
}

// Series operations

// UpsertSeries creates or replaces a series keyed by its ID
func (db *Database) UpsertSeries(series *Series) error {
	now := time.Now()
	if series.CreatedAt.IsZero() {
		series.CreatedAt = now
	}
	series.UpdatedAt = now
	return db.store.Upsert(series.ID, series)
}

// GetSeries retrieves a series by ID
func (db *Database) GetSeries(id int64) (*Series, error) {
	var series Series
	if err := db.store.Get(id, &series); err != nil {
		return nil, err
	}
	return &series, nil
}

// FindSeriesByCoverMessageID retrieves the series whose archive cover is messageID
func (db *Database) FindSeriesByCoverMessageID(messageID int) (*Series, error) {
	var series Series
	err := db.store.FindOne(&series, bolthold.Where("CoverMessageID").Eq(messageID).Index("CoverMessageID"))
	if err != nil {
		return nil, err
	}
	return &series, nil
}

// ListSeries retrieves all series, newest first
func (db *Database) ListSeries() ([]*Series, error) {
	var series []*Series
	if err := db.store.Find(&series, nil); err != nil {
		return nil, err
	}
	sort.Slice(series, func(i, j int) bool { return series[i].ID > series[j].ID })
	return series, nil
}

// MaxSeriesID returns the highest series ID in use, or 0
func (db *Database) MaxSeriesID() (int64, error) {
	series, err := db.ListSeries()
	if err != nil {
		return 0, err
	}
	if len(series) == 0 {
		return 0, nil
	}
	return series[0].ID, nil
}

// Season operations

// UpsertSeason creates or replaces a season keyed by its ID. A series may
// hold only one season per number.
func (db *Database) UpsertSeason(season *Season) error {
	siblings, err := db.GetSeasons(season.SeriesID)
	if err != nil {
		return fmt.Errorf("failed to check season uniqueness: %w", err)
	}
	for _, other := range siblings {
		if other.ID != season.ID && other.Number == season.Number {
			return fmt.Errorf("%w: series %d season %d", ErrDuplicateSeason, season.SeriesID, season.Number)
		}
	}

	now := time.Now()
	if season.CreatedAt.IsZero() {
		season.CreatedAt = now
	}
	season.UpdatedAt = now
	return db.store.Upsert(season.ID, season)
}

// GetSeason retrieves a season by ID
func (db *Database) GetSeason(id int64) (*Season, error) {
	var season Season
	if err := db.store.Get(id, &season); err != nil {
		return nil, err
	}
	return &season, nil
}

// GetSeasons retrieves all seasons of a series ordered by season number
func (db *Database) GetSeasons(seriesID int64) ([]*Season, error) {
	var seasons []*Season
	err := db.store.Find(&seasons, bolthold.Where("SeriesID").Eq(seriesID).Index("SeriesID"))
	if err != nil {
		return nil, err
	}
	sort.SliceStable(seasons, func(i, j int) bool {
		if seasons[i].Number != seasons[j].Number {
			return seasons[i].Number < seasons[j].Number
		}
		return seasons[i].ID < seasons[j].ID
	})
	return seasons, nil
}

// Episode operations

// UpsertEpisode creates or replaces the episode (owner, number)
func (db *Database) UpsertEpisode(episode *Episode) error {
	episode.Key = EpisodeKey(episode.OwnerKind, episode.OwnerID, episode.Number)
	if episode.AddedAt.IsZero() {
		episode.AddedAt = time.Now()
	}
	return db.store.Upsert(episode.Key, episode)
}

// GetEpisodes retrieves the episodes of a series (flat) or season ordered by number
func (db *Database) GetEpisodes(kind OwnerKind, ownerID int64) ([]*Episode, error) {
	var episodes []*Episode
	err := db.store.Find(&episodes,
		bolthold.Where("OwnerID").Eq(ownerID).Index("OwnerID").
			And("OwnerKind").Eq(kind))
	if err != nil {
		return nil, err
	}
	sort.Slice(episodes, func(i, j int) bool { return episodes[i].Number < episodes[j].Number })
	return episodes, nil
}

// CountEpisodes counts the episodes of a series (flat) or season
func (db *Database) CountEpisodes(kind OwnerKind, ownerID int64) (int, error) {
	episodes, err := db.GetEpisodes(kind, ownerID)
	if err != nil {
		return 0, err
	}
	return len(episodes), nil
}

// FindEpisodeByMessageID retrieves the episode stored at an archive message
func (db *Database) FindEpisodeByMessageID(messageID int) (*Episode, error) {
	var episode Episode
	err := db.store.FindOne(&episode, bolthold.Where("MessageID").Eq(messageID).Index("MessageID"))
	if err != nil {
		return nil, err
	}
	return &episode, nil
}

// Button operations

// MarkButtonConsumed records a used button. It reports whether the button
// had already been consumed before this call.
func (db *Database) MarkButtonConsumed(chatID int64, messageID int, data string) (bool, error) {
	key := ConsumedButtonKey(chatID, messageID, data)

	var existing ConsumedButton
	err := db.store.Get(key, &existing)
	if err == nil {
		return true, nil
	}
	if !errors.Is(err, bolthold.ErrNotFound) {
		return false, err
	}

	button := &ConsumedButton{
		Key:        key,
		ChatID:     chatID,
		MessageID:  messageID,
		Data:       data,
		ConsumedAt: time.Now(),
	}
	return false, db.store.Insert(key, button)
}

// ConsumedButtons returns the callback data of every consumed button on a message
func (db *Database) ConsumedButtons(chatID int64, messageID int) (map[string]bool, error) {
	var buttons []*ConsumedButton
	err := db.store.Find(&buttons,
		bolthold.Where("MessageID").Eq(messageID).Index("MessageID").
			And("ChatID").Eq(chatID))
	if err != nil {
		return nil, err
	}
	consumed := make(map[string]bool, len(buttons))
	for _, b := range buttons {
		consumed[b.Data] = true
	}
	return consumed, nil
}

// Stats computes catalog counters and lists seasons that have no episodes
func (db *Database) Stats() (*CatalogStats, error) {
	var series []*Series
	if err := db.store.Find(&series, nil); err != nil {
		return nil, fmt.Errorf("failed to list series: %w", err)
	}

	var seasons []*Season
	if err := db.store.Find(&seasons, nil); err != nil {
		return nil, fmt.Errorf("failed to list seasons: %w", err)
	}

	var episodes []*Episode
	if err := db.store.Find(&episodes, nil); err != nil {
		return nil, fmt.Errorf("failed to list episodes: %w", err)
	}

	stats := &CatalogStats{
		Series:   len(series),
		Seasons:  len(seasons),
		Episodes: len(episodes),
	}
	for _, s := range series {
		if s.Kind == SeriesKindMulti {
			stats.MultiSeries++
		} else {
			stats.FlatSeries++
		}
	}

	for _, season := range seasons {
		n, err := db.CountEpisodes(OwnerSeason, season.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to count episodes of season %d: %w", season.ID, err)
		}
		if n == 0 {
			stats.EmptySeasons = append(stats.EmptySeasons, season)
		}
	}

	return stats, nil
}
