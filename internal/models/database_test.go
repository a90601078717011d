package models

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDB(t *testing.T) *Database {
	t.Helper()
	db, err := NewDatabase(filepath.Join(t.TempDir(), "catalog.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestSeries_UpsertAndFind(t *testing.T) {
	db := newTestDB(t)

	series := &Series{ID: 10, Kind: SeriesKindMulti, MediaKind: MediaKindMultiSeason, Title: "Show", CoverMessageID: 500}
	require.NoError(t, db.UpsertSeries(series))
	created := series.CreatedAt
	assert.False(t, created.IsZero())

	series.PrincipalMessageID = 900
	require.NoError(t, db.UpsertSeries(series))

	got, err := db.GetSeries(10)
	require.NoError(t, err)
	assert.Equal(t, 900, got.PrincipalMessageID)
	assert.True(t, got.CreatedAt.Equal(created))

	byCover, err := db.FindSeriesByCoverMessageID(500)
	require.NoError(t, err)
	assert.Equal(t, int64(10), byCover.ID)

	_, err = db.FindSeriesByCoverMessageID(501)
	assert.True(t, errors.Is(err, ErrNotFound))

	require.NoError(t, db.UpsertSeries(&Series{ID: 11, Kind: SeriesKindFlat, Title: "Otra"}))
	max, err := db.MaxSeriesID()
	require.NoError(t, err)
	assert.Equal(t, int64(11), max)

	all, err := db.ListSeries()
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, int64(11), all[0].ID)
}

func TestSeason_NumberIsUniquePerSeries(t *testing.T) {
	db := newTestDB(t)

	require.NoError(t, db.UpsertSeason(&Season{ID: 10002, SeriesID: 10, Number: 2, Name: "Temporada 2"}))
	require.NoError(t, db.UpsertSeason(&Season{ID: 10001, SeriesID: 10, Number: 1, Name: "Temporada 1"}))

	// same record again is fine
	require.NoError(t, db.UpsertSeason(&Season{ID: 10001, SeriesID: 10, Number: 1, Name: "Primera"}))

	err := db.UpsertSeason(&Season{ID: 10003, SeriesID: 10, Number: 2})
	assert.ErrorIs(t, err, ErrDuplicateSeason)

	// another series may reuse the number
	require.NoError(t, db.UpsertSeason(&Season{ID: 20001, SeriesID: 20, Number: 2}))

	seasons, err := db.GetSeasons(10)
	require.NoError(t, err)
	require.Len(t, seasons, 2)
	assert.Equal(t, 1, seasons[0].Number)
	assert.Equal(t, "Primera", seasons[0].Name)
	assert.Equal(t, 2, seasons[1].Number)
}

func TestEpisode_UpsertByOwnerAndNumber(t *testing.T) {
	db := newTestDB(t)

	require.NoError(t, db.UpsertEpisode(&Episode{OwnerKind: OwnerSeason, OwnerID: 10001, SeriesID: 10, Number: 2, MessageID: 102}))
	require.NoError(t, db.UpsertEpisode(&Episode{OwnerKind: OwnerSeason, OwnerID: 10001, SeriesID: 10, Number: 1, MessageID: 101}))
	// re-upload of episode 2 replaces the message
	require.NoError(t, db.UpsertEpisode(&Episode{OwnerKind: OwnerSeason, OwnerID: 10001, SeriesID: 10, Number: 2, MessageID: 202}))
	// same owner id under the other kind is a different owner
	require.NoError(t, db.UpsertEpisode(&Episode{OwnerKind: OwnerSeries, OwnerID: 10001, SeriesID: 10001, Number: 1, MessageID: 301}))

	episodes, err := db.GetEpisodes(OwnerSeason, 10001)
	require.NoError(t, err)
	require.Len(t, episodes, 2)
	assert.Equal(t, 1, episodes[0].Number)
	assert.Equal(t, 202, episodes[1].MessageID)

	n, err := db.CountEpisodes(OwnerSeries, 10001)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	ep, err := db.FindEpisodeByMessageID(202)
	require.NoError(t, err)
	assert.Equal(t, 2, ep.Number)

	_, err = db.FindEpisodeByMessageID(102)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestConsumedButtons(t *testing.T) {
	db := newTestDB(t)

	already, err := db.MarkButtonConsumed(5, 50, "all:season:1")
	require.NoError(t, err)
	assert.False(t, already)

	already, err = db.MarkButtonConsumed(5, 50, "all:season:1")
	require.NoError(t, err)
	assert.True(t, already)

	_, err = db.MarkButtonConsumed(6, 50, "all:season:2")
	require.NoError(t, err)

	consumed, err := db.ConsumedButtons(5, 50)
	require.NoError(t, err)
	assert.Equal(t, map[string]bool{"all:season:1": true}, consumed)
}

func TestStats(t *testing.T) {
	db := newTestDB(t)

	require.NoError(t, db.UpsertSeries(&Series{ID: 1, Kind: SeriesKindFlat}))
	require.NoError(t, db.UpsertSeries(&Series{ID: 2, Kind: SeriesKindMulti}))
	require.NoError(t, db.UpsertSeason(&Season{ID: 2001, SeriesID: 2, Number: 1}))
	require.NoError(t, db.UpsertSeason(&Season{ID: 2002, SeriesID: 2, Number: 2}))
	require.NoError(t, db.UpsertEpisode(&Episode{OwnerKind: OwnerSeries, OwnerID: 1, Number: 1, MessageID: 11}))
	require.NoError(t, db.UpsertEpisode(&Episode{OwnerKind: OwnerSeason, OwnerID: 2001, Number: 1, MessageID: 21}))

	stats, err := db.Stats()
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Series)
	assert.Equal(t, 1, stats.FlatSeries)
	assert.Equal(t, 1, stats.MultiSeries)
	assert.Equal(t, 2, stats.Seasons)
	assert.Equal(t, 2, stats.Episodes)
	require.Len(t, stats.EmptySeasons, 1)
	assert.Equal(t, int64(2002), stats.EmptySeasons[0].ID)

	require.NoError(t, db.Ping())
}

func TestSeriesKindFor(t *testing.T) {
	assert.Equal(t, SeriesKindMulti, SeriesKindFor(MediaKindMultiSeason))
	assert.Equal(t, SeriesKindFlat, SeriesKindFor(MediaKindMovie))
	assert.Equal(t, SeriesKindFlat, SeriesKindFor(MediaKindFlatSeries))
}
