package controllers

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/amaumene/multimediabot/internal/models"
	"github.com/amaumene/multimediabot/internal/services/telegram"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const adminChat int64 = 555

func multiBundle() *ContentBundle {
	return &ContentBundle{
		Title:     "Show",
		MediaKind: models.MediaKindMultiSeason,
		Cover:     &Cover{Photo: "cover-file-id", Caption: "Una serie"},
		Seasons: []*SeasonBucket{
			{Key: "Temporada 2", Files: files(adminChat, 21, 22, 23)},
			{Key: "Temporada 1", Files: files(adminChat, 11, 12)},
		},
	}
}

func TestFinalize_MultiSeason(t *testing.T) {
	mirror := newFakeMirror()
	db := newTestDB(t)
	p := newTestPipeline(mirror, db)

	summary, err := p.Finalize(context.Background(), FinalizeRequest{
		Bundle:  multiBundle(),
		Kind:    KindMultiSeasonAdd,
		AdminID: adminID,
		ChatID:  adminChat,
	})
	require.NoError(t, err)

	assert.NotEmpty(t, summary.RunID)
	assert.Equal(t, 2, summary.TotalSeasons)
	assert.Equal(t, 5, summary.TotalEpisodes)
	assert.Equal(t, 5, summary.UploadedEpisodes)
	assert.Zero(t, summary.FailedEpisodes)
	require.Len(t, summary.Seasons, 2)
	assert.Equal(t, 1, summary.Seasons[0].Number)
	assert.Equal(t, 2, summary.Seasons[1].Number)

	// archive copies follow season then episode order
	var copied []int
	for _, c := range mirror.byMethod("copy", archiveChat) {
		copied = append(copied, c.MessageID)
		assert.True(t, c.Silent)
	}
	assert.Equal(t, []int{11, 12, 21, 22, 23}, copied)
	assert.Equal(t, "Show 1x01", mirror.byMethod("copy", archiveChat)[0].Caption)
	assert.Equal(t, "Show 2x03", mirror.byMethod("copy", archiveChat)[4].Caption)

	// cover posted, then given the deep link, then mirrored to the principal channel
	photos := mirror.byMethod("photo", archiveChat)
	require.Len(t, photos, 1)
	assert.Equal(t, "cover-file-id", photos[0].Photo)

	edits := mirror.byMethod("buttons", archiveChat)
	require.Len(t, edits, 1)
	assert.Equal(t, summary.CoverMessageID, edits[0].MessageID)
	link := edits[0].Markup.InlineKeyboard[0][0].URL
	assert.Equal(t, DeepLink("mmbot", summary.CoverMessageID), link)

	principal := mirror.byMethod("copy", principalChat)
	require.Len(t, principal, 1)
	assert.Equal(t, archiveChat, principal[0].FromChat)
	assert.Equal(t, summary.CoverMessageID, principal[0].MessageID)
	assert.Equal(t, link, principal[0].Markup.InlineKeyboard[0][0].URL)

	// catalog
	series, err := db.GetSeries(summary.SeriesID)
	require.NoError(t, err)
	assert.Equal(t, "Show", series.Title)
	assert.Equal(t, models.SeriesKindMulti, series.Kind)
	assert.Equal(t, "Una serie", series.Description)
	assert.Equal(t, summary.CoverMessageID, series.CoverMessageID)
	assert.Equal(t, summary.PrincipalMessageID, series.PrincipalMessageID)
	assert.Equal(t, adminID, series.AddedBy)

	seasons, err := db.GetSeasons(summary.SeriesID)
	require.NoError(t, err)
	require.Len(t, seasons, 2)
	assert.Equal(t, 1, seasons[0].Number)
	assert.Equal(t, SeasonID(summary.SeriesID, 1), seasons[0].ID)
	assert.Equal(t, 2, seasons[1].Number)

	episodes, err := db.GetEpisodes(models.OwnerSeason, seasons[1].ID)
	require.NoError(t, err)
	require.Len(t, episodes, 3)
	for i, ep := range episodes {
		assert.Equal(t, i+1, ep.Number)
		assert.Equal(t, summary.SeriesID, ep.SeriesID)
	}

	// final report replaces the progress message
	reports := mirror.byMethod("edit", adminChat)
	require.NotEmpty(t, reports)
	assert.Contains(t, reports[len(reports)-1].Text, "5/5 subidos")
}

func TestFinalize_FlatSeriesOwnsEpisodes(t *testing.T) {
	mirror := newFakeMirror()
	db := newTestDB(t)
	p := newTestPipeline(mirror, db)

	bundle := &ContentBundle{
		Title:     "Novela",
		MediaKind: models.MediaKindFlatSeries,
		Cover:     &Cover{Caption: "Sin imagen"},
		Seasons:   []*SeasonBucket{{Files: files(adminChat, 1, 2, 3, 4)}},
	}
	summary, err := p.Finalize(context.Background(), FinalizeRequest{Bundle: bundle, Kind: KindFlatAdd, ChatID: adminChat})
	require.NoError(t, err)
	assert.Zero(t, summary.TotalSeasons)

	// no image means a text card cover
	assert.Len(t, mirror.byMethod("photo", 0), 0)
	cards := mirror.byMethod("text", archiveChat)
	require.Len(t, cards, 1)
	assert.Equal(t, "Sin imagen", cards[0].Text)

	seasons, err := db.GetSeasons(summary.SeriesID)
	require.NoError(t, err)
	assert.Empty(t, seasons)

	episodes, err := db.GetEpisodes(models.OwnerSeries, summary.SeriesID)
	require.NoError(t, err)
	require.Len(t, episodes, 4)
	assert.Equal(t, "Novela Capítulo 4", mirror.byMethod("copy", archiveChat)[3].Caption)
}

func TestFinalize_FlakyMirrorKeepsGoing(t *testing.T) {
	mirror := newFakeMirror()
	db := newTestDB(t)
	p := newTestPipeline(mirror, db)

	// every third source file always fails; file 2 fails once and recovers
	transient := map[int]bool{2: true}
	mirror.copyErr = func(toChat, fromChat int64, messageID int) error {
		if toChat != archiveChat || fromChat != adminChat {
			return nil
		}
		if messageID%3 == 0 {
			return &telegram.APIError{Method: "copyMessage", Code: 500, Description: "Internal Server Error"}
		}
		if transient[messageID] {
			transient[messageID] = false
			return &telegram.APIError{Method: "copyMessage", Code: 429, Description: "Too Many Requests"}
		}
		return nil
	}

	bundle := &ContentBundle{
		Title:     "Show",
		MediaKind: models.MediaKindMultiSeason,
		Cover:     &Cover{Photo: "p", Caption: "c"},
		Seasons: []*SeasonBucket{
			{Key: "Temporada 1", Files: files(adminChat, 1, 2, 3, 4, 5, 6)},
			{Key: "Temporada 2", Files: files(adminChat, 7, 8, 9)},
		},
	}

	summary, err := p.Finalize(context.Background(), FinalizeRequest{Bundle: bundle, Kind: KindSeriesUpload, ChatID: adminChat})
	require.NoError(t, err)

	assert.Equal(t, 9, summary.TotalEpisodes)
	assert.Equal(t, 3, summary.FailedEpisodes)
	assert.Equal(t, 6, summary.UploadedEpisodes)
	assert.Equal(t, summary.TotalEpisodes, summary.UploadedEpisodes+summary.FailedEpisodes)
	assert.Len(t, summary.FailedItems, 3)
	assert.Contains(t, summary.FailedItems[0], "Show 1x03")
	assert.Equal(t, 4, summary.Seasons[0].Uploaded)
	assert.Equal(t, 2, summary.Seasons[0].Failed)

	// each permanently failing file was tried three times
	assert.Len(t, mirror.byMethod("copyFailed", archiveChat), 3*3+1)

	seasons, err := db.GetSeasons(summary.SeriesID)
	require.NoError(t, err)
	require.Len(t, seasons, 2)

	stored := 0
	for _, s := range seasons {
		episodes, err := db.GetEpisodes(models.OwnerSeason, s.ID)
		require.NoError(t, err)
		stored += len(episodes)
	}
	assert.Equal(t, summary.UploadedEpisodes, stored)

	// archive held content, so the cover still reached the principal channel
	assert.Len(t, mirror.byMethod("copy", principalChat), 1)
}

func TestFinalize_EmptySeasonMakesNoRemoteCall(t *testing.T) {
	mirror := newFakeMirror()
	db := newTestDB(t)
	p := newTestPipeline(mirror, db)

	bundle := multiBundle()
	bundle.Seasons = append(bundle.Seasons, &SeasonBucket{Key: "Temporada 3"})

	_, err := p.Finalize(context.Background(), FinalizeRequest{Bundle: bundle, ChatID: adminChat})
	var empty *EmptySeasonError
	require.True(t, errors.As(err, &empty))
	assert.Equal(t, []string{"Temporada 3"}, empty.Seasons)

	assert.Zero(t, mirror.count())
	series, err := db.ListSeries()
	require.NoError(t, err)
	assert.Empty(t, series)
}

func TestFinalize_MissingCover(t *testing.T) {
	mirror := newFakeMirror()
	p := newTestPipeline(mirror, newTestDB(t))

	bundle := multiBundle()
	bundle.Cover = nil
	_, err := p.Finalize(context.Background(), FinalizeRequest{Bundle: bundle})
	assert.ErrorIs(t, err, ErrMissingCover)

	_, err = p.Finalize(context.Background(), FinalizeRequest{})
	assert.ErrorIs(t, err, ErrMissingBundle)
	assert.Zero(t, mirror.count())
}

func TestFinalize_CoverFailureAborts(t *testing.T) {
	mirror := newFakeMirror()
	db := newTestDB(t)
	p := newTestPipeline(mirror, db)
	mirror.sendErr = &telegram.APIError{Method: "sendPhoto", Code: 400, Description: "Bad Request: wrong file identifier"}

	_, err := p.Finalize(context.Background(), FinalizeRequest{Bundle: multiBundle()})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to post cover")

	assert.Empty(t, mirror.byMethod("copy", 0))
	series, err := db.ListSeries()
	require.NoError(t, err)
	assert.Empty(t, series)
}

func TestFinalize_BatchDelays(t *testing.T) {
	mirror := newFakeMirror()
	p := newTestPipeline(mirror, newTestDB(t))
	p.itemDelay = 10 * time.Millisecond
	p.batchDelay = 50 * time.Millisecond

	var delays []time.Duration
	p.sleep = func(ctx context.Context, d time.Duration) error {
		delays = append(delays, d)
		return nil
	}

	bundle := &ContentBundle{
		Title:     "Show",
		MediaKind: models.MediaKindFlatSeries,
		Cover:     &Cover{Photo: "p"},
		Seasons:   []*SeasonBucket{{Files: files(adminChat, 1, 2, 3, 4, 5)}},
	}
	_, err := p.Finalize(context.Background(), FinalizeRequest{Bundle: bundle})
	require.NoError(t, err)

	item, batch := 10*time.Millisecond, 50*time.Millisecond
	assert.Equal(t, []time.Duration{item, batch, item, batch}, delays)
}

func TestUploadSummary_Report(t *testing.T) {
	s := &UploadSummary{
		SeriesID:         12,
		Title:            "Show",
		TotalSeasons:     2,
		TotalEpisodes:    3,
		UploadedEpisodes: 2,
		FailedEpisodes:   1,
		Seasons: []SeasonSummary{
			{Number: 1, Name: "Temporada 1", Total: 2, Uploaded: 2},
			{Number: 2, Name: "Temporada 2", Total: 1, Failed: 1},
		},
		FailedItems: []string{"Show 2x01: copy failed"},
	}

	report := s.Report()
	assert.Contains(t, report, "subido con errores")
	assert.Contains(t, report, "2/3 subidos, 1 fallidos")
	assert.Contains(t, report, "• Temporada 2: 0/1 (1 fallidos)")
	assert.Contains(t, report, "• Show 2x01: copy failed")
}

func TestUploadSummary_ReportEscapesHTML(t *testing.T) {
	s := &UploadSummary{
		Title:            "Tom & Jerry",
		TotalEpisodes:    1,
		FailedEpisodes:   1,
		FailedItems:      []string{"Capítulo 1: " + excerpt(errors.New("bad <caption>"))},
		Seasons:          []SeasonSummary{{Name: "A&B", Total: 1, Failed: 1}, {Name: "C", Total: 0}},
		UploadedEpisodes: 0,
	}
	report := s.Report()
	assert.Contains(t, report, "<b>Tom &amp; Jerry</b>")
	assert.Contains(t, report, "• A&amp;B: 0/1")
	assert.Contains(t, report, "bad &lt;caption&gt;")
}

func TestExcerptIsBounded(t *testing.T) {
	long := errors.New(string(make([]byte, 500)))
	assert.LessOrEqual(t, len([]rune(excerpt(long))), errorExcerptLen)
}
