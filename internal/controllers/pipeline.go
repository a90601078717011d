package controllers

import (
	"context"
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/amaumene/multimediabot/internal/config"
	"github.com/amaumene/multimediabot/internal/models"
	"github.com/amaumene/multimediabot/internal/services/telegram"
	"github.com/amaumene/multimediabot/internal/utils"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	progressInterval = 5 * time.Second
	errorExcerptLen  = 120
)

var tracer = otel.Tracer("github.com/amaumene/multimediabot/internal/controllers")

// FinalizeRequest is a bundle handed over by an ingestion flow
type FinalizeRequest struct {
	Bundle  *ContentBundle
	Kind    Kind
	AdminID int64
	ChatID  int64 // admin chat receiving progress and the final report
}

// SeasonSummary is the per-season breakdown of a run
type SeasonSummary struct {
	Number   int
	Name     string
	Total    int
	Uploaded int
	Failed   int
}

// UploadSummary reports the outcome of a finalize run
type UploadSummary struct {
	RunID              string
	SeriesID           int64
	Title              string
	TotalSeasons       int
	TotalEpisodes      int
	UploadedEpisodes   int
	FailedEpisodes     int
	Seasons            []SeasonSummary
	FailedItems        []string
	CoverMessageID     int
	PrincipalMessageID int
	Warnings           []string
}

// Pipeline copies a finalized bundle to the archive and principal channels
// and persists the catalog records
type Pipeline struct {
	mirror  Mirror
	catalog Catalog
	ids     *utils.IDGenerator
	retry   *Retrier
	logger  *logrus.Logger

	archiveChat   int64
	principalChat int64
	botUsername   string

	batchSize  int
	itemDelay  time.Duration
	batchDelay time.Duration
	sleep      func(ctx context.Context, d time.Duration) error
	now        func() time.Time
}

// NewPipeline creates a new upload pipeline
func NewPipeline(cfg *config.Config, mirror Mirror, catalog Catalog, ids *utils.IDGenerator, retry *Retrier, logger *logrus.Logger) *Pipeline {
	batchSize := cfg.UploadBatchSize
	if batchSize < 1 {
		batchSize = 1
	}
	return &Pipeline{
		mirror:        mirror,
		catalog:       catalog,
		ids:           ids,
		retry:         retry,
		logger:        logger,
		archiveChat:   cfg.SearchChannelID,
		principalChat: cfg.ChannelID,
		botUsername:   cfg.BotUsername,
		batchSize:     batchSize,
		itemDelay:     cfg.UploadItemDelay,
		batchDelay:    cfg.UploadBatchDelay,
		sleep:         sleepContext,
		now:           time.Now,
	}
}

// Finalize uploads a bundle. Validation failures return before any remote
// call. Once the cover is posted, individual episode failures are recorded
// in the summary and never abort the run.
func (p *Pipeline) Finalize(ctx context.Context, req FinalizeRequest) (summary *UploadSummary, err error) {
	started := p.now()
	runID := uuid.NewString()

	ctx, span := tracer.Start(ctx, "pipeline.Finalize")
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			uploadRuns.WithLabelValues("error").Inc()
		} else if summary.FailedEpisodes > 0 {
			uploadRuns.WithLabelValues("partial").Inc()
		} else {
			uploadRuns.WithLabelValues("ok").Inc()
		}
		span.End()
	}()

	if req.Bundle == nil {
		return nil, ErrMissingBundle
	}
	if req.Bundle.Cover == nil {
		return nil, ErrMissingCover
	}

	seriesID := p.ids.Next()
	plan, err := BuildPlan(seriesID, req.Bundle)
	if err != nil {
		return nil, err
	}

	bundle := req.Bundle
	log := p.logger.WithFields(logrus.Fields{
		"run_id":    runID,
		"series_id": seriesID,
		"title":     bundle.Title,
		"kind":      req.Kind,
	})
	span.SetAttributes(
		attribute.String("run_id", runID),
		attribute.Int64("series_id", seriesID),
		attribute.Int("episodes", plan.TotalEpisodes),
	)
	log.WithFields(logrus.Fields{
		"seasons":  len(plan.Seasons),
		"episodes": plan.TotalEpisodes,
	}).Info("Starting upload")

	summary = &UploadSummary{
		RunID:         runID,
		SeriesID:      seriesID,
		Title:         bundle.Title,
		TotalEpisodes: plan.TotalEpisodes,
	}
	if plan.SeriesKind == models.SeriesKindMulti {
		summary.TotalSeasons = len(plan.Seasons)
	}

	progress := newProgressReporter(p.mirror, req.ChatID, summary, p.now, log)
	progress.start(ctx)

	// 1. Cover to the archive channel
	coverID, err := p.postCover(ctx, p.archiveChat, bundle.Cover)
	if err != nil {
		err = fmt.Errorf("failed to post cover: %w", err)
		progress.fail(ctx, err)
		return nil, err
	}
	summary.CoverMessageID = coverID

	series := &models.Series{
		ID:             seriesID,
		Kind:           plan.SeriesKind,
		MediaKind:      bundle.MediaKind,
		Title:          bundle.Title,
		Description:    bundle.Cover.Caption,
		CoverMessageID: coverID,
		AddedBy:        req.AdminID,
	}
	if err := p.retry.Do(ctx, "upsert_series", func(context.Context) error {
		return p.catalog.UpsertSeries(series)
	}); err != nil {
		err = fmt.Errorf("failed to save series: %w", err)
		progress.fail(ctx, err)
		return nil, err
	}

	// 2. Deep link button on the archive cover
	markup := p.viewMarkup(coverID)
	if err := p.retry.Do(ctx, "edit_cover_buttons", func(ctx context.Context) error {
		return p.mirror.EditButtons(ctx, p.archiveChat, coverID, markup)
	}); err != nil {
		log.WithError(err).Warn("Failed to attach deep link to cover")
		summary.Warnings = append(summary.Warnings, "no se pudo añadir el botón a la portada: "+excerpt(err))
	}

	// 3. Episodes, season by season
	copied := 0
	for _, season := range plan.Seasons {
		ss := SeasonSummary{Number: season.Number, Name: season.Name, Total: len(season.Episodes)}
		seasonSaved := false

		for _, ep := range season.Episodes {
			if copied > 0 {
				delay := p.itemDelay
				if copied%p.batchSize == 0 {
					delay = p.batchDelay
				}
				if err := p.sleep(ctx, delay); err != nil {
					return summary, err
				}
			}
			copied++

			if err := p.uploadEpisode(ctx, plan, &season, ep, &seasonSaved); err != nil {
				log.WithFields(logrus.Fields{
					"season":  season.Number,
					"episode": ep.Number,
				}).WithError(err).Error("Failed to upload episode")
				ss.Failed++
				summary.FailedEpisodes++
				summary.FailedItems = append(summary.FailedItems, fmt.Sprintf("%s: %s", html.EscapeString(ep.Label), excerpt(err)))
				failedEpisodes.Inc()
			} else {
				ss.Uploaded++
				summary.UploadedEpisodes++
				uploadedEpisodes.Inc()
			}
			progress.update(ctx)
		}
		summary.Seasons = append(summary.Seasons, ss)
	}

	// 4. Cover to the principal channel once the archive holds content
	if summary.UploadedEpisodes > 0 {
		principalID, err := p.mirrorCover(ctx, coverID, markup)
		if err != nil {
			log.WithError(err).Error("Failed to mirror cover to principal channel")
			summary.Warnings = append(summary.Warnings, "no se pudo publicar en el canal principal: "+excerpt(err))
		} else {
			summary.PrincipalMessageID = principalID
			series.PrincipalMessageID = principalID
			if err := p.retry.Do(ctx, "upsert_series", func(context.Context) error {
				return p.catalog.UpsertSeries(series)
			}); err != nil {
				log.WithError(err).Warn("Failed to record principal message id")
			}
		}
	} else {
		summary.Warnings = append(summary.Warnings, "no se subió ningún episodio, la portada no se publicó en el canal principal")
	}

	uploadDuration.Observe(p.now().Sub(started).Seconds())
	span.SetAttributes(
		attribute.Int("uploaded", summary.UploadedEpisodes),
		attribute.Int("failed", summary.FailedEpisodes),
	)
	log.WithFields(logrus.Fields{
		"uploaded": summary.UploadedEpisodes,
		"failed":   summary.FailedEpisodes,
		"duration": p.now().Sub(started),
	}).Info("Upload finished")

	progress.finish(ctx)
	return summary, nil
}

// uploadEpisode copies one file to the archive channel and persists it.
// The season record is written right before its first episode.
func (p *Pipeline) uploadEpisode(ctx context.Context, plan *Plan, season *PlannedSeason, ep PlannedEpisode, seasonSaved *bool) error {
	ctx, span := tracer.Start(ctx, "pipeline.uploadEpisode",
		trace.WithAttributes(attribute.Int("season", season.Number), attribute.Int("episode", ep.Number)))
	defer span.End()

	label := ep.Label
	var messageID int
	err := p.retry.Do(ctx, "copy_episode", func(ctx context.Context) error {
		id, err := p.mirror.CopyMessage(ctx, p.archiveChat, ep.File.ChatID, ep.File.MessageID, telegram.CopyOptions{
			Caption:             &label,
			DisableNotification: true,
		})
		if err != nil {
			return err
		}
		messageID = id
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("copy failed: %w", err)
	}

	ownerKind, ownerID := models.OwnerSeries, plan.SeriesID
	if plan.SeriesKind == models.SeriesKindMulti {
		ownerKind, ownerID = models.OwnerSeason, season.ID
		if !*seasonSaved {
			record := &models.Season{
				ID:       season.ID,
				SeriesID: plan.SeriesID,
				Number:   season.Number,
				Name:     season.Name,
			}
			if err := p.retry.Do(ctx, "upsert_season", func(context.Context) error {
				return p.catalog.UpsertSeason(record)
			}); err != nil {
				return fmt.Errorf("failed to save season: %w", err)
			}
			*seasonSaved = true
		}
	}

	episode := &models.Episode{
		OwnerID:   ownerID,
		OwnerKind: ownerKind,
		SeriesID:  plan.SeriesID,
		Number:    ep.Number,
		MessageID: messageID,
	}
	if err := p.retry.Do(ctx, "upsert_episode", func(context.Context) error {
		return p.catalog.UpsertEpisode(episode)
	}); err != nil {
		return fmt.Errorf("failed to save episode: %w", err)
	}
	return nil
}

// postCover sends the cover photo, or a text card when there is no image
func (p *Pipeline) postCover(ctx context.Context, chatID int64, cover *Cover) (int, error) {
	var messageID int
	err := p.retry.Do(ctx, "post_cover", func(ctx context.Context) error {
		var id int
		var err error
		if cover.Photo == "" {
			id, err = p.mirror.SendText(ctx, chatID, cover.Caption, nil)
		} else {
			id, err = p.mirror.SendPhoto(ctx, chatID, cover.Photo, cover.Caption, nil)
		}
		if err != nil {
			return err
		}
		messageID = id
		return nil
	})
	return messageID, err
}

func (p *Pipeline) mirrorCover(ctx context.Context, coverID int, markup *telegram.InlineKeyboardMarkup) (int, error) {
	var messageID int
	err := p.retry.Do(ctx, "mirror_cover", func(ctx context.Context) error {
		id, err := p.mirror.CopyMessage(ctx, p.principalChat, p.archiveChat, coverID, telegram.CopyOptions{ReplyMarkup: markup})
		if err != nil {
			return err
		}
		messageID = id
		return nil
	})
	return messageID, err
}

func (p *Pipeline) viewMarkup(coverID int) *telegram.InlineKeyboardMarkup {
	return &telegram.InlineKeyboardMarkup{InlineKeyboard: [][]telegram.InlineKeyboardButton{
		{telegram.URLButton("▶️ Ver contenido", DeepLink(p.botUsername, coverID))},
	}}
}

// Report renders a summary for the admin in HTML
func (s *UploadSummary) Report() string {
	var b strings.Builder
	title := html.EscapeString(s.Title)
	if s.FailedEpisodes == 0 {
		fmt.Fprintf(&b, "✅ <b>%s</b> subido correctamente\n\n", title)
	} else {
		fmt.Fprintf(&b, "⚠️ <b>%s</b> subido con errores\n\n", title)
	}
	fmt.Fprintf(&b, "🆔 ID: <code>%d</code>\n", s.SeriesID)
	if s.TotalSeasons > 0 {
		fmt.Fprintf(&b, "📚 Temporadas: %d\n", s.TotalSeasons)
	}
	fmt.Fprintf(&b, "🎞 Episodios: %d/%d subidos", s.UploadedEpisodes, s.TotalEpisodes)
	if s.FailedEpisodes > 0 {
		fmt.Fprintf(&b, ", %d fallidos", s.FailedEpisodes)
	}
	b.WriteString("\n")

	if len(s.Seasons) > 1 {
		b.WriteString("\n")
		for _, ss := range s.Seasons {
			fmt.Fprintf(&b, "• %s: %d/%d", html.EscapeString(ss.Name), ss.Uploaded, ss.Total)
			if ss.Failed > 0 {
				fmt.Fprintf(&b, " (%d fallidos)", ss.Failed)
			}
			b.WriteString("\n")
		}
	}
	if len(s.FailedItems) > 0 {
		b.WriteString("\n❌ Fallidos:\n")
		for _, item := range s.FailedItems {
			fmt.Fprintf(&b, "• %s\n", item)
		}
	}
	for _, w := range s.Warnings {
		fmt.Fprintf(&b, "\n⚠️ %s", w)
	}
	return strings.TrimRight(b.String(), "\n")
}

// excerpt shortens an error for user-visible HTML messages
func excerpt(err error) string {
	return html.EscapeString(utils.Truncate(err.Error(), errorExcerptLen))
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// progressReporter edits one admin message in place during a run
type progressReporter struct {
	mirror    Mirror
	chatID    int64
	messageID int
	summary   *UploadSummary
	now       func() time.Time
	last      time.Time
	log       *logrus.Entry
}

func newProgressReporter(mirror Mirror, chatID int64, summary *UploadSummary, now func() time.Time, log *logrus.Entry) *progressReporter {
	return &progressReporter{mirror: mirror, chatID: chatID, summary: summary, now: now, log: log}
}

func (r *progressReporter) text() string {
	done := r.summary.UploadedEpisodes + r.summary.FailedEpisodes
	return fmt.Sprintf("⏳ Subiendo <b>%s</b>\n\n%s %d/%d episodios\n✅ %d  ❌ %d",
		html.EscapeString(r.summary.Title), progressBar(done, r.summary.TotalEpisodes), done, r.summary.TotalEpisodes,
		r.summary.UploadedEpisodes, r.summary.FailedEpisodes)
}

func (r *progressReporter) start(ctx context.Context) {
	if r.chatID == 0 {
		return
	}
	id, err := r.mirror.SendText(ctx, r.chatID, r.text(), nil)
	if err != nil {
		r.log.WithError(err).Warn("Failed to send progress message")
		return
	}
	r.messageID = id
	r.last = r.now()
}

// update edits the progress message at most once per progressInterval
func (r *progressReporter) update(ctx context.Context) {
	if r.messageID == 0 {
		return
	}
	if r.now().Sub(r.last) < progressInterval {
		return
	}
	r.last = r.now()
	if err := r.mirror.EditText(ctx, r.chatID, r.messageID, r.text(), nil); err != nil {
		r.log.WithError(err).Debug("Failed to update progress message")
	}
}

func (r *progressReporter) finish(ctx context.Context) {
	r.deliver(ctx, r.summary.Report())
}

func (r *progressReporter) fail(ctx context.Context, err error) {
	r.deliver(ctx, fmt.Sprintf("❌ No se pudo subir <b>%s</b>\n\n%s", html.EscapeString(r.summary.Title), excerpt(err)))
}

func (r *progressReporter) deliver(ctx context.Context, text string) {
	if r.chatID == 0 {
		return
	}
	if r.messageID != 0 {
		if err := r.mirror.EditText(ctx, r.chatID, r.messageID, text, nil); err == nil {
			return
		}
	}
	if _, err := r.mirror.SendText(ctx, r.chatID, text, nil); err != nil {
		r.log.WithError(err).Warn("Failed to send upload report")
	}
}

func progressBar(done, total int) string {
	const width = 10
	if total <= 0 {
		return strings.Repeat("░", width)
	}
	filled := done * width / total
	return strings.Repeat("▓", filled) + strings.Repeat("░", width-filled)
}
