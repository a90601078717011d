package controllers

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/amaumene/multimediabot/internal/models"
	"github.com/amaumene/multimediabot/internal/services/telegram"
	"github.com/amaumene/multimediabot/internal/utils"
	"github.com/sirupsen/logrus"
)

const (
	seasonsPerRow   = 2
	episodesPerRow  = 3
	episodesPerPage = 24
	sendAllDelay    = 1 * time.Second
)

// Callback data prefixes
const (
	cbSeries  = "ser"  // ser:<seriesID>[:page]
	cbSeason  = "sea"  // sea:<seasonID>[:page]
	cbEpisode = "ep"   // ep:<archive message id>
	cbSendAll = "all"  // all:<ownerKind>:<ownerID>[:page]
	cbBack    = "back" // back:<seriesID>
	cbClose   = "close"
)

// ErrBadCallback is returned for callback data that cannot be parsed
var ErrBadCallback = errors.New("malformed callback data")

// DeepLink builds the t.me link that opens the bot on an archive message
func DeepLink(botUsername string, messageID int) string {
	return fmt.Sprintf("https://t.me/%s?start=%s", botUsername, EncodeStartPayload(messageID))
}

// EncodeStartPayload encodes an archive message id as a /start payload
func EncodeStartPayload(messageID int) string {
	return "v" + strconv.FormatInt(int64(messageID), 36)
}

// DecodeStartPayload reverses EncodeStartPayload
func DecodeStartPayload(payload string) (int, error) {
	if !strings.HasPrefix(payload, "v") {
		return 0, fmt.Errorf("unknown start payload %q", payload)
	}
	id, err := strconv.ParseInt(payload[1:], 36, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid start payload %q", payload)
	}
	return int(id), nil
}

// CatalogController answers viewer requests from the stored catalog
type CatalogController struct {
	catalog     Catalog
	mirror      Mirror
	retry       *Retrier
	archiveChat int64
	logger      *logrus.Logger

	sendDelay time.Duration
	sleep     func(ctx context.Context, d time.Duration) error
}

// NewCatalogController creates a new catalog controller
func NewCatalogController(catalog Catalog, mirror Mirror, retry *Retrier, archiveChat int64, logger *logrus.Logger) *CatalogController {
	return &CatalogController{
		catalog:     catalog,
		mirror:      mirror,
		retry:       retry,
		archiveChat: archiveChat,
		logger:      logger,
		sendDelay:   sendAllDelay,
		sleep:       sleepContext,
	}
}

// HandleStart resolves a /start deep link payload for a viewer
func (c *CatalogController) HandleStart(ctx context.Context, chatID int64, payload string) error {
	messageID, err := DecodeStartPayload(payload)
	if err != nil {
		return err
	}
	return c.Resolve(ctx, chatID, messageID)
}

// Resolve sends whatever an archive message id points at: a series cover
// with its picker, a single episode, or the raw message
func (c *CatalogController) Resolve(ctx context.Context, chatID int64, messageID int) error {
	log := c.logger.WithFields(logrus.Fields{
		"chat_id":    chatID,
		"message_id": messageID,
	})

	series, err := c.catalog.FindSeriesByCoverMessageID(messageID)
	switch {
	case err == nil:
		markup, err := c.SeriesMarkup(series, 0, nil)
		if err != nil {
			return err
		}
		log.WithField("series_id", series.ID).Debug("Resolved series cover")
		catalogViews.WithLabelValues("series").Inc()
		return c.copyToViewer(ctx, chatID, messageID, telegram.CopyOptions{ReplyMarkup: markup})
	case !errors.Is(err, models.ErrNotFound):
		return fmt.Errorf("failed to look up series: %w", err)
	}

	if _, err := c.catalog.FindEpisodeByMessageID(messageID); err == nil {
		log.Debug("Resolved episode")
		catalogViews.WithLabelValues("episode").Inc()
		return c.copyToViewer(ctx, chatID, messageID, telegram.CopyOptions{})
	} else if !errors.Is(err, models.ErrNotFound) {
		return fmt.Errorf("failed to look up episode: %w", err)
	}

	log.Debug("Resolved generic content")
	catalogViews.WithLabelValues("generic").Inc()
	return c.copyToViewer(ctx, chatID, messageID, telegram.CopyOptions{})
}

// HandleCallback resolves a button press on a picker message
func (c *CatalogController) HandleCallback(ctx context.Context, cq *telegram.CallbackQuery) error {
	if cq.Message == nil {
		return c.mirror.AnswerCallback(ctx, cq.ID, "")
	}
	chatID := cq.Message.Chat.ID
	menuID := cq.Message.MessageID

	parts := strings.Split(cq.Data, ":")
	var err error
	notice := ""

	switch parts[0] {
	case cbSeries, cbBack:
		var id int64
		var page int
		if id, page, err = parseIDPage(parts); err == nil {
			err = c.showSeries(ctx, chatID, menuID, id, page)
		}
	case cbSeason:
		var id int64
		var page int
		if id, page, err = parseIDPage(parts); err == nil {
			err = c.showSeason(ctx, chatID, menuID, id, page)
		}
	case cbEpisode:
		var messageID int
		if messageID, err = parseMessageID(parts); err == nil {
			catalogViews.WithLabelValues("episode").Inc()
			err = c.copyToViewer(ctx, chatID, messageID, telegram.CopyOptions{})
		}
	case cbSendAll:
		var sent int
		sent, err = c.sendAll(ctx, chatID, menuID, cq.Data)
		if err == nil {
			notice = fmt.Sprintf("Enviados %d episodios", sent)
		}
	case cbClose:
		err = c.mirror.EditButtons(ctx, chatID, menuID, nil)
	default:
		err = ErrBadCallback
	}

	if ansErr := c.mirror.AnswerCallback(ctx, cq.ID, notice); ansErr != nil {
		c.logger.WithError(ansErr).Debug("Failed to answer callback")
	}
	if err != nil {
		return fmt.Errorf("callback %q: %w", cq.Data, err)
	}
	return nil
}

func (c *CatalogController) showSeries(ctx context.Context, chatID int64, menuID int, seriesID int64, page int) error {
	series, err := c.catalog.GetSeries(seriesID)
	if err != nil {
		return fmt.Errorf("failed to get series %d: %w", seriesID, err)
	}
	consumed, err := c.catalog.ConsumedButtons(chatID, menuID)
	if err != nil {
		return fmt.Errorf("failed to load consumed buttons: %w", err)
	}
	markup, err := c.SeriesMarkup(series, page, consumed)
	if err != nil {
		return err
	}
	catalogViews.WithLabelValues("series").Inc()
	return c.mirror.EditButtons(ctx, chatID, menuID, markup)
}

func (c *CatalogController) showSeason(ctx context.Context, chatID int64, menuID int, seasonID int64, page int) error {
	season, err := c.catalog.GetSeason(seasonID)
	if err != nil {
		return fmt.Errorf("failed to get season %d: %w", seasonID, err)
	}
	consumed, err := c.catalog.ConsumedButtons(chatID, menuID)
	if err != nil {
		return fmt.Errorf("failed to load consumed buttons: %w", err)
	}
	markup, err := c.SeasonMarkup(season, page, consumed)
	if err != nil {
		return err
	}
	catalogViews.WithLabelValues("season").Inc()
	return c.mirror.EditButtons(ctx, chatID, menuID, markup)
}

// SeriesMarkup renders the picker of a series: its non-empty seasons for
// multi-season series, its episodes for flat ones
func (c *CatalogController) SeriesMarkup(series *models.Series, page int, consumed map[string]bool) (*telegram.InlineKeyboardMarkup, error) {
	if series.Kind == models.SeriesKindFlat {
		episodes, err := c.catalog.GetEpisodes(models.OwnerSeries, series.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to get episodes of series %d: %w", series.ID, err)
		}
		pageData := func(p int) string { return fmt.Sprintf("%s:%d:%d", cbSeries, series.ID, p) }
		sendAll := fmt.Sprintf("%s:%s:%d", cbSendAll, models.OwnerSeries, series.ID)
		rows := episodeRows(episodes, page, pageData, sendAll, consumed)
		rows = append(rows, []telegram.InlineKeyboardButton{telegram.CallbackButton("✖️ Cerrar", cbClose)})
		return &telegram.InlineKeyboardMarkup{InlineKeyboard: rows}, nil
	}

	seasons, err := c.catalog.GetSeasons(series.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to get seasons of series %d: %w", series.ID, err)
	}

	var buttons []telegram.InlineKeyboardButton
	for _, season := range seasons {
		episodes, err := c.catalog.GetEpisodes(models.OwnerSeason, season.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to get episodes of season %d: %w", season.ID, err)
		}
		// historical data may hold seasons without episodes
		if len(episodes) == 0 {
			continue
		}
		name := season.Name
		if name == "" {
			name = utils.SeasonName(season.Number)
		}
		label := fmt.Sprintf("%s (%d)", name, len(episodes))
		buttons = append(buttons, telegram.CallbackButton(label, fmt.Sprintf("%s:%d", cbSeason, season.ID)))
	}

	rows := telegram.Grid(buttons, seasonsPerRow)
	rows = append(rows, []telegram.InlineKeyboardButton{telegram.CallbackButton("✖️ Cerrar", cbClose)})
	return &telegram.InlineKeyboardMarkup{InlineKeyboard: rows}, nil
}

// SeasonMarkup renders one page of a season's episodes
func (c *CatalogController) SeasonMarkup(season *models.Season, page int, consumed map[string]bool) (*telegram.InlineKeyboardMarkup, error) {
	episodes, err := c.catalog.GetEpisodes(models.OwnerSeason, season.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to get episodes of season %d: %w", season.ID, err)
	}
	pageData := func(p int) string { return fmt.Sprintf("%s:%d:%d", cbSeason, season.ID, p) }
	sendAll := fmt.Sprintf("%s:%s:%d", cbSendAll, models.OwnerSeason, season.ID)
	rows := episodeRows(episodes, page, pageData, sendAll, consumed)
	rows = append(rows, []telegram.InlineKeyboardButton{
		telegram.CallbackButton("⬅️ Temporadas", fmt.Sprintf("%s:%d", cbBack, season.SeriesID)),
	})
	return &telegram.InlineKeyboardMarkup{InlineKeyboard: rows}, nil
}

// episodeRows lays out one page of episode buttons, the page navigation and
// the send-all button. sendAll is the page independent key of that button;
// a consumed one is relabelled.
func episodeRows(episodes []*models.Episode, page int, pageData func(int) string, sendAll string, consumed map[string]bool) [][]telegram.InlineKeyboardButton {
	pages := (len(episodes) + episodesPerPage - 1) / episodesPerPage
	if page < 0 || page >= pages {
		page = 0
	}

	start := page * episodesPerPage
	end := start + episodesPerPage
	if end > len(episodes) {
		end = len(episodes)
	}

	var buttons []telegram.InlineKeyboardButton
	for _, ep := range episodes[start:end] {
		buttons = append(buttons, telegram.CallbackButton(
			fmt.Sprintf("Capítulo %d", ep.Number),
			fmt.Sprintf("%s:%d", cbEpisode, ep.MessageID),
		))
	}
	rows := telegram.Grid(buttons, episodesPerRow)

	if pages > 1 {
		var nav []telegram.InlineKeyboardButton
		if page > 0 {
			nav = append(nav, telegram.CallbackButton("◀️", pageData(page-1)))
		}
		nav = append(nav, telegram.CallbackButton(fmt.Sprintf("%d/%d", page+1, pages), pageData(page)))
		if page < pages-1 {
			nav = append(nav, telegram.CallbackButton("▶️", pageData(page+1)))
		}
		rows = append(rows, nav)
	}

	if len(episodes) > 0 {
		label := "📤 Enviar todo"
		if consumed[sendAll] {
			label = "✅ Enviado (reenviar)"
		}
		data := fmt.Sprintf("%s:%d", sendAll, page)
		rows = append(rows, []telegram.InlineKeyboardButton{telegram.CallbackButton(label, data)})
	}
	return rows
}

// sendAll copies every episode of a season or flat series to the viewer in
// episode order. Only the last copy notifies. The button is marked consumed
// the first time and the keyboard is redrawn on the page it was pressed on;
// later presses re-send without touching the keyboard.
func (c *CatalogController) sendAll(ctx context.Context, chatID int64, menuID int, data string) (int, error) {
	parts := strings.Split(data, ":")
	if len(parts) != 3 && len(parts) != 4 {
		return 0, ErrBadCallback
	}
	page := 0
	if len(parts) == 4 {
		var err error
		if page, err = strconv.Atoi(parts[3]); err != nil || page < 0 {
			return 0, ErrBadCallback
		}
	}
	key := strings.Join(parts[:3], ":")
	ownerKind := models.OwnerKind(parts[1])
	if ownerKind != models.OwnerSeries && ownerKind != models.OwnerSeason {
		return 0, ErrBadCallback
	}
	ownerID, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil {
		return 0, ErrBadCallback
	}

	episodes, err := c.catalog.GetEpisodes(ownerKind, ownerID)
	if err != nil {
		return 0, fmt.Errorf("failed to get episodes: %w", err)
	}

	log := c.logger.WithFields(logrus.Fields{
		"chat_id":  chatID,
		"owner":    key,
		"episodes": len(episodes),
	})
	catalogViews.WithLabelValues("send_all").Inc()

	sent := 0
	for i, ep := range episodes {
		if i > 0 {
			if err := c.sleep(ctx, c.sendDelay); err != nil {
				return sent, err
			}
		}
		last := i == len(episodes)-1
		if err := c.copyToViewer(ctx, chatID, ep.MessageID, telegram.CopyOptions{DisableNotification: !last}); err != nil {
			log.WithField("episode", ep.Number).WithError(err).Warn("Failed to send episode")
			continue
		}
		sent++
	}

	already, err := c.catalog.MarkButtonConsumed(chatID, menuID, key)
	if err != nil {
		log.WithError(err).Warn("Failed to mark button consumed")
		return sent, nil
	}
	if already {
		return sent, nil
	}

	markup, err := c.markupForOwner(chatID, menuID, ownerKind, ownerID, page)
	if err != nil {
		log.WithError(err).Warn("Failed to render keyboard after send all")
		return sent, nil
	}
	if err := c.mirror.EditButtons(ctx, chatID, menuID, markup); err != nil {
		log.WithError(err).Warn("Failed to redact send all button")
	}
	log.WithField("sent", sent).Info("Sent all episodes")
	return sent, nil
}

func (c *CatalogController) markupForOwner(chatID int64, menuID int, kind models.OwnerKind, ownerID int64, page int) (*telegram.InlineKeyboardMarkup, error) {
	consumed, err := c.catalog.ConsumedButtons(chatID, menuID)
	if err != nil {
		return nil, err
	}
	if kind == models.OwnerSeason {
		season, err := c.catalog.GetSeason(ownerID)
		if err != nil {
			return nil, err
		}
		return c.SeasonMarkup(season, page, consumed)
	}
	series, err := c.catalog.GetSeries(ownerID)
	if err != nil {
		return nil, err
	}
	return c.SeriesMarkup(series, page, consumed)
}

func (c *CatalogController) copyToViewer(ctx context.Context, chatID int64, messageID int, opts telegram.CopyOptions) error {
	return c.retry.Do(ctx, "send_to_viewer", func(ctx context.Context) error {
		_, err := c.mirror.CopyMessage(ctx, chatID, c.archiveChat, messageID, opts)
		return err
	})
}

func parseIDPage(parts []string) (int64, int, error) {
	if len(parts) < 2 || len(parts) > 3 {
		return 0, 0, ErrBadCallback
	}
	id, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return 0, 0, ErrBadCallback
	}
	page := 0
	if len(parts) == 3 {
		if page, err = strconv.Atoi(parts[2]); err != nil {
			return 0, 0, ErrBadCallback
		}
	}
	return id, page, nil
}

func parseMessageID(parts []string) (int, error) {
	if len(parts) != 2 {
		return 0, ErrBadCallback
	}
	id, err := strconv.Atoi(parts[1])
	if err != nil || id <= 0 {
		return 0, ErrBadCallback
	}
	return id, nil
}
