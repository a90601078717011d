package controllers

import (
	"context"

	"github.com/amaumene/multimediabot/internal/models"
	"github.com/amaumene/multimediabot/internal/services/metadata"
	"github.com/amaumene/multimediabot/internal/services/telegram"
)

// Mirror is the subset of the chat transport used to move content between
// the admin chat, the search archive channel and the principal channel
type Mirror interface {
	CopyMessage(ctx context.Context, toChat, fromChat int64, messageID int, opts telegram.CopyOptions) (int, error)
	SendText(ctx context.Context, chatID int64, text string, markup *telegram.InlineKeyboardMarkup) (int, error)
	SendPhoto(ctx context.Context, chatID int64, photo, caption string, markup *telegram.InlineKeyboardMarkup) (int, error)
	EditButtons(ctx context.Context, chatID int64, messageID int, markup *telegram.InlineKeyboardMarkup) error
	EditText(ctx context.Context, chatID int64, messageID int, text string, markup *telegram.InlineKeyboardMarkup) error
	DeleteMessage(ctx context.Context, chatID int64, messageID int) error
	AnswerCallback(ctx context.Context, callbackID, text string) error
}

// Catalog is the persistent store of series, seasons and episodes
type Catalog interface {
	UpsertSeries(series *models.Series) error
	UpsertSeason(season *models.Season) error
	UpsertEpisode(episode *models.Episode) error
	GetSeries(id int64) (*models.Series, error)
	GetSeasons(seriesID int64) ([]*models.Season, error)
	GetSeason(id int64) (*models.Season, error)
	GetEpisodes(kind models.OwnerKind, ownerID int64) ([]*models.Episode, error)
	FindSeriesByCoverMessageID(messageID int) (*models.Series, error)
	FindEpisodeByMessageID(messageID int) (*models.Episode, error)
	MarkButtonConsumed(chatID int64, messageID int, data string) (bool, error)
	ConsumedButtons(chatID int64, messageID int) (map[string]bool, error)
}

// Lookup resolves a free text title to metadata. A nil result with a nil
// error means nothing matched.
type Lookup interface {
	Search(ctx context.Context, title string) (*metadata.Metadata, error)
}

// Finalizer uploads a completed bundle
type Finalizer interface {
	Finalize(ctx context.Context, req FinalizeRequest) (*UploadSummary, error)
}
