package controllers

import (
	"github.com/amaumene/multimediabot/internal/models"
	"github.com/amaumene/multimediabot/internal/services/metadata"
	"github.com/amaumene/multimediabot/internal/utils"
)

// FileKind is the attachment type of a FileRef
type FileKind string

const (
	FileVideo    FileKind = "video"
	FileDocument FileKind = "document"
)

// FileRef points at a file already delivered to the admin chat. Files are
// always copied by reference, never downloaded.
type FileRef struct {
	ChatID    int64
	MessageID int
	Caption   string // working caption, the canonical label once relabelled
	Kind      FileKind
	Explicit  int // episode number embedded in the caption, 0 if none
	Number    int // episode number assigned when the file was appended
}

// SeasonBucket holds the files of one season in append order
type SeasonBucket struct {
	Key   string // label typed by the admin, or "" for the implied season
	Files []FileRef
}

// Cover is the image posted to both channels. An empty Photo means a text
// card is posted instead.
type Cover struct {
	Photo   string // telegram file_id or poster URL
	Caption string // HTML, already escaped
}

// ContentBundle accumulates everything an ingestion flow collected
type ContentBundle struct {
	Title     string
	MediaKind models.MediaKind
	Metadata  *metadata.Metadata
	Cover     *Cover
	Seasons   []*SeasonBucket
}

// NewBundle creates an empty bundle
func NewBundle(title string, kind models.MediaKind) *ContentBundle {
	return &ContentBundle{Title: title, MediaKind: kind}
}

// TotalFiles counts the files across all seasons
func (b *ContentBundle) TotalFiles() int {
	n := 0
	for _, s := range b.Seasons {
		n += len(s.Files)
	}
	return n
}

// OpenSeason returns the index of the bucket for key, reusing an existing
// bucket whose label resolves to the same season number
func (b *ContentBundle) OpenSeason(key string) int {
	if n, ok := utils.ParseSeasonNumber(key); ok {
		if idx := b.seasonIndexByNumber(n); idx >= 0 {
			return idx
		}
	}
	for i, s := range b.Seasons {
		if s.Key == key {
			return i
		}
	}
	b.Seasons = append(b.Seasons, &SeasonBucket{Key: key})
	return len(b.Seasons) - 1
}

// SeasonFor returns the index of the bucket holding season number n,
// creating one when none exists
func (b *ContentBundle) SeasonFor(n int) int {
	if idx := b.seasonIndexByNumber(n); idx >= 0 {
		return idx
	}
	b.Seasons = append(b.Seasons, &SeasonBucket{Key: utils.SeasonName(n)})
	return len(b.Seasons) - 1
}

// seasonIndexByNumber finds the first bucket whose label parses to n
func (b *ContentBundle) seasonIndexByNumber(n int) int {
	for i, s := range b.Seasons {
		if num, ok := utils.ParseSeasonNumber(s.Key); ok && num == n {
			return i
		}
	}
	return -1
}

// Append adds a file to bucket idx and returns the season and episode
// number it was assigned. The number is stored on the file and stays fixed
// for the rest of the flow.
func (b *ContentBundle) Append(idx int, ref FileRef) (season, episode int) {
	if len(b.Seasons) == 0 {
		idx = b.OpenSeason("")
	}
	bucket := b.Seasons[idx]
	ref.Number = 0
	bucket.Files = append(bucket.Files, ref)

	last := len(bucket.Files) - 1
	episode = EpisodeNumbers(bucket.Files)[last]
	bucket.Files[last].Number = episode
	return SeasonNumbers(b.Seasons)[idx], episode
}

// Label is the canonical caption of an episode of this bundle
func (b *ContentBundle) Label(season, episode int) string {
	return EpisodeLabelFor(b.MediaKind, b.Title, season, episode)
}

// EpisodeLabelFor builds the caption used for an episode of the given kind
func EpisodeLabelFor(kind models.MediaKind, title string, season, episode int) string {
	switch kind {
	case models.MediaKindMovie:
		return title
	case models.MediaKindFlatSeries:
		return utils.ChapterLabel(title, episode)
	default:
		return utils.EpisodeLabel(title, season, episode)
	}
}
