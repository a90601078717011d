package models

import (
	"fmt"
	"time"
)

// Series is one flat or multi-season series (movies are stored as flat
// series with a single episode)
type Series struct {
	ID        int64      `boltholdKey:"ID"`
	Kind      SeriesKind `boltholdIndex:"Kind"`
	MediaKind MediaKind

	Title       string
	Description string

	// Pointers into the search archive channel and the principal channel
	CoverMessageID     int `boltholdIndex:"CoverMessageID"`
	PrincipalMessageID int

	AddedBy   int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Season belongs to a multi-season series
type Season struct {
	ID       int64 `boltholdKey:"ID"`
	SeriesID int64 `boltholdIndex:"SeriesID"`
	Number   int
	Name     string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Episode points at one file in the search archive channel
type Episode struct {
	Key       string `boltholdKey:"Key"`
	OwnerID   int64  `boltholdIndex:"OwnerID"`
	OwnerKind OwnerKind
	SeriesID  int64 // owning series, also set for season-bound episodes
	Number    int

	MessageID int `boltholdIndex:"MessageID"`
	AddedAt   time.Time
}

// EpisodeKey is the unique key of an episode within its owner
func EpisodeKey(kind OwnerKind, ownerID int64, number int) string {
	return fmt.Sprintf("%s:%d:%d", kind, ownerID, number)
}

// ConsumedButton marks an inline button that has already been used
type ConsumedButton struct {
	Key        string `boltholdKey:"Key"`
	ChatID     int64
	MessageID  int `boltholdIndex:"MessageID"`
	Data       string
	ConsumedAt time.Time
}

// ConsumedButtonKey is the unique key of a button on a given message
func ConsumedButtonKey(chatID int64, messageID int, data string) string {
	return fmt.Sprintf("%d:%d:%s", chatID, messageID, data)
}

// CatalogStats summarises the catalog contents
type CatalogStats struct {
	Series       int
	FlatSeries   int
	MultiSeries  int
	Seasons      int
	Episodes     int
	EmptySeasons []*Season
}
