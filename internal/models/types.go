package models

// MediaKind represents what a content bundle turned out to be
type MediaKind string

const (
	MediaKindMovie       MediaKind = "movie"
	MediaKindFlatSeries  MediaKind = "flat-series"
	MediaKindMultiSeason MediaKind = "multi-season-series"
)

// SeriesKind tells whether episodes hang from the series or from its seasons
type SeriesKind string

const (
	SeriesKindFlat  SeriesKind = "flat"
	SeriesKindMulti SeriesKind = "multi"
)

// OwnerKind identifies what an episode's OwnerID points at
type OwnerKind string

const (
	OwnerSeries OwnerKind = "series"
	OwnerSeason OwnerKind = "season"
)

// SeriesKindFor maps a media kind onto the storage layout it uses
func SeriesKindFor(kind MediaKind) SeriesKind {
	if kind == MediaKindMultiSeason {
		return SeriesKindMulti
	}
	return SeriesKindFlat
}
