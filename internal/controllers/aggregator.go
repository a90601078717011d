package controllers

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/amaumene/multimediabot/internal/models"
	"github.com/amaumene/multimediabot/internal/utils"
)

// maxSeasons bounds the 3-digit sequence embedded in season ids
const maxSeasons = 999

var (
	ErrMissingBundle = errors.New("no content to upload")
	ErrMissingTitle  = errors.New("the content has no title")
	ErrNoFiles       = errors.New("no files were received")
	ErrMissingCover  = errors.New("no cover was received")
	ErrTooManySeason = fmt.Errorf("more than %d seasons", maxSeasons)
)

// EmptySeasonError lists seasons that received no files
type EmptySeasonError struct {
	Seasons []string
}

func (e *EmptySeasonError) Error() string {
	return fmt.Sprintf("empty seasons: %s", strings.Join(e.Seasons, ", "))
}

// PlannedEpisode is one file with its final number and caption
type PlannedEpisode struct {
	Number int
	Label  string
	File   FileRef
}

// PlannedSeason is one season with its surrogate id and ordered episodes
type PlannedSeason struct {
	ID       int64
	Seq      int
	Number   int
	Name     string
	Episodes []PlannedEpisode
}

// Plan is the ordered season/episode layout of a bundle
type Plan struct {
	SeriesID      int64
	SeriesKind    models.SeriesKind
	Seasons       []PlannedSeason
	TotalEpisodes int
}

// Validate checks that a bundle can be uploaded. It makes no remote calls.
func (b *ContentBundle) Validate() error {
	if b == nil {
		return ErrMissingBundle
	}
	if strings.TrimSpace(b.Title) == "" {
		return ErrMissingTitle
	}
	if b.TotalFiles() == 0 {
		return ErrNoFiles
	}

	numbers := SeasonNumbers(b.Seasons)
	var empty []string
	for i, s := range b.Seasons {
		if len(s.Files) == 0 {
			empty = append(empty, seasonDisplayName(s.Key, numbers[i]))
		}
	}
	if len(empty) > 0 {
		return &EmptySeasonError{Seasons: empty}
	}
	if len(b.Seasons) > maxSeasons {
		return ErrTooManySeason
	}
	return nil
}

// BuildPlan turns a bundle into ordered seasons and episodes under seriesID
func BuildPlan(seriesID int64, b *ContentBundle) (*Plan, error) {
	if err := b.Validate(); err != nil {
		return nil, err
	}

	numbers := SeasonNumbers(b.Seasons)
	order := make([]int, len(b.Seasons))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(i, j int) bool { return numbers[order[i]] < numbers[order[j]] })

	plan := &Plan{
		SeriesID:   seriesID,
		SeriesKind: models.SeriesKindFor(b.MediaKind),
	}

	for seq, idx := range order {
		bucket := b.Seasons[idx]
		season := PlannedSeason{
			ID:     SeasonID(seriesID, seq+1),
			Seq:    seq + 1,
			Number: numbers[idx],
			Name:   seasonDisplayName(bucket.Key, numbers[idx]),
		}

		episodeNumbers := EpisodeNumbers(bucket.Files)
		for i, f := range bucket.Files {
			season.Episodes = append(season.Episodes, PlannedEpisode{
				Number: episodeNumbers[i],
				Label:  EpisodeLabelFor(b.MediaKind, b.Title, season.Number, episodeNumbers[i]),
				File:   f,
			})
		}
		plan.TotalEpisodes += len(season.Episodes)
		plan.Seasons = append(plan.Seasons, season)
	}

	return plan, nil
}

// SeasonID derives the id of the seq-th season (1-based) of a series
func SeasonID(seriesID int64, seq int) int64 {
	return seriesID*1000 + int64(seq)
}

// SeasonNumbers resolves the season number of every bucket. Parsed labels
// are kept, first seen wins on duplicates, and anything left over takes the
// next unused number in arrival order.
func SeasonNumbers(buckets []*SeasonBucket) []int {
	numbers := make([]int, len(buckets))
	used := make(map[int]bool, len(buckets))

	for i, b := range buckets {
		if n, ok := utils.ParseSeasonNumber(b.Key); ok && !used[n] {
			numbers[i] = n
			used[n] = true
		}
	}

	next := 1
	for i := range buckets {
		if numbers[i] != 0 {
			continue
		}
		for used[next] {
			next++
		}
		numbers[i] = next
		used[next] = true
	}
	return numbers
}

// EpisodeNumbers assigns episode numbers in append order. Numbers already
// assigned at ingestion never change. Numbers embedded in captions are kept
// when still free (first seen wins); other files take the smallest free
// number after the previous file's.
func EpisodeNumbers(files []FileRef) []int {
	numbers := make([]int, len(files))
	claimed := make(map[int]bool, len(files))
	explicit := make([]bool, len(files))

	for _, f := range files {
		if f.Number > 0 {
			claimed[f.Number] = true
		}
	}
	for i, f := range files {
		if f.Number == 0 && f.Explicit > 0 && !claimed[f.Explicit] {
			claimed[f.Explicit] = true
			explicit[i] = true
		}
	}

	prev := 0
	for i, f := range files {
		switch {
		case f.Number > 0:
			numbers[i] = f.Number
		case explicit[i]:
			numbers[i] = f.Explicit
		default:
			n := prev + 1
			for claimed[n] {
				n++
			}
			claimed[n] = true
			numbers[i] = n
		}
		prev = numbers[i]
	}
	return numbers
}

func seasonDisplayName(key string, number int) string {
	if key == "" {
		return utils.SeasonName(number)
	}
	return key
}
