package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseEpisodeTag(t *testing.T) {
	tests := []struct {
		text    string
		season  int
		episode int
		ok      bool
	}{
		{"Show 01x05 720p", 1, 5, true},
		{"Show.S02E10.WEB", 2, 10, true},
		{"s1 e3", 1, 3, true},
		{"Capítulo 4", 0, 0, false},
		{"1x00", 0, 0, false},
		{"1920x1080", 0, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			s, e, ok := ParseEpisodeTag(tt.text)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.season, s)
			assert.Equal(t, tt.episode, e)
		})
	}
}

func TestParseSeasonNumber(t *testing.T) {
	tests := []struct {
		label string
		want  int
		ok    bool
	}{
		{"Temporada 2", 2, true},
		{"Show: Temporada 2", 2, true},
		{"Season 10", 10, true},
		{"temp. 3", 3, true},
		{"S03", 3, true},
		{"3", 3, true},
		{"Parte 4", 4, true},
		{"Breaking Bad 1x03", 1, true},
		{"Especiales", 0, false},
		{"Matrix 1999", 0, false},
		{"Temporada 0", 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.label, func(t *testing.T) {
			got, ok := ParseSeasonNumber(tt.label)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNormalizeTitle(t *testing.T) {
	assert.Equal(t, "Show", NormalizeTitle(`"show"`))
	assert.Equal(t, "La Casa De Papel", NormalizeTitle("  la casa   de papel "))
	assert.Equal(t, "MIXED case", NormalizeTitle("MIXED case"))
	assert.Equal(t, "Película", NormalizeTitle("«Película»"))
	assert.Empty(t, NormalizeTitle("  \"\" "))
}

func TestCleanCaption(t *testing.T) {
	f := NewNoiseFilter()
	assert.Equal(t, "Show S01E02", f.CleanCaption("[HD] Show.S01E02.720p.x265.mkv @canal"))
	assert.Equal(t, "Serie 1x03", f.CleanCaption("Serie 1x03 Latino WEB-DL https://t.me/x"))
}

func TestYearHelpers(t *testing.T) {
	assert.Equal(t, 2019, ExtractYear("Joker (2019)"))
	assert.Zero(t, ExtractYear("Joker"))
	assert.Equal(t, "Joker", StripYear("Joker (2019)"))
}

func TestLabels(t *testing.T) {
	assert.Equal(t, "Show 2x05", EpisodeLabel("Show", 2, 5))
	assert.Equal(t, "Show 1x120", EpisodeLabel("Show", 1, 120))
	assert.Equal(t, "Show Capítulo 3", ChapterLabel("Show", 3))
	assert.Equal(t, "Temporada 4", SeasonName(4))
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "hola", Truncate("hola", 10))
	assert.Equal(t, "abc…", Truncate("abcdef", 4))
	assert.Equal(t, "ñá…", Truncate("ñáéíó", 3))
}
