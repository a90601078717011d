package utils

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"
)

var (
	sxeRegex      = regexp.MustCompile(`(?i)\bS(\d{1,2})\s*E(\d{1,3})\b`)
	nxmRegex      = regexp.MustCompile(`(?i)\b(\d{1,2})x(\d{1,3})\b`)
	seasonRegex   = regexp.MustCompile(`(?i)\b(?:temporada|season|temp\.?)\s*(\d{1,3})\b`)
	seasonSRegex  = regexp.MustCompile(`(?i)\bS(\d{1,2})\b`)
	bareRegex     = regexp.MustCompile(`^\s*(\d{1,3})\s*$`)
	trailingRegex = regexp.MustCompile(`\b(\d{1,3})\s*$`)
	yearRegex     = regexp.MustCompile(`\b(19\d{2}|20\d{2})\b`)

	bracketRegex    = regexp.MustCompile(`[\[\(\{][^\]\)\}]*[\]\)\}]`)
	resolutionRegex = regexp.MustCompile(`(?i)\b\d{3,4}[pi]\b|\b4k\b`)
	extensionRegex  = regexp.MustCompile(`(?i)\.(mkv|mp4|avi|m4v|mov|wmv|ts)\b`)
	mentionRegex    = regexp.MustCompile(`(?i)@\w+|https?://\S+|t\.me/\S+|www\.\S+`)
	separatorRegex  = regexp.MustCompile(`[._]+`)
	spaceRegex      = regexp.MustCompile(`\s+`)
)

var titleCaser = cases.Title(language.Spanish)

// ParseEpisodeTag finds an explicit season/episode pair (S01E05 or 1x05) in text
func ParseEpisodeTag(text string) (season, episode int, ok bool) {
	text = norm.NFC.String(text)
	for _, re := range []*regexp.Regexp{sxeRegex, nxmRegex} {
		if m := re.FindStringSubmatch(text); m != nil {
			s, err1 := strconv.Atoi(m[1])
			e, err2 := strconv.Atoi(m[2])
			if err1 == nil && err2 == nil && e > 0 {
				return s, e, true
			}
		}
	}
	return 0, 0, false
}

// ParseSeasonNumber extracts a season number from a label such as
// "Show: Temporada 2", "Season 3", "S04", "2x01" or a bare "5"
func ParseSeasonNumber(label string) (int, bool) {
	label = norm.NFC.String(label)

	if m := seasonRegex.FindStringSubmatch(label); m != nil {
		return atoiPositive(m[1])
	}
	if s, _, ok := ParseEpisodeTag(label); ok && s > 0 {
		return s, true
	}
	if m := seasonSRegex.FindStringSubmatch(label); m != nil {
		return atoiPositive(m[1])
	}
	if m := bareRegex.FindStringSubmatch(label); m != nil {
		return atoiPositive(m[1])
	}
	if m := trailingRegex.FindStringSubmatch(label); m != nil && !yearRegex.MatchString(label) {
		return atoiPositive(m[1])
	}
	return 0, false
}

func atoiPositive(s string) (int, bool) {
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}

// ExtractYear extracts a 4-digit year from a title
// Returns 0 if no year is found
func ExtractYear(title string) int {
	matches := yearRegex.FindStringSubmatch(title)
	if len(matches) > 1 {
		year, err := strconv.Atoi(matches[1])
		if err == nil {
			return year
		}
	}
	return 0
}

// StripYear removes a trailing or bracketed year from a title
func StripYear(title string) string {
	out := yearRegex.ReplaceAllString(title, "")
	out = strings.NewReplacer("()", "", "[]", "").Replace(out)
	return collapse(out)
}

// NormalizeTitle cleans a user supplied name: NFC form, no surrounding
// quotes, single spaces, and title case when typed all in lowercase
func NormalizeTitle(s string) string {
	s = norm.NFC.String(s)
	s = strings.Trim(strings.TrimSpace(s), "\"'“”«»")
	s = collapse(s)
	if s != "" && s == strings.ToLower(s) {
		s = titleCaser.String(s)
	}
	return s
}

// CleanCaption removes scene-release noise (tags, resolutions, codecs,
// mentions, links, extensions) from a caption or file name
func (f *NoiseFilter) CleanCaption(caption string) string {
	s := norm.NFC.String(caption)
	s = mentionRegex.ReplaceAllString(s, " ")
	s = extensionRegex.ReplaceAllString(s, " ")
	s = bracketRegex.ReplaceAllString(s, " ")
	s = resolutionRegex.ReplaceAllString(s, " ")
	s = separatorRegex.ReplaceAllString(s, " ")

	words := strings.Fields(s)
	kept := words[:0]
	for _, w := range words {
		if f.IsNoise(strings.Trim(w, "-")) {
			continue
		}
		kept = append(kept, w)
	}
	return strings.Join(kept, " ")
}

// EpisodeLabel is the canonical caption of a season-bound episode
func EpisodeLabel(title string, season, episode int) string {
	return fmt.Sprintf("%s %dx%02d", title, season, episode)
}

// ChapterLabel is the canonical caption of a flat series episode
func ChapterLabel(title string, n int) string {
	return fmt.Sprintf("%s Capítulo %d", title, n)
}

// SeasonName is the display name used when a season has no label of its own
func SeasonName(n int) string {
	return fmt.Sprintf("Temporada %d", n)
}

func collapse(s string) string {
	return strings.TrimSpace(spaceRegex.ReplaceAllString(s, " "))
}
