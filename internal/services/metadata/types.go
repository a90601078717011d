package metadata

import (
	"fmt"
	"html"
	"strings"
)

// Metadata is what a lookup knows about a title
type Metadata struct {
	Title         string
	OriginalTitle string
	Year          int
	Overview      string
	Rating        float64
	PosterURL     string
	Genres        []string
	Directors     []string
	Cast          []string
	IsSeries      bool
	Source        string // "tmdb" or "omdb"
}

// Describe builds the HTML cover caption for a title. Metadata may be nil,
// in which case only the kind and title are used.
func Describe(title string, series bool, md *Metadata) string {
	kind := "Película"
	if series {
		kind = "Serie"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "🎬 %s: <b>%s</b>", kind, html.EscapeString(title))
	if md == nil {
		return b.String()
	}

	if md.Year > 0 {
		fmt.Fprintf(&b, " (%d)", md.Year)
	}
	if md.Rating > 0 {
		fmt.Fprintf(&b, "\n⭐ Rating: %.1f/10", md.Rating)
	}
	if len(md.Genres) > 0 {
		genres := md.Genres
		if len(genres) > 3 {
			genres = genres[:3]
		}
		fmt.Fprintf(&b, "\n🎭 Géneros: %s", html.EscapeString(strings.Join(genres, ", ")))
	}
	if len(md.Directors) > 0 {
		fmt.Fprintf(&b, "\n🎥 Dirección: %s", html.EscapeString(strings.Join(md.Directors, ", ")))
	}
	if len(md.Cast) > 0 {
		cast := md.Cast
		if len(cast) > 4 {
			cast = cast[:4]
		}
		fmt.Fprintf(&b, "\n👥 Reparto: %s", html.EscapeString(strings.Join(cast, ", ")))
	}
	if md.Overview != "" {
		overview := md.Overview
		// photo captions are capped at 1024 characters
		if r := []rune(overview); len(r) > 700 {
			overview = string(r[:699]) + "…"
		}
		fmt.Fprintf(&b, "\n\n%s", html.EscapeString(overview))
	}
	return b.String()
}
