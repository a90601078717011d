package metadata

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/agnivade/levenshtein"
	"github.com/amaumene/multimediabot/internal/utils"
	"github.com/sirupsen/logrus"
)

const (
	tmdbBaseURL   = "https://api.themoviedb.org/3"
	tmdbPosterURL = "https://image.tmdb.org/t/p/w500"
)

type tmdbResult struct {
	ID            int     `json:"id"`
	MediaType     string  `json:"media_type"`
	Title         string  `json:"title"`
	Name          string  `json:"name"`
	OriginalTitle string  `json:"original_title"`
	OriginalName  string  `json:"original_name"`
	Overview      string  `json:"overview"`
	ReleaseDate   string  `json:"release_date"`
	FirstAirDate  string  `json:"first_air_date"`
	VoteAverage   float64 `json:"vote_average"`
	PosterPath    string  `json:"poster_path"`
	GenreIDs      []int   `json:"genre_ids"`
}

type tmdbSearchResponse struct {
	Results []tmdbResult `json:"results"`
}

type tmdbGenreResponse struct {
	Genres []struct {
		ID   int    `json:"id"`
		Name string `json:"name"`
	} `json:"genres"`
}

// tmdbClient searches The Movie Database
type tmdbClient struct {
	baseURL    string
	apiKey     string
	language   string
	httpClient *http.Client
	logger     *logrus.Logger
}

func (c *tmdbClient) get(ctx context.Context, path string, params url.Values, result interface{}) error {
	params.Set("api_key", c.apiKey)
	params.Set("language", c.language)
	fullURL := c.baseURL + path + "?" + params.Encode()

	c.logger.WithField("path", path).Debug("Making TMDB API request")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("TMDB request failed with status %d: %s", resp.StatusCode, string(body))
	}

	if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// search returns the closest movie or tv match for query, or nil
func (c *tmdbClient) search(ctx context.Context, query string) (*Metadata, error) {
	year := utils.ExtractYear(query)
	title := utils.StripYear(query)

	var resp tmdbSearchResponse
	if err := c.get(ctx, "/search/multi", url.Values{"query": {title}, "include_adult": {"false"}}, &resp); err != nil {
		return nil, err
	}

	best := bestMatch(title, year, resp.Results)
	if best == nil {
		return nil, nil
	}

	md := &Metadata{
		Title:         firstNonEmpty(best.Title, best.Name),
		OriginalTitle: firstNonEmpty(best.OriginalTitle, best.OriginalName),
		Year:          releaseYear(firstNonEmpty(best.ReleaseDate, best.FirstAirDate)),
		Overview:      best.Overview,
		Rating:        best.VoteAverage,
		IsSeries:      best.MediaType == "tv",
		Source:        "tmdb",
	}
	if best.PosterPath != "" {
		md.PosterURL = tmdbPosterURL + best.PosterPath
	}

	if len(best.GenreIDs) > 0 {
		names, err := c.genres(ctx, best.MediaType)
		if err != nil {
			c.logger.WithError(err).Warn("Failed to load TMDB genres")
		}
		for _, id := range best.GenreIDs {
			if name, ok := names[id]; ok {
				md.Genres = append(md.Genres, name)
			}
		}
	}

	return md, nil
}

// genres loads the genre id to name table for "movie" or "tv"
func (c *tmdbClient) genres(ctx context.Context, mediaType string) (map[int]string, error) {
	var resp tmdbGenreResponse
	if err := c.get(ctx, "/genre/"+mediaType+"/list", url.Values{}, &resp); err != nil {
		return nil, err
	}
	names := make(map[int]string, len(resp.Genres))
	for _, g := range resp.Genres {
		names[g.ID] = g.Name
	}
	return names, nil
}

// bestMatch picks the movie or tv result whose title is closest to query.
// A matching year wins over a closer spelling.
func bestMatch(query string, year int, results []tmdbResult) *tmdbResult {
	q := strings.ToLower(query)

	var best *tmdbResult
	bestScore := 0
	for i := range results {
		r := &results[i]
		if r.MediaType != "movie" && r.MediaType != "tv" {
			continue
		}

		score := distance(q, firstNonEmpty(r.Title, r.Name))
		if d := distance(q, firstNonEmpty(r.OriginalTitle, r.OriginalName)); d < score {
			score = d
		}
		if year > 0 && releaseYear(firstNonEmpty(r.ReleaseDate, r.FirstAirDate)) != year {
			score += 100
		}

		if best == nil || score < bestScore {
			best = r
			bestScore = score
		}
	}
	return best
}

func distance(query, title string) int {
	if title == "" {
		return 1 << 20
	}
	return levenshtein.ComputeDistance(query, strings.ToLower(title))
}

func releaseYear(date string) int {
	if len(date) < 4 {
		return 0
	}
	year, err := strconv.Atoi(date[:4])
	if err != nil {
		return 0
	}
	return year
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
