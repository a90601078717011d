package metadata

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/amaumene/multimediabot/internal/utils"
	"github.com/sirupsen/logrus"
)

const omdbBaseURL = "https://www.omdbapi.com/"

type omdbResponse struct {
	Response   string `json:"Response"`
	Error      string `json:"Error"`
	Title      string `json:"Title"`
	Year       string `json:"Year"`
	Plot       string `json:"Plot"`
	Genre      string `json:"Genre"`
	Director   string `json:"Director"`
	Actors     string `json:"Actors"`
	Poster     string `json:"Poster"`
	IMDBRating string `json:"imdbRating"`
	Type       string `json:"Type"`
}

// omdbClient queries the Open Movie Database by exact title
type omdbClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *logrus.Logger
}

func (c *omdbClient) search(ctx context.Context, query string) (*Metadata, error) {
	params := url.Values{
		"apikey": {c.apiKey},
		"t":      {utils.StripYear(query)},
		"plot":   {"full"},
	}
	if year := utils.ExtractYear(query); year > 0 {
		params.Set("y", strconv.Itoa(year))
	}

	c.logger.WithField("query", query).Debug("Making OMDb API request")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("OMDb request failed with status %d", resp.StatusCode)
	}

	var data omdbResponse
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if data.Response != "True" {
		return nil, nil
	}

	md := &Metadata{
		Title:     data.Title,
		Year:      releaseYear(data.Year),
		Overview:  notAvailable(data.Plot),
		PosterURL: notAvailable(data.Poster),
		Genres:    splitList(data.Genre),
		Directors: splitList(data.Director),
		Cast:      splitList(data.Actors),
		IsSeries:  data.Type == "series",
		Source:    "omdb",
	}
	if rating, err := strconv.ParseFloat(data.IMDBRating, 64); err == nil {
		md.Rating = rating
	}
	return md, nil
}

func notAvailable(s string) string {
	if s == "N/A" {
		return ""
	}
	return s
}

func splitList(s string) []string {
	s = notAvailable(s)
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
