package metadata

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/amaumene/multimediabot/internal/config"
	"github.com/patrickmn/go-cache"
	"github.com/sirupsen/logrus"
)

const (
	cacheTTL     = 6 * time.Hour
	cacheCleanup = 30 * time.Minute
)

// ErrNoProvider is returned when neither TMDB nor OMDb is configured
var ErrNoProvider = errors.New("no metadata provider configured")

// Service looks titles up on TMDB and falls back to OMDb. Results,
// including misses, are cached.
type Service struct {
	tmdb   *tmdbClient
	omdb   *omdbClient
	cache  *cache.Cache
	logger *logrus.Logger
}

// NewService creates a new metadata service
func NewService(cfg *config.Config, logger *logrus.Logger) *Service {
	httpClient := &http.Client{Timeout: 15 * time.Second}

	s := &Service{
		cache:  cache.New(cacheTTL, cacheCleanup),
		logger: logger,
	}
	if cfg.TMDBAPIKey != "" {
		s.tmdb = &tmdbClient{
			baseURL:    tmdbBaseURL,
			apiKey:     cfg.TMDBAPIKey,
			language:   cfg.MetadataLang,
			httpClient: httpClient,
			logger:     logger,
		}
	}
	if cfg.OMDBAPIKey != "" {
		s.omdb = &omdbClient{
			baseURL:    omdbBaseURL,
			apiKey:     cfg.OMDBAPIKey,
			httpClient: httpClient,
			logger:     logger,
		}
	}
	return s
}

// Search returns the best metadata for title, or nil when nothing matched.
// An error is returned only when every configured provider failed.
func (s *Service) Search(ctx context.Context, title string) (*Metadata, error) {
	key := strings.ToLower(strings.TrimSpace(title))
	if key == "" {
		return nil, nil
	}
	if cached, ok := s.cache.Get(key); ok {
		md, _ := cached.(*Metadata)
		return md, nil
	}
	if s.tmdb == nil && s.omdb == nil {
		return nil, ErrNoProvider
	}

	log := s.logger.WithField("title", title)
	var errs []error

	if s.tmdb != nil {
		md, err := s.tmdb.search(ctx, title)
		if err != nil {
			log.WithError(err).Warn("TMDB search failed")
			errs = append(errs, err)
		} else if md != nil {
			log.WithField("match", md.Title).Debug("TMDB match")
			s.cache.SetDefault(key, md)
			return md, nil
		}
	}

	if s.omdb != nil {
		md, err := s.omdb.search(ctx, title)
		if err != nil {
			log.WithError(err).Warn("OMDb search failed")
			errs = append(errs, err)
		} else if md != nil {
			log.WithField("match", md.Title).Debug("OMDb match")
			s.cache.SetDefault(key, md)
			return md, nil
		}
	}

	configured := 0
	if s.tmdb != nil {
		configured++
	}
	if s.omdb != nil {
		configured++
	}
	if len(errs) == configured {
		return nil, errors.Join(errs...)
	}

	log.Info("No metadata found")
	s.cache.SetDefault(key, (*Metadata)(nil))
	return nil, nil
}
