package search

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/soulmesh/soulmesh/internal/events"
	"github.com/soulmesh/soulmesh/internal/models"
	"github.com/soulmesh/soulmesh/internal/shared"
)

// ModuleName is the registry name of the search module.
const ModuleName = "search"

// DefaultCacheTTL bounds how long a query's results stay cached.
// Results are ephemeral: peers come and go, so stale hits are worse than
// a fresh search.
const DefaultCacheTTL = 2 * time.Minute

// DefaultMaxResults caps result sets when the caller does not specify a limit.
const DefaultMaxResults = 50

// Provider is the backend port that performs the actual peer search.
type Provider interface {
	Search(ctx context.Context, query string, maxResults int) ([]models.SearchResult, error)
}

type cacheEntry struct {
	results []models.SearchResult
	expires time.Time
}

// Service performs searches through a provider, ranks the candidates and
// caches results briefly.
type Service struct {
	provider Provider
	bus      *events.Bus
	logger   *log.Logger
	cacheTTL time.Duration

	mu    sync.Mutex
	cache map[string]cacheEntry
}

// ServiceOpts contains configuration options for creating a search Service.
type ServiceOpts struct {
	Provider Provider
	Bus      *events.Bus
	Logger   *log.Logger
	CacheTTL time.Duration
}

// NewService creates a search Service with the provided options.
func NewService(opts ServiceOpts) *Service {
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = DefaultCacheTTL
	}

	return &Service{
		provider: opts.Provider,
		bus:      opts.Bus,
		logger:   opts.Logger,
		cacheTTL: opts.CacheTTL,
		cache:    make(map[string]cacheEntry),
	}
}

// Name implements registry.Module.
func (s *Service) Name() string { return ModuleName }

// Search runs the query through the provider and returns ranked results.
// Fresh cache hits skip the provider but are re-ranked before exposure so
// scores never come from stored state.
func (s *Service) Search(ctx context.Context, query string, maxResults int) ([]models.SearchResult, error) {
	if query == "" {
		return nil, fmt.Errorf("%w: empty query", shared.ErrInvalidInput)
	}
	if maxResults <= 0 {
		maxResults = DefaultMaxResults
	}

	if cached, ok := s.cached(query); ok {
		s.logger.Debug("search cache hit", "query", query)
		return truncate(Rank(cached), maxResults), nil
	}

	results, err := s.provider.Search(ctx, query, maxResults)
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}

	ranked := truncate(Rank(results), maxResults)

	s.mu.Lock()
	s.cache[query] = cacheEntry{results: ranked, expires: time.Now().Add(s.cacheTTL)}
	s.mu.Unlock()

	if s.bus != nil {
		s.bus.Publish(events.New(events.TypeSearchCompleted, ModuleName, events.SearchCompletedPayload{
			Query:       query,
			ResultCount: len(ranked),
		}))
	}

	return ranked, nil
}

// HandleSearchTrack is the typed capability handler for search.track.
func (s *Service) HandleSearchTrack(ctx context.Context, params models.Params) (any, error) {
	p, ok := params.(models.SearchTrackParams)
	if !ok {
		return nil, fmt.Errorf("%w: expected SearchTrackParams, got %T", shared.ErrInvalidArgument, params)
	}
	return s.Search(ctx, p.Query, p.MaxResults)
}

// cached returns unexpired results for query, evicting stale entries.
func (s *Service) cached(query string) ([]models.SearchResult, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.cache[query]
	if !ok {
		return nil, false
	}
	if time.Now().After(entry.expires) {
		delete(s.cache, query)
		return nil, false
	}
	return entry.results, true
}

func truncate(results []models.SearchResult, max int) []models.SearchResult {
	if len(results) > max {
		return results[:max]
	}
	return results
}
