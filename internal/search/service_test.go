package search

import (
	"context"
	"errors"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/charmbracelet/log"

	"github.com/soulmesh/soulmesh/internal/events"
	"github.com/soulmesh/soulmesh/internal/models"
	"github.com/soulmesh/soulmesh/internal/shared"
)

type mockProvider struct {
	results   []models.SearchResult
	searchErr error
	calls     int
}

func (m *mockProvider) Search(ctx context.Context, query string, maxResults int) ([]models.SearchResult, error) {
	m.calls++
	if m.searchErr != nil {
		return nil, m.searchErr
	}
	return m.results, nil
}

func newTestService(provider Provider, bus *events.Bus, ttl time.Duration) *Service {
	return NewService(ServiceOpts{
		Provider: provider,
		Bus:      bus,
		Logger:   log.New(io.Discard),
		CacheTTL: ttl,
	})
}

func TestSearchRanksAndPublishes(t *testing.T) {
	provider := &mockProvider{results: []models.SearchResult{
		{Filename: "track.mp3", BitrateKbps: 192},
		{Filename: "track.flac", BitrateKbps: 1411},
	}}
	bus := events.NewBus(events.BusOpts{Logger: log.New(io.Discard)})

	var published []events.SearchCompletedPayload
	bus.Subscribe(events.TypeSearchCompleted, func(e events.Event) {
		published = append(published, e.Payload.(events.SearchCompletedPayload))
	})

	svc := newTestService(provider, bus, time.Minute)
	results, err := svc.Search(context.Background(), "artist title", 10)
	if err != nil {
		t.Fatalf("Search(): %v", err)
	}

	if len(results) != 2 || results[0].Filename != "track.flac" {
		t.Errorf("results not ranked: %+v", results)
	}
	if results[0].QualityScore == 0 {
		t.Error("quality score not computed")
	}
	if len(published) != 1 || published[0].Query != "artist title" || published[0].ResultCount != 2 {
		t.Errorf("search.completed = %+v", published)
	}
}

func TestSearchEmptyQuery(t *testing.T) {
	svc := newTestService(&mockProvider{}, nil, time.Minute)

	if _, err := svc.Search(context.Background(), "", 10); !errors.Is(err, shared.ErrInvalidInput) {
		t.Errorf("Search(\"\") = %v, want ErrInvalidInput", err)
	}
}

func TestSearchCacheHitSkipsProvider(t *testing.T) {
	provider := &mockProvider{results: []models.SearchResult{{Filename: "track.flac", BitrateKbps: 1411}}}
	svc := newTestService(provider, nil, time.Minute)
	ctx := context.Background()

	svc.Search(ctx, "q", 10)
	results, err := svc.Search(ctx, "q", 10)
	if err != nil {
		t.Fatalf("Search(): %v", err)
	}

	if provider.calls != 1 {
		t.Errorf("provider called %d times, want 1", provider.calls)
	}
	// cached results are still re-ranked before exposure
	if results[0].QualityScore == 0 {
		t.Error("cached result exposed without a recomputed score")
	}
}

func TestSearchCacheExpires(t *testing.T) {
	provider := &mockProvider{results: []models.SearchResult{{Filename: "track.flac"}}}
	svc := newTestService(provider, nil, 10*time.Millisecond)
	ctx := context.Background()

	svc.Search(ctx, "q", 10)
	time.Sleep(20 * time.Millisecond)
	svc.Search(ctx, "q", 10)

	if provider.calls != 2 {
		t.Errorf("provider called %d times after TTL expiry, want 2", provider.calls)
	}
}

func TestSearchTruncatesToMaxResults(t *testing.T) {
	var many []models.SearchResult
	for i := 0; i < 20; i++ {
		many = append(many, models.SearchResult{Filename: fmt.Sprintf("t%d.mp3", i)})
	}
	svc := newTestService(&mockProvider{results: many}, nil, time.Minute)

	results, err := svc.Search(context.Background(), "q", 5)
	if err != nil {
		t.Fatalf("Search(): %v", err)
	}
	if len(results) != 5 {
		t.Errorf("len(results) = %d, want 5", len(results))
	}
}

func TestHandleSearchTrack(t *testing.T) {
	provider := &mockProvider{results: []models.SearchResult{{Filename: "track.flac"}}}
	svc := newTestService(provider, nil, time.Minute)

	result, err := svc.HandleSearchTrack(context.Background(), models.SearchTrackParams{Query: "q", MaxResults: 10})
	if err != nil {
		t.Fatalf("HandleSearchTrack(): %v", err)
	}
	if results := result.([]models.SearchResult); len(results) != 1 {
		t.Errorf("results = %+v", results)
	}

	if _, err := svc.HandleSearchTrack(context.Background(), models.ModuleStatusParams{}); !errors.Is(err, shared.ErrInvalidArgument) {
		t.Errorf("wrong param type = %v, want ErrInvalidArgument", err)
	}
}

func TestSearchProviderError(t *testing.T) {
	provider := &mockProvider{searchErr: fmt.Errorf("daemon down")}
	svc := newTestService(provider, nil, time.Minute)

	if _, err := svc.Search(context.Background(), "q", 10); err == nil {
		t.Error("Search() succeeded despite provider error")
	}
}
