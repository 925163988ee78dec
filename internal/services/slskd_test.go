package services

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/soulmesh/soulmesh/internal/shared"
	"github.com/soulmesh/soulmesh/internal/transfer"
)

func TestSlskdService(t *testing.T) {
	t.Run("NewSlskdService", func(t *testing.T) {
		t.Run("creates service with default URL", func(t *testing.T) {
			if svc := NewSlskdService(SlskdOpts{}); svc.baseURL != defaultSlskdBaseURL {
				t.Errorf("expected baseURL to be %s, got %s", defaultSlskdBaseURL, svc.baseURL)
			}
		})

		t.Run("trims trailing slash", func(t *testing.T) {
			if svc := NewSlskdService(SlskdOpts{BaseURL: "http://localhost:9000/"}); svc.baseURL != "http://localhost:9000" {
				t.Errorf("expected trimmed baseURL, got %s", svc.baseURL)
			}
		})
	})

	t.Run("Name", func(t *testing.T) {
		if svc := NewSlskdService(SlskdOpts{}); svc.Name() != "slskd" {
			t.Errorf("expected name to be 'slskd', got %s", svc.Name())
		}
	})

	t.Run("Ping", func(t *testing.T) {
		t.Run("sends api key to session endpoint", func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != "/api/v0/session" {
					t.Errorf("expected path /api/v0/session, got %s", r.URL.Path)
				}
				if r.Header.Get("X-API-Key") != "secret" {
					t.Error("expected X-API-Key header")
				}
				w.WriteHeader(http.StatusOK)
			}))
			defer server.Close()

			svc := NewSlskdService(SlskdOpts{BaseURL: server.URL, APIKey: "secret"})
			if err := svc.Ping(context.Background()); err != nil {
				t.Fatalf("expected no error, got %v", err)
			}
		})

		t.Run("fails on unauthorized", func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusUnauthorized)
				json.NewEncoder(w).Encode(map[string]string{"message": "invalid api key"})
			}))
			defer server.Close()

			svc := NewSlskdService(SlskdOpts{BaseURL: server.URL})
			err := svc.Ping(context.Background())
			if err == nil {
				t.Fatal("expected error for unauthorized session")
			}
			if !strings.Contains(err.Error(), "invalid api key") {
				t.Errorf("expected daemon message in error, got %v", err)
			}
		})
	})

	t.Run("Search", func(t *testing.T) {
		mockResponses := []map[string]any{
			{
				"username":    "peer-a",
				"uploadSpeed": 1_250_000, // bytes per second
				"queueLength": 2,
				"files": []map[string]any{
					{"filename": "Music\\Album\\song.flac", "size": 30_000_000, "bitRate": 1411, "sampleRate": 44100, "length": 240},
					{"filename": "Music\\Album\\song.mp3", "size": 9_000_000, "bitRate": 320, "length": 240},
				},
			},
			{
				"username": "peer-b",
				"files": []map[string]any{
					{"filename": "shared\\song.ogg", "size": 5_000_000, "bitRate": 192},
				},
			},
		}

		newSearchServer := func(t *testing.T) *httptest.Server {
			return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				switch {
				case r.Method == http.MethodPost && r.URL.Path == "/api/v0/searches":
					var body map[string]any
					json.NewDecoder(r.Body).Decode(&body)
					if body["searchText"] != "artist song" {
						t.Errorf("expected searchText 'artist song', got %v", body["searchText"])
					}
					json.NewEncoder(w).Encode(map[string]any{"id": body["id"], "state": "InProgress"})
				case r.Method == http.MethodGet && strings.HasSuffix(r.URL.Path, "/responses"):
					json.NewEncoder(w).Encode(mockResponses)
				case r.Method == http.MethodGet && strings.HasPrefix(r.URL.Path, "/api/v0/searches/"):
					json.NewEncoder(w).Encode(map[string]any{"state": "Completed, TimedOut", "responseCount": 2})
				default:
					t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
				}
			}))
		}

		t.Run("flattens peer responses into results", func(t *testing.T) {
			server := newSearchServer(t)
			defer server.Close()

			svc := NewSlskdService(SlskdOpts{BaseURL: server.URL, PollInterval: time.Millisecond})
			results, err := svc.Search(context.Background(), "artist song", 0)
			if err != nil {
				t.Fatalf("expected no error, got %v", err)
			}

			if len(results) != 3 {
				t.Fatalf("expected 3 results, got %d", len(results))
			}
			if results[0].Username != "peer-a" || results[0].BitrateKbps != 1411 {
				t.Errorf("first result = %+v", results[0])
			}
			if results[0].Query != "artist song" || results[0].SearchID == "" {
				t.Errorf("result missing search context: %+v", results[0])
			}
			// 1.25 MB/s upload speed converts to ~9766 kbps
			if results[0].UploadSpeedKbps < 9000 || results[0].UploadSpeedKbps > 10000 {
				t.Errorf("uploadSpeedKbps = %f", results[0].UploadSpeedKbps)
			}
		})

		t.Run("caps results at maxResults", func(t *testing.T) {
			server := newSearchServer(t)
			defer server.Close()

			svc := NewSlskdService(SlskdOpts{BaseURL: server.URL, PollInterval: time.Millisecond})
			results, err := svc.Search(context.Background(), "artist song", 2)
			if err != nil {
				t.Fatalf("expected no error, got %v", err)
			}
			if len(results) != 2 {
				t.Errorf("expected 2 results, got %d", len(results))
			}
		})
	})

	t.Run("StartTransfer", func(t *testing.T) {
		source := transfer.Source{Username: "peer-a", Path: "Music\\Album\\song.flac"}

		t.Run("relays progress and settles on success", func(t *testing.T) {
			var mu sync.Mutex
			polls := 0
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				switch {
				case r.Method == http.MethodPost && r.URL.Path == "/api/v0/transfers/downloads/peer-a":
					w.WriteHeader(http.StatusCreated)
				case r.Method == http.MethodGet && r.URL.Path == "/api/v0/transfers/downloads/peer-a":
					mu.Lock()
					polls++
					state := map[string]any{"filename": source.Path, "state": "InProgress", "bytesTransferred": polls * 10_000_000, "averageSpeed": 1_250_000}
					if polls >= 3 {
						state["state"] = "Completed, Succeeded"
						state["bytesTransferred"] = 30_000_000
					}
					mu.Unlock()
					json.NewEncoder(w).Encode(map[string]any{
						"username":    "peer-a",
						"directories": []map[string]any{{"files": []map[string]any{state}}},
					})
				default:
					t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
				}
			}))
			defer server.Close()

			svc := NewSlskdService(SlskdOpts{BaseURL: server.URL, PollInterval: time.Millisecond})

			var samples []int64
			err := svc.StartTransfer(context.Background(), source, "/tmp/song.flac", func(bytesTransferred int64, rateKbps float64) {
				samples = append(samples, bytesTransferred)
			})
			if err != nil {
				t.Fatalf("expected no error, got %v", err)
			}
			if len(samples) < 2 {
				t.Errorf("expected multiple progress samples, got %d", len(samples))
			}
			if samples[len(samples)-1] != 30_000_000 {
				t.Errorf("final sample = %d", samples[len(samples)-1])
			}
		})

		t.Run("returns transfer failure on errored state", func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				if r.Method == http.MethodPost {
					w.WriteHeader(http.StatusCreated)
					return
				}
				json.NewEncoder(w).Encode(map[string]any{
					"username": "peer-a",
					"directories": []map[string]any{{"files": []map[string]any{
						{"filename": source.Path, "state": "Completed, Errored"},
					}}},
				})
			}))
			defer server.Close()

			svc := NewSlskdService(SlskdOpts{BaseURL: server.URL, PollInterval: time.Millisecond})
			err := svc.StartTransfer(context.Background(), source, "/tmp/song.flac", nil)
			if !errors.Is(err, shared.ErrTransferFailed) {
				t.Errorf("expected ErrTransferFailed, got %v", err)
			}
		})

		t.Run("fails when daemon stops tracking the transfer", func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				if r.Method == http.MethodPost {
					w.WriteHeader(http.StatusCreated)
					return
				}
				json.NewEncoder(w).Encode(map[string]any{"username": "peer-a", "directories": []map[string]any{}})
			}))
			defer server.Close()

			svc := NewSlskdService(SlskdOpts{BaseURL: server.URL, PollInterval: time.Millisecond})
			err := svc.StartTransfer(context.Background(), source, "/tmp/song.flac", nil)
			if !errors.Is(err, shared.ErrTransferFailed) {
				t.Errorf("expected ErrTransferFailed, got %v", err)
			}
		})
	})

	t.Run("CancelTransfer", func(t *testing.T) {
		source := transfer.Source{Username: "peer-a", Path: "Music\\Album\\song.flac"}

		t.Run("deletes the tracked transfer by id", func(t *testing.T) {
			deleted := false
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				switch r.Method {
				case http.MethodGet:
					json.NewEncoder(w).Encode(map[string]any{
						"username": "peer-a",
						"directories": []map[string]any{{"files": []map[string]any{
							{"id": "transfer-1", "filename": source.Path, "state": "InProgress"},
						}}},
					})
				case http.MethodDelete:
					if r.URL.Path != "/api/v0/transfers/downloads/peer-a/transfer-1" {
						t.Errorf("unexpected delete path %s", r.URL.Path)
					}
					deleted = true
					w.WriteHeader(http.StatusNoContent)
				}
			}))
			defer server.Close()

			svc := NewSlskdService(SlskdOpts{BaseURL: server.URL})
			if err := svc.CancelTransfer(context.Background(), source); err != nil {
				t.Fatalf("expected no error, got %v", err)
			}
			if !deleted {
				t.Error("expected DELETE request")
			}
		})

		t.Run("is a no-op for untracked transfers", func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				json.NewEncoder(w).Encode(map[string]any{"username": "peer-a", "directories": []map[string]any{}})
			}))
			defer server.Close()

			svc := NewSlskdService(SlskdOpts{BaseURL: server.URL})
			if err := svc.CancelTransfer(context.Background(), source); err != nil {
				t.Fatalf("expected no error, got %v", err)
			}
		})
	})
}
