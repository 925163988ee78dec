// slskd daemon [transfer.Client] and [search.Provider] implementation.
//
// Communicates with a slskd instance over its REST API. slskd owns the
// Soulseek protocol session; this adapter only enqueues work and observes
// transfer state. Authentication uses the daemon's API key header.
package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/soulmesh/soulmesh/internal/models"
	"github.com/soulmesh/soulmesh/internal/shared"
	"github.com/soulmesh/soulmesh/internal/transfer"
)

const defaultSlskdBaseURL = "http://localhost:5030"

// Poll cadences for asynchronous daemon operations.
const (
	defaultPollInterval = 500 * time.Millisecond
	defaultSearchWait   = 15 * time.Second
)

// slskdSearchState is returned while a search is running on the daemon.
type slskdSearchState struct {
	ID            string `json:"id"`
	State         string `json:"state"`
	ResponseCount int    `json:"responseCount"`
}

// slskdFile is a single shared file in a peer's search response.
type slskdFile struct {
	Filename      string `json:"filename"`
	Size          int64  `json:"size"`
	BitRate       int    `json:"bitRate"`
	SampleRate    int    `json:"sampleRate"`
	Length        int    `json:"length"`
	BitDepth      int    `json:"bitDepth"`
	IsVariableBit bool   `json:"isVariableBitRate"`
}

// slskdResponse is one peer's answer to a search.
type slskdResponse struct {
	Username    string      `json:"username"`
	UploadSpeed int         `json:"uploadSpeed"`
	QueueLength int         `json:"queueLength"`
	HasFreeSlot bool        `json:"hasFreeUploadSlot"`
	Files       []slskdFile `json:"files"`
}

// slskdTransfer is the daemon's view of one enqueued download.
type slskdTransfer struct {
	ID               string  `json:"id"`
	Filename         string  `json:"filename"`
	State            string  `json:"state"`
	Size             int64   `json:"size"`
	BytesTransferred int64   `json:"bytesTransferred"`
	AverageSpeed     float64 `json:"averageSpeed"` // bytes per second
}

type slskdDownloadGroup struct {
	Username    string `json:"username"`
	Directories []struct {
		Files []slskdTransfer `json:"files"`
	} `json:"directories"`
}

// SlskdService talks to the slskd REST API. It implements both the search
// provider and the transfer client ports.
type SlskdService struct {
	baseURL      string
	apiKey       string
	downloadsDir string
	httpClient   *http.Client
	searchWait   time.Duration
	pollInterval time.Duration
}

// SlskdOpts contains configuration options for creating a SlskdService.
type SlskdOpts struct {
	BaseURL      string
	APIKey       string
	DownloadsDir string // slskd's completed-downloads directory; finished files are moved out of it
	SearchWait   time.Duration
	PollInterval time.Duration
	HTTPClient   *http.Client
}

// NewSlskdService creates a new slskd service instance.
func NewSlskdService(opts SlskdOpts) *SlskdService {
	if opts.BaseURL == "" {
		opts.BaseURL = defaultSlskdBaseURL
	}
	if opts.SearchWait <= 0 {
		opts.SearchWait = defaultSearchWait
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaultPollInterval
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = http.DefaultClient
	}

	return &SlskdService{
		baseURL:      strings.TrimRight(opts.BaseURL, "/"),
		apiKey:       opts.APIKey,
		downloadsDir: opts.DownloadsDir,
		httpClient:   opts.HTTPClient,
		searchWait:   opts.SearchWait,
		pollInterval: opts.PollInterval,
	}
}

// Name returns the service name.
func (s *SlskdService) Name() string {
	return "slskd"
}

func (s *SlskdService) doRequest(ctx context.Context, method, endpoint string, body, result any) error {
	apiURL := s.baseURL + endpoint

	var reqBody *bytes.Buffer
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reqBody = bytes.NewBuffer(data)
	} else {
		reqBody = &bytes.Buffer{}
	}

	req, err := http.NewRequestWithContext(ctx, method, apiURL, reqBody)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	if s.apiKey != "" {
		req.Header.Set("X-API-Key", s.apiKey)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var errResp struct {
			Message string `json:"message"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&errResp); err == nil && errResp.Message != "" {
			return fmt.Errorf("slskd API error (status %d): %s", resp.StatusCode, errResp.Message)
		}
		return fmt.Errorf("slskd API error: status %d", resp.StatusCode)
	}

	if result != nil {
		if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}

	return nil
}

// Ping verifies the daemon is reachable and the API key is valid.
//
// Calls GET /api/v0/session.
func (s *SlskdService) Ping(ctx context.Context) error {
	return s.doRequest(ctx, http.MethodGet, "/api/v0/session", nil, nil)
}

// Search submits a network-wide search and collects peer responses.
//
// Calls POST /api/v0/searches to start, polls GET /api/v0/searches/{id}
// until the daemon marks it complete (or the wait budget runs out), then
// fetches GET /api/v0/searches/{id}/responses. Each peer file becomes one
// [models.SearchResult]; ranking is the caller's concern.
func (s *SlskdService) Search(ctx context.Context, query string, maxResults int) ([]models.SearchResult, error) {
	searchID := shared.GenerateID()
	request := map[string]any{
		"id":         searchID,
		"searchText": query,
	}

	var state slskdSearchState
	if err := s.doRequest(ctx, http.MethodPost, "/api/v0/searches", request, &state); err != nil {
		return nil, fmt.Errorf("failed to start search: %w", err)
	}

	if err := s.awaitSearch(ctx, searchID); err != nil {
		return nil, err
	}

	var responses []slskdResponse
	endpoint := fmt.Sprintf("/api/v0/searches/%s/responses", url.PathEscape(searchID))
	if err := s.doRequest(ctx, http.MethodGet, endpoint, nil, &responses); err != nil {
		return nil, fmt.Errorf("failed to fetch search responses: %w", err)
	}

	var results []models.SearchResult
	for _, response := range responses {
		for _, file := range response.Files {
			results = append(results, models.SearchResult{
				SearchID:        searchID,
				Query:           query,
				Username:        response.Username,
				Filename:        file.Filename,
				FileSizeBytes:   file.Size,
				BitrateKbps:     file.BitRate,
				SampleRateHz:    file.SampleRate,
				DurationSeconds: file.Length,
				UploadSpeedKbps: float64(response.UploadSpeed) * 8 / 1024,
				QueueLength:     response.QueueLength,
			})
			if maxResults > 0 && len(results) >= maxResults {
				return results, nil
			}
		}
	}

	return results, nil
}

// awaitSearch polls the search until the daemon reports completion. A search
// that is still running when the wait budget expires is used as-is; partial
// responses are better than none.
func (s *SlskdService) awaitSearch(ctx context.Context, searchID string) error {
	endpoint := fmt.Sprintf("/api/v0/searches/%s", url.PathEscape(searchID))
	deadline := time.Now().Add(s.searchWait)

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		var state slskdSearchState
		if err := s.doRequest(ctx, http.MethodGet, endpoint, nil, &state); err != nil {
			return fmt.Errorf("failed to poll search: %w", err)
		}
		if strings.Contains(state.State, "Completed") {
			return nil
		}
		if time.Now().After(deadline) {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// StartTransfer enqueues a download on the daemon and blocks until it
// settles, relaying progress samples to the callback.
//
// Calls POST /api/v0/transfers/downloads/{username} to enqueue, then polls
// GET /api/v0/transfers/downloads/{username} for the file's state. On
// success the completed file is moved from slskd's downloads directory to
// the requested destination.
func (s *SlskdService) StartTransfer(ctx context.Context, source transfer.Source, destination string, progress transfer.ProgressFunc) error {
	endpoint := fmt.Sprintf("/api/v0/transfers/downloads/%s", url.PathEscape(source.Username))
	request := []map[string]any{{"filename": source.Path}}

	if err := s.doRequest(ctx, http.MethodPost, endpoint, request, nil); err != nil {
		return fmt.Errorf("%w: failed to enqueue transfer: %v", shared.ErrTransferFailed, err)
	}

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.CancelTransfer(context.Background(), source)
			return ctx.Err()
		case <-ticker.C:
		}

		state, err := s.findTransfer(ctx, source)
		if err != nil {
			return err
		}
		if state == nil {
			// the daemon no longer tracks it; treat as externally removed
			return fmt.Errorf("%w: transfer disappeared from daemon", shared.ErrTransferFailed)
		}

		if progress != nil && state.BytesTransferred > 0 {
			progress(state.BytesTransferred, state.AverageSpeed*8/1024)
		}

		switch {
		case strings.Contains(state.State, "Succeeded"):
			return s.collectFile(source, destination)
		case strings.Contains(state.State, "Errored"),
			strings.Contains(state.State, "TimedOut"),
			strings.Contains(state.State, "Rejected"):
			return fmt.Errorf("%w: daemon reported state %q", shared.ErrTransferFailed, state.State)
		case strings.Contains(state.State, "Cancelled"):
			return fmt.Errorf("%w: transfer cancelled at daemon", shared.ErrTransferFailed)
		}
	}
}

// CancelTransfer aborts an in-flight download at the daemon.
//
// The transfer id is discovered by listing the user's downloads, then
// removed with DELETE /api/v0/transfers/downloads/{username}/{id}.
func (s *SlskdService) CancelTransfer(ctx context.Context, source transfer.Source) error {
	state, err := s.findTransfer(ctx, source)
	if err != nil {
		return err
	}
	if state == nil {
		return nil
	}

	endpoint := fmt.Sprintf("/api/v0/transfers/downloads/%s/%s",
		url.PathEscape(source.Username), url.PathEscape(state.ID))
	if err := s.doRequest(ctx, http.MethodDelete, endpoint, nil, nil); err != nil {
		return fmt.Errorf("failed to cancel transfer: %w", err)
	}
	return nil
}

// findTransfer locates the daemon's record for the source file, or nil when
// the daemon is not tracking it.
func (s *SlskdService) findTransfer(ctx context.Context, source transfer.Source) (*slskdTransfer, error) {
	endpoint := fmt.Sprintf("/api/v0/transfers/downloads/%s", url.PathEscape(source.Username))

	var group slskdDownloadGroup
	if err := s.doRequest(ctx, http.MethodGet, endpoint, nil, &group); err != nil {
		return nil, fmt.Errorf("%w: failed to poll transfer: %v", shared.ErrTransferFailed, err)
	}

	for _, directory := range group.Directories {
		for _, file := range directory.Files {
			if file.Filename == source.Path {
				return &file, nil
			}
		}
	}
	return nil, nil
}

// collectFile moves the finished download from slskd's downloads directory
// to the destination path. Without a configured downloads directory the
// daemon and the caller are assumed to share the destination filesystem
// layout already.
func (s *SlskdService) collectFile(source transfer.Source, destination string) error {
	if s.downloadsDir == "" {
		return nil
	}

	name := source.Path
	if i := strings.LastIndexAny(name, "\\/"); i >= 0 {
		name = name[i+1:]
	}
	completed := filepath.Join(s.downloadsDir, name)

	if err := os.MkdirAll(filepath.Dir(destination), 0755); err != nil {
		return fmt.Errorf("failed to prepare destination: %w", err)
	}
	if err := os.Rename(completed, destination); err != nil {
		return fmt.Errorf("%w: failed to collect completed file: %v", shared.ErrTransferFailed, err)
	}
	return nil
}
