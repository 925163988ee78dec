// package downloads implements the download lifecycle service: queueing,
// worker-pool dispatch, progress tracking, retry with exponential backoff
// and archival-friendly persistence of every state change.
package downloads

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/time/rate"

	"github.com/soulmesh/soulmesh/internal/events"
	"github.com/soulmesh/soulmesh/internal/models"
	"github.com/soulmesh/soulmesh/internal/shared"
	"github.com/soulmesh/soulmesh/internal/transfer"
)

// ModuleName is the registry name of the downloads module.
const ModuleName = "downloads"

// Defaults for the worker pool and progress throttle.
const (
	DefaultWorkers          = 3
	DefaultProgressInterval = 2 * time.Second
)

// Store is the persistence port for download records. Every lifecycle
// transition is persisted before its event is published, so a restart can
// rebuild the queue from storage.
type Store interface {
	models.Repository[*models.Download]
	NextSequence() (int, error)
}

// Service owns the download lifecycle. All transitions for a given download
// are serialized through a per-id lock; the worker pool bounds concurrent
// transfers.
type Service struct {
	store            Store
	client           transfer.Client
	bus              *events.Bus
	logger           *log.Logger
	backoff          Backoff
	maxRetries       int
	workers          int
	progressInterval time.Duration
	tempDir          string
	libraryDir       string

	jobs    chan string
	wg      sync.WaitGroup
	closeMu sync.RWMutex
	closing bool

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex

	timersMu sync.Mutex
	timers   map[string]*time.Timer

	inflightMu sync.Mutex
	inflight   map[string]bool
}

// ServiceOpts contains configuration options for creating a download Service.
type ServiceOpts struct {
	Store            Store
	Client           transfer.Client
	Bus              *events.Bus
	Logger           *log.Logger
	Backoff          Backoff
	MaxRetries       int
	Workers          int
	ProgressInterval time.Duration
	TempDir          string
	LibraryDir       string
}

// NewService creates a download Service with the provided options.
func NewService(opts ServiceOpts) *Service {
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	if opts.Backoff.Base <= 0 {
		opts.Backoff = DefaultBackoff()
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = models.DefaultMaxRetries
	}
	if opts.Workers <= 0 {
		opts.Workers = DefaultWorkers
	}
	if opts.ProgressInterval <= 0 {
		opts.ProgressInterval = DefaultProgressInterval
	}
	if opts.TempDir == "" {
		opts.TempDir = os.TempDir()
	}

	return &Service{
		store:            opts.Store,
		client:           opts.Client,
		bus:              opts.Bus,
		logger:           opts.Logger,
		backoff:          opts.Backoff,
		maxRetries:       opts.MaxRetries,
		workers:          opts.Workers,
		progressInterval: opts.ProgressInterval,
		tempDir:          opts.TempDir,
		libraryDir:       opts.LibraryDir,
		jobs:             make(chan string, 256),
		locks:            make(map[string]*sync.Mutex),
		timers:           make(map[string]*time.Timer),
		inflight:         make(map[string]bool),
	}
}

// Name implements registry.Module.
func (s *Service) Name() string { return ModuleName }

// Start launches the worker pool and re-dispatches downloads that were
// queued or in flight when the process last stopped. Blocks until ctx is
// cancelled and all workers have drained.
func (s *Service) Start(ctx context.Context) error {
	if err := s.recover(); err != nil {
		return err
	}

	for i := 0; i < s.workers; i++ {
		s.wg.Add(1)
		go s.worker(ctx)
	}

	<-ctx.Done()
	s.cancelTimers()

	s.closeMu.Lock()
	s.closing = true
	close(s.jobs)
	s.closeMu.Unlock()

	s.wg.Wait()
	return ctx.Err()
}

// recover re-enqueues persisted non-terminal work after a restart. A record
// stuck in in_progress means the process died mid-transfer; the worker path
// resumes it from its temp location.
func (s *Service) recover() error {
	for _, status := range []models.DownloadStatus{models.DownloadQueued, models.DownloadInProgress} {
		pending, err := s.store.List(map[string]any{"status": string(status)})
		if err != nil {
			return fmt.Errorf("failed to recover %s downloads: %w", status, err)
		}
		for _, d := range pending {
			s.logger.Info("recovering download", "id", d.ID(), "status", d.Status())
			s.dispatch(d.ID())
		}
	}
	return nil
}

func (s *Service) worker(ctx context.Context) {
	defer s.wg.Done()

	for id := range s.jobs {
		select {
		case <-ctx.Done():
			return
		default:
		}
		s.runDownload(ctx, id)
	}
}

// dispatch hands a download id to the worker pool without blocking the
// caller. An id already queued or being serviced is not dispatched again, so
// startup recovery cannot double-run a download queued in this process.
func (s *Service) dispatch(id string) {
	s.inflightMu.Lock()
	if s.inflight[id] {
		s.inflightMu.Unlock()
		s.logger.Debug("download already dispatched", "id", id)
		return
	}
	s.inflight[id] = true
	s.inflightMu.Unlock()

	s.closeMu.RLock()
	defer s.closeMu.RUnlock()
	if s.closing {
		s.clearInflight(id)
		return
	}

	select {
	case s.jobs <- id:
	default:
		s.clearInflight(id)
		s.logger.Warn("download queue full, dropping dispatch", "id", id)
	}
}

func (s *Service) clearInflight(id string) {
	s.inflightMu.Lock()
	delete(s.inflight, id)
	s.inflightMu.Unlock()
}

// lockFor returns the per-download mutex, creating it on first use.
func (s *Service) lockFor(id string) *sync.Mutex {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()

	mu, ok := s.locks[id]
	if !ok {
		mu = &sync.Mutex{}
		s.locks[id] = mu
	}
	return mu
}

// Queue creates a new download record, persists it and hands it to the
// worker pool.
func (s *Service) Queue(ctx context.Context, params models.DownloadTrackParams) (*models.Download, error) {
	if params.TrackRef == "" || params.SourceUser == "" || params.SourcePath == "" {
		return nil, fmt.Errorf("%w: track reference and source identity are required", shared.ErrInvalidInput)
	}

	sequence, err := s.store.NextSequence()
	if err != nil {
		return nil, fmt.Errorf("failed to allocate download sequence: %w", err)
	}

	d := models.NewDownload(sequence, params.TrackRef, params.SourceUser, params.SourcePath, params.FileSizeBytes, params.Quality, params.Priority)
	d.SetID(shared.GenerateID())
	d.SetMaxRetries(s.maxRetries)

	if err := d.Validate(); err != nil {
		return nil, err
	}
	if err := s.store.Create(d); err != nil {
		return nil, fmt.Errorf("failed to persist download: %w", err)
	}

	s.logger.Info("download queued", "id", d.ID(), "track", d.TrackRef(), "user", d.SourceUser())
	s.publish(events.New(events.TypeDownloadQueued, ModuleName, events.DownloadQueuedPayload{
		DownloadID:    d.ID(),
		TrackID:       d.TrackRef(),
		Username:      d.SourceUser(),
		Filename:      d.SourcePath(),
		FileSizeBytes: d.FileSizeBytes(),
		Priority:      d.Priority(),
	}))

	s.dispatch(d.ID())
	return d, nil
}

// runDownload performs a single transfer attempt for the download. Queued
// downloads are started fresh; in_progress ones (resumed, or recovered after
// a crash) continue into their existing temp location.
func (s *Service) runDownload(ctx context.Context, id string) {
	defer s.clearInflight(id)

	mu := s.lockFor(id)

	mu.Lock()
	d, err := s.store.Get(id)
	if err != nil {
		mu.Unlock()
		s.logger.Error("failed to load dispatched download", "id", id, "error", err)
		return
	}

	var started events.Event
	switch d.Status() {
	case models.DownloadQueued:
		tempPath := filepath.Join(s.tempDir, fmt.Sprintf("%s%s", d.ID(), filepath.Ext(d.SourcePath())))
		if err := d.Start(tempPath); err != nil {
			mu.Unlock()
			s.logger.Error("failed to start download", "id", id, "error", err)
			return
		}
		if err := s.store.Update(d); err != nil {
			mu.Unlock()
			s.logger.Error("failed to persist download start", "id", id, "error", err)
			return
		}
		started = events.New(events.TypeDownloadStarted, ModuleName, events.DownloadStartedPayload{
			DownloadID: d.ID(),
			TrackID:    d.TrackRef(),
			TempPath:   tempPath,
		})
	case models.DownloadInProgress:
		// resumed or recovered; transfer restarts into the same temp file
	default:
		mu.Unlock()
		s.logger.Debug("skipping dispatch for settled download", "id", id, "status", d.Status())
		return
	}

	source := transfer.Source{Username: d.SourceUser(), Path: d.SourcePath()}
	tempLocation := d.TempLocation()
	mu.Unlock()

	if started.Type != "" {
		s.publish(started)
	}

	limiter := rate.NewLimiter(rate.Every(s.progressInterval), 1)
	progress := func(bytesTransferred int64, rateKbps float64) {
		s.recordProgress(id, bytesTransferred, rateKbps, limiter)
	}

	if err := s.client.StartTransfer(ctx, source, tempLocation, progress); err != nil {
		s.handleFailure(id, err)
		return
	}
	s.handleCompletion(id)
}

// recordProgress persists a progress sample and publishes a throttled
// download.progressed event. Samples arriving after a pause or cancel are
// dropped by the entity's own transition guard.
func (s *Service) recordProgress(id string, bytesTransferred int64, rateKbps float64, limiter *rate.Limiter) {
	mu := s.lockFor(id)
	mu.Lock()
	defer mu.Unlock()

	d, err := s.store.Get(id)
	if err != nil {
		return
	}
	if d.Status() != models.DownloadInProgress {
		return
	}

	d.UpdateProgress(bytesTransferred, rateKbps)
	if err := s.store.Update(d); err != nil {
		s.logger.Error("failed to persist download progress", "id", id, "error", err)
		return
	}

	if !limiter.Allow() {
		return
	}
	s.publish(events.New(events.TypeDownloadProgressed, ModuleName, events.DownloadProgressedPayload{
		DownloadID:       d.ID(),
		ProgressPercent:  d.ProgressPercent(),
		BytesTransferred: d.BytesTransferred(),
		RateKbps:         d.TransferRateKbps(),
		ETASeconds:       d.ETASeconds(),
	}))
}

// handleCompletion moves the finished file into the library and settles the
// record. A transfer that raced a cancel or pause finds the record no longer
// in_progress and leaves it alone.
func (s *Service) handleCompletion(id string) {
	mu := s.lockFor(id)
	mu.Lock()
	defer mu.Unlock()

	d, err := s.store.Get(id)
	if err != nil {
		s.logger.Error("failed to load finished download", "id", id, "error", err)
		return
	}
	if d.Status() != models.DownloadInProgress {
		return
	}

	finalLocation := d.TempLocation()
	if s.libraryDir != "" {
		finalLocation = filepath.Join(s.libraryDir, baseName(d.SourcePath()))
		if err := os.MkdirAll(s.libraryDir, 0755); err == nil {
			if err := os.Rename(d.TempLocation(), finalLocation); err != nil {
				s.logger.Warn("failed to move download into library, keeping temp location", "id", id, "error", err)
				finalLocation = d.TempLocation()
			}
		} else {
			finalLocation = d.TempLocation()
		}
	}

	if err := d.Complete(finalLocation); err != nil {
		s.logger.Error("failed to complete download", "id", id, "error", err)
		return
	}
	if err := s.store.Update(d); err != nil {
		s.logger.Error("failed to persist download completion", "id", id, "error", err)
		return
	}

	s.logger.Info("download completed", "id", id, "path", finalLocation)
	s.publish(events.New(events.TypeDownloadCompleted, ModuleName, events.DownloadCompletedPayload{
		DownloadID:    d.ID(),
		TrackID:       d.TrackRef(),
		FilePath:      finalLocation,
		FileSizeBytes: d.FileSizeBytes(),
		Timestamp:     time.Now(),
	}))
}

// handleFailure records a failed attempt and either schedules a retry or
// settles the download as terminally failed once the budget is spent.
func (s *Service) handleFailure(id string, transferErr error) {
	mu := s.lockFor(id)
	mu.Lock()
	defer mu.Unlock()

	d, err := s.store.Get(id)
	if err != nil {
		s.logger.Error("failed to load failed download", "id", id, "error", err)
		return
	}
	if d.Status() != models.DownloadInProgress && d.Status() != models.DownloadQueued {
		// cancelled or paused while the transfer was unwinding
		return
	}

	if err := d.Fail(transferErr.Error()); err != nil {
		s.logger.Error("failed to record download failure", "id", id, "error", err)
		return
	}
	if err := s.store.Update(d); err != nil {
		s.logger.Error("failed to persist download failure", "id", id, "error", err)
		return
	}

	canRetry := d.CanRetry()
	s.publish(events.New(events.TypeDownloadFailed, ModuleName, events.DownloadFailedPayload{
		DownloadID: d.ID(),
		TrackID:    d.TrackRef(),
		Reason:     transferErr.Error(),
		RetryCount: d.RetryCount(),
		CanRetry:   canRetry,
	}))

	if !canRetry {
		s.logger.Error("download failed permanently", "id", id, "attempts", d.RetryCount(), "error", transferErr)
		if temp := d.TempLocation(); temp != "" {
			os.Remove(temp)
		}
		return
	}

	delay := s.backoff.Delay(d.RetryCount())
	s.logger.Warn("download failed, retrying", "id", id, "attempt", d.RetryCount(), "delay", delay, "error", transferErr)
	s.scheduleRetry(id, delay)
}

// scheduleRetry arms a timer that re-queues the download after the backoff
// delay. A cancel in the meantime wins; the timer then finds the record no
// longer failed and does nothing.
func (s *Service) scheduleRetry(id string, delay time.Duration) {
	s.timersMu.Lock()
	defer s.timersMu.Unlock()

	if t, ok := s.timers[id]; ok {
		t.Stop()
	}
	s.timers[id] = time.AfterFunc(delay, func() {
		s.timersMu.Lock()
		delete(s.timers, id)
		s.timersMu.Unlock()
		s.retryNow(id)
	})
}

func (s *Service) retryNow(id string) {
	// the attempt that scheduled this retry has settled; drop its in-flight
	// mark so the re-dispatch below is not suppressed
	s.clearInflight(id)

	mu := s.lockFor(id)
	mu.Lock()

	d, err := s.store.Get(id)
	if err != nil {
		mu.Unlock()
		return
	}
	if err := d.Retry(); err != nil {
		mu.Unlock()
		s.logger.Debug("retry skipped", "id", id, "error", err)
		return
	}
	if err := s.store.Update(d); err != nil {
		mu.Unlock()
		s.logger.Error("failed to persist download retry", "id", id, "error", err)
		return
	}
	mu.Unlock()

	s.publish(events.New(events.TypeDownloadQueued, ModuleName, events.DownloadQueuedPayload{
		DownloadID:    d.ID(),
		TrackID:       d.TrackRef(),
		Username:      d.SourceUser(),
		Filename:      d.SourcePath(),
		FileSizeBytes: d.FileSizeBytes(),
		Priority:      d.Priority(),
	}))
	s.dispatch(id)
}

func (s *Service) cancelTimers() {
	s.timersMu.Lock()
	defer s.timersMu.Unlock()
	for id, t := range s.timers {
		t.Stop()
		delete(s.timers, id)
	}
}

// Pause suspends an in-progress download. The in-flight transfer is aborted
// at the backend; the temp file and progress survive for a later resume.
func (s *Service) Pause(ctx context.Context, id string) (*models.Download, error) {
	mu := s.lockFor(id)
	mu.Lock()
	defer mu.Unlock()

	d, err := s.store.Get(id)
	if err != nil {
		return nil, err
	}
	if err := d.Pause(); err != nil {
		return nil, err
	}
	if err := s.store.Update(d); err != nil {
		return nil, fmt.Errorf("failed to persist download pause: %w", err)
	}

	if err := s.client.CancelTransfer(ctx, transfer.Source{Username: d.SourceUser(), Path: d.SourcePath()}); err != nil {
		s.logger.Warn("failed to abort transfer for paused download", "id", id, "error", err)
	}
	s.logger.Info("download paused", "id", id)
	return d, nil
}

// Resume re-dispatches a paused download. The transfer restarts into the
// existing temp location.
func (s *Service) Resume(ctx context.Context, id string) (*models.Download, error) {
	mu := s.lockFor(id)
	mu.Lock()
	defer mu.Unlock()

	d, err := s.store.Get(id)
	if err != nil {
		return nil, err
	}
	if err := d.Resume(); err != nil {
		return nil, err
	}
	if err := s.store.Update(d); err != nil {
		return nil, fmt.Errorf("failed to persist download resume: %w", err)
	}

	s.logger.Info("download resumed", "id", id)
	s.dispatch(id)
	return d, nil
}

// Cancel terminally cancels a download from any non-terminal state, aborts
// any in-flight transfer and removes the temp file.
func (s *Service) Cancel(ctx context.Context, id string) (*models.Download, error) {
	mu := s.lockFor(id)
	mu.Lock()
	defer mu.Unlock()

	d, err := s.store.Get(id)
	if err != nil {
		return nil, err
	}
	wasActive := d.Status() == models.DownloadInProgress
	if err := d.Cancel(); err != nil {
		return nil, err
	}
	if err := s.store.Update(d); err != nil {
		return nil, fmt.Errorf("failed to persist download cancel: %w", err)
	}

	s.timersMu.Lock()
	if t, ok := s.timers[id]; ok {
		t.Stop()
		delete(s.timers, id)
	}
	s.timersMu.Unlock()

	if wasActive {
		if err := s.client.CancelTransfer(ctx, transfer.Source{Username: d.SourceUser(), Path: d.SourcePath()}); err != nil {
			s.logger.Warn("failed to abort transfer for cancelled download", "id", id, "error", err)
		}
	}
	if temp := d.TempLocation(); temp != "" {
		os.Remove(temp)
	}

	s.logger.Info("download cancelled", "id", id)
	s.publish(events.New(events.TypeDownloadCancelled, ModuleName, events.DownloadCancelledPayload{
		DownloadID: d.ID(),
	}))
	return d, nil
}

// Get returns a single download by id.
func (s *Service) Get(id string) (*models.Download, error) {
	return s.store.Get(id)
}

// List returns downloads, optionally filtered by status.
func (s *Service) List(status models.DownloadStatus) ([]*models.Download, error) {
	criteria := map[string]any{}
	if status != "" {
		criteria["status"] = string(status)
	}
	return s.store.List(criteria)
}

// HandleDownloadTrack is the typed capability handler for download.track.
func (s *Service) HandleDownloadTrack(ctx context.Context, params models.Params) (any, error) {
	p, ok := params.(models.DownloadTrackParams)
	if !ok {
		return nil, fmt.Errorf("%w: expected DownloadTrackParams, got %T", shared.ErrInvalidArgument, params)
	}
	return s.Queue(ctx, p)
}

// HandlePauseDownload is the typed capability handler for download.pause.
func (s *Service) HandlePauseDownload(ctx context.Context, params models.Params) (any, error) {
	p, ok := params.(models.PauseDownloadParams)
	if !ok {
		return nil, fmt.Errorf("%w: expected PauseDownloadParams, got %T", shared.ErrInvalidArgument, params)
	}
	return s.Pause(ctx, p.DownloadID)
}

// HandleResumeDownload is the typed capability handler for download.resume.
func (s *Service) HandleResumeDownload(ctx context.Context, params models.Params) (any, error) {
	p, ok := params.(models.ResumeDownloadParams)
	if !ok {
		return nil, fmt.Errorf("%w: expected ResumeDownloadParams, got %T", shared.ErrInvalidArgument, params)
	}
	return s.Resume(ctx, p.DownloadID)
}

// HandleCancelDownload is the typed capability handler for download.cancel.
func (s *Service) HandleCancelDownload(ctx context.Context, params models.Params) (any, error) {
	p, ok := params.(models.CancelDownloadParams)
	if !ok {
		return nil, fmt.Errorf("%w: expected CancelDownloadParams, got %T", shared.ErrInvalidArgument, params)
	}
	return s.Cancel(ctx, p.DownloadID)
}

func (s *Service) publish(e events.Event) {
	if s.bus != nil {
		s.bus.Publish(e)
	}
}

// baseName extracts the filename from a peer-reported path. Soulseek peers
// report Windows-style separators regardless of their platform.
func baseName(path string) string {
	if i := strings.LastIndexAny(path, "\\/"); i >= 0 {
		return path[i+1:]
	}
	return path
}
