package models

import (
	"fmt"
	"time"

	"github.com/soulmesh/soulmesh/internal/shared"
)

// DownloadStatus enumerates the download lifecycle states.
type DownloadStatus string

const (
	DownloadQueued     DownloadStatus = "queued"
	DownloadInProgress DownloadStatus = "in_progress"
	DownloadPaused     DownloadStatus = "paused"
	DownloadCompleted  DownloadStatus = "completed"
	DownloadFailed     DownloadStatus = "failed"
	DownloadCancelled  DownloadStatus = "cancelled"
)

// Terminal reports whether no further transitions are possible from s.
func (s DownloadStatus) Terminal() bool {
	return s == DownloadCompleted || s == DownloadCancelled
}

// DefaultMaxRetries bounds automatic retry attempts per download.
const DefaultMaxRetries = 3

// Download is the lifecycle record for a single file transfer.
//
// Transitions: queued → in_progress → {completed | failed | cancelled},
// failed → queued (retry), in_progress ⇄ paused. Fields are unexported so
// every mutation goes through a transition method; illegal transitions
// return an error wrapping [shared.ErrInvalidTransition] and leave the
// entity unchanged.
type Download struct {
	id               string
	sequence         int
	trackRef         string
	sourceUser       string
	sourcePath       string
	fileSizeBytes    int64
	quality          string
	status           DownloadStatus
	priority         int
	progressPercent  float64
	bytesTransferred int64
	transferRateKbps float64
	tempLocation     string
	finalLocation    string
	retryCount       int
	maxRetries       int
	lastError        string
	queuedAt         time.Time
	startedAt        *time.Time
	completedAt      *time.Time
	createdAt        time.Time
	updatedAt        time.Time
	archivedAt       *time.Time
}

// NewDownload creates a queued Download for the given track and source identity.
func NewDownload(sequence int, trackRef, sourceUser, sourcePath string, fileSizeBytes int64, quality string, priority int) *Download {
	now := time.Now()
	return &Download{
		sequence:      sequence,
		trackRef:      trackRef,
		sourceUser:    sourceUser,
		sourcePath:    sourcePath,
		fileSizeBytes: fileSizeBytes,
		quality:       quality,
		status:        DownloadQueued,
		priority:      priority,
		maxRetries:    DefaultMaxRetries,
		queuedAt:      now,
		createdAt:     now,
		updatedAt:     now,
	}
}

func (d *Download) ID() string                { return d.id }
func (d *Download) Sequence() int             { return d.sequence }
func (d *Download) TrackRef() string          { return d.trackRef }
func (d *Download) SourceUser() string        { return d.sourceUser }
func (d *Download) SourcePath() string        { return d.sourcePath }
func (d *Download) FileSizeBytes() int64      { return d.fileSizeBytes }
func (d *Download) Quality() string           { return d.quality }
func (d *Download) Status() DownloadStatus    { return d.status }
func (d *Download) Priority() int             { return d.priority }
func (d *Download) ProgressPercent() float64  { return d.progressPercent }
func (d *Download) BytesTransferred() int64   { return d.bytesTransferred }
func (d *Download) TransferRateKbps() float64 { return d.transferRateKbps }
func (d *Download) TempLocation() string      { return d.tempLocation }
func (d *Download) FinalLocation() string     { return d.finalLocation }
func (d *Download) RetryCount() int           { return d.retryCount }
func (d *Download) MaxRetries() int           { return d.maxRetries }
func (d *Download) LastError() string         { return d.lastError }
func (d *Download) QueuedAt() time.Time       { return d.queuedAt }
func (d *Download) StartedAt() *time.Time     { return d.startedAt }
func (d *Download) CompletedAt() *time.Time   { return d.completedAt }
func (d *Download) CreatedAt() time.Time      { return d.createdAt }
func (d *Download) UpdatedAt() time.Time      { return d.updatedAt }
func (d *Download) ArchivedAt() *time.Time    { return d.archivedAt }

func (d *Download) SetID(id string)               { d.id = id }
func (d *Download) SetUpdatedAt(t time.Time)      { d.updatedAt = t }
func (d *Download) SetMaxRetries(n int)           { d.maxRetries = n }
func (d *Download) SetArchivedAt(t *time.Time)    { d.archivedAt = t }
func (d *Download) SetQueuedAt(t time.Time)       { d.queuedAt = t }
func (d *Download) SetStartedAt(t *time.Time)     { d.startedAt = t }
func (d *Download) SetCompletedAt(t *time.Time)   { d.completedAt = t }
func (d *Download) SetTempLocation(path string)   { d.tempLocation = path }
func (d *Download) SetFinalLocation(path string)  { d.finalLocation = path }
func (d *Download) SetLastError(msg string)       { d.lastError = msg }
func (d *Download) SetRetryCount(n int)           { d.retryCount = n }
func (d *Download) SetStatus(s DownloadStatus)    { d.status = s }
func (d *Download) SetProgressPercent(p float64)  { d.progressPercent = p }
func (d *Download) SetBytesTransferred(b int64)   { d.bytesTransferred = b }
func (d *Download) SetTransferRateKbps(r float64) { d.transferRateKbps = r }

// Validate checks if the download's data is valid.
func (d *Download) Validate() error {
	if d.trackRef == "" {
		return fmt.Errorf("%w: track reference is required", shared.ErrInvalidInput)
	}
	if d.sourceUser == "" || d.sourcePath == "" {
		return fmt.Errorf("%w: source identity is required", shared.ErrInvalidInput)
	}
	if d.fileSizeBytes < 0 {
		return fmt.Errorf("%w: negative file size", shared.ErrInvalidInput)
	}
	switch d.status {
	case DownloadQueued, DownloadInProgress, DownloadPaused, DownloadCompleted, DownloadFailed, DownloadCancelled:
	default:
		return fmt.Errorf("%w: unknown status %q", shared.ErrInvalidInput, d.status)
	}
	return nil
}

// Start transitions the download from queued to in_progress and records the
// temp location and start time. Progress is reset to zero.
func (d *Download) Start(tempLocation string) error {
	if d.status != DownloadQueued {
		return fmt.Errorf("%w: cannot start download in state %q", shared.ErrInvalidTransition, d.status)
	}
	now := time.Now()
	d.status = DownloadInProgress
	d.tempLocation = tempLocation
	d.startedAt = &now
	d.progressPercent = 0
	d.bytesTransferred = 0
	d.transferRateKbps = 0
	d.updatedAt = now
	return nil
}

// UpdateProgress records transfer progress. Outside in_progress the call is a
// no-op: once a download is cancelled or paused, late updates from an
// in-flight transfer are dropped rather than resurrecting the record.
// Progress percent is clamped to [0, 100] and never decreases.
func (d *Download) UpdateProgress(bytesTransferred int64, rateKbps float64) {
	if d.status != DownloadInProgress {
		return
	}

	percent := 0.0
	if d.fileSizeBytes > 0 {
		percent = float64(bytesTransferred) / float64(d.fileSizeBytes) * 100
	}
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	if percent > d.progressPercent {
		d.progressPercent = percent
	}
	if bytesTransferred > d.bytesTransferred {
		d.bytesTransferred = bytesTransferred
	}
	d.transferRateKbps = rateKbps
	d.updatedAt = time.Now()
}

// Complete transitions the download from in_progress to completed.
func (d *Download) Complete(finalLocation string) error {
	if d.status != DownloadInProgress {
		return fmt.Errorf("%w: cannot complete download in state %q", shared.ErrInvalidTransition, d.status)
	}
	now := time.Now()
	d.status = DownloadCompleted
	d.finalLocation = finalLocation
	d.progressPercent = 100
	d.completedAt = &now
	d.updatedAt = now
	return nil
}

// Fail transitions the download to failed, stores the error message and
// increments the retry counter.
func (d *Download) Fail(errorMessage string) error {
	switch d.status {
	case DownloadQueued, DownloadInProgress, DownloadPaused:
	default:
		return fmt.Errorf("%w: cannot fail download in state %q", shared.ErrInvalidTransition, d.status)
	}
	d.status = DownloadFailed
	d.lastError = errorMessage
	d.retryCount++
	d.updatedAt = time.Now()
	return nil
}

// CanRetry reports whether the download is failed with retry budget remaining.
func (d *Download) CanRetry() bool {
	return d.status == DownloadFailed && d.retryCount < d.maxRetries
}

// Retry re-queues a failed download, resetting progress and transfer state.
// Callers must check CanRetry first or handle the returned error.
func (d *Download) Retry() error {
	if d.status != DownloadFailed {
		return fmt.Errorf("%w: cannot retry download in state %q", shared.ErrInvalidTransition, d.status)
	}
	if d.retryCount >= d.maxRetries {
		return fmt.Errorf("%w: %d of %d attempts used", shared.ErrRetryExhausted, d.retryCount, d.maxRetries)
	}
	d.status = DownloadQueued
	d.progressPercent = 0
	d.bytesTransferred = 0
	d.transferRateKbps = 0
	d.startedAt = nil
	d.tempLocation = ""
	d.queuedAt = time.Now()
	d.updatedAt = d.queuedAt
	return nil
}

// Pause transitions the download from in_progress to paused.
func (d *Download) Pause() error {
	if d.status != DownloadInProgress {
		return fmt.Errorf("%w: cannot pause download in state %q", shared.ErrInvalidTransition, d.status)
	}
	d.status = DownloadPaused
	d.updatedAt = time.Now()
	return nil
}

// Resume transitions the download from paused back to in_progress.
func (d *Download) Resume() error {
	if d.status != DownloadPaused {
		return fmt.Errorf("%w: cannot resume download in state %q", shared.ErrInvalidTransition, d.status)
	}
	d.status = DownloadInProgress
	d.updatedAt = time.Now()
	return nil
}

// Cancel transitions the download to cancelled from any non-terminal state.
func (d *Download) Cancel() error {
	if d.status.Terminal() {
		return fmt.Errorf("%w: cannot cancel download in state %q", shared.ErrInvalidTransition, d.status)
	}
	now := time.Now()
	d.status = DownloadCancelled
	d.completedAt = &now
	d.updatedAt = now
	return nil
}

// ETASeconds estimates remaining transfer time from the current rate.
// Returns 0 when the rate is unknown.
func (d *Download) ETASeconds() int {
	if d.transferRateKbps <= 0 || d.fileSizeBytes <= 0 {
		return 0
	}
	remaining := d.fileSizeBytes - d.bytesTransferred
	if remaining <= 0 {
		return 0
	}
	bytesPerSecond := d.transferRateKbps * 1024 / 8
	return int(float64(remaining) / bytesPerSecond)
}
