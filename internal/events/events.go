// package events implements the in-process event bus connecting the orchestration modules.
//
// Events are immutable envelopes with typed payloads. Publishing fans out to all
// subscribed handlers concurrently; a failing handler is logged and isolated, never
// surfaced to the publisher or to sibling handlers. A bounded history ring retains
// recent events for observation only; there is no replay to late subscribers.
package events

import (
	"time"

	"github.com/soulmesh/soulmesh/internal/shared"
)

// Event type routing keys.
const (
	TypeDownloadQueued      = "download.queued"
	TypeDownloadStarted     = "download.started"
	TypeDownloadProgressed  = "download.progressed"
	TypeDownloadCompleted   = "download.completed"
	TypeDownloadFailed      = "download.failed"
	TypeDownloadCancelled   = "download.cancelled"
	TypeSearchCompleted     = "search.completed"
	TypeModuleStatusChanged = "module.status.changed"
)

// versions maps event types to their wire schema version.
// MAJOR = field removal or type change, MINOR = additive optional field, PATCH = docs.
// Consumers must ignore unknown additive fields.
var versions = map[string]string{
	TypeDownloadQueued:      "1.0.0",
	TypeDownloadStarted:     "1.0.0",
	TypeDownloadProgressed:  "1.0.0",
	TypeDownloadCompleted:   "1.0.0",
	TypeDownloadFailed:      "1.1.0",
	TypeDownloadCancelled:   "1.0.0",
	TypeSearchCompleted:     "1.0.0",
	TypeModuleStatusChanged: "1.0.0",
}

// Version returns the schema version for an event type, defaulting to 1.0.0.
func Version(eventType string) string {
	if v, ok := versions[eventType]; ok {
		return v
	}
	return "1.0.0"
}

// Metadata carries cross-cutting event context.
type Metadata struct {
	CorrelationID string `json:"correlation_id"`
	Source        string `json:"source"`
	Hops          int    `json:"hops"`
}

// Event is the immutable message envelope published on the bus.
type Event struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	Version   string    `json:"version"`
	Payload   any       `json:"data"`
	Metadata  Metadata  `json:"metadata"`
	Timestamp time.Time `json:"timestamp"`
}

// New constructs an event with a fresh correlation id.
func New(eventType, source string, payload any) Event {
	return Event{
		ID:      shared.GenerateID(),
		Type:    eventType,
		Version: Version(eventType),
		Payload: payload,
		Metadata: Metadata{
			CorrelationID: shared.GenerateID(),
			Source:        source,
			Hops:          0,
		},
		Timestamp: time.Now(),
	}
}

// Follow constructs a follow-up event in the same correlation chain.
// The parent's correlation id is propagated unchanged and the hop count is
// incremented, letting the bus bound cyclic publish chains.
func Follow(parent Event, eventType, source string, payload any) Event {
	e := New(eventType, source, payload)
	e.Metadata.CorrelationID = parent.Metadata.CorrelationID
	e.Metadata.Hops = parent.Metadata.Hops + 1
	return e
}

// DownloadQueuedPayload announces a newly queued download.
type DownloadQueuedPayload struct {
	DownloadID    string `json:"downloadId"`
	TrackID       string `json:"trackId"`
	Username      string `json:"username"`
	Filename      string `json:"filename"`
	FileSizeBytes int64  `json:"fileSizeBytes"`
	Priority      int    `json:"priority"`
}

// DownloadStartedPayload announces a download moving to in_progress.
type DownloadStartedPayload struct {
	DownloadID string `json:"downloadId"`
	TrackID    string `json:"trackId"`
	TempPath   string `json:"tempPath"`
}

// DownloadProgressedPayload is the throttled per-download progress notification.
type DownloadProgressedPayload struct {
	DownloadID       string  `json:"downloadId"`
	ProgressPercent  float64 `json:"progressPercent"`
	BytesTransferred int64   `json:"bytesTransferred"`
	RateKbps         float64 `json:"rateKbps"`
	ETASeconds       int     `json:"etaSeconds"`
}

// DownloadCompletedPayload announces a finished download for downstream
// subscribers (metadata enrichment, library import, notification).
type DownloadCompletedPayload struct {
	DownloadID    string    `json:"downloadId"`
	TrackID       string    `json:"trackId"`
	FilePath      string    `json:"filePath"`
	FileSizeBytes int64     `json:"fileSizeBytes"`
	Timestamp     time.Time `json:"timestamp"`
}

// DownloadFailedPayload announces a failed attempt. CanRetry=false marks the
// terminal failure after the retry budget is spent, signalling subscribers to
// clean up.
type DownloadFailedPayload struct {
	DownloadID string `json:"downloadId"`
	TrackID    string `json:"trackId"`
	Reason     string `json:"reason"`
	RetryCount int    `json:"retryCount"`
	CanRetry   bool   `json:"canRetry"`
}

// DownloadCancelledPayload announces a user-cancelled download.
type DownloadCancelledPayload struct {
	DownloadID string `json:"downloadId"`
}

// SearchCompletedPayload announces a finished search with ranked results.
type SearchCompletedPayload struct {
	Query       string `json:"query"`
	ResultCount int    `json:"resultCount"`
}

// ModuleStatusChangedPayload announces a health-state transition for a module.
type ModuleStatusChangedPayload struct {
	Module string `json:"module"`
	Status string `json:"status"`
}
