package models

// SearchResult represents a single candidate file returned by a search provider.
//
// Results are ephemeral: cached briefly by the search service, never persisted.
// QualityScore is always recomputed by the ranker before exposure and is never
// accepted from callers or providers.
type SearchResult struct {
	SearchID        string  // Provider-side search identifier
	Query           string  // Original query string
	Username        string  // Peer offering the file
	Filename        string  // Remote path on the peer
	FileSizeBytes   int64   // File size in bytes
	BitrateKbps     int     // Encoded bitrate, 0 when unknown
	SampleRateHz    int     // Sample rate, 0 when unknown
	DurationSeconds int     // Track duration, 0 when unknown
	UploadSpeedKbps float64 // Peer upload speed, 0 when unknown
	QueueLength     int     // Peer queue depth
	QualityScore    float64 // Derived ranking score, recomputed on every rank
}
