// package search implements candidate search and deterministic quality ranking.
package search

import (
	"path/filepath"
	"sort"
	"strings"

	"github.com/soulmesh/soulmesh/internal/models"
)

// Scoring weights. The four components always sum to at most 1.0.
const (
	bitrateWeight = 0.4
	formatWeight  = 0.3
	speedWeight   = 0.2
	queueWeight   = 0.1

	referenceBitrateKbps = 320
	referenceSpeedKbps   = 10000
	referenceQueueLength = 100
)

// losslessFormats score the full format component.
var losslessFormats = map[string]bool{
	".flac": true, ".wav": true, ".aiff": true, ".ape": true, ".alac": true,
}

// commonLossyFormats are widespread lossy encodings.
var commonLossyFormats = map[string]bool{
	".mp3": true, ".aac": true, ".m4a": true, ".ogg": true,
}

// otherLossyFormats are recognized but less desirable lossy encodings.
var otherLossyFormats = map[string]bool{
	".wma": true, ".opus": true, ".mpc": true, ".ra": true,
}

// Rank scores and sorts search results best-first. Pure and deterministic:
// the input is never mutated, equal scores keep input order, and ranking the
// same input twice yields identical output. Scores are always recomputed;
// any value already present on the input is discarded.
func Rank(results []models.SearchResult) []models.SearchResult {
	ranked := make([]models.SearchResult, len(results))
	copy(ranked, results)

	for i := range ranked {
		ranked[i].QualityScore = Score(ranked[i])
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].QualityScore > ranked[j].QualityScore
	})
	return ranked
}

// Score computes the weighted quality score for a single result. Missing
// optional fields (bitrate, upload speed) contribute zero to their component.
func Score(r models.SearchResult) float64 {
	score := 0.0

	if r.BitrateKbps > 0 {
		score += clamp01(float64(r.BitrateKbps)/referenceBitrateKbps) * bitrateWeight
	}

	score += formatComponent(r.Filename) * formatWeight

	if r.UploadSpeedKbps > 0 {
		score += clamp01(r.UploadSpeedKbps/referenceSpeedKbps) * speedWeight
	}

	queuePenalty := 1 - float64(r.QueueLength)/referenceQueueLength
	if queuePenalty < 0 {
		queuePenalty = 0
	}
	score += queuePenalty * queueWeight

	return score
}

// formatComponent maps a filename extension to its format score.
func formatComponent(filename string) float64 {
	// Soulseek peers report Windows-style paths
	if i := strings.LastIndexAny(filename, "\\/"); i >= 0 {
		filename = filename[i+1:]
	}
	ext := strings.ToLower(filepath.Ext(filename))

	switch {
	case losslessFormats[ext]:
		return 1.0
	case commonLossyFormats[ext]:
		return 0.7
	case otherLossyFormats[ext]:
		return 0.5
	default:
		return 0.3
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
