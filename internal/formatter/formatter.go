// package formatter renders orchestrator state for terminal output: status
// tables, download queues, ranked search results and JSON for scripting.
package formatter

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/charmbracelet/lipgloss"

	"github.com/soulmesh/soulmesh/internal/models"
)

var styles = NewPalette("#7D56F4", "#04B575", "#FF0000", "#FFA500", "#626262")

// struct Palette is a simple stylesheet built with named [lipgloss.Style] fields
type Palette struct {
	title lipgloss.Style
	ok    lipgloss.Style
	err   lipgloss.Style
	warn  lipgloss.Style
	help  lipgloss.Style
}

func NewPalette(t, s, e, w, h string) *Palette {
	return &Palette{
		title: NewBold(t).MarginBottom(1),
		ok:    NewBold(s),
		err:   NewBold(e),
		warn:  NewStyle(w),
		help:  NewEm(h),
	}
}

func NewStyle(fg string) lipgloss.Style {
	return lipgloss.NewStyle().Foreground(lipgloss.Color(fg))
}

func NewBold(fg string) lipgloss.Style {
	return NewStyle(fg).Bold(true)
}

func NewEm(fg string) lipgloss.Style {
	return NewStyle(fg).Italic(true)
}

// statusStyle picks the palette style for a lifecycle or health status.
func statusStyle(status string) lipgloss.Style {
	switch status {
	case "active", string(models.DownloadCompleted):
		return styles.ok
	case "degraded", string(models.DownloadPaused), "unknown":
		return styles.warn
	case "inactive", string(models.DownloadFailed):
		return styles.err
	default:
		return styles.help
	}
}

// MarshalJSON marshals v, optionally indented, for machine-readable output.
func MarshalJSON(v any, indent bool) ([]byte, error) {
	if indent {
		return json.MarshalIndent(v, "", "  ")
	}
	return json.Marshal(v)
}

// FormatBytes renders a byte count with a binary unit suffix.
func FormatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for x := n / unit; x >= unit; x /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

// FormatETA renders an estimate in seconds as a compact h/m/s string.
// Zero means the estimate is unknown.
func FormatETA(seconds int) string {
	if seconds <= 0 {
		return "-"
	}
	if seconds < 60 {
		return fmt.Sprintf("%ds", seconds)
	}
	if seconds < 3600 {
		return fmt.Sprintf("%dm%02ds", seconds/60, seconds%60)
	}
	return fmt.Sprintf("%dh%02dm", seconds/3600, (seconds%3600)/60)
}

// ModuleStatusTable renders module health as aligned rows.
func ModuleStatusTable(statuses map[string]string) string {
	var buf bytes.Buffer
	buf.WriteString(styles.title.Render("Modules"))
	buf.WriteString("\n")

	names := make([]string, 0, len(statuses))
	width := 0
	for name := range statuses {
		names = append(names, name)
		if len(name) > width {
			width = len(name)
		}
	}
	sort.Strings(names)

	for _, name := range names {
		status := statuses[name]
		buf.WriteString(fmt.Sprintf("  %-*s  %s\n", width, name, statusStyle(status).Render(status)))
	}
	return buf.String()
}

// DownloadsTable renders a download queue listing.
func DownloadsTable(downloads []*models.Download) string {
	if len(downloads) == 0 {
		return styles.help.Render("no downloads") + "\n"
	}

	var buf bytes.Buffer
	buf.WriteString(fmt.Sprintf("  %-36s  %-12s  %8s  %10s  %6s  %s\n",
		"ID", "STATUS", "PROGRESS", "SIZE", "ETA", "TRACK"))

	for _, d := range downloads {
		buf.WriteString(fmt.Sprintf("  %-36s  %-12s  %7.1f%%  %10s  %6s  %s\n",
			d.ID(),
			statusStyle(string(d.Status())).Render(string(d.Status())),
			d.ProgressPercent(),
			FormatBytes(d.FileSizeBytes()),
			FormatETA(d.ETASeconds()),
			d.TrackRef(),
		))
	}
	return buf.String()
}

// SearchResultsTable renders ranked search results best-first.
func SearchResultsTable(results []models.SearchResult) string {
	if len(results) == 0 {
		return styles.help.Render("no results") + "\n"
	}

	var buf bytes.Buffer
	buf.WriteString(fmt.Sprintf("  %3s  %-5s  %-20s  %8s  %10s  %5s  %s\n",
		"#", "SCORE", "USER", "BITRATE", "SIZE", "QUEUE", "FILE"))

	for i, r := range results {
		bitrate := "-"
		if r.BitrateKbps > 0 {
			bitrate = fmt.Sprintf("%d kbps", r.BitrateKbps)
		}
		buf.WriteString(fmt.Sprintf("  %3d  %.3f  %-20s  %8s  %10s  %5d  %s\n",
			i+1,
			r.QualityScore,
			r.Username,
			bitrate,
			FormatBytes(r.FileSizeBytes),
			r.QueueLength,
			r.Filename,
		))
	}
	return buf.String()
}

// EventLine renders one history entry for the events listing.
func EventLine(eventType, correlationID string, timestamp string) string {
	return fmt.Sprintf("%s  %-24s  %s", timestamp, eventType, styles.help.Render(correlationID))
}
