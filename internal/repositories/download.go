package repositories

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/soulmesh/soulmesh/internal/models"
	"github.com/soulmesh/soulmesh/internal/shared"
)

// downloadColumns is the canonical column list shared by every SELECT.
const downloadColumns = `id, sequence, track_ref, source_user, source_path, file_size_bytes, quality,
	status, priority, progress_percent, bytes_transferred, transfer_rate_kbps,
	temp_location, final_location, retry_count, max_retries, last_error,
	queued_at, started_at, completed_at, created_at, updated_at, archived_at`

// DownloadRepository implements models.Repository[*models.Download] plus the
// sequence, status-filter and archival operations the download service needs.
//
// Archived rows are excluded from Get and List; they exist only for history
// until PruneArchived removes them.
type DownloadRepository struct {
	db *sql.DB
}

// NewDownloadRepository creates a new DownloadRepository with the given database connection
func NewDownloadRepository(db *sql.DB) *DownloadRepository {
	return &DownloadRepository{db: db}
}

// NextSequence returns the next download sequence number.
func (r *DownloadRepository) NextSequence() (int, error) {
	return NextSequence(r.db, "downloads")
}

// Create inserts a new [models.Download] into the database. An ID is
// generated when the caller has not assigned one.
func (r *DownloadRepository) Create(download *models.Download) error {
	if download.ID() == "" {
		download.SetID(shared.GenerateID())
	}

	if err := download.Validate(); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	query := `
		INSERT INTO downloads (` + downloadColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.Exec(query,
		download.ID(),
		download.Sequence(),
		download.TrackRef(),
		download.SourceUser(),
		download.SourcePath(),
		download.FileSizeBytes(),
		download.Quality(),
		string(download.Status()),
		download.Priority(),
		download.ProgressPercent(),
		download.BytesTransferred(),
		download.TransferRateKbps(),
		download.TempLocation(),
		download.FinalLocation(),
		download.RetryCount(),
		download.MaxRetries(),
		download.LastError(),
		download.QueuedAt(),
		download.StartedAt(),
		download.CompletedAt(),
		download.CreatedAt(),
		download.UpdatedAt(),
		download.ArchivedAt(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert download: %w", err)
	}

	return nil
}

// Get retrieves a download by ID, excluding archived downloads.
func (r *DownloadRepository) Get(id string) (*models.Download, error) {
	query := `
		SELECT ` + downloadColumns + `
		FROM downloads
		WHERE id = ? AND archived_at IS NULL
	`

	return scanDownload(r.db.QueryRow(query, id))
}

// Update persists the current state of an existing download.
func (r *DownloadRepository) Update(download *models.Download) error {
	if err := download.Validate(); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	download.SetUpdatedAt(time.Now())

	query := `
		UPDATE downloads
		SET status = ?, priority = ?, progress_percent = ?, bytes_transferred = ?,
			transfer_rate_kbps = ?, temp_location = ?, final_location = ?,
			retry_count = ?, max_retries = ?, last_error = ?,
			queued_at = ?, started_at = ?, completed_at = ?, updated_at = ?
		WHERE id = ? AND archived_at IS NULL
	`

	result, err := r.db.Exec(query,
		string(download.Status()),
		download.Priority(),
		download.ProgressPercent(),
		download.BytesTransferred(),
		download.TransferRateKbps(),
		download.TempLocation(),
		download.FinalLocation(),
		download.RetryCount(),
		download.MaxRetries(),
		download.LastError(),
		download.QueuedAt(),
		download.StartedAt(),
		download.CompletedAt(),
		download.UpdatedAt(),
		download.ID(),
	)
	if err != nil {
		return fmt.Errorf("failed to update download: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: %s", shared.ErrDownloadNotFound, download.ID())
	}

	return nil
}

// Delete removes a download row entirely. Archive is the preferred path for
// settled downloads; Delete exists for operator cleanup.
func (r *DownloadRepository) Delete(id string) error {
	result, err := r.db.Exec("DELETE FROM downloads WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete download: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: %s", shared.ErrDownloadNotFound, id)
	}

	return nil
}

// List retrieves all downloads matching the given criteria, excluding
// archived downloads. Supported criteria: "status".
func (r *DownloadRepository) List(criteria map[string]any) ([]*models.Download, error) {
	query := `
		SELECT ` + downloadColumns + `
		FROM downloads
		WHERE archived_at IS NULL
	`

	args := []any{}

	if status, ok := criteria["status"].(string); ok && status != "" {
		query += " AND status = ?"
		args = append(args, status)
	}

	query += " ORDER BY priority DESC, sequence ASC"

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query downloads: %w", err)
	}
	defer rows.Close()

	var downloads []*models.Download
	for rows.Next() {
		download, err := scanDownload(rows)
		if err != nil {
			return nil, err
		}
		downloads = append(downloads, download)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}

	return downloads, nil
}

// Archive stamps a terminal download as archived, hiding it from Get and
// List. Non-terminal downloads cannot be archived.
func (r *DownloadRepository) Archive(id string) error {
	download, err := r.Get(id)
	if err != nil {
		return err
	}
	if !download.Status().Terminal() && download.Status() != models.DownloadFailed {
		return fmt.Errorf("%w: cannot archive download in state %q", shared.ErrInvalidTransition, download.Status())
	}

	now := time.Now()
	result, err := r.db.Exec("UPDATE downloads SET archived_at = ?, updated_at = ? WHERE id = ? AND archived_at IS NULL", now, now, id)
	if err != nil {
		return fmt.Errorf("failed to archive download: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: %s", shared.ErrDownloadNotFound, id)
	}

	return nil
}

// PruneArchived deletes archived downloads older than the cutoff and returns
// the number of rows removed.
func (r *DownloadRepository) PruneArchived(olderThan time.Time) (int, error) {
	result, err := r.db.Exec("DELETE FROM downloads WHERE archived_at IS NOT NULL AND archived_at < ?", olderThan)
	if err != nil {
		return 0, fmt.Errorf("failed to prune archived downloads: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get affected rows: %w", err)
	}

	return int(rows), nil
}

// scanner covers both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

// scanDownload scans a single row into a [models.Download].
func scanDownload(row scanner) (*models.Download, error) {
	var (
		id               string
		sequence         int
		trackRef         string
		sourceUser       string
		sourcePath       string
		fileSizeBytes    int64
		quality          sql.NullString
		status           string
		priority         int
		progressPercent  float64
		bytesTransferred int64
		transferRateKbps float64
		tempLocation     sql.NullString
		finalLocation    sql.NullString
		retryCount       int
		maxRetries       int
		lastError        sql.NullString
		queuedAt         time.Time
		startedAt        sql.NullTime
		completedAt      sql.NullTime
		createdAt        time.Time
		updatedAt        time.Time
		archivedAt       sql.NullTime
	)

	err := row.Scan(&id, &sequence, &trackRef, &sourceUser, &sourcePath, &fileSizeBytes, &quality,
		&status, &priority, &progressPercent, &bytesTransferred, &transferRateKbps,
		&tempLocation, &finalLocation, &retryCount, &maxRetries, &lastError,
		&queuedAt, &startedAt, &completedAt, &createdAt, &updatedAt, &archivedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w", shared.ErrDownloadNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan download: %w", err)
	}

	download := models.NewDownload(sequence, trackRef, sourceUser, sourcePath, fileSizeBytes, quality.String, priority)
	download.SetID(id)
	download.SetStatus(models.DownloadStatus(status))
	download.SetProgressPercent(progressPercent)
	download.SetBytesTransferred(bytesTransferred)
	download.SetTransferRateKbps(transferRateKbps)
	download.SetTempLocation(tempLocation.String)
	download.SetFinalLocation(finalLocation.String)
	download.SetRetryCount(retryCount)
	download.SetMaxRetries(maxRetries)
	download.SetLastError(lastError.String)
	download.SetQueuedAt(queuedAt)
	download.SetUpdatedAt(updatedAt)
	if startedAt.Valid {
		download.SetStartedAt(&startedAt.Time)
	}
	if completedAt.Valid {
		download.SetCompletedAt(&completedAt.Time)
	}
	if archivedAt.Valid {
		download.SetArchivedAt(&archivedAt.Time)
	}

	return download, nil
}
