package repositories

import (
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/soulmesh/soulmesh/internal/models"
	"github.com/soulmesh/soulmesh/internal/shared"
)

func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := shared.NewDatabase(":memory:")
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	// a single connection keeps every query on the same in-memory database
	shared.ConfigureDatabase(db, 1, 1)

	if err := shared.RunMigrations(db); err != nil {
		t.Fatalf("failed to run migrations: %v", err)
	}
	return db
}

func newTestDownload(t *testing.T, repo *DownloadRepository) *models.Download {
	t.Helper()

	sequence, err := repo.NextSequence()
	if err != nil {
		t.Fatalf("NextSequence(): %v", err)
	}
	d := models.NewDownload(sequence, "track-1", "peer", "Music\\Album\\song.flac", 10_000_000, "flac", 1)
	if err := repo.Create(d); err != nil {
		t.Fatalf("Create(): %v", err)
	}
	return d
}

func TestDownloadRepositoryCreateAndGet(t *testing.T) {
	repo := NewDownloadRepository(setupTestDB(t))
	created := newTestDownload(t, repo)

	if created.ID() == "" {
		t.Fatal("Create did not assign an id")
	}

	got, err := repo.Get(created.ID())
	if err != nil {
		t.Fatalf("Get(): %v", err)
	}
	if got.TrackRef() != "track-1" || got.SourceUser() != "peer" {
		t.Errorf("got = %+v", got)
	}
	if got.Status() != models.DownloadQueued {
		t.Errorf("status = %s, want queued", got.Status())
	}
	if got.FileSizeBytes() != 10_000_000 {
		t.Errorf("fileSizeBytes = %d", got.FileSizeBytes())
	}
	if got.MaxRetries() != models.DefaultMaxRetries {
		t.Errorf("maxRetries = %d", got.MaxRetries())
	}
}

func TestDownloadRepositoryGetMissing(t *testing.T) {
	repo := NewDownloadRepository(setupTestDB(t))

	if _, err := repo.Get("nope"); !errors.Is(err, shared.ErrDownloadNotFound) {
		t.Errorf("Get(missing) = %v, want ErrDownloadNotFound", err)
	}
}

func TestDownloadRepositoryUpdateRoundTrip(t *testing.T) {
	repo := NewDownloadRepository(setupTestDB(t))
	d := newTestDownload(t, repo)

	if err := d.Start("/tmp/dl.flac"); err != nil {
		t.Fatalf("Start(): %v", err)
	}
	d.UpdateProgress(5_000_000, 1200)
	if err := repo.Update(d); err != nil {
		t.Fatalf("Update(): %v", err)
	}

	got, err := repo.Get(d.ID())
	if err != nil {
		t.Fatalf("Get(): %v", err)
	}
	if got.Status() != models.DownloadInProgress {
		t.Errorf("status = %s, want in_progress", got.Status())
	}
	if got.ProgressPercent() != 50 {
		t.Errorf("progress = %f, want 50", got.ProgressPercent())
	}
	if got.BytesTransferred() != 5_000_000 {
		t.Errorf("bytesTransferred = %d", got.BytesTransferred())
	}
	if got.TempLocation() != "/tmp/dl.flac" {
		t.Errorf("tempLocation = %s", got.TempLocation())
	}
	if got.StartedAt() == nil {
		t.Error("startedAt not persisted")
	}
}

func TestDownloadRepositoryUpdateMissing(t *testing.T) {
	repo := NewDownloadRepository(setupTestDB(t))

	d := models.NewDownload(1, "track-1", "peer", "song.flac", 1, "flac", 0)
	d.SetID("ghost")
	if err := repo.Update(d); !errors.Is(err, shared.ErrDownloadNotFound) {
		t.Errorf("Update(missing) = %v, want ErrDownloadNotFound", err)
	}
}

func TestDownloadRepositoryListByStatus(t *testing.T) {
	repo := NewDownloadRepository(setupTestDB(t))

	first := newTestDownload(t, repo)
	newTestDownload(t, repo)

	if err := first.Start("/tmp/a.flac"); err != nil {
		t.Fatalf("Start(): %v", err)
	}
	if err := repo.Update(first); err != nil {
		t.Fatalf("Update(): %v", err)
	}

	queued, err := repo.List(map[string]any{"status": string(models.DownloadQueued)})
	if err != nil {
		t.Fatalf("List(): %v", err)
	}
	if len(queued) != 1 {
		t.Errorf("queued = %d, want 1", len(queued))
	}

	all, err := repo.List(map[string]any{})
	if err != nil {
		t.Fatalf("List(): %v", err)
	}
	if len(all) != 2 {
		t.Errorf("all = %d, want 2", len(all))
	}
}

func TestDownloadRepositoryListOrdersByPriorityThenSequence(t *testing.T) {
	repo := NewDownloadRepository(setupTestDB(t))

	makeWithPriority := func(priority int) *models.Download {
		sequence, _ := repo.NextSequence()
		d := models.NewDownload(sequence, "track", "peer", "song.flac", 1, "flac", priority)
		if err := repo.Create(d); err != nil {
			t.Fatalf("Create(): %v", err)
		}
		return d
	}

	low := makeWithPriority(0)
	high := makeWithPriority(5)
	alsoHigh := makeWithPriority(5)

	all, err := repo.List(map[string]any{})
	if err != nil {
		t.Fatalf("List(): %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("all = %d, want 3", len(all))
	}
	if all[0].ID() != high.ID() || all[1].ID() != alsoHigh.ID() || all[2].ID() != low.ID() {
		t.Errorf("order = [%d %d %d]", all[0].Sequence(), all[1].Sequence(), all[2].Sequence())
	}
}

func TestDownloadRepositoryArchive(t *testing.T) {
	repo := NewDownloadRepository(setupTestDB(t))
	d := newTestDownload(t, repo)

	// archival is restricted to settled downloads
	if err := repo.Archive(d.ID()); !errors.Is(err, shared.ErrInvalidTransition) {
		t.Fatalf("Archive(queued) = %v, want ErrInvalidTransition", err)
	}

	if err := d.Cancel(); err != nil {
		t.Fatalf("Cancel(): %v", err)
	}
	if err := repo.Update(d); err != nil {
		t.Fatalf("Update(): %v", err)
	}
	if err := repo.Archive(d.ID()); err != nil {
		t.Fatalf("Archive(): %v", err)
	}

	if _, err := repo.Get(d.ID()); !errors.Is(err, shared.ErrDownloadNotFound) {
		t.Errorf("Get(archived) = %v, want ErrDownloadNotFound", err)
	}
	all, _ := repo.List(map[string]any{})
	if len(all) != 0 {
		t.Errorf("archived download still listed: %d rows", len(all))
	}
}

func TestDownloadRepositoryPruneArchived(t *testing.T) {
	db := setupTestDB(t)
	repo := NewDownloadRepository(db)

	d := newTestDownload(t, repo)
	if err := d.Cancel(); err != nil {
		t.Fatalf("Cancel(): %v", err)
	}
	if err := repo.Update(d); err != nil {
		t.Fatalf("Update(): %v", err)
	}
	if err := repo.Archive(d.ID()); err != nil {
		t.Fatalf("Archive(): %v", err)
	}

	// not old enough yet
	pruned, err := repo.PruneArchived(time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatalf("PruneArchived(): %v", err)
	}
	if pruned != 0 {
		t.Errorf("pruned = %d, want 0", pruned)
	}

	pruned, err = repo.PruneArchived(time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("PruneArchived(): %v", err)
	}
	if pruned != 1 {
		t.Errorf("pruned = %d, want 1", pruned)
	}

	var count int
	if err := db.QueryRow("SELECT COUNT(*) FROM downloads").Scan(&count); err != nil {
		t.Fatalf("count query: %v", err)
	}
	if count != 0 {
		t.Errorf("rows remaining = %d, want 0", count)
	}
}

func TestDownloadRepositoryDelete(t *testing.T) {
	repo := NewDownloadRepository(setupTestDB(t))
	d := newTestDownload(t, repo)

	if err := repo.Delete(d.ID()); err != nil {
		t.Fatalf("Delete(): %v", err)
	}
	if err := repo.Delete(d.ID()); !errors.Is(err, shared.ErrDownloadNotFound) {
		t.Errorf("Delete(missing) = %v, want ErrDownloadNotFound", err)
	}
}

func TestNextSequenceIncrements(t *testing.T) {
	repo := NewDownloadRepository(setupTestDB(t))

	first, err := repo.NextSequence()
	if err != nil {
		t.Fatalf("NextSequence(): %v", err)
	}
	second, err := repo.NextSequence()
	if err != nil {
		t.Fatalf("NextSequence(): %v", err)
	}
	if first != 1 || second != 2 {
		t.Errorf("sequences = %d, %d, want 1, 2", first, second)
	}
}
