package models

import (
	"errors"
	"testing"

	"github.com/soulmesh/soulmesh/internal/shared"
)

func newTestDownload() *Download {
	d := NewDownload(1, "track-1", "peer", "Music\\song.flac", 10_000_000, "flac", 0)
	d.SetID("dl-1")
	return d
}

func TestDownloadStart(t *testing.T) {
	tests := []struct {
		name    string
		prepare func(d *Download)
		wantErr bool
	}{
		{name: "from queued", prepare: func(d *Download) {}, wantErr: false},
		{
			name: "from in_progress",
			prepare: func(d *Download) {
				d.Start("/tmp/a")
			},
			wantErr: true,
		},
		{
			name: "from completed",
			prepare: func(d *Download) {
				d.Start("/tmp/a")
				d.Complete("/music/a")
			},
			wantErr: true,
		},
		{
			name: "from cancelled",
			prepare: func(d *Download) {
				d.Cancel()
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := newTestDownload()
			tt.prepare(d)
			before := d.Status()

			err := d.Start("/tmp/incomplete/song.flac")
			if tt.wantErr {
				if !errors.Is(err, shared.ErrInvalidTransition) {
					t.Fatalf("Start() error = %v, want ErrInvalidTransition", err)
				}
				if d.Status() != before {
					t.Errorf("entity changed on illegal transition: %s -> %s", before, d.Status())
				}
				return
			}

			if err != nil {
				t.Fatalf("Start() unexpected error: %v", err)
			}
			if d.Status() != DownloadInProgress {
				t.Errorf("status = %s, want in_progress", d.Status())
			}
			if d.StartedAt() == nil {
				t.Error("startedAt not recorded")
			}
			if d.ProgressPercent() != 0 {
				t.Errorf("progress = %f, want 0", d.ProgressPercent())
			}
			if d.TempLocation() != "/tmp/incomplete/song.flac" {
				t.Errorf("tempLocation = %q", d.TempLocation())
			}
		})
	}
}

func TestDownloadUpdateProgress(t *testing.T) {
	d := newTestDownload()
	if err := d.Start("/tmp/song.flac"); err != nil {
		t.Fatal(err)
	}

	d.UpdateProgress(5_000_000, 500)
	if d.ProgressPercent() != 50.0 {
		t.Errorf("progress = %f, want 50.0", d.ProgressPercent())
	}
	if d.BytesTransferred() != 5_000_000 {
		t.Errorf("bytes = %d, want 5000000", d.BytesTransferred())
	}

	// Progress never decreases
	d.UpdateProgress(4_000_000, 400)
	if d.ProgressPercent() != 50.0 {
		t.Errorf("progress regressed to %f", d.ProgressPercent())
	}

	// Clamped at 100
	d.UpdateProgress(20_000_000, 500)
	if d.ProgressPercent() != 100.0 {
		t.Errorf("progress = %f, want clamp at 100", d.ProgressPercent())
	}
}

func TestDownloadUpdateProgressIgnoredOutsideInProgress(t *testing.T) {
	d := newTestDownload()

	d.UpdateProgress(1_000_000, 100)
	if d.ProgressPercent() != 0 {
		t.Errorf("queued download accepted progress: %f", d.ProgressPercent())
	}

	d.Start("/tmp/song.flac")
	d.Cancel()
	d.UpdateProgress(9_000_000, 100)
	if d.BytesTransferred() != 0 {
		t.Errorf("cancelled download accepted progress: %d bytes", d.BytesTransferred())
	}
}

func TestDownloadComplete(t *testing.T) {
	d := newTestDownload()
	d.Start("/tmp/song.flac")
	d.UpdateProgress(5_000_000, 500)

	if err := d.Complete("/music/song.flac"); err != nil {
		t.Fatalf("Complete() error: %v", err)
	}
	if d.Status() != DownloadCompleted {
		t.Errorf("status = %s, want completed", d.Status())
	}
	if d.ProgressPercent() != 100 {
		t.Errorf("progress = %f, want 100", d.ProgressPercent())
	}
	if d.CompletedAt() == nil {
		t.Error("completedAt not recorded")
	}
	if d.FinalLocation() != "/music/song.flac" {
		t.Errorf("finalLocation = %q", d.FinalLocation())
	}

	if err := d.Complete("/music/song.flac"); !errors.Is(err, shared.ErrInvalidTransition) {
		t.Errorf("double complete error = %v, want ErrInvalidTransition", err)
	}
}

func TestDownloadRetryBudget(t *testing.T) {
	d := newTestDownload()

	for attempt := 1; attempt <= DefaultMaxRetries; attempt++ {
		d.Start("/tmp/song.flac")
		if err := d.Fail("peer disconnected"); err != nil {
			t.Fatalf("Fail() attempt %d: %v", attempt, err)
		}
		if d.RetryCount() != attempt {
			t.Fatalf("retryCount = %d, want %d", d.RetryCount(), attempt)
		}

		if attempt < DefaultMaxRetries {
			if !d.CanRetry() {
				t.Fatalf("CanRetry() = false at attempt %d", attempt)
			}
			if err := d.Retry(); err != nil {
				t.Fatalf("Retry() attempt %d: %v", attempt, err)
			}
			if d.Status() != DownloadQueued {
				t.Fatalf("status after retry = %s", d.Status())
			}
			if d.BytesTransferred() != 0 || d.StartedAt() != nil || d.TempLocation() != "" {
				t.Fatal("retry did not reset transfer state")
			}
		}
	}

	if d.CanRetry() {
		t.Error("CanRetry() = true after exhausting budget")
	}
	if err := d.Retry(); !errors.Is(err, shared.ErrRetryExhausted) {
		t.Errorf("Retry() after exhaustion = %v, want ErrRetryExhausted", err)
	}
	if d.Status() != DownloadFailed {
		t.Errorf("exhausted download status = %s, want failed", d.Status())
	}
}

func TestDownloadRetryFromFailed(t *testing.T) {
	d := newTestDownload()
	d.Start("/tmp/song.flac")
	d.UpdateProgress(2_000_000, 100)
	d.Fail("timeout")

	if got := d.RetryCount(); got != 1 {
		t.Fatalf("retryCount = %d, want 1", got)
	}
	if !d.CanRetry() {
		t.Fatal("CanRetry() = false with budget remaining")
	}
	if err := d.Retry(); err != nil {
		t.Fatalf("Retry(): %v", err)
	}
	if d.Status() != DownloadQueued || d.BytesTransferred() != 0 {
		t.Errorf("retry left status=%s bytes=%d", d.Status(), d.BytesTransferred())
	}

	// Retry from a non-failed state is a validation error.
	if err := d.Retry(); !errors.Is(err, shared.ErrInvalidTransition) {
		t.Errorf("Retry() from queued = %v, want ErrInvalidTransition", err)
	}
}

func TestDownloadPauseResume(t *testing.T) {
	d := newTestDownload()

	if err := d.Pause(); !errors.Is(err, shared.ErrInvalidTransition) {
		t.Errorf("Pause() from queued = %v, want ErrInvalidTransition", err)
	}

	d.Start("/tmp/song.flac")
	if err := d.Pause(); err != nil {
		t.Fatalf("Pause(): %v", err)
	}
	if d.Status() != DownloadPaused {
		t.Errorf("status = %s, want paused", d.Status())
	}

	if err := d.Resume(); err != nil {
		t.Fatalf("Resume(): %v", err)
	}
	if d.Status() != DownloadInProgress {
		t.Errorf("status = %s, want in_progress", d.Status())
	}
}

func TestDownloadCancel(t *testing.T) {
	tests := []struct {
		name    string
		prepare func(d *Download)
		wantErr bool
	}{
		{name: "from queued", prepare: func(d *Download) {}},
		{name: "from in_progress", prepare: func(d *Download) { d.Start("/tmp/a") }},
		{name: "from paused", prepare: func(d *Download) { d.Start("/tmp/a"); d.Pause() }},
		{name: "from failed", prepare: func(d *Download) { d.Start("/tmp/a"); d.Fail("x") }},
		{name: "from completed", prepare: func(d *Download) { d.Start("/tmp/a"); d.Complete("/m/a") }, wantErr: true},
		{name: "from cancelled", prepare: func(d *Download) { d.Cancel() }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := newTestDownload()
			tt.prepare(d)

			err := d.Cancel()
			if tt.wantErr {
				if !errors.Is(err, shared.ErrInvalidTransition) {
					t.Errorf("Cancel() = %v, want ErrInvalidTransition", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Cancel(): %v", err)
			}
			if d.Status() != DownloadCancelled {
				t.Errorf("status = %s, want cancelled", d.Status())
			}
		})
	}
}

func TestDownloadValidate(t *testing.T) {
	d := newTestDownload()
	if err := d.Validate(); err != nil {
		t.Errorf("Validate() on valid download: %v", err)
	}

	empty := NewDownload(1, "", "peer", "path", 100, "", 0)
	if err := empty.Validate(); !errors.Is(err, shared.ErrInvalidInput) {
		t.Errorf("Validate() without trackRef = %v, want ErrInvalidInput", err)
	}
}

func TestDownloadETASeconds(t *testing.T) {
	d := newTestDownload()
	d.Start("/tmp/song.flac")

	if eta := d.ETASeconds(); eta != 0 {
		t.Errorf("ETA with no rate = %d, want 0", eta)
	}

	// 5 MB remaining at 1000 kbps (125 KB/s) ≈ 39 seconds
	d.UpdateProgress(5_000_000, 1000)
	eta := d.ETASeconds()
	if eta < 35 || eta > 45 {
		t.Errorf("ETA = %d, want ~39", eta)
	}
}
