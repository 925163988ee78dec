package main

import (
	"context"
	"fmt"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/soulmesh/soulmesh/internal/events"
	"github.com/soulmesh/soulmesh/internal/formatter"
	"github.com/soulmesh/soulmesh/internal/models"
	"github.com/soulmesh/soulmesh/internal/shared"
)

// downloadView is the JSON shape for a download record.
type downloadView struct {
	ID               string  `json:"id"`
	TrackRef         string  `json:"trackRef"`
	SourceUser       string  `json:"sourceUser"`
	SourcePath       string  `json:"sourcePath"`
	Status           string  `json:"status"`
	Priority         int     `json:"priority"`
	ProgressPercent  float64 `json:"progressPercent"`
	BytesTransferred int64   `json:"bytesTransferred"`
	FileSizeBytes    int64   `json:"fileSizeBytes"`
	RetryCount       int     `json:"retryCount"`
	LastError        string  `json:"lastError,omitempty"`
	FinalLocation    string  `json:"finalLocation,omitempty"`
}

// asDownload narrows a routed result to a download record.
func asDownload(result any) (*models.Download, error) {
	d, ok := result.(*models.Download)
	if !ok {
		return nil, fmt.Errorf("unexpected download result type %T", result)
	}
	return d, nil
}

func viewOf(d *models.Download) downloadView {
	return downloadView{
		ID:               d.ID(),
		TrackRef:         d.TrackRef(),
		SourceUser:       d.SourceUser(),
		SourcePath:       d.SourcePath(),
		Status:           string(d.Status()),
		Priority:         d.Priority(),
		ProgressPercent:  d.ProgressPercent(),
		BytesTransferred: d.BytesTransferred(),
		FileSizeBytes:    d.FileSizeBytes(),
		RetryCount:       d.RetryCount(),
		LastError:        d.LastError(),
		FinalLocation:    d.FinalLocation(),
	}
}

// DownloadQueue queues a file for download and, unless detached, runs the
// worker pool until the download settles.
func (r *Runner) DownloadQueue(ctx context.Context, cmd *cli.Command) error {
	user := cmd.StringArg("user")
	file := cmd.StringArg("file")
	if user == "" || file == "" {
		return fmt.Errorf("%w: user and file", shared.ErrMissingArgument)
	}

	trackRef := cmd.String("track")
	if trackRef == "" {
		trackRef = file
	}

	result, err := r.route(ctx, models.DownloadTrackParams{
		TrackRef:      trackRef,
		SourceUser:    user,
		SourcePath:    file,
		FileSizeBytes: int64(cmd.Int("size")),
		Quality:       cmd.String("quality"),
		Priority:      cmd.Int("priority"),
	})
	if err != nil {
		return err
	}

	download, err := asDownload(result)
	if err != nil {
		return err
	}
	r.writePlain("queued %s (%s from %s)\n", download.ID(), download.TrackRef(), download.SourceUser())

	if cmd.Bool("detach") {
		return nil
	}
	return r.runUntilSettled(ctx, download.ID())
}

// DownloadPause suspends an in-progress download.
func (r *Runner) DownloadPause(ctx context.Context, cmd *cli.Command) error {
	id := cmd.StringArg("id")
	if id == "" {
		return fmt.Errorf("%w: id", shared.ErrMissingArgument)
	}

	result, err := r.route(ctx, models.PauseDownloadParams{DownloadID: id})
	if err != nil {
		return err
	}

	download, err := asDownload(result)
	if err != nil {
		return err
	}
	r.writePlain("paused %s at %.1f%%\n", download.ID(), download.ProgressPercent())
	return nil
}

// DownloadResume re-dispatches a paused download and runs it to settlement.
func (r *Runner) DownloadResume(ctx context.Context, cmd *cli.Command) error {
	id := cmd.StringArg("id")
	if id == "" {
		return fmt.Errorf("%w: id", shared.ErrMissingArgument)
	}

	result, err := r.route(ctx, models.ResumeDownloadParams{DownloadID: id})
	if err != nil {
		return err
	}

	download, err := asDownload(result)
	if err != nil {
		return err
	}
	r.writePlain("resumed %s from %.1f%%\n", download.ID(), download.ProgressPercent())
	return r.runUntilSettled(ctx, download.ID())
}

// DownloadCancel terminally cancels a download.
func (r *Runner) DownloadCancel(ctx context.Context, cmd *cli.Command) error {
	id := cmd.StringArg("id")
	if id == "" {
		return fmt.Errorf("%w: id", shared.ErrMissingArgument)
	}

	if _, err := r.route(ctx, models.CancelDownloadParams{DownloadID: id}); err != nil {
		return err
	}

	r.writePlain("cancelled %s\n", id)
	return nil
}

// DownloadList prints downloads, optionally filtered by status.
func (r *Runner) DownloadList(ctx context.Context, cmd *cli.Command) error {
	core, err := r.buildCore()
	if err != nil {
		return err
	}

	list, err := core.Downloads.List(models.DownloadStatus(cmd.String("status")))
	if err != nil {
		return err
	}

	if cmd.Bool("json") {
		views := make([]downloadView, len(list))
		for i, d := range list {
			views[i] = viewOf(d)
		}
		return r.writeJSON(views, true)
	}

	r.writePlain("%s", formatter.DownloadsTable(list))
	return nil
}

// DownloadPrune archives settled downloads and deletes archives older than
// the configured retention window.
func (r *Runner) DownloadPrune(ctx context.Context, cmd *cli.Command) error {
	core, err := r.buildCore()
	if err != nil {
		return err
	}

	archived := 0
	for _, status := range []models.DownloadStatus{models.DownloadCompleted, models.DownloadCancelled, models.DownloadFailed} {
		settled, err := core.Downloads.List(status)
		if err != nil {
			return err
		}
		for _, d := range settled {
			if err := core.Repo.Archive(d.ID()); err != nil {
				r.logger.Warn("failed to archive download", "id", d.ID(), "error", err)
				continue
			}
			archived++
		}
	}

	cutoff := time.Now().AddDate(0, 0, -r.config.Downloads.RetentionDays)
	pruned, err := core.Repo.PruneArchived(cutoff)
	if err != nil {
		return err
	}

	r.writePlain("archived %d downloads, pruned %d past retention\n", archived, pruned)
	return nil
}

// runUntilSettled runs the download worker pool until the given download
// reaches a terminal outcome, printing throttled progress along the way.
func (r *Runner) runUntilSettled(ctx context.Context, id string) error {
	core, err := r.buildCore()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	settled := make(chan events.Event, 1)
	subID := core.Bus.SubscribeAll(func(e events.Event) {
		switch p := e.Payload.(type) {
		case events.DownloadProgressedPayload:
			if p.DownloadID == id {
				r.writePlain("  %.1f%%  %s  eta %s\n",
					p.ProgressPercent, formatter.FormatBytes(p.BytesTransferred), formatter.FormatETA(p.ETASeconds))
			}
		case events.DownloadCompletedPayload:
			if p.DownloadID == id {
				r.settle(settled, e)
			}
		case events.DownloadFailedPayload:
			if p.DownloadID == id && !p.CanRetry {
				r.settle(settled, e)
			}
		case events.DownloadCancelledPayload:
			if p.DownloadID == id {
				r.settle(settled, e)
			}
		}
	})
	defer core.Bus.Unsubscribe(subID)

	workersDone := make(chan struct{})
	go func() {
		core.Downloads.Start(ctx)
		close(workersDone)
	}()

	var outcome events.Event
	select {
	case outcome = <-settled:
	case <-ctx.Done():
		cancel()
		<-workersDone
		return ctx.Err()
	}

	cancel()
	<-workersDone

	switch p := outcome.Payload.(type) {
	case events.DownloadCompletedPayload:
		r.writePlain("completed: %s\n", p.FilePath)
		return nil
	case events.DownloadFailedPayload:
		return fmt.Errorf("%w: %s after %d attempts", shared.ErrTransferFailed, p.Reason, p.RetryCount)
	case events.DownloadCancelledPayload:
		r.writePlain("cancelled %s\n", id)
		return nil
	default:
		return fmt.Errorf("download %s settled with unexpected event %s", id, outcome.Type)
	}
}

func (r *Runner) settle(settled chan<- events.Event, e events.Event) {
	select {
	case settled <- e:
	default:
	}
}
