// submodule cmd contains command definitions
package main

import "github.com/urfave/cli/v3"

// setupCommand handles configuration and database initialization.
func setupCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "setup",
		Usage: "Initialize configuration and database",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to configuration file",
				Value:   "config.toml",
			},
		},
		Action: r.Setup,
	}
}

// statusCommand reports module health and the registered operation surface.
func statusCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "status",
		Usage: "Show module health and available operations",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "json",
				Usage: "Output raw JSON",
			},
			&cli.BoolFlag{
				Name:  "pretty",
				Usage: "Pretty-print output",
				Value: true,
			},
		},
		Action: r.Status,
	}
}

// searchCommand searches the network for tracks.
func searchCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "search",
		Usage: "Search peers for a track and rank results by quality",
		Arguments: []cli.Argument{
			&cli.StringArg{
				Name: "query",
			},
		},
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:  "limit",
				Usage: "Maximum number of results to return",
				Value: 25,
			},
			&cli.BoolFlag{
				Name:  "json",
				Usage: "Output raw JSON",
			},
		},
		Action: r.Search,
	}
}

// downloadCommand manages the download lifecycle.
func downloadCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:    "download",
		Aliases: []string{"dl"},
		Usage:   "Queue and manage downloads",
		Commands: []*cli.Command{
			{
				Name:  "queue",
				Usage: "Queue a file for download and wait for it to settle",
				Arguments: []cli.Argument{
					&cli.StringArg{Name: "user"},
					&cli.StringArg{Name: "file"},
				},
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "track",
						Usage: "Track reference for library matching",
					},
					&cli.IntFlag{
						Name:  "size",
						Usage: "Expected file size in bytes",
					},
					&cli.StringFlag{
						Name:  "quality",
						Usage: "Expected quality label (e.g. flac, 320)",
					},
					&cli.IntFlag{
						Name:  "priority",
						Usage: "Queue priority, higher first",
					},
					&cli.BoolFlag{
						Name:  "detach",
						Usage: "Queue without waiting for completion",
					},
				},
				Action: r.DownloadQueue,
			},
			{
				Name:      "pause",
				Usage:     "Pause an in-progress download",
				Arguments: []cli.Argument{&cli.StringArg{Name: "id"}},
				Action:    r.DownloadPause,
			},
			{
				Name:      "resume",
				Usage:     "Resume a paused download and wait for it to settle",
				Arguments: []cli.Argument{&cli.StringArg{Name: "id"}},
				Action:    r.DownloadResume,
			},
			{
				Name:      "cancel",
				Usage:     "Cancel a download",
				Arguments: []cli.Argument{&cli.StringArg{Name: "id"}},
				Action:    r.DownloadCancel,
			},
			{
				Name:  "list",
				Usage: "List downloads",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "status",
						Usage: "Filter by status (queued, in_progress, paused, completed, failed, cancelled)",
					},
					&cli.BoolFlag{
						Name:  "json",
						Usage: "Output raw JSON",
					},
				},
				Action: r.DownloadList,
			},
			{
				Name:   "prune",
				Usage:  "Archive settled downloads and drop archives past retention",
				Action: r.DownloadPrune,
			},
		},
	}
}

// eventsCommand inspects the event bus history.
func eventsCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "events",
		Usage: "Show recent orchestration events",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "type",
				Usage: "Filter by event type (e.g. download.completed)",
			},
			&cli.IntFlag{
				Name:  "limit",
				Usage: "Maximum number of events to show",
				Value: 50,
			},
			&cli.BoolFlag{
				Name:  "json",
				Usage: "Output raw JSON",
			},
			&cli.BoolFlag{
				Name:  "watch",
				Usage: "Stream events until interrupted",
			},
		},
		Action: r.Events,
	}
}
