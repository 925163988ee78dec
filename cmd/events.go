package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v3"

	"github.com/soulmesh/soulmesh/internal/events"
	"github.com/soulmesh/soulmesh/internal/formatter"
)

// Events prints retained bus history, or streams live events with --watch.
// History is per-process; watch mode also runs the health monitor loop so
// module.status.changed events flow while observing.
func (r *Runner) Events(ctx context.Context, cmd *cli.Command) error {
	core, err := r.buildCore()
	if err != nil {
		return err
	}

	if cmd.Bool("watch") {
		return r.watchEvents(ctx, core, cmd.String("type"))
	}

	history := core.Bus.History(cmd.String("type"), cmd.Int("limit"))
	if cmd.Bool("json") {
		return r.writeJSON(history, true)
	}
	if len(history) == 0 {
		r.writePlain("no events recorded in this session\n")
		return nil
	}
	for _, e := range history {
		r.writePlain("%s\n", formatter.EventLine(e.Type, e.Metadata.CorrelationID, e.Timestamp.Format("15:04:05")))
	}
	return nil
}

func (r *Runner) watchEvents(ctx context.Context, core *Core, eventType string) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	subID := core.Bus.SubscribeAll(func(e events.Event) {
		if eventType != "" && e.Type != eventType {
			return
		}
		r.writePlain("%s\n", formatter.EventLine(e.Type, e.Metadata.CorrelationID, e.Timestamp.Format("15:04:05")))
	})
	defer core.Bus.Unsubscribe(subID)

	r.writePlain("watching events, ctrl-c to stop\n")
	go core.Monitor.Run(ctx)

	<-ctx.Done()
	return nil
}
