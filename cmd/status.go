package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/urfave/cli/v3"

	"github.com/soulmesh/soulmesh/internal/formatter"
	"github.com/soulmesh/soulmesh/internal/models"
)

// Status probes module health once and prints the module table and the
// registered operation surface.
func (r *Runner) Status(ctx context.Context, cmd *cli.Command) error {
	result, err := r.route(ctx, models.ModuleStatusParams{})
	if err != nil {
		return err
	}

	report, ok := result.(StatusReport)
	if !ok {
		return fmt.Errorf("unexpected module.status result type %T", result)
	}

	if cmd.Bool("json") {
		return r.writeJSON(report, cmd.Bool("pretty"))
	}

	r.writePlain("%s\n", formatter.ModuleStatusTable(report.Modules))
	r.writePlain("Operations: %s\n", strings.Join(report.Operations, ", "))
	return nil
}
