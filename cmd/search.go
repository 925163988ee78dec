package main

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/soulmesh/soulmesh/internal/formatter"
	"github.com/soulmesh/soulmesh/internal/models"
	"github.com/soulmesh/soulmesh/internal/shared"
)

// Search runs a network search through the router and prints results ranked
// best-first.
func (r *Runner) Search(ctx context.Context, cmd *cli.Command) error {
	query := cmd.StringArg("query")
	if query == "" {
		return fmt.Errorf("%w: query", shared.ErrMissingArgument)
	}

	result, err := r.route(ctx, models.SearchTrackParams{
		Query:      query,
		MaxResults: cmd.Int("limit"),
	})
	if err != nil {
		return err
	}

	results, ok := result.([]models.SearchResult)
	if !ok {
		return fmt.Errorf("unexpected search.track result type %T", result)
	}

	if cmd.Bool("json") {
		return r.writeJSON(results, true)
	}

	r.writePlain("%s", formatter.SearchResultsTable(results))
	return nil
}
