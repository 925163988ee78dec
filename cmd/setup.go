package main

import (
	"context"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/soulmesh/soulmesh/internal/shared"
)

// Setup writes a starter config file when none exists, then opens the
// database and applies pending migrations.
func (r *Runner) Setup(ctx context.Context, cmd *cli.Command) error {
	configPath := cmd.String("config")

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		if err := shared.CreateConfigFile(configPath); err != nil {
			return err
		}
		r.logger.Info("created config file", "path", configPath)
		r.writePlain("wrote %s; edit it to point at your slskd daemon\n", configPath)
	} else {
		config, err := shared.LoadConfig(configPath)
		if err != nil {
			return err
		}
		r.config = config
	}

	if _, err := r.buildCore(); err != nil {
		return err
	}

	r.logger.Info("database ready", "path", r.config.Database.Path)
	r.writePlain("database initialized at %s\n", r.config.Database.Path)
	return nil
}
