package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/epiworldlab/epirunner/internal/server"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Starts the model runner HTTP service",
		Long: `Starts the HTTP service: the JSON API under /api/v1, Prometheus
metrics under /metrics, and the browser parameter-form pages. Runs are
queued and evaluated by a background worker pool until interrupted.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			app, err := server.Build(cmd.Context(), &cfg)
			if err != nil {
				return fmt.Errorf("build application: %w", err)
			}
			return app.Run(cmd.Context())
		},
	}
}
