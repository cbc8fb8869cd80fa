package cmd

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"github.com/epiworldlab/epirunner/internal/logging"
)

func newModelsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "models",
		Short: "Lists the models discovered in the configured directory",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			logger, err := logging.New(cfg.Logging.Development)
			if err != nil {
				return fmt.Errorf("logger init: %w", err)
			}
			defer func() { _ = logger.Sync() }()

			registry, err := buildRegistry(cfg.Models.Dir, logger)
			if err != nil {
				return err
			}

			var rows [][]string
			for _, m := range registry.List() {
				rows = append(rows, []string{m.ID(), m.Kind(), m.Title()})
			}
			if len(rows) == 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "no models found in %s\n", cfg.Models.Dir)
				return nil
			}

			headerStyle := lipgloss.NewStyle().Bold(true).Padding(0, 1)
			cellStyle := lipgloss.NewStyle().Padding(0, 1)
			t := table.New().
				Border(lipgloss.NormalBorder()).
				Headers("ID", "Kind", "Title").
				Rows(rows...).
				StyleFunc(func(row, _ int) lipgloss.Style {
					if row == table.HeaderRow {
						return headerStyle
					}
					return cellStyle
				})
			fmt.Fprintln(cmd.OutOrStdout(), t.Render())
			return nil
		},
	}
}
