package cmd

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/epiworldlab/epirunner/internal/logging"
	"github.com/epiworldlab/epirunner/internal/model"
	"github.com/epiworldlab/epirunner/internal/render"
	"github.com/epiworldlab/epirunner/internal/sheet"
)

func newRunCmd() *cobra.Command {
	var (
		setFlags   []string
		labelFlags []string
		timeoutSec int
	)
	cmd := &cobra.Command{
		Use:   "run <model_id>",
		Short: "Evaluates a model locally and prints the result tables",
		Long: `Evaluates one model in-process, without the HTTP service or the run
queue. Parameter overrides use the form --set "label=value" where label
matches the parameter label shown by the model's form (or a parenthesized
variable name inside it). Scenario columns can be renamed with
--label "key=header".`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
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
			mdl, ok := registry.Get(args[0])
			if !ok {
				return fmt.Errorf("unknown model %q", args[0])
			}

			overrides, err := parseKeyValues(setFlags)
			if err != nil {
				return fmt.Errorf("parse --set: %w", err)
			}
			labels, err := parseKeyValues(labelFlags)
			if err != nil {
				return fmt.Errorf("parse --label: %w", err)
			}

			timeout := cfg.RunBudget()
			if timeoutSec > 0 {
				timeout = time.Duration(timeoutSec) * time.Second
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			params, err := mdl.Defaults(ctx)
			if err != nil {
				return fmt.Errorf("load defaults for %q: %w", mdl.ID(), err)
			}
			params.ApplyOverrides(overrides)

			start := time.Now()
			result, err := mdl.Run(ctx, params, labels)
			if err != nil {
				return fmt.Errorf("run %q: %w", mdl.ID(), err)
			}
			logger.Info("run finished",
				zap.String("model", mdl.ID()),
				zap.Int("tables", result.TableCount()),
				zap.Int64("cells", result.Stats.Cells),
				zap.Duration("duration", time.Since(start)),
			)

			fmt.Fprint(cmd.OutOrStdout(), render.Text(result))
			return nil
		},
	}
	cmd.Flags().StringArrayVar(&setFlags, "set", nil, `parameter override, e.g. --set "Number of cases=100"`)
	cmd.Flags().StringArrayVar(&labelFlags, "label", nil, `scenario column rename, e.g. --label "22_cases=Spring Outbreak"`)
	cmd.Flags().IntVar(&timeoutSec, "timeout", 0, "evaluation timeout in seconds (default from config)")
	return cmd
}

func buildRegistry(dir string, logger *zap.Logger) (*model.Registry, error) {
	registry := model.NewRegistry()
	sheetFactory := func(path string) (model.Model, error) {
		return sheet.NewModel(path, logger.Named("sheet"))
	}
	if err := registry.Discover(dir, sheetFactory, logger.Named("registry")); err != nil {
		return nil, fmt.Errorf("model discovery in %q: %w", dir, err)
	}
	return registry, nil
}

func parseKeyValues(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	out := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		key, value, found := strings.Cut(pair, "=")
		key = strings.TrimSpace(key)
		if !found || key == "" {
			return nil, fmt.Errorf("expected key=value, got %q", pair)
		}
		out[key] = strings.TrimSpace(value)
	}
	return out, nil
}
