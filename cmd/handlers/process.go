package handlers

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"watchdog/internal/batch"
	"watchdog/internal/classify"
	"watchdog/internal/config"
	"watchdog/internal/core"
	"watchdog/internal/entities"
	"watchdog/internal/extract"
	"watchdog/internal/orchestrate"
	"watchdog/internal/persistence"
)

func newProcessCmd() *cobra.Command {
	var (
		inputPath     string
		concurrency   int
		minConfidence float64
		skipExisting  bool
		dryRun        bool
		outputDir     string
	)

	cmd := &cobra.Command{
		Use:   "process",
		Short: "Run the classification pipeline over a JSONL file of discovered articles",
		Long: `Process reads a JSONL file of discovered article leads and runs each
one through the full pipeline: extract, classify, filter, normalize
entities, store. Articles are processed concurrently, each on its own
database connection.

With --dry-run every unit of work runs inside a transaction that is
rolled back at the end, so the pipeline including all SQL is exercised
without persisting anything.

Examples:
  watchdog process --input leads.jsonl
  watchdog process --input leads.jsonl --concurrency 8 --skip-existing
  watchdog process --input leads.jsonl --dry-run`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runProcess(cmd.Context(), batch.Options{
				InputPath:     inputPath,
				Concurrency:   concurrency,
				MinConfidence: minConfidence,
				SkipExisting:  skipExisting,
				DryRun:        dryRun,
				OutputDir:     outputDir,
				Progress:      os.Stdout,
			})
		},
	}

	cmd.Flags().StringVarP(&inputPath, "input", "i", "", "JSONL file of discovered articles (required)")
	cmd.Flags().IntVarP(&concurrency, "concurrency", "c", 4, "number of concurrent workers (1-10)")
	cmd.Flags().Float64Var(&minConfidence, "min-confidence", 0.7, "minimum classifier confidence to store an article")
	cmd.Flags().BoolVar(&skipExisting, "skip-existing", false, "skip URLs already stored in the database")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "run everything but roll back all writes")
	cmd.Flags().StringVarP(&outputDir, "output-dir", "o", ".", "directory for the batch report files")
	_ = cmd.MarkFlagRequired("input")

	return cmd
}

func runProcess(ctx context.Context, opts batch.Options) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	db, err := persistence.NewPostgresDB(cfg.Database.URL, opts.Concurrency)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer db.Close()

	orchestrator, err := buildOrchestrator(ctx, cfg)
	if err != nil {
		return err
	}

	driver, err := batch.NewDriver(
		orchestrator,
		batch.NewSessionFactory(db, opts.DryRun),
		persistence.NewArticleRepo(db.Querier()),
		opts,
	)
	if err != nil {
		return err
	}

	result, err := driver.Run(ctx)
	if err != nil {
		return err
	}

	fmt.Printf("Summary written to %s\n", result.SummaryPath)
	if result.ErrorsPath != "" {
		fmt.Printf("Errors written to %s\n", result.ErrorsPath)
	}
	return nil
}

// buildOrchestrator assembles the per-URL pipeline from configuration.
func buildOrchestrator(ctx context.Context, cfg *config.Config) (*orchestrate.Service, error) {
	extractor := extract.NewService(newFetchClient(cfg), extract.DefaultRegistry())

	classifiers, err := buildClassifiers(ctx, cfg)
	if err != nil {
		return nil, err
	}

	agent, err := entities.NewGeminiAgent(ctx, cfg.AI.Gemini.APIKey, cfg.AI.Gemini.Model, cfg.AI.Gemini.Temperature)
	if err != nil {
		return nil, fmt.Errorf("failed to create entity agent: %w", err)
	}
	cache := entities.SharedCache(
		config.Duration(cfg.Cache.TTL, entities.DefaultCacheTTL),
		cfg.Cache.MaxSize,
	)
	normalizer := entities.NewNormalizer(agent, cache)

	return orchestrate.NewService(
		extractor,
		classify.NewService(classifiers),
		normalizer,
		persistence.NewStorageService(),
	), nil
}

func buildClassifiers(ctx context.Context, cfg *config.Config) ([]classify.Classifier, error) {
	types := core.ClassifierTypes()
	classifiers := make([]classify.Classifier, 0, len(types))
	for _, t := range types {
		c, err := classify.NewGeminiClassifier(ctx, classify.GeminiConfig{
			APIKey:      cfg.AI.Gemini.APIKey,
			Model:       cfg.AI.Gemini.Model,
			Type:        t,
			Temperature: cfg.AI.Gemini.Temperature,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create %s classifier: %w", t, err)
		}
		classifiers = append(classifiers, c)
	}
	return classifiers, nil
}
