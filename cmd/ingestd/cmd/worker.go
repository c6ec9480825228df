package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/kbforge/ingestd/internal/chunk"
	"github.com/kbforge/ingestd/internal/embed"
	ierrors "github.com/kbforge/ingestd/internal/errors"
	"github.com/kbforge/ingestd/internal/extract"
	"github.com/kbforge/ingestd/internal/ingest"
	"github.com/kbforge/ingestd/internal/jobstore"
	"github.com/kbforge/ingestd/internal/queue"
	"github.com/kbforge/ingestd/internal/storage"
	"github.com/kbforge/ingestd/internal/vecstore"
)

// newWorkerCmd creates the worker command.
func newWorkerCmd() *cobra.Command {
	var concurrency int

	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Run the ingestion worker pool",
		Long: `Start a pool of workers that pull document jobs from the durable
queue and run them through extraction, chunking, embedding and vector
store insertion. Runs until interrupted.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			jobs, err := jobstore.Open(cfg.Jobs.Path)
			if err != nil {
				return fmt.Errorf("open job store: %w", err)
			}
			defer jobs.Close()

			engine, err := vecstore.NewEngine(cfg.VectorStore,
				vecstore.WithSparseEncoder(embed.NewSparseModel().Embed))
			if err != nil {
				return fmt.Errorf("open vector store: %w", err)
			}
			defer engine.Close()

			chunker, err := chunk.New(cfg.Chunking)
			if err != nil {
				return err
			}
			embedder, err := embed.New(cfg.Embedding, embed.NewStaticEncoder().Encode)
			if err != nil {
				return err
			}
			store, err := storage.New(cfg.Storage)
			if err != nil {
				return err
			}

			q, err := queue.OpenSQLite(cfg.Queue.Path, cfg.Queue.VisibilityTimeout)
			if err != nil {
				return fmt.Errorf("open queue: %w", err)
			}
			defer q.Close()

			processor := ingest.NewProcessor(jobs, engine, chunker, embedder,
				store, extract.DefaultChain(cfg.Extraction), cfg.Embedding.Hybrid)

			if concurrency <= 0 {
				concurrency = cfg.Worker.Concurrency
			}
			retry := ierrors.RetryConfig{
				MaxAttempts:  cfg.Worker.MaxAttempts,
				InitialDelay: cfg.Worker.RetryBase,
				MaxDelay:     cfg.Worker.RetryCap,
				Multiplier:   2.0,
			}
			consumer := ingest.NewConsumer(q, cfg.Queue.Name, processor, concurrency, retry)

			slog.Info("worker started",
				slog.String("queue", cfg.Queue.Name),
				slog.Int("concurrency", concurrency),
				slog.Bool("hybrid", cfg.Embedding.Hybrid))
			return consumer.Run(ctx)
		},
	}

	cmd.Flags().IntVar(&concurrency, "concurrency", 0, "Number of parallel workers (default from config)")

	return cmd
}
