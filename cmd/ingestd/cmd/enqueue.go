package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/kbforge/ingestd/internal/ingest"
	"github.com/kbforge/ingestd/internal/jobstore"
	"github.com/kbforge/ingestd/internal/queue"
	"github.com/kbforge/ingestd/internal/storage"
)

// newEnqueueCmd creates the enqueue command, which submits a local file
// for ingestion: upload to storage, create the job record, publish the
// job message.
func newEnqueueCmd() *cobra.Command {
	var collection string

	cmd := &cobra.Command{
		Use:   "enqueue <file>",
		Short: "Submit a document for ingestion",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()

			store, err := storage.New(cfg.Storage)
			if err != nil {
				return err
			}
			_, path, err := store.UploadFile(cmd.Context(), f, filepath.Base(args[0]))
			if err != nil {
				return fmt.Errorf("upload %s: %w", args[0], err)
			}

			jobs, err := jobstore.Open(cfg.Jobs.Path)
			if err != nil {
				return fmt.Errorf("open job store: %w", err)
			}
			defer jobs.Close()

			job := jobstore.Job{
				ID:       uuid.NewString(),
				Filename: filepath.Base(args[0]),
				Path:     path,
			}
			if err := jobs.Create(job); err != nil {
				return err
			}

			q, err := queue.OpenSQLite(cfg.Queue.Path, cfg.Queue.VisibilityTimeout)
			if err != nil {
				return fmt.Errorf("open queue: %w", err)
			}
			defer q.Close()

			body, err := json.Marshal(ingest.Message{
				FileID:         job.ID,
				CollectionName: collection,
			})
			if err != nil {
				return err
			}
			if err := q.Enqueue(cmd.Context(), cfg.Queue.Name, body); err != nil {
				return fmt.Errorf("enqueue job: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "enqueued job %s (%s)\n", job.ID, job.Filename)
			return nil
		},
	}

	cmd.Flags().StringVar(&collection, "collection", "", "Target a shared collection instead of the per-file collection")

	return cmd
}
