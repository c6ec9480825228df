package cmd

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kbforge/ingestd/internal/jobstore"
)

// newStatusCmd creates the status command.
func newStatusCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "status <job-id>",
		Short: "Show the status of an ingestion job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			jobs, err := jobstore.Open(cfg.Jobs.Path)
			if err != nil {
				return fmt.Errorf("open job store: %w", err)
			}
			defer jobs.Close()

			job, err := jobs.Get(args[0])
			if err != nil {
				if errors.Is(err, jobstore.ErrNotFound) {
					return fmt.Errorf("no job with id %s", args[0])
				}
				return err
			}

			if jsonOutput {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(job)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Job:        %s\n", job.ID)
			fmt.Fprintf(out, "Filename:   %s\n", job.Filename)
			fmt.Fprintf(out, "Status:     %s\n", job.Status)
			if job.CollectionName != "" {
				fmt.Fprintf(out, "Collection: %s\n", job.CollectionName)
			}
			if job.Hash != "" {
				fmt.Fprintf(out, "Hash:       %s\n", job.Hash)
			}
			if job.ErrorMessage != "" {
				fmt.Fprintf(out, "Error:      %s\n", job.ErrorMessage)
			}
			fmt.Fprintf(out, "Updated:    %s\n", job.UpdatedAt.Format("2006-01-02 15:04:05"))
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output the job record as JSON")

	return cmd
}
