package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kbforge/ingestd/internal/embed"
	"github.com/kbforge/ingestd/internal/vecstore"
)

// newResetCmd creates the reset command.
func newResetCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Destroy every collection in the vector store",
		Long: `Destroy every collection in the vector store. This is irreversible;
documents must be re-ingested afterwards.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !force {
				return fmt.Errorf("refusing to wipe the vector store without --force")
			}

			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			engine, err := vecstore.NewEngine(cfg.VectorStore,
				vecstore.WithSparseEncoder(embed.NewSparseModel().Embed))
			if err != nil {
				return fmt.Errorf("open vector store: %w", err)
			}
			defer engine.Close()

			if err := engine.Reset(cmd.Context()); err != nil {
				return fmt.Errorf("reset vector store: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "vector store wiped")
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Confirm the irreversible wipe")

	return cmd
}
