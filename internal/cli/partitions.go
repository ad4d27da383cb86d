package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/chatrelay/chatrelay/internal/repository"
	"github.com/chatrelay/chatrelay/pkg/output"
)

var partitionsCmd = &cobra.Command{
	Use:     "partitions",
	Aliases: []string{"parts"},
	Short:   "List message partitions",
	Long:    "List all provisioned monthly partitions from the partition registry",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := requireConfig()
		if err != nil {
			return err
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
		defer cancel()

		repo, err := repository.NewPostgresRepository(ctx, c.Database.DSN)
		if err != nil {
			return fmt.Errorf("connect to database: %w", err)
		}
		defer repo.Close()

		partitions, err := repo.ListPartitions(ctx)
		if err != nil {
			return fmt.Errorf("list partitions: %w", err)
		}

		outputFormat, _ := cmd.Flags().GetString("output")
		if outputFormat == "json" {
			return output.JSON(partitions)
		}

		if len(partitions) == 0 {
			output.Info("No partitions provisioned")
			return nil
		}

		table := output.NewTable("MONTH", "MESSAGES TABLE", "MARKERS TABLE", "CREATED")
		for _, p := range partitions {
			table.AddRow(p.YearMonth, p.MessagesTable, p.MarkersTable,
				p.CreatedAt.Format("2006-01-02 15:04"))
		}
		table.Render()
		return nil
	},
}

func init() {
	rootCmd.AddCommand(partitionsCmd)
}
