package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/chatrelay/chatrelay/internal/partition"
	"github.com/chatrelay/chatrelay/internal/repository"
	"github.com/chatrelay/chatrelay/pkg/output"
)

var dedupCmd = &cobra.Command{
	Use:   "dedup [eventId]",
	Short: "Look up a dedup marker",
	Long: `Check whether an event ID has already been delivered.

Searches the same two-partition window the service consults on ingest:
the current month and the previous month.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		eventID := args[0]

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

		current := partition.KeyFromTime(time.Now().UTC())
		previous, err := partition.PreviousKey(current)
		if err != nil {
			return err
		}

		for _, key := range []string{current, previous} {
			found, err := repo.MarkerExists(ctx, key, eventID)
			if err != nil {
				output.Warn("partition %s: %v", key, err)
				continue
			}
			if !found {
				continue
			}

			output.Info("Event %s delivered (marker in partition %s)", eventID, key)
			rec, err := repo.GetMessage(ctx, key, eventID)
			if err != nil {
				// Marker without a message row: non-message event or partial write.
				return nil
			}
			output.Info("  Type:      %s", rec.MessageType)
			output.Info("  Sender:    %s", rec.SenderID)
			output.Info("  Sent:      %s", rec.SentAt.Format(time.RFC3339))
			output.Info("  Stored:    %s", rec.CreatedAt.Format(time.RFC3339))
			return nil
		}

		output.Info("Event %s not found in partitions %s, %s", eventID, current, previous)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(dedupCmd)
}
