package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/ManuelReschke/QRFox/internal/pkg/billing"
	"github.com/ManuelReschke/QRFox/internal/pkg/cache"
)

var (
	listExhausted bool
	listLimit     int64
)

var deadLetterCmd = &cobra.Command{
	Use:   "deadletter",
	Short: "Inspect and replay failed webhook deliveries",
}

var deadLetterListCmd = &cobra.Command{
	Use:   "list",
	Short: "Print queued dead letters as JSON lines, oldest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		c, err := bootstrap(ctx)
		if err != nil {
			return err
		}
		defer func() { _ = cache.Close() }()
		return printDeadLetters(ctx, cmd.OutOrStdout(), c.queue, listExhausted, listLimit)
	},
}

var deadLetterReplayCmd = &cobra.Command{
	Use:   "replay",
	Short: "Replay every queued dead letter once",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		c, err := bootstrap(ctx)
		if err != nil {
			return err
		}
		defer func() { _ = cache.Close() }()

		stats, err := c.replayer.DrainOnce(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "replayed=%d requeued=%d exhausted=%d\n", stats.Replayed, stats.Requeued, stats.Exhausted)
		return nil
	},
}

func init() {
	deadLetterListCmd.Flags().BoolVar(&listExhausted, "exhausted", false, "list entries that ran out of attempts")
	deadLetterListCmd.Flags().Int64Var(&listLimit, "limit", 50, "maximum entries to print (0 for all)")
	deadLetterCmd.AddCommand(deadLetterListCmd)
	deadLetterCmd.AddCommand(deadLetterReplayCmd)
}

func printDeadLetters(ctx context.Context, w io.Writer, queue billing.DeadLetterQueue, exhausted bool, limit int64) error {
	entries, err := queue.List(ctx, exhausted, limit)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(w)
	for _, dl := range entries {
		if err := enc.Encode(dl); err != nil {
			return err
		}
	}
	return nil
}
