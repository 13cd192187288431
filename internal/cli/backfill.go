package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"wind-curtailment-monitor/internal/app"
)

var (
	backfillStart     string
	backfillEnd       string
	backfillChunkSize time.Duration
)

var backfillCmd = &cobra.Command{
	Use:   "backfill",
	Short: "Backfill a historical window of curtailment records",
	RunE: func(cmd *cobra.Command, args []string) error {
		if backfillStart == "" || backfillEnd == "" {
			return fmt.Errorf("--start and --end must be provided")
		}

		start, err := time.Parse(time.RFC3339, backfillStart)
		if err != nil {
			return fmt.Errorf("invalid --start value: %w", err)
		}

		end, err := time.Parse(time.RFC3339, backfillEnd)
		if err != nil {
			return fmt.Errorf("invalid --end value: %w", err)
		}

		if !start.Before(end) {
			return fmt.Errorf("--start must be before --end")
		}

		opts := app.BackfillOptions{
			Start:     start,
			End:       end,
			ChunkSize: backfillChunkSize,
		}

		return getApp().Backfill(cmd.Context(), opts)
	},
}

func init() {
	backfillCmd.Flags().StringVar(&backfillStart, "start", "", "Start timestamp (RFC3339, inclusive)")
	backfillCmd.Flags().StringVar(&backfillEnd, "end", "", "End timestamp (RFC3339, exclusive)")
	backfillCmd.Flags().DurationVar(&backfillChunkSize, "chunk-size", 0, "Chunk duration (defaults to config)")
}
