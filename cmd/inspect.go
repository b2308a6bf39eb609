package cmd

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/fernandobusta/farm-concurrency/sim/journal"
)

var (
	inspectDB    string // SQLite journal path
	inspectRunID string // run to summarize, latest when empty
	inspectList  bool   // list runs instead
)

// inspectCmd reads a recorded run back from the SQLite journal
var inspectCmd = &cobra.Command{
	Use:   "inspect",
	Short: "Summarize runs recorded with run --db",
	Run: func(cmd *cobra.Command, args []string) {
		if err := inspectRuns(cmd.Context(), inspectDB, inspectRunID, inspectList, cmd.OutOrStdout()); err != nil {
			logrus.Fatalf("%v", err)
		}
	},
}

func inspectRuns(ctx context.Context, dbPath, runID string, list bool, out io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}
	store, err := journal.OpenStore(dbPath)
	if err != nil {
		return fmt.Errorf("open journal db: %w", err)
	}
	defer store.Close()

	if list {
		runs, err := store.Runs(ctx)
		if err != nil {
			return err
		}
		for _, r := range runs {
			finished := "unfinished"
			if !r.FinishedAt.IsZero() {
				finished = r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond).String()
			}
			fmt.Fprintf(out, "%s  %s  seed=%d  events=%d  %s\n",
				r.ID, r.StartedAt.Format(time.RFC3339), r.Seed, r.Events, finished)
		}
		return nil
	}

	if runID == "" {
		if runID, err = store.LatestRun(ctx); err != nil {
			return err
		}
	}
	summary, err := store.Summarize(ctx, runID)
	if err != nil {
		return err
	}
	writeRunSummary(out, summary)
	return nil
}

func init() {
	inspectCmd.Flags().StringVar(&inspectDB, "db", "farm.db", "SQLite journal written by run --db")
	inspectCmd.Flags().StringVar(&inspectRunID, "run", "", "Run ID (latest when empty)")
	inspectCmd.Flags().BoolVar(&inspectList, "list", false, "List recorded runs")
	rootCmd.AddCommand(inspectCmd)
}
