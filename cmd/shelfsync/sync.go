package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hyperengineering/shelfsync/pkg/shelf"
	"github.com/sethvargo/go-retry"
	"github.com/spf13/cobra"
)

var (
	syncWait     bool
	syncTimeout  time.Duration
	syncInterval = time.Second
)

var errStillPending = errors.New("operations still pending")

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Replay queued writes against the API",
	Long:  "Run one synchronizer pass. With --wait, keep syncing until the queue is empty or the timeout expires.",
	Args:  cobra.NoArgs,
	RunE:  runSync,
}

func init() {
	syncCmd.Flags().BoolVar(&syncWait, "wait", false,
		"Retry until no operations are pending")
	syncCmd.Flags().DurationVar(&syncTimeout, "timeout", 30*time.Second,
		"Maximum time to wait with --wait")
}

func runSync(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	client, err := openClient(cmd)
	if err != nil {
		return err
	}
	defer client.Close()

	var total shelf.SyncResult
	pass := func(ctx context.Context) error {
		result, err := client.SyncNow(ctx)
		if err != nil {
			return err
		}
		total.Synced += result.Synced
		total.Failed += result.Failed
		total.Dropped += result.Dropped
		total.Deferred += result.Deferred
		if syncWait && client.State().Pending > 0 {
			return retry.RetryableError(errStillPending)
		}
		return nil
	}

	backoff := retry.WithMaxDuration(syncTimeout, retry.NewConstant(syncInterval))
	syncErr := retry.Do(ctx, backoff, pass)

	state := client.State()
	if jsonOutput {
		if err := printJSON(cmd.OutOrStdout(), map[string]any{
			"reachability": state.Reachability,
			"synced":       total.Synced,
			"failed":       total.Failed,
			"dropped":      total.Dropped,
			"deferred":     total.Deferred,
			"pending":      state.Pending,
		}); err != nil {
			return err
		}
	} else {
		if state.Reachability != shelf.Reachable {
			fmt.Fprintf(cmd.ErrOrStderr(), "API %s; nothing synced.\n", state.Reachability)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Synced %d, failed %d, dropped %d; %d pending\n",
			total.Synced, total.Failed, total.Dropped, state.Pending)
	}

	if errors.Is(syncErr, errStillPending) {
		return fmt.Errorf("%d %w after %s", state.Pending, errStillPending, syncTimeout)
	}
	return syncErr
}
