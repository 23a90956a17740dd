package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show connectivity, cache and queue state",
	Args:  cobra.NoArgs,
	RunE:  runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	client, err := openClient(cmd)
	if err != nil {
		return err
	}
	defer client.Close()

	reachability := client.Monitor().CheckConnection(ctx)
	ops, err := client.Store().GetOperations(ctx)
	if err != nil {
		return fmt.Errorf("read queue: %w", err)
	}
	cached := client.State().Books

	if jsonOutput {
		return printJSON(cmd.OutOrStdout(), map[string]any{
			"reachability": reachability,
			"cached_books": len(cached),
			"pending":      ops,
		})
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "API:          %s\n", reachability)
	fmt.Fprintf(out, "Cached books: %d\n", len(cached))
	fmt.Fprintf(out, "Pending:      %d\n", len(ops))
	if len(ops) == 0 {
		return nil
	}

	fmt.Fprintln(out)
	w := newTabWriter(out)
	fmt.Fprintln(w, "OPERATION\tKIND\tBOOK\tSTATUS\tRETRIES")
	for _, op := range ops {
		id := op.Payload.ID
		if op.Payload.Book != nil {
			id = op.Payload.Book.ID
		}
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%d\n", op.ID, op.Kind, id, op.SyncStatus, op.RetryCount)
	}
	w.Flush()
	return nil
}
