package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/hyperengineering/shelfsync/pkg/shelf"
	"github.com/spf13/cobra"
)

// hostSignal overrides the client's host connectivity signal. Nil uses the
// interface-based default.
var hostSignal shelf.HostSignal

// openClient builds a sync client from the client section of the config.
// CLI logs go to stderr so stdout stays parseable.
func openClient(cmd *cobra.Command) (*shelf.Client, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	c := cfg.Client
	client, err := shelf.New(shelf.Config{
		APIURL:        c.APIURL,
		StorePath:     c.StorePath,
		PageSize:      c.PageSize,
		ProbeTimeout:  c.ProbeTimeout.Std(),
		ProbeInterval: c.ProbeInterval.Std(),
		SyncInterval:  c.SyncInterval.Std(),
		HostSignal:    hostSignal,
		Logger:        newLogger(cmd.ErrOrStderr(), cfg.Log),
	})
	if err != nil {
		return nil, fmt.Errorf("open client: %w", err)
	}
	return client, nil
}

// printJSON marshals v to JSON and writes to the given writer.
func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// newTabWriter returns a configured tabwriter for aligned columns.
func newTabWriter(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
}
