// Package migrations embeds the goose SQL migrations for the server book
// database (server/) and the client offline store (client/).
package migrations

import "embed"

// FS holds every migration file, rooted at this directory.
//
//go:embed server/*.sql client/*.sql
var FS embed.FS

const (
	// ServerDir is the migration directory for the reference API database.
	ServerDir = "server"
	// ClientDir is the migration directory for the offline durable store.
	ClientDir = "client"
)
