// Package appfs exposes embedded application assets, most notably the
// database migrations consumed by goose.
package appfs

import "embed"

//go:embed migrations
var FS embed.FS
