// Package webui embeds the status page served at the root of the HTTP API.
package webui

import (
	"embed"
	"io/fs"
)

//go:embed web/*
var embedded embed.FS

// FS returns the page assets rooted at web/.
func FS() (fs.FS, error) {
	return fs.Sub(embedded, "web")
}
