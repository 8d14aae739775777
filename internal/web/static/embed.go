// Package static embeds the live recognition monitor page.
package static

import (
	"embed"
	"io/fs"
	"net/http"
)

//go:embed monitor
var monitorFS embed.FS

// GetFileSystem returns an http.FileSystem for the embedded monitor directory.
func GetFileSystem() http.FileSystem {
	fsys, err := fs.Sub(monitorFS, "monitor")
	if err != nil {
		panic(err)
	}
	return http.FS(fsys)
}
