package web

import (
	"embed"
	"io/fs"
)

// staticFS embeds the viewer shell (web/dist) into the server binary so QR
// landing pages work without a separate frontend deployment.
//
//go:embed all:dist
var staticFS embed.FS

// FS returns the embedded shell rooted at the dist directory.
func FS() (fs.FS, error) {
	return fs.Sub(staticFS, "dist")
}
