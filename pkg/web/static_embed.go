//go:build embed

package web

import (
	"embed"
	"io/fs"
	"net/http"
)

//go:embed frontend/dist
var dashboardFiles embed.FS

// embeddedStaticFS returns the dashboard bundled into the binary
func embeddedStaticFS() (http.FileSystem, error) {
	sub, err := fs.Sub(dashboardFiles, staticDir)
	if err != nil {
		return nil, err
	}
	return http.FS(sub), nil
}
