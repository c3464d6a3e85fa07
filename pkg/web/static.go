//go:build !embed

package web

import "net/http"

// embeddedStaticFS reports no compiled-in dashboard. Build with -tags=embed
// to bundle frontend/dist into the binary.
func embeddedStaticFS() (http.FileSystem, error) {
	return nil, nil
}
