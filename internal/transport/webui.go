package transport

import (
	"io/fs"
	"log"
	"net/http"
	"path"
	"strings"

	"github.com/objtalk/objtalk/webui"
)

// adminUIHandler serves the embedded admin UI. Paths that do not match
// an asset fall back to index.html; missing file-like paths stay 404.
func adminUIHandler() http.Handler {
	distFS, err := webui.DistFS()
	if err != nil {
		log.Printf("admin ui disabled: %v", err)
		return http.NotFoundHandler()
	}

	fileServer := http.FileServerFS(distFS)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			http.NotFound(w, r)
			return
		}

		assetPath := strings.TrimPrefix(path.Clean("/"+r.URL.Path), "/")
		if assetPath == "" || assetPath == "." {
			assetPath = "index.html"
		}

		if info, err := fs.Stat(distFS, assetPath); err == nil && !info.IsDir() {
			fileServer.ServeHTTP(w, r)
			return
		}

		if path.Ext(assetPath) != "" {
			http.NotFound(w, r)
			return
		}

		http.ServeFileFS(w, r, distFS, "index.html")
	})
}
