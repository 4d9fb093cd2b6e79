package server

import (
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/onnwee/chatmon/hub"
)

// HandleRoot hands WebSocket upgrades to the hub, serves the overlay page for
// /chatmon/<channel> and static files elsewhere, falling back to index.html.
func (h *Handlers) HandleRoot(w http.ResponseWriter, r *http.Request) {
	if hub.IsUpgrade(r) {
		h.deps.Hub.ServeHTTP(w, r)
		return
	}
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if strings.HasPrefix(r.URL.Path, "/"+hub.PathPrefix+"/") {
		h.serveIndex(w, r)
		return
	}
	h.serveStatic(w, r)
}

func (h *Handlers) serveStatic(w http.ResponseWriter, r *http.Request) {
	if h.deps.StaticDir == "" {
		http.NotFound(w, r)
		return
	}
	clean := path.Clean("/" + r.URL.Path)
	full := filepath.Join(h.deps.StaticDir, filepath.FromSlash(clean))
	if info, err := os.Stat(full); err == nil && !info.IsDir() && clean != "/index.html" {
		http.ServeFile(w, r, full)
		return
	}
	h.serveIndex(w, r)
}

func (h *Handlers) serveIndex(w http.ResponseWriter, r *http.Request) {
	if h.deps.StaticDir == "" {
		http.NotFound(w, r)
		return
	}
	f, err := os.Open(filepath.Join(h.deps.StaticDir, "index.html"))
	if err != nil {
		http.Error(w, "overlay page not found", http.StatusNotFound)
		return
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		http.Error(w, "overlay page not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	http.ServeContent(w, r, "index.html", info.ModTime(), f)
}
