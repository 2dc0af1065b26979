package api

import (
	"net/http"
	"os"
	"path/filepath"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/sms/pkg/httputil"
)

// registerFrontend serves the built SPA: hashed assets under /assets/ and
// the index for / and client-side routes
func (s *Server) registerFrontend(r *mux.Router) {
	dir := s.settings.Frontend.Dir
	r.PathPrefix("/assets/").Handler(http.FileServer(http.Dir(dir))).Methods(http.MethodGet, http.MethodHead)
	r.HandleFunc("/", s.serveIndex).Methods(http.MethodGet)
	r.HandleFunc("/index.html", s.serveIndex).Methods(http.MethodGet)
}

// serveIndex writes index.html. http.ServeFile is avoided because it
// redirects requests for /index.html.
func (s *Server) serveIndex(w http.ResponseWriter, r *http.Request) {
	f, err := os.Open(filepath.Join(s.settings.Frontend.Dir, "index.html"))
	if err != nil {
		httputil.WriteErrorStatus(w, r, http.StatusNotFound)
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	http.ServeContent(w, r, "index.html", info.ModTime(), f)
}
