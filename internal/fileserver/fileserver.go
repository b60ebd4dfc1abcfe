// Package fileserver serves files from a document root after the rewrite
// engine has had a chance to redirect or rewrite the request, applying
// any overrides the rewrite.Result carries.
package fileserver

import (
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"httpd/internal/rewrite"
)

// FileServer serves static files (and, optionally, directory listings)
// from DocumentRoot. Directory listing HTML generation itself and the
// in-source scripting engine remain out of scope; Scripts is an
// extension point this repository never populates.
type FileServer struct {
	DocumentRoot     string
	DirectoryListing bool
	Scripts          map[string]http.Handler

	logger *slog.Logger
}

// New returns a FileServer rooted at documentRoot.
func New(logger *slog.Logger, documentRoot string, directoryListing bool) *FileServer {
	return &FileServer{
		DocumentRoot:     documentRoot,
		DirectoryListing: directoryListing,
		Scripts:          map[string]http.Handler{},
		logger:           logger.WithGroup("fileserver"),
	}
}

// Serve applies res's overrides to w, then serves path out of DocumentRoot.
// Overrides are set before the file is served. http.ServeContent and
// http.ServeFile leave an already-set Content-Type alone, so a MimeType
// override wins over their extension lookup and content sniffing.
func (fs *FileServer) Serve(w http.ResponseWriter, r *http.Request, path string, res *rewrite.Result, requestTime time.Time) {
	if res != nil {
		fs.applyOverrides(w, res, requestTime)
	}

	if h, ok := fs.Scripts[path]; ok {
		h.ServeHTTP(w, r)
		return
	}

	full := filepath.Join(fs.DocumentRoot, filepath.Clean("/"+path))

	info, err := os.Stat(full)
	if err != nil {
		http.NotFound(w, r)
		return
	}

	if info.IsDir() {
		if !fs.DirectoryListing {
			http.NotFound(w, r)
			return
		}
		http.ServeFile(w, r, full)
		return
	}

	// ServeContent rather than ServeFile: ServeFile redirects any request
	// whose URL path ends in /index.html, instead of serving that file.
	f, err := os.Open(full)
	if err != nil {
		http.NotFound(w, r)
		return
	}
	defer f.Close()
	http.ServeContent(w, r, info.Name(), info.ModTime(), f)
}

func (fs *FileServer) applyOverrides(w http.ResponseWriter, res *rewrite.Result, requestTime time.Time) {
	if res.MimeTypeSet {
		w.Header().Set("Content-Type", res.MimeType)
	}
	if res.ServerStringSet {
		w.Header().Set("Server", res.ServerString)
	}
	for name, cookie := range res.Cookies {
		http.SetCookie(w, &http.Cookie{
			Name:    name,
			Value:   cookie.Value,
			Expires: requestTime.Add(cookie.TTL),
		})
	}
	if res.StatusSet {
		w.WriteHeader(res.Status)
	}
}
