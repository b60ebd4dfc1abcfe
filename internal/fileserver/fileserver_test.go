//go:build unit_test

package fileserver

import (
	"io"
	"log/slog"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"httpd/internal/rewrite"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestFileServer_servesFileAndAppliesOverrides(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "hello.txt"), []byte("hi"), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	fs := New(testLogger(), dir, false)

	req := httptest.NewRequest("GET", "/hello.txt", nil)
	w := httptest.NewRecorder()

	res := &rewrite.Result{
		MimeType:    "text/plain",
		MimeTypeSet: true,
		Cookies: map[string]rewrite.Cookie{
			"sid": {Value: "abc", TTL: time.Hour},
		},
	}

	fs.Serve(w, req, "/hello.txt", res, time.Now())

	if ct := w.Header().Get("Content-Type"); ct != "text/plain" {
		t.Errorf("Content-Type = %q, want text/plain", ct)
	}
	if w.Body.String() != "hi" {
		t.Errorf("body = %q, want hi", w.Body.String())
	}
	cookies := w.Result().Cookies()
	if len(cookies) != 1 || cookies[0].Name != "sid" || cookies[0].Value != "abc" {
		t.Errorf("cookies = %v, want sid=abc", cookies)
	}
}

func TestFileServer_missingFileIs404(t *testing.T) {
	dir := t.TempDir()
	fs := New(testLogger(), dir, false)

	req := httptest.NewRequest("GET", "/nope.txt", nil)
	w := httptest.NewRecorder()

	fs.Serve(w, req, "/nope.txt", nil, time.Now())

	if w.Code != 404 {
		t.Errorf("Code = %d, want 404", w.Code)
	}
}

func TestFileServer_directoryListingDisabledIs404(t *testing.T) {
	dir := t.TempDir()
	if err := os.Mkdir(filepath.Join(dir, "sub"), 0o755); err != nil {
		t.Fatalf("Mkdir() error = %v", err)
	}
	fs := New(testLogger(), dir, false)

	req := httptest.NewRequest("GET", "/sub", nil)
	w := httptest.NewRecorder()

	fs.Serve(w, req, "/sub", nil, time.Now())

	if w.Code != 404 {
		t.Errorf("Code = %d, want 404 when directory listing disabled", w.Code)
	}
}
