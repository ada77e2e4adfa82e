package http

import (
	"bytes"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/go-chi/chi/v5"

	"github.com/squeeko/squeeko/internal/storage"
	"github.com/squeeko/squeeko/internal/validation"
)

const maxUploadBytes = 512 << 20 // 512MB

// serveFiles answers the "presigned" download URLs in local storage mode.
func (h *Handlers) serveFiles(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "*")
	if key == "" || strings.Contains(key, "..") {
		http.Error(w, "invalid file path", http.StatusBadRequest)
		return
	}

	local, ok := h.Storage.(*storage.LocalStorage)
	if !ok {
		http.Error(w, "local file serving not enabled", http.StatusNotFound)
		return
	}

	http.ServeFile(w, r, filepath.Join(local.BaseDir(), filepath.FromSlash(key)))
}

// uploadFile accepts the client PUT against a local-mode upload target. The
// content is sniffed, anything that is not audio is rejected before it
// touches disk.
func (h *Handlers) uploadFile(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "*")
	if key == "" || strings.Contains(key, "..") {
		http.Error(w, "invalid file path", http.StatusBadRequest)
		return
	}

	local, ok := h.Storage.(*storage.LocalStorage)
	if !ok {
		http.Error(w, "local upload not enabled", http.StatusNotFound)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxUploadBytes+1))
	if err != nil {
		http.Error(w, "failed to read upload", http.StatusBadRequest)
		return
	}
	if len(body) == 0 {
		http.Error(w, "empty upload", http.StatusBadRequest)
		return
	}
	if len(body) > maxUploadBytes {
		http.Error(w, "file too large", http.StatusRequestEntityTooLarge)
		return
	}

	mtype := mimetype.Detect(body)
	if !validation.IsAudioMIME(mtype.String()) {
		slog.Warn("rejected non-audio upload", "key", key, "detected", mtype.String())
		http.Error(w, "only audio files are accepted", http.StatusUnsupportedMediaType)
		return
	}

	if err := local.WriteKey(key, bytes.NewReader(body)); err != nil {
		slog.Error("failed to store upload", "key", key, "error", err)
		http.Error(w, "failed to store file", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusOK)
}
