package handlers

import (
	"net/http"
	"strings"

	"github.com/ripplechat/ripple/internal/upload"
)

// maxUploadBytes caps a single attachment at 25 MiB.
const maxUploadBytes = 25 << 20

type UploadHandler struct {
	uploads *upload.Store // nil when no bucket is configured
}

func NewUploadHandler(uploads *upload.Store) *UploadHandler {
	return &UploadHandler{uploads: uploads}
}

func (h *UploadHandler) Upload(w http.ResponseWriter, r *http.Request) {
	if h.uploads == nil {
		respondError(w, "uploads are not configured", http.StatusServiceUnavailable)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	file, header, err := r.FormFile("file")
	if err != nil {
		respondError(w, "file field is required", http.StatusBadRequest)
		return
	}
	defer file.Close()

	contentType := header.Header.Get("Content-Type")
	if contentType == "" || !allowedContentType(contentType) {
		respondError(w, "unsupported file type", http.StatusBadRequest)
		return
	}

	url, err := h.uploads.Put(r.Context(), header.Filename, contentType, file)
	if err != nil {
		respondDomainError(w, err)
		return
	}

	respondJSON(w, map[string]any{
		"file_url":  url,
		"file_name": header.Filename,
		"file_size": header.Size,
		"mime_type": contentType,
	}, http.StatusCreated)
}

func allowedContentType(ct string) bool {
	for _, prefix := range []string{"image/", "video/", "audio/"} {
		if strings.HasPrefix(ct, prefix) {
			return true
		}
	}
	switch ct {
	case "application/pdf", "application/zip", "text/plain", "application/octet-stream":
		return true
	}
	return false
}
