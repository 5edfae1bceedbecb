package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
)

// GetBlob returns blob metadata
func (h *Handler) GetBlob(w http.ResponseWriter, r *http.Request) {
	meta, err := h.service.GetBlobMeta(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, "Failed to get blob", err)
		return
	}
	render.JSON(w, r, meta)
}

// ReadBlob streams the assembled blob bytes
func (h *Handler) ReadBlob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	meta, err := h.service.GetBlobMeta(r.Context(), id)
	if err != nil {
		h.writeError(w, r, "Failed to get blob", err)
		return
	}
	data, err := h.service.ReadBlob(r.Context(), id)
	if err != nil {
		h.writeError(w, r, "Failed to read blob", err)
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.Header().Set("ETag", `"`+meta.SHA256.String()+`"`)
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(data); err != nil {
		h.logger.WarnContext(r.Context(), "Failed to write blob", "blob_id", id, "error", err)
	}
}

// ReadBlobChunk returns one stored chunk of a blob
func (h *Handler) ReadBlobChunk(w http.ResponseWriter, r *http.Request) {
	index, err := parseIndex(chi.URLParam(r, "index"))
	if err != nil {
		h.badRequest(w, r, "Invalid chunk index", err)
		return
	}
	data, err := h.service.ReadBlobChunk(r.Context(), chi.URLParam(r, "id"), index)
	if err != nil {
		h.writeError(w, r, "Failed to read blob chunk", err)
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(data); err != nil {
		h.logger.WarnContext(r.Context(), "Failed to write blob chunk", "blob_id", chi.URLParam(r, "id"), "index", index, "error", err)
	}
}

// DeleteBlob deletes a blob and its chunks
func (h *Handler) DeleteBlob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.service.DeleteBlob(r.Context(), id); err != nil {
		h.writeError(w, r, "Failed to delete blob", err)
		return
	}

	h.logger.InfoContext(r.Context(), "Blob deleted", "blob_id", id)
	w.WriteHeader(http.StatusNoContent)
}
