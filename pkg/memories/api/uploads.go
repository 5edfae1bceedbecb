package api

import (
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/tendant/simple-memories/pkg/memories"
)

// BeginUpload opens an upload session
func (h *Handler) BeginUpload(w http.ResponseWriter, r *http.Request) {
	var req memories.BeginUploadRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		h.badRequest(w, r, "Invalid request body", err)
		return
	}

	session, err := h.service.BeginUpload(r.Context(), req)
	if err != nil {
		h.writeError(w, r, "Failed to begin upload", err)
		return
	}

	h.logger.InfoContext(r.Context(), "Upload started",
		"session_id", session.ID, "capsule_id", session.CapsuleID, "expected_chunks", session.ExpectedChunks)
	render.Status(r, http.StatusCreated)
	render.JSON(w, r, session)
}

// GetUpload reports the status of an upload session
func (h *Handler) GetUpload(w http.ResponseWriter, r *http.Request) {
	session, err := h.service.GetUpload(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, "Failed to get upload", err)
		return
	}
	render.JSON(w, r, session)
}

// PutChunk stores the raw request body as one chunk
func (h *Handler) PutChunk(w http.ResponseWriter, r *http.Request) {
	index, err := parseIndex(chi.URLParam(r, "index"))
	if err != nil {
		h.badRequest(w, r, "Invalid chunk index", err)
		return
	}

	body := http.MaxBytesReader(w, r.Body, h.service.Limits().MaxChunkSize)
	data, err := io.ReadAll(body)
	if err != nil {
		h.writeError(w, r, "Failed to read chunk", err)
		return
	}

	session, err := h.service.PutChunk(r.Context(), memories.PutChunkRequest{
		SessionID: chi.URLParam(r, "id"),
		Index:     index,
		Data:      data,
	})
	if err != nil {
		h.writeError(w, r, "Failed to store chunk", err)
		return
	}
	render.JSON(w, r, session)
}

// FinishUpload verifies the uploaded chunks and commits them as a blob
func (h *Handler) FinishUpload(w http.ResponseWriter, r *http.Request) {
	var req FinishUploadRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		h.badRequest(w, r, "Invalid request body", err)
		return
	}

	result, err := h.service.FinishUpload(r.Context(), req.toService(chi.URLParam(r, "id")))
	if err != nil {
		// A committed blob is reported even when its memory could not be created.
		h.writeErrorBody(w, r, "Failed to finish upload", err, result)
		return
	}

	h.logger.InfoContext(r.Context(), "Upload finished",
		"blob_id", result.BlobID, "memory_id", result.MemoryID, "size", result.Size)
	render.JSON(w, r, result)
}

// AbortUpload aborts an open upload session and releases its chunks
func (h *Handler) AbortUpload(w http.ResponseWriter, r *http.Request) {
	session, err := h.service.AbortUpload(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, "Failed to abort upload", err)
		return
	}
	render.JSON(w, r, session)
}

// ReapSessions expires abandoned sessions immediately
func (h *Handler) ReapSessions(w http.ResponseWriter, r *http.Request) {
	result, err := h.service.ReapExpiredSessions(r.Context())
	if err != nil {
		h.writeError(w, r, "Failed to reap sessions", err)
		return
	}
	render.JSON(w, r, result)
}

func parseIndex(raw string) (uint32, error) {
	v, err := strconv.ParseUint(raw, 10, 32)
	if err != nil {
		return 0, err
	}
	return uint32(v), nil
}
