package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/tendant/simple-memories/pkg/memories"
)

// CreateMemory creates a memory from blob, inline and external assets
func (h *Handler) CreateMemory(w http.ResponseWriter, r *http.Request) {
	var req CreateMemoryRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		h.badRequest(w, r, "Invalid request body", err)
		return
	}

	memory, err := h.service.CreateMemory(r.Context(), req.toService())
	if err != nil {
		h.writeError(w, r, "Failed to create memory", err)
		return
	}

	h.logger.InfoContext(r.Context(), "Memory created", "memory_id", memory.ID, "assets", memory.AssetCount())
	render.Status(r, http.StatusCreated)
	render.JSON(w, r, memory)
}

// GetMemory retrieves a memory by ID
func (h *Handler) GetMemory(w http.ResponseWriter, r *http.Request) {
	memory, err := h.service.GetMemory(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, "Failed to get memory", err)
		return
	}
	render.JSON(w, r, memory)
}

// UpdateMemoryMetadata replaces the memory's shared metadata
func (h *Handler) UpdateMemoryMetadata(w http.ResponseWriter, r *http.Request) {
	var md memories.MemoryMetadata
	if err := render.DecodeJSON(r.Body, &md); err != nil {
		h.badRequest(w, r, "Invalid request body", err)
		return
	}

	memory, err := h.service.UpdateMemoryMetadata(r.Context(), chi.URLParam(r, "id"), md)
	if err != nil {
		h.writeError(w, r, "Failed to update memory metadata", err)
		return
	}
	render.JSON(w, r, memory)
}

// DeleteMemory deletes a memory; ?cascade=true also deletes its blobs
func (h *Handler) DeleteMemory(w http.ResponseWriter, r *http.Request) {
	cascade := false
	if raw := r.URL.Query().Get("cascade"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			h.badRequest(w, r, "Invalid cascade parameter", err)
			return
		}
		cascade = v
	}

	result, err := h.service.DeleteMemory(r.Context(), chi.URLParam(r, "id"), cascade)
	if err != nil {
		h.writeError(w, r, "Failed to delete memory", err)
		return
	}

	h.logger.InfoContext(r.Context(), "Memory deleted",
		"memory_id", result.MemoryID, "cascade", cascade, "blob_failures", len(result.BlobFailures))
	render.JSON(w, r, result)
}

// ListMemories lists a capsule's memories, newest last
// Query parameters:
//   - cursor: next_cursor from the previous page
//   - limit: page size, default 50, max 100
func (h *Handler) ListMemories(w http.ResponseWriter, r *http.Request) {
	req := memories.ListMemoriesRequest{
		CapsuleID: chi.URLParam(r, "id"),
		Cursor:    r.URL.Query().Get("cursor"),
	}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil {
			h.badRequest(w, r, "Invalid limit parameter", err)
			return
		}
		req.Limit = limit
	}

	page, err := h.service.ListMemories(r.Context(), req)
	if err != nil {
		h.writeError(w, r, "Failed to list memories", err)
		return
	}
	render.JSON(w, r, page)
}

// AddBlobAsset appends a blob-backed asset
func (h *Handler) AddBlobAsset(w http.ResponseWriter, r *http.Request) {
	var req BlobAssetRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		h.badRequest(w, r, "Invalid request body", err)
		return
	}
	id, err := h.service.AddBlobAsset(r.Context(), chi.URLParam(r, "id"), req.toService())
	h.assetCreated(w, r, id, err)
}

// AddInlineAsset appends an inline asset
func (h *Handler) AddInlineAsset(w http.ResponseWriter, r *http.Request) {
	var req InlineAssetRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		h.badRequest(w, r, "Invalid request body", err)
		return
	}
	id, err := h.service.AddInlineAsset(r.Context(), chi.URLParam(r, "id"), req.toService())
	h.assetCreated(w, r, id, err)
}

// AddExternalAsset appends an externally hosted asset
func (h *Handler) AddExternalAsset(w http.ResponseWriter, r *http.Request) {
	var req ExternalAssetRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		h.badRequest(w, r, "Invalid request body", err)
		return
	}
	id, err := h.service.AddExternalAsset(r.Context(), chi.URLParam(r, "id"), req.toService())
	h.assetCreated(w, r, id, err)
}

func (h *Handler) assetCreated(w http.ResponseWriter, r *http.Request, assetID string, err error) {
	if err != nil {
		h.writeError(w, r, "Failed to add asset", err)
		return
	}
	h.logger.InfoContext(r.Context(), "Asset added", "memory_id", chi.URLParam(r, "id"), "asset_id", assetID)
	render.Status(r, http.StatusCreated)
	render.JSON(w, r, AssetResponse{AssetID: assetID})
}
