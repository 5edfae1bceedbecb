package api

import (
	"log/slog"

	"github.com/go-chi/chi/v5"
	"github.com/tendant/simple-memories/pkg/memories"
)

// Handler serves the memories HTTP API on top of a memories.Service
type Handler struct {
	service memories.Service
	logger  *slog.Logger
}

// NewHandler creates a new handler
func NewHandler(service memories.Service, logger *slog.Logger) *Handler {
	return &Handler{
		service: service,
		logger:  loggerOrDefault(logger),
	}
}

// Routes returns the API routes, relative to the mount point
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	// Capsules
	r.Post("/capsules", h.CreateCapsule)
	r.Post("/capsules/resolve", h.ResolveCapsule)
	r.Get("/capsules/{id}", h.GetCapsule)
	r.Get("/capsules/{id}/memories", h.ListMemories)

	// Upload sessions
	r.Post("/uploads", h.BeginUpload)
	r.Post("/uploads/reap", h.ReapSessions)
	r.Get("/uploads/{id}", h.GetUpload)
	r.Put("/uploads/{id}/chunks/{index}", h.PutChunk)
	r.Post("/uploads/{id}/finish", h.FinishUpload)
	r.Delete("/uploads/{id}", h.AbortUpload)

	// Blobs
	r.Get("/blobs/{id}", h.GetBlob)
	r.Get("/blobs/{id}/content", h.ReadBlob)
	r.Get("/blobs/{id}/chunks/{index}", h.ReadBlobChunk)
	r.Delete("/blobs/{id}", h.DeleteBlob)

	// Memories
	r.Post("/memories", h.CreateMemory)
	r.Get("/memories/{id}", h.GetMemory)
	r.Put("/memories/{id}/metadata", h.UpdateMemoryMetadata)
	r.Delete("/memories/{id}", h.DeleteMemory)
	r.Post("/memories/{id}/assets/blob", h.AddBlobAsset)
	r.Post("/memories/{id}/assets/inline", h.AddInlineAsset)
	r.Post("/memories/{id}/assets/external", h.AddExternalAsset)

	return r
}
