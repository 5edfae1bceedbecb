package api

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
)

// CreateCapsule creates a new capsule
func (h *Handler) CreateCapsule(w http.ResponseWriter, r *http.Request) {
	var req CreateCapsuleRequest
	if r.ContentLength != 0 {
		if err := render.DecodeJSON(r.Body, &req); err != nil {
			h.badRequest(w, r, "Invalid request body", err)
			return
		}
	}

	capsule, err := h.service.CreateCapsule(r.Context(), req.Owner)
	if err != nil {
		h.writeError(w, r, "Failed to create capsule", err)
		return
	}

	h.logger.InfoContext(r.Context(), "Capsule created", "capsule_id", capsule.ID)
	render.Status(r, http.StatusCreated)
	render.JSON(w, r, capsule)
}

// ResolveCapsule returns the owner's capsule, creating it on first use
func (h *Handler) ResolveCapsule(w http.ResponseWriter, r *http.Request) {
	var req ResolveCapsuleRequest
	if r.ContentLength != 0 {
		if err := render.DecodeJSON(r.Body, &req); err != nil {
			h.badRequest(w, r, "Invalid request body", err)
			return
		}
	}
	owner := req.Owner
	if subject, ok := SubjectFromContext(r.Context()); ok {
		if owner != "" && owner != subject {
			h.badRequest(w, r, "Owner does not match token subject", fmt.Errorf("owner %q", owner))
			return
		}
		owner = subject
	}

	capsule, err := h.service.CapsuleForOwner(r.Context(), owner)
	if err != nil {
		h.writeError(w, r, "Failed to resolve capsule", err)
		return
	}
	render.JSON(w, r, capsule)
}

// GetCapsule retrieves a capsule by ID
func (h *Handler) GetCapsule(w http.ResponseWriter, r *http.Request) {
	capsule, err := h.service.GetCapsule(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, "Failed to get capsule", err)
		return
	}
	render.JSON(w, r, capsule)
}
