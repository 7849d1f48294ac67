package httpapi

import (
	"context"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/quiverhq/quiver/internal/domain"
	"github.com/quiverhq/quiver/internal/engine"
)

type createEntityPayload struct {
	ID      *uuid.UUID     `json:"id,omitempty"`
	Type    string         `json:"type"`
	Name    string         `json:"name"`
	AuthKey string         `json:"authKey,omitempty"`
	Fields  map[string]any `json:"fields"`
	Publish bool           `json:"publish,omitempty"`
}

func (p createEntityPayload) toRequest() engine.CreateEntityRequest {
	return engine.CreateEntityRequest{
		ID:      p.ID,
		Type:    p.Type,
		Name:    p.Name,
		AuthKey: p.AuthKey,
		Fields:  p.Fields,
		Publish: p.Publish,
	}
}

func (h *Handler) createEntity(w http.ResponseWriter, r *http.Request) {
	var payload createEntityPayload
	if err := decodeBody(r, &payload); err != nil {
		h.writeError(w, err)
		return
	}
	result, err := h.engine.CreateEntity(r.Context(), payload.toRequest())
	if err != nil {
		h.writeError(w, err)
		return
	}
	status := http.StatusCreated
	if result.Effect == engine.EffectNone {
		status = http.StatusOK
	}
	writeJSON(w, status, toEntityResponse(result))
}

func (h *Handler) upsertEntity(w http.ResponseWriter, r *http.Request) {
	var payload createEntityPayload
	if err := decodeBody(r, &payload); err != nil {
		h.writeError(w, err)
		return
	}
	result, err := h.engine.UpsertEntity(r.Context(), payload.toRequest())
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toEntityResponse(result))
}

type updateEntityPayload struct {
	Type    string         `json:"type,omitempty"`
	Name    *string        `json:"name,omitempty"`
	Fields  map[string]any `json:"fields"`
	Publish bool           `json:"publish,omitempty"`
}

func (h *Handler) updateEntity(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	var payload updateEntityPayload
	if err := decodeBody(r, &payload); err != nil {
		h.writeError(w, err)
		return
	}
	result, err := h.engine.UpdateEntity(r.Context(), engine.UpdateEntityRequest{
		ID:      id,
		Type:    payload.Type,
		Name:    payload.Name,
		Fields:  payload.Fields,
		Publish: payload.Publish,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toEntityResponse(result))
}

func readOptions(r *http.Request) (engine.GetEntityOptions, error) {
	opts := engine.GetEntityOptions{
		Published: r.URL.Query().Get("published") == "true",
	}
	if raw := r.URL.Query().Get("version"); raw != "" {
		version, err := strconv.Atoi(raw)
		if err != nil {
			return opts, domain.NewBadRequest("invalid version %q", raw)
		}
		opts.Version = &version
	}
	return opts, nil
}

func (h *Handler) getEntity(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	opts, err := readOptions(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	resolved, err := h.engine.GetEntity(r.Context(), id, opts)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toEntityResponse(&engine.EntityResult{Entity: resolved.Entity, Version: resolved.Version}))
}

func (h *Handler) getEntityByName(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	opts, err := readOptions(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	resolved, err := h.engine.GetEntityByName(r.Context(), name, opts)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toEntityResponse(&engine.EntityResult{Entity: resolved.Entity, Version: resolved.Version}))
}

func (h *Handler) getEntityHistory(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	versions, events, err := h.engine.GetEntityHistory(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"versions":         versions,
		"publishingEvents": events,
	})
}

type publishPayload struct {
	Items []struct {
		ID      uuid.UUID `json:"id"`
		Version *int      `json:"version,omitempty"`
	} `json:"items"`
}

func (h *Handler) publishEntities(w http.ResponseWriter, r *http.Request) {
	var payload publishPayload
	if err := decodeBody(r, &payload); err != nil {
		h.writeError(w, err)
		return
	}
	requests := make([]engine.PublishRequest, len(payload.Items))
	for i, item := range payload.Items {
		requests[i] = engine.PublishRequest{ID: item.ID, Version: item.Version}
	}
	results, err := h.engine.PublishEntities(r.Context(), requests)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toEntityResponses(results))
}

type unpublishPayload struct {
	IDs []uuid.UUID `json:"ids"`
}

func (h *Handler) unpublishEntities(w http.ResponseWriter, r *http.Request) {
	var payload unpublishPayload
	if err := decodeBody(r, &payload); err != nil {
		h.writeError(w, err)
		return
	}
	results, err := h.engine.UnpublishEntities(r.Context(), payload.IDs)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toEntityResponses(results))
}

func toEntityResponses(results []engine.EntityResult) []entityResponse {
	responses := make([]entityResponse, len(results))
	for i := range results {
		responses[i] = toEntityResponse(&results[i])
	}
	return responses
}

func (h *Handler) archiveEntity(w http.ResponseWriter, r *http.Request) {
	h.archiveWith(w, r, h.engine.ArchiveEntity)
}

func (h *Handler) unarchiveEntity(w http.ResponseWriter, r *http.Request) {
	h.archiveWith(w, r, h.engine.UnarchiveEntity)
}

func (h *Handler) archiveWith(w http.ResponseWriter, r *http.Request, op func(context.Context, uuid.UUID) (*engine.EntityResult, error)) {
	id, err := pathID(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	result, err := op(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toEntityResponse(result))
}
