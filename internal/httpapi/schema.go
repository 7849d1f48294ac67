package httpapi

import (
	"net/http"
	"strconv"

	"github.com/quiverhq/quiver/internal/domain"
)

func (h *Handler) getSchema(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.engine.GetSchemaSpecification(r.Context()))
}

func (h *Handler) updateSchema(w http.ResponseWriter, r *http.Request) {
	var update domain.SchemaSpecification
	if err := decodeBody(r, &update); err != nil {
		h.writeError(w, err)
		return
	}
	result, err := h.engine.UpdateSchemaSpecification(r.Context(), &update)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) listSyncEvents(w http.ResponseWriter, r *http.Request) {
	var after int64
	if raw := r.URL.Query().Get("after"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			h.writeError(w, domain.NewBadRequest("invalid sync cursor %q", raw))
			return
		}
		after = parsed
	}
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			h.writeError(w, domain.NewBadRequest("invalid limit %q", raw))
			return
		}
		limit = parsed
	}
	events, err := h.engine.GetSyncEvents(r.Context(), after, limit)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}

func (h *Handler) applySyncEvent(w http.ResponseWriter, r *http.Request) {
	var event domain.SyncEvent
	if err := decodeBody(r, &event); err != nil {
		h.writeError(w, err)
		return
	}
	if err := h.engine.ApplySyncEvent(r.Context(), event); err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"applied": event.ID})
}

func (h *Handler) syncHead(w http.ResponseWriter, r *http.Request) {
	last, err := h.engine.LastSyncEventID(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"lastEventId": last})
}

type principalPayload struct {
	Provider   string `json:"provider"`
	Identifier string `json:"identifier"`
}

func (h *Handler) resolvePrincipal(w http.ResponseWriter, r *http.Request) {
	var payload principalPayload
	if err := decodeBody(r, &payload); err != nil {
		h.writeError(w, err)
		return
	}
	principal, err := h.engine.ResolvePrincipal(r.Context(), payload.Provider, payload.Identifier)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, principal)
}
