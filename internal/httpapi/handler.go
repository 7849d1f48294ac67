// Package httpapi exposes the engine's operation surface as a JSON API. It
// translates boundary errors onto HTTP status codes and does no domain logic
// itself.
package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/quiverhq/quiver/internal/domain"
	"github.com/quiverhq/quiver/internal/engine"
)

// Handler routes the JSON operation surface.
type Handler struct {
	engine *engine.Engine
	logger zerolog.Logger
	mux    *http.ServeMux
}

// NewHandler builds the route table.
func NewHandler(eng *engine.Engine, logger zerolog.Logger) *Handler {
	h := &Handler{engine: eng, logger: logger, mux: http.NewServeMux()}

	h.mux.HandleFunc("POST /entities", h.createEntity)
	h.mux.HandleFunc("POST /entities/upsert", h.upsertEntity)
	h.mux.HandleFunc("GET /entities", h.searchEntities)
	h.mux.HandleFunc("GET /entities/by-name/{name}", h.getEntityByName)
	h.mux.HandleFunc("GET /entities/{id}", h.getEntity)
	h.mux.HandleFunc("PATCH /entities/{id}", h.updateEntity)
	h.mux.HandleFunc("GET /entities/{id}/history", h.getEntityHistory)
	h.mux.HandleFunc("POST /entities/{id}/archive", h.archiveEntity)
	h.mux.HandleFunc("POST /entities/{id}/unarchive", h.unarchiveEntity)
	h.mux.HandleFunc("POST /entities/publish", h.publishEntities)
	h.mux.HandleFunc("POST /entities/unpublish", h.unpublishEntities)
	h.mux.HandleFunc("GET /schema", h.getSchema)
	h.mux.HandleFunc("PUT /schema", h.updateSchema)
	h.mux.HandleFunc("GET /sync/events", h.listSyncEvents)
	h.mux.HandleFunc("POST /sync/events", h.applySyncEvent)
	h.mux.HandleFunc("GET /sync/head", h.syncHead)
	h.mux.HandleFunc("POST /principals", h.resolvePrincipal)

	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

// statusOf maps boundary error kinds onto HTTP status codes.
func statusOf(err error) int {
	switch domain.KindOf(err) {
	case domain.ErrorKindBadRequest:
		return http.StatusBadRequest
	case domain.ErrorKindNotFound:
		return http.StatusNotFound
	case domain.ErrorKindConflict:
		return http.StatusConflict
	case domain.ErrorKindNotAuthorized:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	status := statusOf(err)
	if status == http.StatusInternalServerError {
		h.logger.Error().Err(err).Msg("internal error")
	}
	var boundary *domain.Error
	message := err.Error()
	kind := domain.ErrorKindGeneric
	if errors.As(err, &boundary) {
		message = boundary.Message
		kind = boundary.Kind
	}
	writeJSON(w, status, map[string]any{"error": map[string]any{"kind": kind, "message": message}})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func decodeBody(r *http.Request, into any) error {
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(into); err != nil {
		return domain.NewBadRequest("invalid request body: %v", err)
	}
	return nil
}

func pathID(r *http.Request) (uuid.UUID, error) {
	raw := r.PathValue("id")
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, domain.NewBadRequest("invalid entity id %q", raw)
	}
	return id, nil
}

// entityResponse is the wire shape of one mutation or read result.
type entityResponse struct {
	Entity  domain.Entity        `json:"entity"`
	Status  domain.EntityStatus  `json:"status"`
	Version domain.EntityVersion `json:"version"`
	Effect  engine.Effect        `json:"effect,omitempty"`
}

func toEntityResponse(result *engine.EntityResult) entityResponse {
	return entityResponse{
		Entity:  result.Entity,
		Status:  result.Entity.Status(),
		Version: result.Version,
		Effect:  result.Effect,
	}
}
