package httpapi

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/quiverhq/quiver/internal/domain"
)

// searchEntities handles GET /entities with the composed filter and paging
// query parameters. published=true selects the published view.
func (h *Handler) searchEntities(w http.ResponseWriter, r *http.Request) {
	params := r.URL.Query()

	query := domain.EntityQuery{
		Text:    strings.TrimSpace(params.Get("text")),
		Order:   domain.EntityOrder(params.Get("order")),
		Reverse: params.Get("reverse") == "true",
	}
	if raw := params.Get("type"); raw != "" {
		query.EntityTypes = strings.Split(raw, ",")
	}
	if raw := params.Get("referencesEntity"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			h.writeError(w, domain.NewBadRequest("invalid referencesEntity %q", raw))
			return
		}
		query.ReferencesEntity = &id
	}
	box, err := parseBoundingBox(params.Get("bbox"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	query.BoundingBox = box

	paging, err := parsePaging(params)
	if err != nil {
		h.writeError(w, err)
		return
	}

	var conn *domain.Connection
	if params.Get("published") == "true" {
		conn, err = h.engine.SearchPublishedEntities(r.Context(), query, paging)
	} else {
		conn, err = h.engine.SearchDraftEntities(r.Context(), query, paging)
	}
	if err != nil {
		h.writeError(w, err)
		return
	}
	if conn == nil {
		writeJSON(w, http.StatusOK, map[string]any{"connection": nil})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"connection": conn})
}

// parseBoundingBox decodes "minLat,minLng,maxLat,maxLng".
func parseBoundingBox(raw string) (*domain.BoundingBox, error) {
	if raw == "" {
		return nil, nil
	}
	parts := strings.Split(raw, ",")
	if len(parts) != 4 {
		return nil, domain.NewBadRequest("bbox must be minLat,minLng,maxLat,maxLng")
	}
	values := make([]float64, 4)
	for i, part := range parts {
		value, err := strconv.ParseFloat(strings.TrimSpace(part), 64)
		if err != nil {
			return nil, domain.NewBadRequest("invalid bbox coordinate %q", part)
		}
		values[i] = value
	}
	box := &domain.BoundingBox{MinLat: values[0], MinLng: values[1], MaxLat: values[2], MaxLng: values[3]}
	if !box.Valid() {
		return nil, domain.NewBadRequest("invalid bounding box")
	}
	return box, nil
}

func parsePaging(params map[string][]string) (domain.Paging, error) {
	var paging domain.Paging
	get := func(name string) string {
		if values := params[name]; len(values) > 0 {
			return values[0]
		}
		return ""
	}
	for _, name := range []string{"first", "last"} {
		raw := get(name)
		if raw == "" {
			continue
		}
		count, err := strconv.Atoi(raw)
		if err != nil {
			return paging, domain.NewBadRequest("invalid %s %q", name, raw)
		}
		if name == "first" {
			paging.First = &count
		} else {
			paging.Last = &count
		}
	}
	if raw := get("after"); raw != "" {
		paging.After = &raw
	}
	if raw := get("before"); raw != "" {
		paging.Before = &raw
	}
	return paging, nil
}
