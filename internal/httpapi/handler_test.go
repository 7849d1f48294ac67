package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"

	"github.com/quiverhq/quiver/internal/domain"
	"github.com/quiverhq/quiver/internal/engine"
	"github.com/quiverhq/quiver/internal/storage/memstore"
)

func newTestHandler(t *testing.T) *Handler {
	t.Helper()
	eng, err := engine.New(context.Background(), memstore.New())
	if err != nil {
		t.Fatalf("engine.New: %v", err)
	}
	_, err = eng.UpdateSchemaSpecification(context.Background(), &domain.SchemaSpecification{
		EntityTypes: []domain.EntityTypeSpecification{
			{Name: "article", Fields: []domain.FieldSpecification{
				{Name: "title", Kind: domain.FieldKindString, Required: true},
			}},
		},
	})
	if err != nil {
		t.Fatalf("seed schema: %v", err)
	}
	return NewHandler(eng, zerolog.Nop())
}

func doJSON(t *testing.T, h http.Handler, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, target, &buf)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestCreateAndGetEntity(t *testing.T) {
	h := newTestHandler(t)

	rec := doJSON(t, h, http.MethodPost, "/entities", map[string]any{
		"type":   "article",
		"name":   "hello",
		"fields": map[string]any{"title": "Hello"},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var created struct {
		Entity domain.Entity       `json:"entity"`
		Status domain.EntityStatus `json:"status"`
		Effect engine.Effect       `json:"effect"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if created.Status != domain.StatusDraft || created.Effect != engine.EffectCreated {
		t.Fatalf("unexpected create response %+v", created)
	}

	rec = doJSON(t, h, http.MethodGet, "/entities/"+created.Entity.ID.String(), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, h, http.MethodGet, "/entities/by-name/hello", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 by name, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestErrorMapping(t *testing.T) {
	h := newTestHandler(t)

	rec := doJSON(t, h, http.MethodGet, "/entities/6f1c2b9e-0000-4000-8000-000000000000", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	var payload struct {
		Error struct {
			Kind    string `json:"kind"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	if payload.Error.Kind != string(domain.ErrorKindNotFound) || payload.Error.Message == "" {
		t.Fatalf("unexpected error payload %+v", payload)
	}

	rec = doJSON(t, h, http.MethodGet, "/entities/not-a-uuid", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad id, got %d", rec.Code)
	}

	rec = doJSON(t, h, http.MethodPost, "/entities", map[string]any{
		"type": "article", "name": "broken",
		"fields": map[string]any{"bogus": "x"},
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown field, got %d", rec.Code)
	}
}

func TestSearchEndpoint(t *testing.T) {
	h := newTestHandler(t)
	for i := 0; i < 3; i++ {
		rec := doJSON(t, h, http.MethodPost, "/entities", map[string]any{
			"type":   "article",
			"name":   fmt.Sprintf("item %d", i),
			"fields": map[string]any{"title": fmt.Sprintf("Item %d", i)},
		})
		if rec.Code != http.StatusCreated {
			t.Fatalf("seed %d: %d %s", i, rec.Code, rec.Body.String())
		}
	}

	rec := doJSON(t, h, http.MethodGet, "/entities?first=2", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var page struct {
		Connection *domain.Connection `json:"connection"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &page); err != nil {
		t.Fatalf("decode page: %v", err)
	}
	if page.Connection == nil || len(page.Connection.Edges) != 2 || page.Connection.TotalCount != 3 {
		t.Fatalf("unexpected connection %+v", page.Connection)
	}

	rec = doJSON(t, h, http.MethodGet, "/entities?type=person", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	page.Connection = &domain.Connection{}
	if err := json.Unmarshal(rec.Body.Bytes(), &page); err != nil {
		t.Fatalf("decode empty page: %v", err)
	}
	if page.Connection != nil {
		t.Fatalf("zero matches must serialize a null connection, got %+v", page.Connection)
	}

	rec = doJSON(t, h, http.MethodGet, "/entities?bbox=1,2,3", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for malformed bbox, got %d", rec.Code)
	}
}

func TestPublishEndpoints(t *testing.T) {
	h := newTestHandler(t)
	rec := doJSON(t, h, http.MethodPost, "/entities", map[string]any{
		"type": "article", "name": "release",
		"fields": map[string]any{"title": "Release"},
	})
	var created struct {
		Entity domain.Entity `json:"entity"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode created: %v", err)
	}

	rec = doJSON(t, h, http.MethodPost, "/entities/publish", map[string]any{
		"items": []map[string]any{{"id": created.Entity.ID.String()}},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var published []entityResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &published); err != nil {
		t.Fatalf("decode publish response: %v", err)
	}
	if len(published) != 1 || published[0].Status != domain.StatusPublished {
		t.Fatalf("unexpected publish response %+v", published)
	}

	rec = doJSON(t, h, http.MethodPost, "/entities/unpublish", map[string]any{
		"ids": []string{created.Entity.ID.String()},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestSchemaAndSyncEndpoints(t *testing.T) {
	h := newTestHandler(t)

	rec := doJSON(t, h, http.MethodGet, "/schema", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var spec domain.SchemaSpecification
	if err := json.Unmarshal(rec.Body.Bytes(), &spec); err != nil {
		t.Fatalf("decode schema: %v", err)
	}
	if spec.Version != 1 {
		t.Fatalf("expected seeded schema version 1, got %d", spec.Version)
	}

	rec = doJSON(t, h, http.MethodGet, "/sync/head", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var head struct {
		LastEventID int64 `json:"lastEventId"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &head); err != nil {
		t.Fatalf("decode head: %v", err)
	}
	if head.LastEventID != 1 {
		t.Fatalf("expected the schema event in the log, got %d", head.LastEventID)
	}

	rec = doJSON(t, h, http.MethodGet, "/sync/events?after=abc", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad cursor, got %d", rec.Code)
	}

	rec = doJSON(t, h, http.MethodGet, "/sync/events", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var events struct {
		Events []domain.SyncEvent `json:"events"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &events); err != nil {
		t.Fatalf("decode events: %v", err)
	}
	if len(events.Events) != 1 || events.Events[0].Kind != domain.EventUpdateSchema {
		t.Fatalf("unexpected event log %+v", events.Events)
	}
}

func TestPrincipalEndpoint(t *testing.T) {
	h := newTestHandler(t)
	rec := doJSON(t, h, http.MethodPost, "/principals", map[string]any{
		"provider": "github", "identifier": "ada",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var principal domain.Principal
	if err := json.Unmarshal(rec.Body.Bytes(), &principal); err != nil {
		t.Fatalf("decode principal: %v", err)
	}
	if principal.Provider != "github" || principal.Identifier != "ada" {
		t.Fatalf("unexpected principal %+v", principal)
	}

	rec = doJSON(t, h, http.MethodPost, "/principals", map[string]any{"provider": "github"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing identifier, got %d", rec.Code)
	}
}
