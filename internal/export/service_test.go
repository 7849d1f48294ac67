package export

import (
	"bytes"
	"context"
	"testing"

	"github.com/xuri/excelize/v2"

	"github.com/quiverhq/quiver/internal/domain"
	"github.com/quiverhq/quiver/internal/engine"
	"github.com/quiverhq/quiver/internal/storage/memstore"
)

func newExportEngine(t *testing.T) *engine.Engine {
	t.Helper()
	eng, err := engine.New(context.Background(), memstore.New())
	if err != nil {
		t.Fatalf("engine.New: %v", err)
	}
	_, err = eng.UpdateSchemaSpecification(context.Background(), &domain.SchemaSpecification{
		EntityTypes: []domain.EntityTypeSpecification{
			{Name: "article", Fields: []domain.FieldSpecification{
				{Name: "title", Kind: domain.FieldKindString, Required: true},
				{Name: "rating", Kind: domain.FieldKindNumber},
			}},
		},
	})
	if err != nil {
		t.Fatalf("seed schema: %v", err)
	}
	return eng
}

func TestWriteWorkbook(t *testing.T) {
	eng := newExportEngine(t)
	ctx := context.Background()

	if _, err := eng.CreateEntity(ctx, engine.CreateEntityRequest{
		Type: "article", Name: "exported",
		Fields:  map[string]any{"title": "Exported", "rating": 4.5},
		Publish: true,
	}); err != nil {
		t.Fatalf("CreateEntity: %v", err)
	}
	if _, err := eng.CreateEntity(ctx, engine.CreateEntityRequest{
		Type: "article", Name: "draft only",
		Fields: map[string]any{"title": "Draft"},
	}); err != nil {
		t.Fatalf("CreateEntity: %v", err)
	}

	var buf bytes.Buffer
	if err := NewService(eng).WriteWorkbook(ctx, "article", &buf); err != nil {
		t.Fatalf("WriteWorkbook: %v", err)
	}

	file, err := excelize.OpenReader(&buf)
	if err != nil {
		t.Fatalf("open workbook: %v", err)
	}
	defer file.Close()

	rows, err := file.GetRows(file.GetSheetName(0))
	if err != nil {
		t.Fatalf("read rows: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected header plus one published row, got %d rows", len(rows))
	}
	header := rows[0]
	if header[0] != "id" || header[1] != "name" || header[2] != "title" || header[3] != "rating" {
		t.Fatalf("unexpected header %v", header)
	}
	if rows[1][1] != "exported" || rows[1][2] != "Exported" || rows[1][3] != "4.5" {
		t.Fatalf("unexpected data row %v", rows[1])
	}
}

func TestWriteWorkbookUnknownType(t *testing.T) {
	eng := newExportEngine(t)
	var buf bytes.Buffer
	err := NewService(eng).WriteWorkbook(context.Background(), "ghost", &buf)
	if !domain.IsNotFound(err) {
		t.Fatalf("expected NotFound, got %v", err)
	}
}
