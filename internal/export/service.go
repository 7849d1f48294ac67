// Package export renders published entities of one type into an xlsx
// workbook, one column per schema field.
package export

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/quiverhq/quiver/internal/domain"
	"github.com/quiverhq/quiver/internal/engine"
)

// exportPageSize bounds each query while paging through the published view.
const exportPageSize = 100

// Service pages the published view through the engine and writes workbooks.
type Service struct {
	engine *engine.Engine
}

// NewService creates an export service.
func NewService(eng *engine.Engine) *Service {
	return &Service{engine: eng}
}

// WriteWorkbook streams an xlsx workbook of all published entities of one
// type to w. Column order follows the field declaration order of the type;
// the entity id and name lead every row.
func (s *Service) WriteWorkbook(ctx context.Context, entityType string, w io.Writer) error {
	spec := s.engine.GetSchemaSpecification(ctx)
	typeSpec, known := spec.EntityType(entityType)
	if !known {
		return domain.NewNotFound("unknown entity type %s", entityType)
	}

	file := excelize.NewFile()
	defer file.Close()
	sheet := file.GetSheetName(0)

	headers := []string{"id", "name"}
	for _, field := range typeSpec.Fields {
		headers = append(headers, field.Name)
	}
	if err := writeRow(file, sheet, 1, headers); err != nil {
		return err
	}

	rowIndex := 2
	var after *string
	for {
		first := exportPageSize
		conn, err := s.engine.SearchPublishedEntities(ctx,
			domain.EntityQuery{EntityTypes: []string{entityType}, Order: domain.OrderCreatedAt},
			domain.Paging{First: &first, After: after})
		if err != nil {
			return err
		}
		if conn == nil || len(conn.Edges) == 0 {
			break
		}

		for _, edge := range conn.Edges {
			row := make([]string, 0, len(headers))
			row = append(row, edge.Node.Entity.ID.String(), edge.Node.Entity.Name)
			for _, field := range typeSpec.Fields {
				row = append(row, formatCell(edge.Node.Version.Fields[field.Name]))
			}
			if err := writeRow(file, sheet, rowIndex, row); err != nil {
				return err
			}
			rowIndex++
		}

		if !conn.PageInfo.HasNextPage {
			break
		}
		cursor := conn.PageInfo.EndCursor
		after = &cursor
	}

	if err := file.Write(w); err != nil {
		return fmt.Errorf("failed to write workbook: %w", err)
	}
	return nil
}

func writeRow(file *excelize.File, sheet string, row int, values []string) error {
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return fmt.Errorf("failed to address row %d: %w", row, err)
	}
	converted := make([]any, len(values))
	for i, v := range values {
		converted[i] = v
	}
	if err := file.SetSheetRow(sheet, cell, &converted); err != nil {
		return fmt.Errorf("failed to write row %d: %w", row, err)
	}
	return nil
}

// formatCell flattens one field value for a spreadsheet cell. Structured
// values render as compact JSON.
func formatCell(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case bool:
		if v {
			return "true"
		}
		return "false"
	case float64:
		return strings.TrimRight(strings.TrimRight(fmt.Sprintf("%f", v), "0"), ".")
	case time.Time:
		return v.UTC().Format(time.RFC3339)
	case map[string]any, []any:
		encoded, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(encoded)
	default:
		return fmt.Sprintf("%v", v)
	}
}
