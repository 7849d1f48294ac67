package export

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/quiverhq/quiver/internal/domain"
)

// Handler serves GET /export/xlsx?type=<entityType>.
type Handler struct {
	service *Service
}

// NewHTTPHandler wraps the service.
func NewHTTPHandler(service *Service) http.Handler {
	return &Handler{service: service}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	entityType := strings.TrimSpace(r.URL.Query().Get("type"))
	if entityType == "" {
		http.Error(w, "type is required", http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", entityType+".xlsx"))

	if err := h.service.WriteWorkbook(r.Context(), entityType, w); err != nil {
		if domain.IsNotFound(err) {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
