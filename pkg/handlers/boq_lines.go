package handlers

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/bildwerk/boq-engine/pkg/models"
	"github.com/bildwerk/boq-engine/pkg/services"
)

// maxWorkbookBytes caps xlsx uploads.
const maxWorkbookBytes = 20 << 20

// ============================================================================
// Request/Response Types
// ============================================================================

// LineListResponse for GET /versions/{vid}/lines
type LineListResponse struct {
	Lines []*models.BoqLine `json:"lines"`
	Total int               `json:"total"`
}

// BulkUpsertRequest for PUT /versions/{vid}/lines
type BulkUpsertRequest struct {
	Items []services.LineInput `json:"items"`
}

// BulkUpsertResponse reports reconciliation counts.
type BulkUpsertResponse struct {
	Created int `json:"created"`
	Updated int `json:"updated"`
}

// ============================================================================
// Handler
// ============================================================================

// BoqLinesHandler handles BOQ line HTTP requests.
type BoqLinesHandler struct {
	lineService   services.BoqLineService
	importService services.BoqImportService
	logger        *zap.Logger
}

// NewBoqLinesHandler creates a new BOQ lines handler.
func NewBoqLinesHandler(
	lineService services.BoqLineService,
	importService services.BoqImportService,
	logger *zap.Logger,
) *BoqLinesHandler {
	return &BoqLinesHandler{
		lineService:   lineService,
		importService: importService,
		logger:        logger,
	}
}

// RegisterRoutes registers the handler's routes on the given mux.
func (h *BoqLinesHandler) RegisterRoutes(mux *http.ServeMux, scope ScopeMiddleware) {
	mux.HandleFunc("GET /api/projects/{pid}/versions/{vid}/lines", scope(h.List))
	mux.HandleFunc("PUT /api/projects/{pid}/versions/{vid}/lines", scope(h.BulkUpsert))
	mux.HandleFunc("DELETE /api/projects/{pid}/lines/{lid}", scope(h.Delete))
	mux.HandleFunc("POST /api/projects/{pid}/versions/{vid}/lines/import", scope(h.Import))
	mux.HandleFunc("GET /api/projects/{pid}/versions/{vid}/lines/export", scope(h.Export))
}

// List handles GET /api/projects/{pid}/versions/{vid}/lines
func (h *BoqLinesHandler) List(w http.ResponseWriter, r *http.Request) {
	projectID, ok := ParseProjectID(w, r, h.logger)
	if !ok {
		return
	}
	versionID, ok := ParseVersionID(w, r, h.logger)
	if !ok {
		return
	}

	lines, err := h.lineService.ListLines(r.Context(), projectID, versionID)
	if err != nil {
		h.logger.Error("Failed to list lines",
			zap.String("version_id", versionID.String()),
			zap.Error(err))
		writeServiceError(w, err, "list_lines_failed", h.logger)
		return
	}

	response := LineListResponse{Lines: lines, Total: len(lines)}
	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Data: response}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// BulkUpsert handles PUT /api/projects/{pid}/versions/{vid}/lines
func (h *BoqLinesHandler) BulkUpsert(w http.ResponseWriter, r *http.Request) {
	projectID, ok := ParseProjectID(w, r, h.logger)
	if !ok {
		return
	}
	versionID, ok := ParseVersionID(w, r, h.logger)
	if !ok {
		return
	}

	var req BulkUpsertRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_request", "Invalid request body"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}
	if len(req.Items) == 0 {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_request", "items must not be empty"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	result, err := h.lineService.BulkUpsertLines(r.Context(), projectID, versionID, req.Items)
	if err != nil {
		h.logger.Error("Failed to reconcile lines",
			zap.String("version_id", versionID.String()),
			zap.Int("items", len(req.Items)),
			zap.Error(err))
		writeServiceError(w, err, "bulk_upsert_failed", h.logger)
		return
	}

	response := BulkUpsertResponse{Created: result.Created, Updated: result.Updated}
	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Data: response}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// Delete handles DELETE /api/projects/{pid}/lines/{lid}
func (h *BoqLinesHandler) Delete(w http.ResponseWriter, r *http.Request) {
	projectID, ok := ParseProjectID(w, r, h.logger)
	if !ok {
		return
	}
	lineID, ok := ParseLineID(w, r, h.logger)
	if !ok {
		return
	}

	if err := h.lineService.DeleteLine(r.Context(), projectID, lineID); err != nil {
		h.logger.Error("Failed to delete line",
			zap.String("line_id", lineID.String()),
			zap.Error(err))
		writeServiceError(w, err, "delete_line_failed", h.logger)
		return
	}

	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Data: map[string]string{"status": "deleted"}}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// Import handles POST /api/projects/{pid}/versions/{vid}/lines/import
func (h *BoqLinesHandler) Import(w http.ResponseWriter, r *http.Request) {
	projectID, ok := ParseProjectID(w, r, h.logger)
	if !ok {
		return
	}
	versionID, ok := ParseVersionID(w, r, h.logger)
	if !ok {
		return
	}

	body := http.MaxBytesReader(w, r.Body, maxWorkbookBytes)
	result, err := h.importService.ImportWorkbook(r.Context(), projectID, versionID, body)
	if err != nil {
		h.logger.Error("Failed to import workbook",
			zap.String("version_id", versionID.String()),
			zap.Error(err))
		writeServiceError(w, err, "import_workbook_failed", h.logger)
		return
	}

	response := BulkUpsertResponse{Created: result.Created, Updated: result.Updated}
	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Data: response}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// Export handles GET /api/projects/{pid}/versions/{vid}/lines/export
func (h *BoqLinesHandler) Export(w http.ResponseWriter, r *http.Request) {
	projectID, ok := ParseProjectID(w, r, h.logger)
	if !ok {
		return
	}
	versionID, ok := ParseVersionID(w, r, h.logger)
	if !ok {
		return
	}

	data, err := h.importService.ExportWorkbook(r.Context(), projectID, versionID)
	if err != nil {
		h.logger.Error("Failed to export workbook",
			zap.String("version_id", versionID.String()),
			zap.Error(err))
		writeServiceError(w, err, "export_workbook_failed", h.logger)
		return
	}

	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="boq-%s.xlsx"`, versionID))
	if _, err := bytes.NewReader(data).WriteTo(w); err != nil {
		h.logger.Error("Failed to stream workbook", zap.Error(err))
	}
}
