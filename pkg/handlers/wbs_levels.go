package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/bildwerk/boq-engine/pkg/models"
	"github.com/bildwerk/boq-engine/pkg/services"
)

// WbsLevelListResponse for GET /wbs-levels
type WbsLevelListResponse struct {
	Levels []*models.WbsLevelSetting `json:"levels"`
	Total  int                       `json:"total"`
}

// WbsLevelsHandler serves a project's WBS level settings.
type WbsLevelsHandler struct {
	wbsService services.WbsLevelService
	logger     *zap.Logger
}

// NewWbsLevelsHandler creates a new WBS levels handler.
func NewWbsLevelsHandler(wbsService services.WbsLevelService, logger *zap.Logger) *WbsLevelsHandler {
	return &WbsLevelsHandler{wbsService: wbsService, logger: logger}
}

// RegisterRoutes registers the handler's routes on the given mux.
func (h *WbsLevelsHandler) RegisterRoutes(mux *http.ServeMux, scope ScopeMiddleware) {
	mux.HandleFunc("GET /api/projects/{pid}/wbs-levels", scope(h.List))
}

// List handles GET /api/projects/{pid}/wbs-levels
func (h *WbsLevelsHandler) List(w http.ResponseWriter, r *http.Request) {
	projectID, ok := ParseProjectID(w, r, h.logger)
	if !ok {
		return
	}

	levels, err := h.wbsService.ListSettings(r.Context(), projectID)
	if err != nil {
		h.logger.Error("Failed to list WBS levels",
			zap.String("project_id", projectID.String()),
			zap.Error(err))
		writeServiceError(w, err, "list_wbs_levels_failed", h.logger)
		return
	}

	response := WbsLevelListResponse{Levels: levels, Total: len(levels)}
	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Data: response}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}
