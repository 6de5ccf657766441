package handlers

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/bildwerk/boq-engine/pkg/models"
	"github.com/bildwerk/boq-engine/pkg/services"
)

// ScopeMiddleware wraps a handler with the project database scope.
type ScopeMiddleware func(http.HandlerFunc) http.HandlerFunc

// ============================================================================
// Request/Response Types
// ============================================================================

// VersionListResponse for GET /scenarios/{scenario}/versions
type VersionListResponse struct {
	ActiveVersionID string                    `json:"active_version_id,omitempty"`
	Versions        []*models.ScenarioVersion `json:"versions"`
	Total           int                       `json:"total"`
}

// CreateVersionRequest for POST /scenarios/{scenario}/versions
type CreateVersionRequest struct {
	Name  string `json:"name,omitempty"`
	Notes string `json:"notes,omitempty"`
}

// CloneVersionRequest for POST /versions/{vid}/clone
type CloneVersionRequest struct {
	Name  string `json:"name,omitempty"`
	Notes string `json:"notes,omitempty"`
}

// ArchiveVersionRequest for POST /versions/{vid}/archive
type ArchiveVersionRequest struct {
	Archived bool `json:"archived"`
}

// ============================================================================
// Handler
// ============================================================================

// ScenarioVersionsHandler handles scenario version lifecycle HTTP requests.
type ScenarioVersionsHandler struct {
	versionService services.ScenarioVersionService
	logger         *zap.Logger
}

// NewScenarioVersionsHandler creates a new scenario versions handler.
func NewScenarioVersionsHandler(versionService services.ScenarioVersionService, logger *zap.Logger) *ScenarioVersionsHandler {
	return &ScenarioVersionsHandler{
		versionService: versionService,
		logger:         logger,
	}
}

// RegisterRoutes registers the handler's routes on the given mux.
func (h *ScenarioVersionsHandler) RegisterRoutes(mux *http.ServeMux, scope ScopeMiddleware) {
	mux.HandleFunc("GET /api/projects/{pid}/scenarios/{scenario}/versions", scope(h.List))
	mux.HandleFunc("POST /api/projects/{pid}/scenarios/{scenario}/versions", scope(h.Create))
	mux.HandleFunc("POST /api/projects/{pid}/versions/{vid}/clone", scope(h.Clone))
	mux.HandleFunc("POST /api/projects/{pid}/versions/{vid}/freeze", scope(h.Freeze))
	mux.HandleFunc("POST /api/projects/{pid}/versions/{vid}/archive", scope(h.Archive))
	mux.HandleFunc("POST /api/projects/{pid}/versions/{vid}/activate", scope(h.Activate))
}

// List handles GET /api/projects/{pid}/scenarios/{scenario}/versions
func (h *ScenarioVersionsHandler) List(w http.ResponseWriter, r *http.Request) {
	projectID, ok := ParseProjectID(w, r, h.logger)
	if !ok {
		return
	}
	scenario, ok := ParseScenario(w, r, h.logger)
	if !ok {
		return
	}
	includeArchived := r.URL.Query().Get("include_archived") == "true"

	list, err := h.versionService.ListVersions(r.Context(), projectID, scenario, includeArchived)
	if err != nil {
		h.logger.Error("Failed to list scenario versions",
			zap.String("project_id", projectID.String()),
			zap.String("scenario", string(scenario)),
			zap.Error(err))
		writeServiceError(w, err, "list_versions_failed", h.logger)
		return
	}

	response := VersionListResponse{
		Versions: list.Versions,
		Total:    len(list.Versions),
	}
	if list.ActiveVersionID != nil {
		response.ActiveVersionID = list.ActiveVersionID.String()
	}

	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Data: response}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// Create handles POST /api/projects/{pid}/scenarios/{scenario}/versions
func (h *ScenarioVersionsHandler) Create(w http.ResponseWriter, r *http.Request) {
	projectID, ok := ParseProjectID(w, r, h.logger)
	if !ok {
		return
	}
	scenario, ok := ParseScenario(w, r, h.logger)
	if !ok {
		return
	}

	var req CreateVersionRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			if err := ErrorResponse(w, http.StatusBadRequest, "invalid_request", "Invalid request body"); err != nil {
				h.logger.Error("Failed to write error response", zap.Error(err))
			}
			return
		}
	}

	version, err := h.versionService.CreateVersion(r.Context(), projectID, scenario, req.Name, req.Notes, RequestUserID(r))
	if err != nil {
		h.logger.Error("Failed to create scenario version",
			zap.String("project_id", projectID.String()),
			zap.String("scenario", string(scenario)),
			zap.Error(err))
		writeServiceError(w, err, "create_version_failed", h.logger)
		return
	}

	if err := WriteJSON(w, http.StatusCreated, ApiResponse{Success: true, Data: version}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// Clone handles POST /api/projects/{pid}/versions/{vid}/clone
func (h *ScenarioVersionsHandler) Clone(w http.ResponseWriter, r *http.Request) {
	projectID, ok := ParseProjectID(w, r, h.logger)
	if !ok {
		return
	}
	versionID, ok := ParseVersionID(w, r, h.logger)
	if !ok {
		return
	}

	var req CloneVersionRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			if err := ErrorResponse(w, http.StatusBadRequest, "invalid_request", "Invalid request body"); err != nil {
				h.logger.Error("Failed to write error response", zap.Error(err))
			}
			return
		}
	}

	clone, err := h.versionService.CloneVersion(r.Context(), projectID, versionID, req.Name, req.Notes, RequestUserID(r))
	if err != nil {
		h.logger.Error("Failed to clone version",
			zap.String("version_id", versionID.String()),
			zap.Error(err))
		writeServiceError(w, err, "clone_version_failed", h.logger)
		return
	}

	if err := WriteJSON(w, http.StatusCreated, ApiResponse{Success: true, Data: clone}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// Freeze handles POST /api/projects/{pid}/versions/{vid}/freeze
func (h *ScenarioVersionsHandler) Freeze(w http.ResponseWriter, r *http.Request) {
	projectID, ok := ParseProjectID(w, r, h.logger)
	if !ok {
		return
	}
	versionID, ok := ParseVersionID(w, r, h.logger)
	if !ok {
		return
	}

	version, err := h.versionService.FreezeVersion(r.Context(), projectID, versionID, RequestUserID(r))
	if err != nil {
		h.logger.Error("Failed to freeze version",
			zap.String("version_id", versionID.String()),
			zap.Error(err))
		writeServiceError(w, err, "freeze_version_failed", h.logger)
		return
	}

	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Data: version}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// Archive handles POST /api/projects/{pid}/versions/{vid}/archive
func (h *ScenarioVersionsHandler) Archive(w http.ResponseWriter, r *http.Request) {
	projectID, ok := ParseProjectID(w, r, h.logger)
	if !ok {
		return
	}
	versionID, ok := ParseVersionID(w, r, h.logger)
	if !ok {
		return
	}

	var req ArchiveVersionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_request", "Invalid request body"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	version, err := h.versionService.SetArchived(r.Context(), projectID, versionID, req.Archived, RequestUserID(r))
	if err != nil {
		h.logger.Error("Failed to change archive state",
			zap.String("version_id", versionID.String()),
			zap.Bool("archived", req.Archived),
			zap.Error(err))
		writeServiceError(w, err, "archive_version_failed", h.logger)
		return
	}

	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Data: version}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// Activate handles POST /api/projects/{pid}/versions/{vid}/activate
func (h *ScenarioVersionsHandler) Activate(w http.ResponseWriter, r *http.Request) {
	projectID, ok := ParseProjectID(w, r, h.logger)
	if !ok {
		return
	}
	versionID, ok := ParseVersionID(w, r, h.logger)
	if !ok {
		return
	}

	if err := h.versionService.SetActiveVersion(r.Context(), projectID, versionID); err != nil {
		h.logger.Error("Failed to activate version",
			zap.String("version_id", versionID.String()),
			zap.Error(err))
		writeServiceError(w, err, "activate_version_failed", h.logger)
		return
	}

	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Data: map[string]string{"status": "active"}}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}
