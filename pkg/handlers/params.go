package handlers

import (
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/bildwerk/boq-engine/pkg/models"
)

// ParseProjectID extracts and validates the project ID from the request path.
// Returns the parsed UUID and true on success, or uuid.Nil and false on error
// (after writing an error response).
// Expects path parameter: pid
func ParseProjectID(w http.ResponseWriter, r *http.Request, logger *zap.Logger) (uuid.UUID, bool) {
	return parseUUID(w, r, "pid", "invalid_project_id", "Invalid project ID format", logger)
}

// ParseVersionID extracts and validates the version ID from the request path.
// Returns the parsed UUID and true on success, or uuid.Nil and false on error
// (after writing an error response).
// Expects path parameter: vid
func ParseVersionID(w http.ResponseWriter, r *http.Request, logger *zap.Logger) (uuid.UUID, bool) {
	return parseUUID(w, r, "vid", "invalid_version_id", "Invalid version ID format", logger)
}

// ParseLineID extracts and validates the line ID from the request path.
// Returns the parsed UUID and true on success, or uuid.Nil and false on error
// (after writing an error response).
// Expects path parameter: lid
func ParseLineID(w http.ResponseWriter, r *http.Request, logger *zap.Logger) (uuid.UUID, bool) {
	return parseUUID(w, r, "lid", "invalid_line_id", "Invalid line ID format", logger)
}

// ParseScenario extracts and validates the scenario from the request path.
// Expects path parameter: scenario
func ParseScenario(w http.ResponseWriter, r *http.Request, logger *zap.Logger) (models.Scenario, bool) {
	scenario, err := models.ParseScenario(r.PathValue("scenario"))
	if err != nil {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_scenario", err.Error()); err != nil {
			logger.Error("Failed to write error response", zap.Error(err))
		}
		return "", false
	}
	return scenario, true
}

// RequestUserID reads the acting user from the X-User-ID header the upstream
// gateway sets after authentication. Returns uuid.Nil when absent or
// malformed; version stamps then carry no user.
func RequestUserID(r *http.Request) uuid.UUID {
	id, err := uuid.Parse(r.Header.Get("X-User-ID"))
	if err != nil {
		return uuid.Nil
	}
	return id
}

// parseUUID is the internal helper that does the actual parsing work.
func parseUUID(w http.ResponseWriter, r *http.Request, pathParam, errorCode, errorMessage string, logger *zap.Logger) (uuid.UUID, bool) {
	idStr := r.PathValue(pathParam)
	id, err := uuid.Parse(idStr)
	if err != nil {
		if err := ErrorResponse(w, http.StatusBadRequest, errorCode, errorMessage); err != nil {
			logger.Error("Failed to write error response", zap.Error(err))
		}
		return uuid.Nil, false
	}
	return id, true
}
