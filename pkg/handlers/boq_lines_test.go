package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/bildwerk/boq-engine/pkg/apperrors"
	"github.com/bildwerk/boq-engine/pkg/models"
	"github.com/bildwerk/boq-engine/pkg/services"
)

func TestBoqLinesHandler_List(t *testing.T) {
	projectID := uuid.New()
	versionID := uuid.New()
	mock := &mockLineService{lines: []*models.BoqLine{
		{ID: uuid.New(), TariffCode: "T1"},
		{ID: uuid.New(), TariffCode: "T2"},
	}}
	handler := NewBoqLinesHandler(mock, &mockImportService{}, zap.NewNop())

	req := versionRequest(http.MethodGet, "/api/projects/"+projectID.String()+"/versions/"+versionID.String()+"/lines", nil, projectID,
		map[string]string{"vid": versionID.String()})
	rec := httptest.NewRecorder()

	handler.List(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	listResponse := decodeData[LineListResponse](t, rec)
	assert.Equal(t, 2, listResponse.Total)
}

func TestBoqLinesHandler_BulkUpsert(t *testing.T) {
	projectID := uuid.New()
	versionID := uuid.New()
	mock := &mockLineService{result: &models.BulkResult{Created: 2, Updated: 1}}
	handler := NewBoqLinesHandler(mock, &mockImportService{}, zap.NewNop())

	body, _ := json.Marshal(BulkUpsertRequest{Items: []services.LineInput{
		{ID: "new_A", TariffCode: "T1"},
		{ID: "new_B", ParentLineID: "new_A", TariffCode: "T2"},
		{ID: uuid.New().String(), TariffCode: "T3"},
	}})
	req := versionRequest(http.MethodPut, "/api/projects/"+projectID.String()+"/versions/"+versionID.String()+"/lines", body, projectID,
		map[string]string{"vid": versionID.String()})
	rec := httptest.NewRecorder()

	handler.BulkUpsert(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, mock.lastItems, 3)
	assert.Equal(t, "new_A", mock.lastItems[1].ParentLineID)

	result := decodeData[BulkUpsertResponse](t, rec)
	assert.Equal(t, 2, result.Created)
	assert.Equal(t, 1, result.Updated)
}

func TestBoqLinesHandler_BulkUpsert_EmptyItemsRejected(t *testing.T) {
	projectID := uuid.New()
	versionID := uuid.New()
	handler := NewBoqLinesHandler(&mockLineService{}, &mockImportService{}, zap.NewNop())

	body, _ := json.Marshal(BulkUpsertRequest{})
	req := versionRequest(http.MethodPut, "/api/projects/"+projectID.String()+"/versions/"+versionID.String()+"/lines", body, projectID,
		map[string]string{"vid": versionID.String()})
	rec := httptest.NewRecorder()

	handler.BulkUpsert(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestBoqLinesHandler_BulkUpsert_LockedVersionForbidden(t *testing.T) {
	projectID := uuid.New()
	versionID := uuid.New()
	mock := &mockLineService{err: apperrors.ErrVersionLocked}
	handler := NewBoqLinesHandler(mock, &mockImportService{}, zap.NewNop())

	body, _ := json.Marshal(BulkUpsertRequest{Items: []services.LineInput{{TariffCode: "T1"}}})
	req := versionRequest(http.MethodPut, "/api/projects/"+projectID.String()+"/versions/"+versionID.String()+"/lines", body, projectID,
		map[string]string{"vid": versionID.String()})
	rec := httptest.NewRecorder()

	handler.BulkUpsert(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestBoqLinesHandler_Delete_NotFound(t *testing.T) {
	projectID := uuid.New()
	lineID := uuid.New()
	mock := &mockLineService{err: apperrors.ErrNotFound}
	handler := NewBoqLinesHandler(mock, &mockImportService{}, zap.NewNop())

	req := versionRequest(http.MethodDelete, "/api/projects/"+projectID.String()+"/lines/"+lineID.String(), nil, projectID,
		map[string]string{"lid": lineID.String()})
	rec := httptest.NewRecorder()

	handler.Delete(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestBoqLinesHandler_Import(t *testing.T) {
	projectID := uuid.New()
	versionID := uuid.New()
	mock := &mockImportService{result: &models.BulkResult{Created: 5}}
	handler := NewBoqLinesHandler(&mockLineService{}, mock, zap.NewNop())

	payload := strings.Repeat("x", 128) // stand-in for workbook bytes
	req := httptest.NewRequest(http.MethodPost,
		"/api/projects/"+projectID.String()+"/versions/"+versionID.String()+"/lines/import",
		strings.NewReader(payload))
	req.SetPathValue("pid", projectID.String())
	req.SetPathValue("vid", versionID.String())
	rec := httptest.NewRecorder()

	handler.Import(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int64(len(payload)), mock.importedBytes)
	result := decodeData[BulkUpsertResponse](t, rec)
	assert.Equal(t, 5, result.Created)
}

func TestBoqLinesHandler_Import_BadWorkbook(t *testing.T) {
	projectID := uuid.New()
	versionID := uuid.New()
	mock := &mockImportService{err: apperrors.NewValidation("cannot read workbook")}
	handler := NewBoqLinesHandler(&mockLineService{}, mock, zap.NewNop())

	req := versionRequest(http.MethodPost, "/api/projects/"+projectID.String()+"/versions/"+versionID.String()+"/lines/import",
		[]byte("junk"), projectID, map[string]string{"vid": versionID.String()})
	rec := httptest.NewRecorder()

	handler.Import(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestBoqLinesHandler_Export(t *testing.T) {
	projectID := uuid.New()
	versionID := uuid.New()
	workbook := []byte{0x50, 0x4b, 0x03, 0x04} // zip magic
	mock := &mockImportService{workbook: workbook}
	handler := NewBoqLinesHandler(&mockLineService{}, mock, zap.NewNop())

	req := versionRequest(http.MethodGet, "/api/projects/"+projectID.String()+"/versions/"+versionID.String()+"/lines/export", nil, projectID,
		map[string]string{"vid": versionID.String()})
	rec := httptest.NewRecorder()

	handler.Export(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), versionID.String())
	assert.True(t, bytes.Equal(workbook, rec.Body.Bytes()))
}

func TestWbsLevelsHandler_List(t *testing.T) {
	projectID := uuid.New()
	mock := &mockWbsService{settings: []*models.WbsLevelSetting{
		{ProjectID: projectID, LevelKey: "discipline", Label: "Discipline", Enabled: true, Required: true, SortOrder: 1},
	}}
	handler := NewWbsLevelsHandler(mock, zap.NewNop())

	req := versionRequest(http.MethodGet, "/api/projects/"+projectID.String()+"/wbs-levels", nil, projectID, nil)
	rec := httptest.NewRecorder()

	handler.List(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	listResponse := decodeData[WbsLevelListResponse](t, rec)
	require.Equal(t, 1, listResponse.Total)
	assert.Equal(t, "discipline", listResponse.Levels[0].LevelKey)
}
