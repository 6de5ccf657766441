package handlers

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/bildwerk/boq-engine/pkg/apperrors"
	"github.com/bildwerk/boq-engine/pkg/models"
)

func versionRequest(method, path string, body []byte, pid uuid.UUID, extra map[string]string) *http.Request {
	var req *http.Request
	if body != nil {
		req = httptest.NewRequest(method, path, bytes.NewReader(body))
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	req.SetPathValue("pid", pid.String())
	for k, v := range extra {
		req.SetPathValue(k, v)
	}
	return req
}

func decodeData[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var response ApiResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&response))
	assert.True(t, response.Success)

	dataBytes, err := json.Marshal(response.Data)
	require.NoError(t, err)
	var out T
	require.NoError(t, json.Unmarshal(dataBytes, &out))
	return out
}

func TestScenarioVersionsHandler_List(t *testing.T) {
	projectID := uuid.New()
	activeID := uuid.New()
	mock := &mockVersionService{
		list: &models.VersionList{
			ActiveVersionID: &activeID,
			Versions: []*models.ScenarioVersion{
				{ID: activeID, VersionNo: 1, Status: models.VersionStatusLocked},
				{ID: uuid.New(), VersionNo: 2, Status: models.VersionStatusDraft},
			},
		},
	}
	handler := NewScenarioVersionsHandler(mock, zap.NewNop())

	req := versionRequest(http.MethodGet, "/api/projects/"+projectID.String()+"/scenarios/tender/versions", nil, projectID,
		map[string]string{"scenario": "tender"})
	rec := httptest.NewRecorder()

	handler.List(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	listResponse := decodeData[VersionListResponse](t, rec)
	assert.Equal(t, activeID.String(), listResponse.ActiveVersionID)
	assert.Equal(t, 2, listResponse.Total)
}

func TestScenarioVersionsHandler_List_InvalidScenario(t *testing.T) {
	projectID := uuid.New()
	handler := NewScenarioVersionsHandler(&mockVersionService{}, zap.NewNop())

	req := versionRequest(http.MethodGet, "/api/projects/"+projectID.String()+"/scenarios/bogus/versions", nil, projectID,
		map[string]string{"scenario": "bogus"})
	rec := httptest.NewRecorder()

	handler.List(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestScenarioVersionsHandler_Create(t *testing.T) {
	projectID := uuid.New()
	userID := uuid.New()
	mock := &mockVersionService{}
	handler := NewScenarioVersionsHandler(mock, zap.NewNop())

	body, _ := json.Marshal(CreateVersionRequest{Name: "Baseline"})
	req := versionRequest(http.MethodPost, "/api/projects/"+projectID.String()+"/scenarios/tender/versions", body, projectID,
		map[string]string{"scenario": "tender"})
	req.Header.Set("X-User-ID", userID.String())
	rec := httptest.NewRecorder()

	handler.Create(rec, req)

	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "Baseline", mock.lastName)
	assert.Equal(t, userID, mock.lastUserID)
}

func TestScenarioVersionsHandler_Create_EmptyBodyAllowed(t *testing.T) {
	projectID := uuid.New()
	handler := NewScenarioVersionsHandler(&mockVersionService{}, zap.NewNop())

	req := versionRequest(http.MethodPost, "/api/projects/"+projectID.String()+"/scenarios/cost/versions", nil, projectID,
		map[string]string{"scenario": "cost"})
	rec := httptest.NewRecorder()

	handler.Create(rec, req)

	assert.Equal(t, http.StatusCreated, rec.Code)
}

func TestScenarioVersionsHandler_Freeze_ErrorMapping(t *testing.T) {
	projectID := uuid.New()
	versionID := uuid.New()

	tests := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{"missing version", apperrors.ErrNotFound, http.StatusNotFound},
		{"empty version", apperrors.NewValidation("cannot freeze an empty version"), http.StatusBadRequest},
		{"storage failure", errors.New("connection reset"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := &mockVersionService{err: tt.err}
			handler := NewScenarioVersionsHandler(mock, zap.NewNop())

			req := versionRequest(http.MethodPost, "/api/projects/"+projectID.String()+"/versions/"+versionID.String()+"/freeze", nil, projectID,
				map[string]string{"vid": versionID.String()})
			rec := httptest.NewRecorder()

			handler.Freeze(rec, req)

			assert.Equal(t, tt.wantStatus, rec.Code)
		})
	}
}

func TestScenarioVersionsHandler_Archive(t *testing.T) {
	projectID := uuid.New()
	versionID := uuid.New()
	mock := &mockVersionService{version: &models.ScenarioVersion{ID: versionID}}
	handler := NewScenarioVersionsHandler(mock, zap.NewNop())

	body, _ := json.Marshal(ArchiveVersionRequest{Archived: true})
	req := versionRequest(http.MethodPost, "/api/projects/"+projectID.String()+"/versions/"+versionID.String()+"/archive", body, projectID,
		map[string]string{"vid": versionID.String()})
	rec := httptest.NewRecorder()

	handler.Archive(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestScenarioVersionsHandler_Archive_ActiveVersionRejected(t *testing.T) {
	projectID := uuid.New()
	versionID := uuid.New()
	mock := &mockVersionService{err: apperrors.NewValidation("cannot archive the active version")}
	handler := NewScenarioVersionsHandler(mock, zap.NewNop())

	body, _ := json.Marshal(ArchiveVersionRequest{Archived: true})
	req := versionRequest(http.MethodPost, "/api/projects/"+projectID.String()+"/versions/"+versionID.String()+"/archive", body, projectID,
		map[string]string{"vid": versionID.String()})
	rec := httptest.NewRecorder()

	handler.Archive(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestScenarioVersionsHandler_Activate_BadVersionID(t *testing.T) {
	projectID := uuid.New()
	handler := NewScenarioVersionsHandler(&mockVersionService{}, zap.NewNop())

	req := versionRequest(http.MethodPost, "/api/projects/"+projectID.String()+"/versions/not-a-uuid/activate", nil, projectID,
		map[string]string{"vid": "not-a-uuid"})
	rec := httptest.NewRecorder()

	handler.Activate(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
