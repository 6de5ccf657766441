package handlers

import (
	"context"
	"io"

	"github.com/google/uuid"

	"github.com/bildwerk/boq-engine/pkg/models"
	"github.com/bildwerk/boq-engine/pkg/services"
)

// mockVersionService is a configurable mock for all handler tests.
type mockVersionService struct {
	list    *models.VersionList
	version *models.ScenarioVersion
	err     error

	lastName   string
	lastUserID uuid.UUID
}

func (m *mockVersionService) ListVersions(ctx context.Context, projectID uuid.UUID, scenario models.Scenario, includeArchived bool) (*models.VersionList, error) {
	if m.err != nil {
		return nil, m.err
	}
	if m.list != nil {
		return m.list, nil
	}
	return &models.VersionList{}, nil
}

func (m *mockVersionService) CreateVersion(ctx context.Context, projectID uuid.UUID, scenario models.Scenario, name, notes string, userID uuid.UUID) (*models.ScenarioVersion, error) {
	m.lastName = name
	m.lastUserID = userID
	if m.err != nil {
		return nil, m.err
	}
	if m.version != nil {
		return m.version, nil
	}
	return &models.ScenarioVersion{
		ID:        uuid.New(),
		ProjectID: projectID,
		Scenario:  scenario,
		VersionNo: 1,
		Status:    models.VersionStatusDraft,
	}, nil
}

func (m *mockVersionService) CloneVersion(ctx context.Context, projectID, baseVersionID uuid.UUID, name, notes string, userID uuid.UUID) (*models.ScenarioVersion, error) {
	m.lastName = name
	if m.err != nil {
		return nil, m.err
	}
	return m.version, nil
}

func (m *mockVersionService) FreezeVersion(ctx context.Context, projectID, versionID, userID uuid.UUID) (*models.ScenarioVersion, error) {
	m.lastUserID = userID
	if m.err != nil {
		return nil, m.err
	}
	return m.version, nil
}

func (m *mockVersionService) SetArchived(ctx context.Context, projectID, versionID uuid.UUID, archived bool, userID uuid.UUID) (*models.ScenarioVersion, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.version, nil
}

func (m *mockVersionService) SetActiveVersion(ctx context.Context, projectID, versionID uuid.UUID) error {
	return m.err
}

// mockLineService is a configurable mock for line handler tests.
type mockLineService struct {
	lines  []*models.BoqLine
	result *models.BulkResult
	err    error

	lastItems []services.LineInput
}

func (m *mockLineService) ListLines(ctx context.Context, projectID, versionID uuid.UUID) ([]*models.BoqLine, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.lines, nil
}

func (m *mockLineService) BulkUpsertLines(ctx context.Context, projectID, versionID uuid.UUID, items []services.LineInput) (*models.BulkResult, error) {
	m.lastItems = items
	if m.err != nil {
		return nil, m.err
	}
	if m.result != nil {
		return m.result, nil
	}
	return &models.BulkResult{}, nil
}

func (m *mockLineService) DeleteLine(ctx context.Context, projectID, lineID uuid.UUID) error {
	return m.err
}

// mockImportService is a configurable mock for import/export handler tests.
type mockImportService struct {
	result   *models.BulkResult
	workbook []byte
	err      error

	importedBytes int64
}

func (m *mockImportService) ImportWorkbook(ctx context.Context, projectID, versionID uuid.UUID, r io.Reader) (*models.BulkResult, error) {
	n, _ := io.Copy(io.Discard, r)
	m.importedBytes = n
	if m.err != nil {
		return nil, m.err
	}
	if m.result != nil {
		return m.result, nil
	}
	return &models.BulkResult{}, nil
}

func (m *mockImportService) ExportWorkbook(ctx context.Context, projectID, versionID uuid.UUID) ([]byte, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.workbook, nil
}

// mockWbsService is a configurable mock for WBS handler tests.
type mockWbsService struct {
	levels   []string
	settings []*models.WbsLevelSetting
	err      error
}

func (m *mockWbsService) RequiredLevels(ctx context.Context, projectID uuid.UUID) ([]string, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.levels, nil
}

func (m *mockWbsService) ListSettings(ctx context.Context, projectID uuid.UUID) ([]*models.WbsLevelSetting, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.settings, nil
}
