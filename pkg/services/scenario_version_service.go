package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/bildwerk/boq-engine/pkg/apperrors"
	"github.com/bildwerk/boq-engine/pkg/models"
	"github.com/bildwerk/boq-engine/pkg/repositories"
)

// ScenarioVersionService manages the versioned-entity lifecycle of a
// scenario: creation with monotonic version numbers, cloning, freezing,
// archiving, and the single active-version pointer per (project, scenario).
type ScenarioVersionService interface {
	// ListVersions returns the active pointer plus all versions of the
	// scenario ordered by version number. Archived versions are excluded
	// unless requested.
	ListVersions(ctx context.Context, projectID uuid.UUID, scenario models.Scenario, includeArchived bool) (*models.VersionList, error)

	// CreateVersion inserts a new draft version numbered max+1. The first
	// version of a scenario becomes active automatically; an existing
	// active pointer is never overwritten.
	CreateVersion(ctx context.Context, projectID uuid.UUID, scenario models.Scenario, name, notes string, userID uuid.UUID) (*models.ScenarioVersion, error)

	// CloneVersion creates a new draft version derived from the base,
	// deep-copying its lines with parent links reset.
	CloneVersion(ctx context.Context, projectID, baseVersionID uuid.UUID, name, notes string, userID uuid.UUID) (*models.ScenarioVersion, error)

	// FreezeVersion locks a non-empty version against further line edits.
	// Freezing an already-locked version is a no-op success.
	FreezeVersion(ctx context.Context, projectID, versionID, userID uuid.UUID) (*models.ScenarioVersion, error)

	// SetArchived toggles the archived flag. The version currently pointed
	// to as active cannot be archived.
	SetArchived(ctx context.Context, projectID, versionID uuid.UUID, archived bool, userID uuid.UUID) (*models.ScenarioVersion, error)

	// SetActiveVersion repoints the active pointer of the version's
	// scenario at the given (non-archived) version.
	SetActiveVersion(ctx context.Context, projectID, versionID uuid.UUID) error
}

type scenarioVersionService struct {
	versionRepo repositories.ScenarioVersionRepository
	logger      *zap.Logger
}

// NewScenarioVersionService creates a new ScenarioVersionService.
func NewScenarioVersionService(versionRepo repositories.ScenarioVersionRepository, logger *zap.Logger) ScenarioVersionService {
	return &scenarioVersionService{
		versionRepo: versionRepo,
		logger:      logger,
	}
}

func (s *scenarioVersionService) ListVersions(ctx context.Context, projectID uuid.UUID, scenario models.Scenario, includeArchived bool) (*models.VersionList, error) {
	versions, err := s.versionRepo.ListByScenario(ctx, projectID, scenario, includeArchived)
	if err != nil {
		return nil, err
	}

	list := &models.VersionList{Versions: versions}
	active, err := s.versionRepo.GetActive(ctx, projectID, scenario)
	if err != nil {
		return nil, err
	}
	if active != nil {
		list.ActiveVersionID = &active.VersionID
	}
	return list, nil
}

func (s *scenarioVersionService) CreateVersion(ctx context.Context, projectID uuid.UUID, scenario models.Scenario, name, notes string, userID uuid.UUID) (*models.ScenarioVersion, error) {
	version := &models.ScenarioVersion{
		ID:        uuid.New(),
		ProjectID: projectID,
		Scenario:  scenario,
		Status:    models.VersionStatusDraft,
		Name:      name,
		Notes:     notes,
		CreatedBy: userID,
	}

	if err := s.versionRepo.Create(ctx, version); err != nil {
		return nil, fmt.Errorf("failed to create scenario version: %w", err)
	}

	s.logger.Info("Created scenario version",
		zap.String("project_id", projectID.String()),
		zap.String("scenario", string(scenario)),
		zap.Int("version_no", version.VersionNo))
	return version, nil
}

func (s *scenarioVersionService) CloneVersion(ctx context.Context, projectID, baseVersionID uuid.UUID, name, notes string, userID uuid.UUID) (*models.ScenarioVersion, error) {
	base, err := s.versionRepo.GetByID(ctx, projectID, baseVersionID)
	if err != nil {
		return nil, err
	}
	// An archived base is not a valid clone source.
	if base.IsArchived() {
		return nil, apperrors.ErrNotFound
	}

	if name == "" {
		name = fmt.Sprintf("%s (copy)", base.Name)
	}

	clone := &models.ScenarioVersion{
		ID:                   uuid.New(),
		ProjectID:            projectID,
		Scenario:             base.Scenario,
		Status:               models.VersionStatusDraft,
		Name:                 name,
		Notes:                notes,
		DerivedFromVersionID: &base.ID,
		CreatedBy:            userID,
	}

	copied, err := s.versionRepo.CloneWithLines(ctx, base, clone)
	if err != nil {
		return nil, fmt.Errorf("failed to clone scenario version: %w", err)
	}

	s.logger.Info("Cloned scenario version",
		zap.String("project_id", projectID.String()),
		zap.String("base_version_id", base.ID.String()),
		zap.Int("version_no", clone.VersionNo),
		zap.Int("lines_copied", copied))
	return clone, nil
}

func (s *scenarioVersionService) FreezeVersion(ctx context.Context, projectID, versionID, userID uuid.UUID) (*models.ScenarioVersion, error) {
	version, err := s.versionRepo.GetByID(ctx, projectID, versionID)
	if err != nil {
		return nil, err
	}
	if version.IsLocked() {
		// Idempotent: a second freeze succeeds without restamping.
		return version, nil
	}

	count, err := s.versionRepo.CountLines(ctx, versionID)
	if err != nil {
		return nil, err
	}
	if count == 0 {
		return nil, apperrors.NewValidation("cannot freeze an empty version")
	}

	now := time.Now()
	if err := s.versionRepo.Lock(ctx, projectID, versionID, userID, now); err != nil {
		return nil, err
	}

	version.Status = models.VersionStatusLocked
	version.LockedAt = &now
	version.LockedBy = &userID

	s.logger.Info("Froze scenario version",
		zap.String("project_id", projectID.String()),
		zap.String("version_id", versionID.String()))
	return version, nil
}

func (s *scenarioVersionService) SetArchived(ctx context.Context, projectID, versionID uuid.UUID, archived bool, userID uuid.UUID) (*models.ScenarioVersion, error) {
	version, err := s.versionRepo.GetByID(ctx, projectID, versionID)
	if err != nil {
		return nil, err
	}

	if archived {
		active, err := s.versionRepo.GetActive(ctx, projectID, version.Scenario)
		if err != nil {
			return nil, err
		}
		if active != nil && active.VersionID == versionID {
			return nil, apperrors.NewValidation("cannot archive the active version; repoint the active version first")
		}
	}

	now := time.Now()
	if err := s.versionRepo.SetArchived(ctx, projectID, versionID, userID, archived, now); err != nil {
		return nil, err
	}

	if archived {
		version.ArchivedAt = &now
		version.ArchivedBy = &userID
	} else {
		version.ArchivedAt = nil
		version.ArchivedBy = nil
	}

	s.logger.Info("Changed archived state",
		zap.String("project_id", projectID.String()),
		zap.String("version_id", versionID.String()),
		zap.Bool("archived", archived))
	return version, nil
}

func (s *scenarioVersionService) SetActiveVersion(ctx context.Context, projectID, versionID uuid.UUID) error {
	version, err := s.versionRepo.GetByID(ctx, projectID, versionID)
	if err != nil {
		return err
	}
	if version.IsArchived() {
		return apperrors.ErrNotFound
	}

	if err := s.versionRepo.SetActive(ctx, projectID, version.Scenario, versionID); err != nil {
		return err
	}

	s.logger.Info("Repointed active version",
		zap.String("project_id", projectID.String()),
		zap.String("scenario", string(version.Scenario)),
		zap.String("version_id", versionID.String()))
	return nil
}
