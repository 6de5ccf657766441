package services

import (
	"context"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/bildwerk/boq-engine/pkg/apperrors"
	"github.com/bildwerk/boq-engine/pkg/models"
	"github.com/bildwerk/boq-engine/pkg/repositories"
)

// LineInput is one row of a bulk upsert batch as submitted by a client. The
// ID may be blank (create), a temporary token with the new_ prefix (create,
// referencable by other rows in the batch), or a persisted id (update, or
// create preserving the id when the row no longer exists in the version).
type LineInput struct {
	ID                string            `json:"id,omitempty"`
	ParentLineID      string            `json:"parent_line_id,omitempty"`
	RowType           string            `json:"row_type,omitempty"`
	Wbs               map[string]string `json:"wbs,omitempty"`
	TariffCode        string            `json:"tariff_code,omitempty"`
	Description       string            `json:"description,omitempty"`
	UnitOfMeasure     string            `json:"unit_of_measure,omitempty"`
	Qty               decimal.Decimal   `json:"qty"`
	UnitPrice         decimal.Decimal   `json:"unit_price"`
	Amount            decimal.Decimal   `json:"amount"` // ignored, recomputed server-side
	SortIndex         int64             `json:"sort_index"`
	QtyModelSuggested *decimal.Decimal  `json:"qty_model_suggested,omitempty"`
	QtySource         string            `json:"qty_source,omitempty"`
	MarginPct         *decimal.Decimal  `json:"margin_pct,omitempty"`
	PackageCode       string            `json:"package_code,omitempty"`
	MaterialCode      string            `json:"material_code,omitempty"`
	SupplierID        *uuid.UUID        `json:"supplier_id,omitempty"`
	IdempotencyKey    string            `json:"idempotency_key,omitempty"`
}

// BoqLineService owns the BOQ line operations of a scenario version: the
// bulk reconciler, listing, and deletion with child promotion.
type BoqLineService interface {
	// ListLines returns the version's lines in default grid order.
	ListLines(ctx context.Context, projectID, versionID uuid.UUID) ([]*models.BoqLine, error)

	// BulkUpsertLines reconciles a batch of line descriptors against the
	// persisted rows of one version in a single atomic operation. See the
	// package documentation for the partitioning and parent-resolution
	// rules. Validation failures abort the whole batch before any write.
	BulkUpsertLines(ctx context.Context, projectID, versionID uuid.UUID, items []LineInput) (*models.BulkResult, error)

	// DeleteLine removes a line, promoting its direct children to root.
	DeleteLine(ctx context.Context, projectID, lineID uuid.UUID) error
}

type boqLineService struct {
	lineRepo    repositories.BoqLineRepository
	versionRepo repositories.ScenarioVersionRepository
	wbsLevels   WbsLevelService
	logger      *zap.Logger
}

// NewBoqLineService creates a new BoqLineService.
func NewBoqLineService(
	lineRepo repositories.BoqLineRepository,
	versionRepo repositories.ScenarioVersionRepository,
	wbsLevels WbsLevelService,
	logger *zap.Logger,
) BoqLineService {
	return &boqLineService{
		lineRepo:    lineRepo,
		versionRepo: versionRepo,
		wbsLevels:   wbsLevels,
		logger:      logger,
	}
}

func (s *boqLineService) ListLines(ctx context.Context, projectID, versionID uuid.UUID) ([]*models.BoqLine, error) {
	// Archived versions stay readable; only mutation is gated.
	if _, err := s.versionRepo.GetByID(ctx, projectID, versionID); err != nil {
		return nil, err
	}
	return s.lineRepo.ListByVersion(ctx, projectID, versionID)
}

func (s *boqLineService) BulkUpsertLines(ctx context.Context, projectID, versionID uuid.UUID, items []LineInput) (*models.BulkResult, error) {
	if _, err := s.editableVersion(ctx, projectID, versionID); err != nil {
		return nil, err
	}

	requiredLevels, err := s.wbsLevels.RequiredLevels(ctx, projectID)
	if err != nil {
		return nil, err
	}

	batch, err := decodeBatch(items)
	if err != nil {
		return nil, err
	}

	// One round trip answers both partition questions: which declared item
	// ids already live in this version, and which declared real parents do.
	existing, err := s.lineRepo.ExistingIDs(ctx, versionID, batch.realIDs())
	if err != nil {
		return nil, err
	}

	plan, err := buildBulkPlan(projectID, versionID, requiredLevels, batch, existing)
	if err != nil {
		return nil, err
	}

	result, err := s.lineRepo.ApplyBulkPlan(ctx, plan)
	if err != nil {
		return nil, err
	}

	s.logger.Info("Reconciled BOQ lines",
		zap.String("project_id", projectID.String()),
		zap.String("version_id", versionID.String()),
		zap.Int("created", result.Created),
		zap.Int("updated", result.Updated))
	return result, nil
}

func (s *boqLineService) DeleteLine(ctx context.Context, projectID, lineID uuid.UUID) error {
	line, err := s.lineRepo.GetByID(ctx, projectID, lineID)
	if err != nil {
		return err
	}
	if _, err := s.editableVersion(ctx, projectID, line.VersionID); err != nil {
		return err
	}

	if err := s.lineRepo.DeleteWithPromotion(ctx, projectID, lineID); err != nil {
		return err
	}

	s.logger.Info("Deleted BOQ line",
		zap.String("project_id", projectID.String()),
		zap.String("line_id", lineID.String()))
	return nil
}

// editableVersion loads a version for mutation: archived versions are
// treated as not found, locked versions are rejected outright.
func (s *boqLineService) editableVersion(ctx context.Context, projectID, versionID uuid.UUID) (*models.ScenarioVersion, error) {
	version, err := s.versionRepo.GetByID(ctx, projectID, versionID)
	if err != nil {
		return nil, err
	}
	if version.IsArchived() {
		return nil, apperrors.ErrNotFound
	}
	if version.IsLocked() {
		return nil, apperrors.ErrVersionLocked
	}
	return version, nil
}
