package repositories

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/bildwerk/boq-engine/pkg/apperrors"
	"github.com/bildwerk/boq-engine/pkg/database"
	"github.com/bildwerk/boq-engine/pkg/models"
)

// BoqLineRepository provides data access for BOQ lines, including the
// transactional bulk apply the reconciler hands its plans to.
type BoqLineRepository interface {
	GetByID(ctx context.Context, projectID, lineID uuid.UUID) (*models.BoqLine, error)

	// ListByVersion returns all lines of a version in the default grid
	// order: sort_index asc, wbs_key asc, tariff_code asc.
	ListByVersion(ctx context.Context, projectID, versionID uuid.UUID) ([]*models.BoqLine, error)

	// ExistingIDs reports which of the given ids are present as lines of
	// the version.
	ExistingIDs(ctx context.Context, versionID uuid.UUID, ids []uuid.UUID) (map[uuid.UUID]bool, error)

	// ApplyBulkPlan executes a validated bulk plan in one transaction:
	// creates first (recording temp token → real id), then updates, then
	// deferred parent fixups. Either everything commits or nothing does.
	// The version row is locked and re-checked inside the transaction, so
	// a concurrent freeze or archive cannot slip in between the service's
	// guard read and the writes.
	ApplyBulkPlan(ctx context.Context, plan *models.BulkPlan) (*models.BulkResult, error)

	// DeleteWithPromotion promotes the direct children of the line to root
	// and deletes the line, in one transaction. Grandchildren keep their
	// parent; deletion never cascades. The owning version is re-checked
	// for mutability inside the transaction.
	DeleteWithPromotion(ctx context.Context, projectID, lineID uuid.UUID) error
}

type boqLineRepository struct{}

// NewBoqLineRepository creates a new BoqLineRepository.
func NewBoqLineRepository() BoqLineRepository {
	return &boqLineRepository{}
}

var _ BoqLineRepository = (*boqLineRepository)(nil)

const lineColumns = `id, project_id, version_id, wbs_key, wbs, tariff_code, description,
	unit_of_measure, qty::text, unit_price::text, amount::text, row_type, sort_index,
	parent_line_id, qty_model_suggested::text, qty_source, margin_pct::text,
	package_code, material_code, supplier_id, idempotency_key, created_at, updated_at`

func (r *boqLineRepository) GetByID(ctx context.Context, projectID, lineID uuid.UUID) (*models.BoqLine, error) {
	scope, ok := database.GetProjectScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no project scope in context")
	}

	query := `SELECT ` + lineColumns + ` FROM boq_lines WHERE id = $1 AND project_id = $2`

	row := scope.Conn.QueryRow(ctx, query, lineID, projectID)
	line, err := scanLine(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get line: %w", err)
	}
	return line, nil
}

func (r *boqLineRepository) ListByVersion(ctx context.Context, projectID, versionID uuid.UUID) ([]*models.BoqLine, error) {
	scope, ok := database.GetProjectScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no project scope in context")
	}

	query := `SELECT ` + lineColumns + `
		FROM boq_lines
		WHERE version_id = $1 AND project_id = $2
		ORDER BY sort_index ASC, wbs_key ASC, tariff_code ASC`

	rows, err := scope.Conn.Query(ctx, query, versionID, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to list lines: %w", err)
	}
	defer rows.Close()

	var lines []*models.BoqLine
	for rows.Next() {
		line, err := scanLine(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan line: %w", err)
		}
		lines = append(lines, line)
	}
	return lines, rows.Err()
}

func (r *boqLineRepository) ExistingIDs(ctx context.Context, versionID uuid.UUID, ids []uuid.UUID) (map[uuid.UUID]bool, error) {
	existing := make(map[uuid.UUID]bool, len(ids))
	if len(ids) == 0 {
		return existing, nil
	}

	scope, ok := database.GetProjectScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no project scope in context")
	}

	rows, err := scope.Conn.Query(ctx,
		`SELECT id FROM boq_lines WHERE version_id = $1 AND id = ANY($2)`,
		versionID, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to check existing line ids: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan line id: %w", err)
		}
		existing[id] = true
	}
	return existing, rows.Err()
}

func (r *boqLineRepository) ApplyBulkPlan(ctx context.Context, plan *models.BulkPlan) (*models.BulkResult, error) {
	scope, ok := database.GetProjectScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no project scope in context")
	}

	tx, err := scope.Conn.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback on defer is best-effort

	if err := lockEditableVersion(ctx, tx, plan.ProjectID, plan.VersionID); err != nil {
		return nil, err
	}

	now := time.Now()
	result := &models.BulkResult{}
	tempToReal := make(map[string]uuid.UUID, len(plan.Creates))

	// Phase 1: creates. Immediately resolvable parents are linked inline;
	// pending and deferred-real parents stay NULL until phase 3.
	for _, w := range plan.Creates {
		persistedID, inserted, err := insertLine(ctx, tx, w, now)
		if err != nil {
			return nil, err
		}
		// An idempotency-key conflict lands on the previously created row,
		// which keeps its original id; count it as an update.
		if inserted {
			result.Created++
		} else {
			result.Updated++
		}
		w.Line.ID = persistedID
		if w.Temp != "" {
			tempToReal[w.Temp] = persistedID
		}
	}

	// Phase 2: updates, same parent-resolution rule.
	for _, w := range plan.Updates {
		if err := updateLine(ctx, tx, plan.VersionID, w, now); err != nil {
			return nil, err
		}
		result.Updated++
	}

	// Phase 3: deferred parent fixups. The temp → real map is complete at
	// this point, so pending chains of any depth resolve here.
	for _, phase := range [][]*models.LineWrite{plan.Creates, plan.Updates} {
		for _, w := range phase {
			var parentID uuid.UUID
			switch w.Parent.Kind {
			case models.ParentPendingTemp:
				real, ok := tempToReal[w.Parent.Pending]
				if !ok {
					// Token never materialized in this batch; leave the
					// row at root rather than fail the commit.
					continue
				}
				parentID = real
			case models.ParentDeferredReal:
				parentID = w.Parent.Persisted
			default:
				continue
			}
			_, err := tx.Exec(ctx,
				`UPDATE boq_lines SET parent_line_id = $1, updated_at = $2 WHERE id = $3`,
				parentID, now, w.Line.ID)
			if err != nil {
				return nil, fmt.Errorf("failed to fix up parent link: %w", err)
			}
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return result, nil
}

func (r *boqLineRepository) DeleteWithPromotion(ctx context.Context, projectID, lineID uuid.UUID) error {
	scope, ok := database.GetProjectScope(ctx)
	if !ok {
		return fmt.Errorf("no project scope in context")
	}

	tx, err := scope.Conn.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback on defer is best-effort

	var versionID uuid.UUID
	err = tx.QueryRow(ctx,
		`SELECT version_id FROM boq_lines WHERE id = $1 AND project_id = $2`,
		lineID, projectID,
	).Scan(&versionID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return apperrors.ErrNotFound
		}
		return fmt.Errorf("failed to resolve line version: %w", err)
	}
	if err := lockEditableVersion(ctx, tx, projectID, versionID); err != nil {
		return err
	}

	_, err = tx.Exec(ctx,
		`UPDATE boq_lines SET parent_line_id = NULL, updated_at = $1 WHERE parent_line_id = $2`,
		time.Now(), lineID)
	if err != nil {
		return fmt.Errorf("failed to promote child lines: %w", err)
	}

	tag, err := tx.Exec(ctx,
		`DELETE FROM boq_lines WHERE id = $1 AND project_id = $2`, lineID, projectID)
	if err != nil {
		return fmt.Errorf("failed to delete line: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// lockEditableVersion takes a row lock on the version for the rest of the
// transaction and re-checks that it still accepts line writes. A status read
// issued before the transaction opened can be stale by the time the writes
// run; this check is the authoritative one.
func lockEditableVersion(ctx context.Context, tx pgx.Tx, projectID, versionID uuid.UUID) error {
	var status models.VersionStatus
	var archivedAt *time.Time
	err := tx.QueryRow(ctx,
		`SELECT status, archived_at FROM scenario_versions
		 WHERE id = $1 AND project_id = $2
		 FOR UPDATE`,
		versionID, projectID,
	).Scan(&status, &archivedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return apperrors.ErrNotFound
		}
		return fmt.Errorf("failed to lock version row: %w", err)
	}
	if archivedAt != nil {
		return apperrors.ErrNotFound
	}
	if status == models.VersionStatusLocked {
		return apperrors.ErrVersionLocked
	}
	return nil
}

const insertLineQuery = `
	INSERT INTO boq_lines (
		id, project_id, version_id, wbs_key, wbs, tariff_code, description,
		unit_of_measure, qty, unit_price, amount, row_type, sort_index,
		parent_line_id, qty_model_suggested, qty_source, margin_pct,
		package_code, material_code, supplier_id, idempotency_key,
		created_at, updated_at
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14,
		$15, $16, $17, $18, $19, $20, $21, $22, $23)`

const insertLineConflictClause = `
	ON CONFLICT (version_id, idempotency_key) WHERE idempotency_key IS NOT NULL
	DO UPDATE SET
		wbs_key = EXCLUDED.wbs_key, wbs = EXCLUDED.wbs,
		tariff_code = EXCLUDED.tariff_code, description = EXCLUDED.description,
		unit_of_measure = EXCLUDED.unit_of_measure, qty = EXCLUDED.qty,
		unit_price = EXCLUDED.unit_price, amount = EXCLUDED.amount,
		row_type = EXCLUDED.row_type, sort_index = EXCLUDED.sort_index,
		parent_line_id = EXCLUDED.parent_line_id,
		qty_model_suggested = EXCLUDED.qty_model_suggested,
		qty_source = EXCLUDED.qty_source, margin_pct = EXCLUDED.margin_pct,
		package_code = EXCLUDED.package_code, material_code = EXCLUDED.material_code,
		supplier_id = EXCLUDED.supplier_id, updated_at = EXCLUDED.updated_at`

// insertLine inserts one planned create and returns the persisted id and
// whether a fresh row was inserted (false when an idempotency-key retry
// updated an earlier row instead).
func insertLine(ctx context.Context, tx pgx.Tx, w *models.LineWrite, now time.Time) (uuid.UUID, bool, error) {
	line := w.Line
	line.CreatedAt = now
	line.UpdatedAt = now

	wbsJSON, err := json.Marshal(line.Wbs)
	if err != nil {
		return uuid.Nil, false, fmt.Errorf("failed to marshal wbs map: %w", err)
	}

	var parentID *uuid.UUID
	if w.Parent.Kind == models.ParentImmediate {
		p := w.Parent.Persisted
		parentID = &p
	}

	query := insertLineQuery
	if line.IdempotencyKey != "" {
		query += insertLineConflictClause
	}
	query += ` RETURNING id`

	var persistedID uuid.UUID
	err = tx.QueryRow(ctx, query,
		line.ID, line.ProjectID, line.VersionID, line.WbsKey, wbsJSON,
		line.TariffCode, nullString(line.Description), nullString(line.UnitOfMeasure),
		decStr(line.Qty), decStr(line.UnitPrice), decStr(line.Amount),
		line.RowType, line.SortIndex, parentID,
		nullDecStr(line.QtyModelSuggested), line.QtySource, nullDecStr(line.MarginPct),
		nullString(line.PackageCode), nullString(line.MaterialCode), line.SupplierID,
		nullString(line.IdempotencyKey), line.CreatedAt, line.UpdatedAt,
	).Scan(&persistedID)
	if err != nil {
		return uuid.Nil, false, fmt.Errorf("failed to insert line: %w", err)
	}

	return persistedID, persistedID == line.ID, nil
}

func updateLine(ctx context.Context, tx pgx.Tx, versionID uuid.UUID, w *models.LineWrite, now time.Time) error {
	line := w.Line
	line.UpdatedAt = now

	wbsJSON, err := json.Marshal(line.Wbs)
	if err != nil {
		return fmt.Errorf("failed to marshal wbs map: %w", err)
	}

	var parentID *uuid.UUID
	if w.Parent.Kind == models.ParentImmediate {
		p := w.Parent.Persisted
		parentID = &p
	}

	tag, err := tx.Exec(ctx,
		`UPDATE boq_lines SET
			wbs_key = $1, wbs = $2, tariff_code = $3, description = $4,
			unit_of_measure = $5, qty = $6, unit_price = $7, amount = $8,
			row_type = $9, sort_index = $10, parent_line_id = $11,
			qty_model_suggested = $12, qty_source = $13, margin_pct = $14,
			package_code = $15, material_code = $16, supplier_id = $17,
			updated_at = $18
		WHERE id = $19 AND version_id = $20`,
		line.WbsKey, wbsJSON, line.TariffCode, nullString(line.Description),
		nullString(line.UnitOfMeasure), decStr(line.Qty), decStr(line.UnitPrice),
		decStr(line.Amount), line.RowType, line.SortIndex, parentID,
		nullDecStr(line.QtyModelSuggested), line.QtySource, nullDecStr(line.MarginPct),
		nullString(line.PackageCode), nullString(line.MaterialCode), line.SupplierID,
		line.UpdatedAt, line.ID, versionID)
	if err != nil {
		return fmt.Errorf("failed to update line: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

func scanLine(row pgx.Row) (*models.BoqLine, error) {
	var l models.BoqLine
	var wbsJSON []byte
	var description, unitOfMeasure, packageCode, materialCode, idempotencyKey *string
	var qty, unitPrice, amount string
	var qtyModelSuggested, marginPct *string

	err := row.Scan(
		&l.ID, &l.ProjectID, &l.VersionID, &l.WbsKey, &wbsJSON, &l.TariffCode,
		&description, &unitOfMeasure, &qty, &unitPrice, &amount, &l.RowType,
		&l.SortIndex, &l.ParentLineID, &qtyModelSuggested, &l.QtySource,
		&marginPct, &packageCode, &materialCode, &l.SupplierID,
		&idempotencyKey, &l.CreatedAt, &l.UpdatedAt)
	if err != nil {
		return nil, err
	}

	if len(wbsJSON) > 0 {
		if err := json.Unmarshal(wbsJSON, &l.Wbs); err != nil {
			return nil, fmt.Errorf("failed to unmarshal wbs map: %w", err)
		}
	}
	if description != nil {
		l.Description = *description
	}
	if unitOfMeasure != nil {
		l.UnitOfMeasure = *unitOfMeasure
	}
	if packageCode != nil {
		l.PackageCode = *packageCode
	}
	if materialCode != nil {
		l.MaterialCode = *materialCode
	}
	if idempotencyKey != nil {
		l.IdempotencyKey = *idempotencyKey
	}
	if l.Qty, err = parseDec(qty); err != nil {
		return nil, err
	}
	if l.UnitPrice, err = parseDec(unitPrice); err != nil {
		return nil, err
	}
	if l.Amount, err = parseDec(amount); err != nil {
		return nil, err
	}
	if l.QtyModelSuggested, err = parseNullDec(qtyModelSuggested); err != nil {
		return nil, err
	}
	if l.MarginPct, err = parseNullDec(marginPct); err != nil {
		return nil, err
	}
	return &l, nil
}
