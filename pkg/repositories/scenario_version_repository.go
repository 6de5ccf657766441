package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/bildwerk/boq-engine/pkg/apperrors"
	"github.com/bildwerk/boq-engine/pkg/database"
	"github.com/bildwerk/boq-engine/pkg/models"
)

// ScenarioVersionRepository provides data access for scenario versions and
// the per-(project, scenario) active-version pointer.
type ScenarioVersionRepository interface {
	GetByID(ctx context.Context, projectID, versionID uuid.UUID) (*models.ScenarioVersion, error)
	ListByScenario(ctx context.Context, projectID uuid.UUID, scenario models.Scenario, includeArchived bool) ([]*models.ScenarioVersion, error)

	// Create assigns the next version number for the version's scenario,
	// inserts the row, and seeds the active pointer if none exists yet for
	// the (project, scenario) pair - all in one transaction. VersionNo and
	// CreatedAt are filled in on the passed model.
	Create(ctx context.Context, version *models.ScenarioVersion) error

	// CloneWithLines creates the clone version (next version number for the
	// base scenario) and deep-copies every line of the base version into it
	// with fresh ids and parent links reset, in one transaction. Returns the
	// number of lines copied.
	CloneWithLines(ctx context.Context, base, clone *models.ScenarioVersion) (int, error)

	// Lock freezes the version. The draft, non-archived, and non-empty
	// checks run against a locked version row in the same transaction as
	// the status change, so concurrent line deletes cannot freeze an
	// empty version. Locking an already-locked version keeps the original
	// stamp and succeeds.
	Lock(ctx context.Context, projectID, versionID, userID uuid.UUID, at time.Time) error

	// SetArchived toggles the archived flag. Archiving re-checks the
	// active pointer against the locked version row, so a concurrent
	// SetActive cannot leave the active version archived.
	SetArchived(ctx context.Context, projectID, versionID, userID uuid.UUID, archived bool, at time.Time) error

	// GetActive returns the active pointer for a scenario, or nil if none
	// has been set yet.
	GetActive(ctx context.Context, projectID uuid.UUID, scenario models.Scenario) (*models.ScenarioActiveVersion, error)

	// SetActive repoints the scenario's active pointer. The target version
	// row is locked and re-checked for the archived flag in the same
	// transaction, serializing against a concurrent archive.
	SetActive(ctx context.Context, projectID uuid.UUID, scenario models.Scenario, versionID uuid.UUID) error

	CountLines(ctx context.Context, versionID uuid.UUID) (int, error)
}

type scenarioVersionRepository struct{}

// NewScenarioVersionRepository creates a new ScenarioVersionRepository.
func NewScenarioVersionRepository() ScenarioVersionRepository {
	return &scenarioVersionRepository{}
}

var _ ScenarioVersionRepository = (*scenarioVersionRepository)(nil)

const versionColumns = `id, project_id, scenario, version_no, status, name, notes,
	derived_from_version_id, created_by, created_at, locked_at, locked_by,
	archived_at, archived_by`

func (r *scenarioVersionRepository) GetByID(ctx context.Context, projectID, versionID uuid.UUID) (*models.ScenarioVersion, error) {
	scope, ok := database.GetProjectScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no project scope in context")
	}

	query := `SELECT ` + versionColumns + `
		FROM scenario_versions
		WHERE id = $1 AND project_id = $2`

	row := scope.Conn.QueryRow(ctx, query, versionID, projectID)
	version, err := scanVersion(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get scenario version: %w", err)
	}
	return version, nil
}

func (r *scenarioVersionRepository) ListByScenario(ctx context.Context, projectID uuid.UUID, scenario models.Scenario, includeArchived bool) ([]*models.ScenarioVersion, error) {
	scope, ok := database.GetProjectScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no project scope in context")
	}

	query := `SELECT ` + versionColumns + `
		FROM scenario_versions
		WHERE project_id = $1 AND scenario = $2`
	if !includeArchived {
		query += ` AND archived_at IS NULL`
	}
	query += ` ORDER BY version_no ASC`

	rows, err := scope.Conn.Query(ctx, query, projectID, scenario)
	if err != nil {
		return nil, fmt.Errorf("failed to list scenario versions: %w", err)
	}
	defer rows.Close()

	var versions []*models.ScenarioVersion
	for rows.Next() {
		version, err := scanVersion(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan scenario version: %w", err)
		}
		versions = append(versions, version)
	}
	return versions, rows.Err()
}

func (r *scenarioVersionRepository) Create(ctx context.Context, version *models.ScenarioVersion) error {
	scope, ok := database.GetProjectScope(ctx)
	if !ok {
		return fmt.Errorf("no project scope in context")
	}

	tx, err := scope.Conn.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback on defer is best-effort

	version.CreatedAt = time.Now()

	// max+1 inside the transaction; the unique index on
	// (project_id, scenario, version_no) backstops concurrent creators.
	err = tx.QueryRow(ctx,
		`SELECT COALESCE(MAX(version_no), 0) + 1 FROM scenario_versions
		 WHERE project_id = $1 AND scenario = $2`,
		version.ProjectID, version.Scenario,
	).Scan(&version.VersionNo)
	if err != nil {
		return fmt.Errorf("failed to allocate version number: %w", err)
	}

	if version.Name == "" {
		version.Name = fmt.Sprintf("Version %d", version.VersionNo)
	}

	if err := insertVersion(ctx, tx, version); err != nil {
		return err
	}

	// Seed the active pointer only when the scenario has none; an existing
	// pointer is never overwritten here.
	_, err = tx.Exec(ctx,
		`INSERT INTO scenario_active_versions (project_id, scenario, version_id, updated_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (project_id, scenario) DO NOTHING`,
		version.ProjectID, version.Scenario, version.ID, version.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to seed active version pointer: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (r *scenarioVersionRepository) CloneWithLines(ctx context.Context, base, clone *models.ScenarioVersion) (int, error) {
	scope, ok := database.GetProjectScope(ctx)
	if !ok {
		return 0, fmt.Errorf("no project scope in context")
	}

	tx, err := scope.Conn.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback on defer is best-effort

	clone.CreatedAt = time.Now()

	err = tx.QueryRow(ctx,
		`SELECT COALESCE(MAX(version_no), 0) + 1 FROM scenario_versions
		 WHERE project_id = $1 AND scenario = $2`,
		clone.ProjectID, clone.Scenario,
	).Scan(&clone.VersionNo)
	if err != nil {
		return 0, fmt.Errorf("failed to allocate version number: %w", err)
	}

	if err := insertVersion(ctx, tx, clone); err != nil {
		return 0, err
	}

	// Deep copy with fresh identities. Parent links reset to NULL: hierarchy
	// reconstruction in the clone is an explicit later step.
	tag, err := tx.Exec(ctx, `
		INSERT INTO boq_lines (
			id, project_id, version_id, wbs_key, wbs, tariff_code, description,
			unit_of_measure, qty, unit_price, amount, row_type, sort_index,
			parent_line_id, qty_model_suggested, qty_source, margin_pct,
			package_code, material_code, supplier_id, created_at, updated_at
		)
		SELECT gen_random_uuid(), project_id, $1, wbs_key, wbs, tariff_code, description,
			unit_of_measure, qty, unit_price, amount, row_type, sort_index,
			NULL, qty_model_suggested, qty_source, margin_pct,
			package_code, material_code, supplier_id, $2, $2
		FROM boq_lines
		WHERE version_id = $3`,
		clone.ID, clone.CreatedAt, base.ID)
	if err != nil {
		return 0, fmt.Errorf("failed to copy lines into clone: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (r *scenarioVersionRepository) Lock(ctx context.Context, projectID, versionID, userID uuid.UUID, at time.Time) error {
	scope, ok := database.GetProjectScope(ctx)
	if !ok {
		return fmt.Errorf("no project scope in context")
	}

	tx, err := scope.Conn.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback on defer is best-effort

	var status models.VersionStatus
	var archivedAt *time.Time
	var lineCount int
	err = tx.QueryRow(ctx,
		`SELECT status, archived_at,
			(SELECT COUNT(*) FROM boq_lines WHERE version_id = $1)
		 FROM scenario_versions
		 WHERE id = $1 AND project_id = $2
		 FOR UPDATE`,
		versionID, projectID,
	).Scan(&status, &archivedAt, &lineCount)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return apperrors.ErrNotFound
		}
		return fmt.Errorf("failed to lock scenario version: %w", err)
	}
	if archivedAt != nil {
		return apperrors.ErrNotFound
	}
	if status == models.VersionStatusLocked {
		// Idempotent: keep the original lock stamp.
		return tx.Commit(ctx)
	}
	// The line count was read under the version row lock, so a concurrent
	// delete draining the version blocks until this commits.
	if lineCount == 0 {
		return apperrors.NewValidation("cannot freeze an empty version")
	}

	_, err = tx.Exec(ctx,
		`UPDATE scenario_versions
		 SET status = $1, locked_at = $2, locked_by = $3
		 WHERE id = $4 AND project_id = $5`,
		models.VersionStatusLocked, at, userID, versionID, projectID)
	if err != nil {
		return fmt.Errorf("failed to lock scenario version: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (r *scenarioVersionRepository) SetArchived(ctx context.Context, projectID, versionID, userID uuid.UUID, archived bool, at time.Time) error {
	scope, ok := database.GetProjectScope(ctx)
	if !ok {
		return fmt.Errorf("no project scope in context")
	}

	tx, err := scope.Conn.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback on defer is best-effort

	var scenario models.Scenario
	err = tx.QueryRow(ctx,
		`SELECT scenario FROM scenario_versions
		 WHERE id = $1 AND project_id = $2
		 FOR UPDATE`,
		versionID, projectID,
	).Scan(&scenario)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return apperrors.ErrNotFound
		}
		return fmt.Errorf("failed to lock scenario version: %w", err)
	}

	if archived {
		// Checked under the version row lock; SetActive takes the same
		// lock, so the pointer cannot move onto this version concurrently.
		var active bool
		err = tx.QueryRow(ctx,
			`SELECT EXISTS (
				SELECT 1 FROM scenario_active_versions
				WHERE project_id = $1 AND scenario = $2 AND version_id = $3)`,
			projectID, scenario, versionID,
		).Scan(&active)
		if err != nil {
			return fmt.Errorf("failed to check active version pointer: %w", err)
		}
		if active {
			return apperrors.NewValidation("cannot archive the active version; repoint the active version first")
		}
		_, err = tx.Exec(ctx,
			`UPDATE scenario_versions SET archived_at = $1, archived_by = $2
			 WHERE id = $3 AND project_id = $4`,
			at, userID, versionID, projectID)
	} else {
		_, err = tx.Exec(ctx,
			`UPDATE scenario_versions SET archived_at = NULL, archived_by = NULL
			 WHERE id = $1 AND project_id = $2`,
			versionID, projectID)
	}
	if err != nil {
		return fmt.Errorf("failed to set archived state: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (r *scenarioVersionRepository) GetActive(ctx context.Context, projectID uuid.UUID, scenario models.Scenario) (*models.ScenarioActiveVersion, error) {
	scope, ok := database.GetProjectScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no project scope in context")
	}

	var active models.ScenarioActiveVersion
	err := scope.Conn.QueryRow(ctx,
		`SELECT project_id, scenario, version_id, updated_at
		 FROM scenario_active_versions
		 WHERE project_id = $1 AND scenario = $2`,
		projectID, scenario,
	).Scan(&active.ProjectID, &active.Scenario, &active.VersionID, &active.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get active version pointer: %w", err)
	}
	return &active, nil
}

func (r *scenarioVersionRepository) SetActive(ctx context.Context, projectID uuid.UUID, scenario models.Scenario, versionID uuid.UUID) error {
	scope, ok := database.GetProjectScope(ctx)
	if !ok {
		return fmt.Errorf("no project scope in context")
	}

	tx, err := scope.Conn.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback on defer is best-effort

	var archivedAt *time.Time
	err = tx.QueryRow(ctx,
		`SELECT archived_at FROM scenario_versions
		 WHERE id = $1 AND project_id = $2
		 FOR UPDATE`,
		versionID, projectID,
	).Scan(&archivedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return apperrors.ErrNotFound
		}
		return fmt.Errorf("failed to lock scenario version: %w", err)
	}
	if archivedAt != nil {
		return apperrors.ErrNotFound
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO scenario_active_versions (project_id, scenario, version_id, updated_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (project_id, scenario)
		 DO UPDATE SET version_id = EXCLUDED.version_id, updated_at = EXCLUDED.updated_at`,
		projectID, scenario, versionID, time.Now())
	if err != nil {
		return fmt.Errorf("failed to set active version pointer: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (r *scenarioVersionRepository) CountLines(ctx context.Context, versionID uuid.UUID) (int, error) {
	scope, ok := database.GetProjectScope(ctx)
	if !ok {
		return 0, fmt.Errorf("no project scope in context")
	}

	var count int
	err := scope.Conn.QueryRow(ctx,
		`SELECT COUNT(*) FROM boq_lines WHERE version_id = $1`, versionID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count lines: %w", err)
	}
	return count, nil
}

func insertVersion(ctx context.Context, tx pgx.Tx, version *models.ScenarioVersion) error {
	_, err := tx.Exec(ctx,
		`INSERT INTO scenario_versions (`+versionColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		version.ID, version.ProjectID, version.Scenario, version.VersionNo,
		version.Status, version.Name, nullString(version.Notes),
		version.DerivedFromVersionID, version.CreatedBy, version.CreatedAt,
		version.LockedAt, version.LockedBy, version.ArchivedAt, version.ArchivedBy)
	if err != nil {
		return fmt.Errorf("failed to insert scenario version: %w", err)
	}
	return nil
}

func scanVersion(row pgx.Row) (*models.ScenarioVersion, error) {
	var v models.ScenarioVersion
	var notes *string
	err := row.Scan(
		&v.ID, &v.ProjectID, &v.Scenario, &v.VersionNo, &v.Status, &v.Name,
		&notes, &v.DerivedFromVersionID, &v.CreatedBy, &v.CreatedAt,
		&v.LockedAt, &v.LockedBy, &v.ArchivedAt, &v.ArchivedBy)
	if err != nil {
		return nil, err
	}
	if notes != nil {
		v.Notes = *notes
	}
	return &v, nil
}
