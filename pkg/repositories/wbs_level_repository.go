package repositories

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/bildwerk/boq-engine/pkg/database"
	"github.com/bildwerk/boq-engine/pkg/models"
)

// WbsLevelRepository reads per-project WBS classification level settings.
// The settings themselves are maintained by the taxonomy service; this core
// only consumes them.
type WbsLevelRepository interface {
	ListByProject(ctx context.Context, projectID uuid.UUID) ([]*models.WbsLevelSetting, error)

	// RequiredLevelKeys returns the keys of levels that are both enabled
	// and required, in configured sort order.
	RequiredLevelKeys(ctx context.Context, projectID uuid.UUID) ([]string, error)
}

type wbsLevelRepository struct{}

// NewWbsLevelRepository creates a new WbsLevelRepository.
func NewWbsLevelRepository() WbsLevelRepository {
	return &wbsLevelRepository{}
}

var _ WbsLevelRepository = (*wbsLevelRepository)(nil)

func (r *wbsLevelRepository) ListByProject(ctx context.Context, projectID uuid.UUID) ([]*models.WbsLevelSetting, error) {
	scope, ok := database.GetProjectScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no project scope in context")
	}

	rows, err := scope.Conn.Query(ctx,
		`SELECT project_id, level_key, label, enabled, required, sort_order
		 FROM wbs_level_settings
		 WHERE project_id = $1
		 ORDER BY sort_order ASC`,
		projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to list WBS level settings: %w", err)
	}
	defer rows.Close()

	var settings []*models.WbsLevelSetting
	for rows.Next() {
		var s models.WbsLevelSetting
		if err := rows.Scan(&s.ProjectID, &s.LevelKey, &s.Label, &s.Enabled, &s.Required, &s.SortOrder); err != nil {
			return nil, fmt.Errorf("failed to scan WBS level setting: %w", err)
		}
		settings = append(settings, &s)
	}
	return settings, rows.Err()
}

func (r *wbsLevelRepository) RequiredLevelKeys(ctx context.Context, projectID uuid.UUID) ([]string, error) {
	scope, ok := database.GetProjectScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no project scope in context")
	}

	rows, err := scope.Conn.Query(ctx,
		`SELECT level_key FROM wbs_level_settings
		 WHERE project_id = $1 AND enabled AND required
		 ORDER BY sort_order ASC`,
		projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to list required WBS levels: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("failed to scan WBS level key: %w", err)
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}
