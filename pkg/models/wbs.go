package models

import (
	"strings"

	"github.com/google/uuid"

	"github.com/bildwerk/boq-engine/pkg/apperrors"
)

// WbsLevelSetting is one classification level of a project's work breakdown
// structure. The reconciler consults only levels that are enabled and
// required, in sort order. Settings are maintained elsewhere; this core only
// reads them.
type WbsLevelSetting struct {
	ProjectID uuid.UUID `json:"project_id"`
	LevelKey  string    `json:"level_key"`
	Label     string    `json:"label"`
	Enabled   bool      `json:"enabled"`
	Required  bool      `json:"required"`
	SortOrder int       `json:"sort_order"`
}

// WbsKeySeparator joins the level=value segments of a WBS key.
const WbsKeySeparator = "|"

// BuildWbsKey derives the canonical composite key for a line from the
// project's required level keys (in configured order) and the line's raw
// per-level value map. The key is deterministic for identical inputs and
// drives the default ordering of lines within a version.
//
// Line rows must supply a non-blank value for every required level. Group
// rows render missing values as empty segments instead; completeness is not
// required for headers.
func BuildWbsKey(requiredLevels []string, values map[string]string, rowType RowType) (string, error) {
	segments := make([]string, 0, len(requiredLevels))
	for _, level := range requiredLevels {
		v := strings.TrimSpace(values[level])
		if v == "" && rowType == RowTypeLine {
			return "", apperrors.NewValidation("missing required WBS level: %s", level)
		}
		segments = append(segments, level+"="+v)
	}
	return strings.Join(segments, WbsKeySeparator), nil
}
