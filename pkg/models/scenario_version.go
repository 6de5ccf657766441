package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Scenario identifies a cost-breakdown track within a project. Each scenario
// is versioned independently of the others.
type Scenario string

const (
	ScenarioTender      Scenario = "tender"
	ScenarioOperational Scenario = "operational"
	ScenarioCost        Scenario = "cost"
	ScenarioForecast    Scenario = "forecast"
)

// ParseScenario validates and normalizes a scenario identifier.
func ParseScenario(s string) (Scenario, error) {
	switch Scenario(s) {
	case ScenarioTender, ScenarioOperational, ScenarioCost, ScenarioForecast:
		return Scenario(s), nil
	}
	return "", fmt.Errorf("unknown scenario %q", s)
}

// VersionStatus is the edit-lifecycle state of a scenario version.
type VersionStatus string

const (
	VersionStatusDraft  VersionStatus = "draft"
	VersionStatusLocked VersionStatus = "locked"
)

// ScenarioVersion is one snapshot of a scenario's line items, identified by
// an incrementing version number unique per (project, scenario).
//
// Version numbers are assigned as max(existing)+1 inside the creating
// transaction and are never reused or mutated. Once locked, no BOQ line under
// the version may be created, updated or deleted; the version record itself
// may still be archived/restored and have the active pointer repointed.
type ScenarioVersion struct {
	ID                   uuid.UUID     `json:"id"`
	ProjectID            uuid.UUID     `json:"project_id"`
	Scenario             Scenario      `json:"scenario"`
	VersionNo            int           `json:"version_no"`
	Status               VersionStatus `json:"status"`
	Name                 string        `json:"name"`
	Notes                string        `json:"notes,omitempty"`
	DerivedFromVersionID *uuid.UUID    `json:"derived_from_version_id,omitempty"`
	CreatedBy            uuid.UUID     `json:"created_by"`
	CreatedAt            time.Time     `json:"created_at"`
	LockedAt             *time.Time    `json:"locked_at,omitempty"`
	LockedBy             *uuid.UUID    `json:"locked_by,omitempty"`
	ArchivedAt           *time.Time    `json:"archived_at,omitempty"`
	ArchivedBy           *uuid.UUID    `json:"archived_by,omitempty"`
}

// IsLocked reports whether the version has been frozen.
func (v *ScenarioVersion) IsLocked() bool {
	return v.Status == VersionStatusLocked
}

// IsArchived reports whether the version is currently archived.
func (v *ScenarioVersion) IsArchived() bool {
	return v.ArchivedAt != nil
}

// ScenarioActiveVersion is the per-(project, scenario) pointer at the version
// currently used as the baseline for dashboards and comparisons.
type ScenarioActiveVersion struct {
	ProjectID uuid.UUID `json:"project_id"`
	Scenario  Scenario  `json:"scenario"`
	VersionID uuid.UUID `json:"version_id"`
	UpdatedAt time.Time `json:"updated_at"`
}

// VersionList is the listing result for one scenario: the active pointer
// (nil if none set yet) plus all versions ordered by version number.
type VersionList struct {
	ActiveVersionID *uuid.UUID         `json:"active_version_id,omitempty"`
	Versions        []*ScenarioVersion `json:"versions"`
}
