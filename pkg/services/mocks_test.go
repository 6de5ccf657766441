package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bildwerk/boq-engine/pkg/apperrors"
	"github.com/bildwerk/boq-engine/pkg/models"
)

// ============================================================================
// In-memory store shared by the mock repositories
// ============================================================================

type activeKey struct {
	project  uuid.UUID
	scenario models.Scenario
}

// memStore backs the mock repositories with the same semantics the SQL layer
// provides: monotonic version numbers, active-pointer seeding, and the
// 3-phase bulk apply. A single mutex stands in for transaction isolation.
type memStore struct {
	mu       sync.Mutex
	versions map[uuid.UUID]*models.ScenarioVersion
	actives  map[activeKey]uuid.UUID
	lines    map[uuid.UUID]*models.BoqLine
}

func newMemStore() *memStore {
	return &memStore{
		versions: make(map[uuid.UUID]*models.ScenarioVersion),
		actives:  make(map[activeKey]uuid.UUID),
		lines:    make(map[uuid.UUID]*models.BoqLine),
	}
}

func (s *memStore) nextVersionNo(projectID uuid.UUID, scenario models.Scenario) int {
	max := 0
	for _, v := range s.versions {
		if v.ProjectID == projectID && v.Scenario == scenario && v.VersionNo > max {
			max = v.VersionNo
		}
	}
	return max + 1
}

// editableVersionLocked mirrors the repository's in-transaction guard: line
// writes re-check the owning version right before touching rows. Caller holds
// the mutex.
func (s *memStore) editableVersionLocked(projectID, versionID uuid.UUID) error {
	v, ok := s.versions[versionID]
	if !ok || v.ProjectID != projectID || v.ArchivedAt != nil {
		return apperrors.ErrNotFound
	}
	if v.Status == models.VersionStatusLocked {
		return apperrors.ErrVersionLocked
	}
	return nil
}

func (s *memStore) versionLines(versionID uuid.UUID) []*models.BoqLine {
	var out []*models.BoqLine
	for _, l := range s.lines {
		if l.VersionID == versionID {
			out = append(out, l)
		}
	}
	return out
}

// snapshotLines returns deep copies of a version's rows, for before/after
// comparison in tests.
func (s *memStore) snapshotLines(versionID uuid.UUID) map[uuid.UUID]models.BoqLine {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := make(map[uuid.UUID]models.BoqLine)
	for _, l := range s.versionLines(versionID) {
		copied := *l
		if l.ParentLineID != nil {
			p := *l.ParentLineID
			copied.ParentLineID = &p
		}
		snap[l.ID] = copied
	}
	return snap
}

// ============================================================================
// Mock ScenarioVersionRepository
// ============================================================================

type mockVersionRepo struct {
	store *memStore

	createErr error
	lockErr   error
}

func newMockVersionRepo(store *memStore) *mockVersionRepo {
	return &mockVersionRepo{store: store}
}

func (m *mockVersionRepo) GetByID(ctx context.Context, projectID, versionID uuid.UUID) (*models.ScenarioVersion, error) {
	m.store.mu.Lock()
	defer m.store.mu.Unlock()
	v, ok := m.store.versions[versionID]
	if !ok || v.ProjectID != projectID {
		return nil, apperrors.ErrNotFound
	}
	copied := *v
	return &copied, nil
}

func (m *mockVersionRepo) ListByScenario(ctx context.Context, projectID uuid.UUID, scenario models.Scenario, includeArchived bool) ([]*models.ScenarioVersion, error) {
	m.store.mu.Lock()
	defer m.store.mu.Unlock()
	var out []*models.ScenarioVersion
	for _, v := range m.store.versions {
		if v.ProjectID != projectID || v.Scenario != scenario {
			continue
		}
		if v.IsArchived() && !includeArchived {
			continue
		}
		copied := *v
		out = append(out, &copied)
	}
	// Insertion order is not preserved by the map; sort by version number.
	for i := 0; i < len(out); i++ {
		for j := i + 1; j < len(out); j++ {
			if out[j].VersionNo < out[i].VersionNo {
				out[i], out[j] = out[j], out[i]
			}
		}
	}
	return out, nil
}

func (m *mockVersionRepo) Create(ctx context.Context, version *models.ScenarioVersion) error {
	if m.createErr != nil {
		return m.createErr
	}
	m.store.mu.Lock()
	defer m.store.mu.Unlock()

	version.VersionNo = m.store.nextVersionNo(version.ProjectID, version.Scenario)
	version.CreatedAt = time.Now()
	if version.Name == "" {
		version.Name = fmt.Sprintf("Version %d", version.VersionNo)
	}
	copied := *version
	m.store.versions[version.ID] = &copied

	key := activeKey{version.ProjectID, version.Scenario}
	if _, ok := m.store.actives[key]; !ok {
		m.store.actives[key] = version.ID
	}
	return nil
}

func (m *mockVersionRepo) CloneWithLines(ctx context.Context, base, clone *models.ScenarioVersion) (int, error) {
	m.store.mu.Lock()
	defer m.store.mu.Unlock()

	clone.VersionNo = m.store.nextVersionNo(clone.ProjectID, clone.Scenario)
	clone.CreatedAt = time.Now()
	copied := *clone
	m.store.versions[clone.ID] = &copied

	count := 0
	for _, l := range m.store.versionLines(base.ID) {
		dup := *l
		dup.ID = uuid.New()
		dup.VersionID = clone.ID
		dup.ParentLineID = nil
		m.store.lines[dup.ID] = &dup
		count++
	}
	return count, nil
}

func (m *mockVersionRepo) Lock(ctx context.Context, projectID, versionID, userID uuid.UUID, at time.Time) error {
	if m.lockErr != nil {
		return m.lockErr
	}
	m.store.mu.Lock()
	defer m.store.mu.Unlock()
	v, ok := m.store.versions[versionID]
	if !ok || v.ProjectID != projectID || v.ArchivedAt != nil {
		return apperrors.ErrNotFound
	}
	if v.Status == models.VersionStatusLocked {
		return nil
	}
	if len(m.store.versionLines(versionID)) == 0 {
		return apperrors.NewValidation("cannot freeze an empty version")
	}
	v.Status = models.VersionStatusLocked
	v.LockedAt = &at
	v.LockedBy = &userID
	return nil
}

func (m *mockVersionRepo) SetArchived(ctx context.Context, projectID, versionID, userID uuid.UUID, archived bool, at time.Time) error {
	m.store.mu.Lock()
	defer m.store.mu.Unlock()
	v, ok := m.store.versions[versionID]
	if !ok || v.ProjectID != projectID {
		return apperrors.ErrNotFound
	}
	if archived {
		if m.store.actives[activeKey{projectID, v.Scenario}] == versionID {
			return apperrors.NewValidation("cannot archive the active version; repoint the active version first")
		}
		v.ArchivedAt = &at
		v.ArchivedBy = &userID
	} else {
		v.ArchivedAt = nil
		v.ArchivedBy = nil
	}
	return nil
}

func (m *mockVersionRepo) GetActive(ctx context.Context, projectID uuid.UUID, scenario models.Scenario) (*models.ScenarioActiveVersion, error) {
	m.store.mu.Lock()
	defer m.store.mu.Unlock()
	id, ok := m.store.actives[activeKey{projectID, scenario}]
	if !ok {
		return nil, nil
	}
	return &models.ScenarioActiveVersion{
		ProjectID: projectID,
		Scenario:  scenario,
		VersionID: id,
	}, nil
}

func (m *mockVersionRepo) SetActive(ctx context.Context, projectID uuid.UUID, scenario models.Scenario, versionID uuid.UUID) error {
	m.store.mu.Lock()
	defer m.store.mu.Unlock()
	v, ok := m.store.versions[versionID]
	if !ok || v.ProjectID != projectID || v.ArchivedAt != nil {
		return apperrors.ErrNotFound
	}
	m.store.actives[activeKey{projectID, scenario}] = versionID
	return nil
}

func (m *mockVersionRepo) CountLines(ctx context.Context, versionID uuid.UUID) (int, error) {
	m.store.mu.Lock()
	defer m.store.mu.Unlock()
	return len(m.store.versionLines(versionID)), nil
}

// ============================================================================
// Mock BoqLineRepository
// ============================================================================

type mockLineRepo struct {
	store *memStore

	applyErr error
}

func newMockLineRepo(store *memStore) *mockLineRepo {
	return &mockLineRepo{store: store}
}

func (m *mockLineRepo) GetByID(ctx context.Context, projectID, lineID uuid.UUID) (*models.BoqLine, error) {
	m.store.mu.Lock()
	defer m.store.mu.Unlock()
	l, ok := m.store.lines[lineID]
	if !ok || l.ProjectID != projectID {
		return nil, apperrors.ErrNotFound
	}
	copied := *l
	return &copied, nil
}

func (m *mockLineRepo) ListByVersion(ctx context.Context, projectID, versionID uuid.UUID) ([]*models.BoqLine, error) {
	m.store.mu.Lock()
	defer m.store.mu.Unlock()
	var out []*models.BoqLine
	for _, l := range m.store.versionLines(versionID) {
		copied := *l
		out = append(out, &copied)
	}
	// sort_index asc, wbs_key asc, tariff_code asc
	for i := 0; i < len(out); i++ {
		for j := i + 1; j < len(out); j++ {
			a, b := out[i], out[j]
			if b.SortIndex < a.SortIndex ||
				(b.SortIndex == a.SortIndex && b.WbsKey < a.WbsKey) ||
				(b.SortIndex == a.SortIndex && b.WbsKey == a.WbsKey && b.TariffCode < a.TariffCode) {
				out[i], out[j] = out[j], out[i]
			}
		}
	}
	return out, nil
}

func (m *mockLineRepo) ExistingIDs(ctx context.Context, versionID uuid.UUID, ids []uuid.UUID) (map[uuid.UUID]bool, error) {
	m.store.mu.Lock()
	defer m.store.mu.Unlock()
	existing := make(map[uuid.UUID]bool)
	for _, id := range ids {
		if l, ok := m.store.lines[id]; ok && l.VersionID == versionID {
			existing[id] = true
		}
	}
	return existing, nil
}

func (m *mockLineRepo) ApplyBulkPlan(ctx context.Context, plan *models.BulkPlan) (*models.BulkResult, error) {
	if m.applyErr != nil {
		return nil, m.applyErr
	}
	m.store.mu.Lock()
	defer m.store.mu.Unlock()

	if err := m.store.editableVersionLocked(plan.ProjectID, plan.VersionID); err != nil {
		return nil, err
	}

	result := &models.BulkResult{}
	tempToReal := make(map[string]uuid.UUID)
	now := time.Now()

	findByKey := func(key string) *models.BoqLine {
		if key == "" {
			return nil
		}
		for _, l := range m.store.versionLines(plan.VersionID) {
			if l.IdempotencyKey == key {
				return l
			}
		}
		return nil
	}

	for _, w := range plan.Creates {
		line := *w.Line
		line.CreatedAt = now
		line.UpdatedAt = now
		line.ParentLineID = nil
		if w.Parent.Kind == models.ParentImmediate {
			p := w.Parent.Persisted
			line.ParentLineID = &p
		}
		if prior := findByKey(line.IdempotencyKey); prior != nil {
			line.ID = prior.ID
			line.CreatedAt = prior.CreatedAt
			m.store.lines[line.ID] = &line
			result.Updated++
		} else {
			m.store.lines[line.ID] = &line
			result.Created++
		}
		w.Line.ID = line.ID
		if w.Temp != "" {
			tempToReal[w.Temp] = line.ID
		}
	}

	for _, w := range plan.Updates {
		prior, ok := m.store.lines[w.Line.ID]
		if !ok || prior.VersionID != plan.VersionID {
			return nil, apperrors.ErrNotFound
		}
		line := *w.Line
		line.CreatedAt = prior.CreatedAt
		line.UpdatedAt = now
		line.ParentLineID = nil
		if w.Parent.Kind == models.ParentImmediate {
			p := w.Parent.Persisted
			line.ParentLineID = &p
		}
		m.store.lines[line.ID] = &line
		result.Updated++
	}

	for _, phase := range [][]*models.LineWrite{plan.Creates, plan.Updates} {
		for _, w := range phase {
			var parentID uuid.UUID
			switch w.Parent.Kind {
			case models.ParentPendingTemp:
				real, ok := tempToReal[w.Parent.Pending]
				if !ok {
					continue
				}
				parentID = real
			case models.ParentDeferredReal:
				parentID = w.Parent.Persisted
			default:
				continue
			}
			if l, ok := m.store.lines[w.Line.ID]; ok {
				p := parentID
				l.ParentLineID = &p
			}
		}
	}
	return result, nil
}

func (m *mockLineRepo) DeleteWithPromotion(ctx context.Context, projectID, lineID uuid.UUID) error {
	m.store.mu.Lock()
	defer m.store.mu.Unlock()
	l, ok := m.store.lines[lineID]
	if !ok || l.ProjectID != projectID {
		return apperrors.ErrNotFound
	}
	if err := m.store.editableVersionLocked(projectID, l.VersionID); err != nil {
		return err
	}
	for _, child := range m.store.lines {
		if child.ParentLineID != nil && *child.ParentLineID == lineID {
			child.ParentLineID = nil
		}
	}
	delete(m.store.lines, lineID)
	return nil
}

// ============================================================================
// Mock WbsLevelService
// ============================================================================

type stubWbsLevels struct {
	levels   []string
	settings []*models.WbsLevelSetting
	err      error
}

func (s *stubWbsLevels) RequiredLevels(ctx context.Context, projectID uuid.UUID) ([]string, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.levels, nil
}

func (s *stubWbsLevels) ListSettings(ctx context.Context, projectID uuid.UUID) ([]*models.WbsLevelSetting, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.settings, nil
}
