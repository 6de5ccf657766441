package services

import (
	"github.com/google/uuid"

	"github.com/bildwerk/boq-engine/pkg/apperrors"
	"github.com/bildwerk/boq-engine/pkg/models"
)

// decodedItem is one batch item with its id and parent references decoded
// into tagged LineRefs. All string sniffing happens in decodeBatch; the rest
// of the reconciler works on typed references only.
type decodedItem struct {
	input  LineInput
	ref    models.LineRef
	parent models.LineRef
}

type decodedBatch struct {
	items []*decodedItem
	// tempTokens maps every placeholder token declared by a batch item to
	// that item, for parent classification and cycle walking.
	tempTokens map[string]*decodedItem
}

func decodeBatch(items []LineInput) (*decodedBatch, error) {
	batch := &decodedBatch{
		items:      make([]*decodedItem, 0, len(items)),
		tempTokens: make(map[string]*decodedItem),
	}
	realSeen := make(map[uuid.UUID]bool)

	for _, input := range items {
		ref, err := models.ParseLineRef(input.ID)
		if err != nil {
			return nil, apperrors.NewValidation("%v", err)
		}
		parent, err := models.ParseLineRef(input.ParentLineID)
		if err != nil {
			return nil, apperrors.NewValidation("invalid parent reference: %v", err)
		}

		item := &decodedItem{input: input, ref: ref, parent: parent}
		batch.items = append(batch.items, item)
		if ref.IsPending() {
			if _, dup := batch.tempTokens[ref.Pending()]; dup {
				return nil, apperrors.NewValidation("duplicate temporary id %q in batch", ref.Pending())
			}
			batch.tempTokens[ref.Pending()] = item
		}
		if ref.IsPersisted() {
			if realSeen[ref.Persisted()] {
				return nil, apperrors.NewValidation("duplicate line id %q in batch", ref.Persisted())
			}
			realSeen[ref.Persisted()] = true
		}
	}
	return batch, nil
}

// realIDs collects every persisted id the batch mentions, as item identity or
// as parent reference, for a single existence check against the version.
func (b *decodedBatch) realIDs() []uuid.UUID {
	seen := make(map[uuid.UUID]bool)
	var ids []uuid.UUID
	for _, item := range b.items {
		for _, ref := range []models.LineRef{item.ref, item.parent} {
			if ref.IsPersisted() && !seen[ref.Persisted()] {
				seen[ref.Persisted()] = true
				ids = append(ids, ref.Persisted())
			}
		}
	}
	return ids
}

// buildBulkPlan validates and classifies the whole batch, producing the plan
// the repository applies in one transaction. Any validation failure aborts
// the batch before a single write happens.
func buildBulkPlan(projectID, versionID uuid.UUID, requiredLevels []string, batch *decodedBatch, existing map[uuid.UUID]bool) (*models.BulkPlan, error) {
	plan := &models.BulkPlan{ProjectID: projectID, VersionID: versionID}

	// Real ids being created by this same batch (client replay of deleted
	// rows): parents referencing them must be deferred, not rejected.
	batchCreatesReal := make(map[uuid.UUID]bool)
	for _, item := range batch.items {
		if item.ref.IsPersisted() && !existing[item.ref.Persisted()] {
			batchCreatesReal[item.ref.Persisted()] = true
		}
	}

	for _, item := range batch.items {
		line, err := buildLine(projectID, versionID, requiredLevels, item.input)
		if err != nil {
			return nil, err
		}

		parent, err := classifyParent(item, batch, existing, batchCreatesReal)
		if err != nil {
			return nil, err
		}

		write := &models.LineWrite{Line: line, Parent: parent}
		switch {
		case item.ref.IsPersisted() && existing[item.ref.Persisted()]:
			line.ID = item.ref.Persisted()
			plan.Updates = append(plan.Updates, write)
		case item.ref.IsPersisted():
			// Absent from the version: create preserving the client id.
			line.ID = item.ref.Persisted()
			plan.Creates = append(plan.Creates, write)
		default:
			line.ID = uuid.New()
			write.Temp = item.ref.Pending()
			plan.Creates = append(plan.Creates, write)
		}
	}

	if err := rejectParentCycles(batch); err != nil {
		return nil, err
	}
	return plan, nil
}

// buildLine validates one descriptor and produces the normalized row.
func buildLine(projectID, versionID uuid.UUID, requiredLevels []string, input LineInput) (*models.BoqLine, error) {
	rowType, err := models.ParseRowType(input.RowType)
	if err != nil {
		return nil, apperrors.NewValidation("%v", err)
	}
	qtySource, err := models.ParseQtySource(input.QtySource)
	if err != nil {
		return nil, apperrors.NewValidation("%v", err)
	}

	switch rowType {
	case models.RowTypeLine:
		if input.TariffCode == "" {
			return nil, apperrors.NewValidation("line row requires a tariff code")
		}
	case models.RowTypeGroup:
		if input.TariffCode == "" && input.Description == "" {
			return nil, apperrors.NewValidation("group row requires a tariff code or a description")
		}
	}

	wbsKey, err := models.BuildWbsKey(requiredLevels, input.Wbs, rowType)
	if err != nil {
		return nil, err
	}

	line := &models.BoqLine{
		ProjectID:         projectID,
		VersionID:         versionID,
		WbsKey:            wbsKey,
		Wbs:               input.Wbs,
		TariffCode:        input.TariffCode,
		Description:       input.Description,
		UnitOfMeasure:     input.UnitOfMeasure,
		Qty:               input.Qty,
		UnitPrice:         input.UnitPrice,
		RowType:           rowType,
		QtyModelSuggested: input.QtyModelSuggested,
		QtySource:         qtySource,
		MarginPct:         input.MarginPct,
		PackageCode:       input.PackageCode,
		MaterialCode:      input.MaterialCode,
		SupplierID:        input.SupplierID,
		IdempotencyKey:    input.IdempotencyKey,
	}
	line.Normalize(input.SortIndex)
	return line, nil
}

// classifyParent resolves a declared parent reference into one of the plan's
// parent kinds. Self-references, unknown placeholder tokens and real parents
// that exist neither in the version nor in the batch are rejected; the last
// rule also blocks cross-version parent links.
func classifyParent(item *decodedItem, batch *decodedBatch, existing, batchCreatesReal map[uuid.UUID]bool) (models.ParentRef, error) {
	parent := item.parent
	if parent.IsZero() {
		return models.ParentRef{Kind: models.ParentNone}, nil
	}
	if parent == item.ref {
		return models.ParentRef{}, apperrors.NewValidation("line cannot be its own parent")
	}

	if parent.IsPending() {
		if _, ok := batch.tempTokens[parent.Pending()]; !ok {
			return models.ParentRef{}, apperrors.NewValidation("unknown temporary parent id %q", parent.Pending())
		}
		return models.ParentRef{Kind: models.ParentPendingTemp, Pending: parent.Pending()}, nil
	}

	id := parent.Persisted()
	switch {
	case existing[id]:
		return models.ParentRef{Kind: models.ParentImmediate, Persisted: id}, nil
	case batchCreatesReal[id]:
		return models.ParentRef{Kind: models.ParentDeferredReal, Persisted: id}, nil
	}
	return models.ParentRef{}, apperrors.NewValidation("parent line %s not found in version", id)
}

// rejectParentCycles walks each item's parent chain through the batch. Every
// item has at most one parent, so a chain walk with a per-walk visited set
// finds any cycle the batch would introduce among its own rows.
func rejectParentCycles(batch *decodedBatch) error {
	// Batch items addressable as a parent, by reference.
	byRef := make(map[models.LineRef]*decodedItem, len(batch.items))
	for _, item := range batch.items {
		if !item.ref.IsZero() {
			byRef[item.ref] = item
		}
	}

	cleared := make(map[*decodedItem]bool, len(batch.items))
	for _, item := range batch.items {
		walked := make(map[*decodedItem]bool)
		current := item
		for current != nil && !cleared[current] {
			if walked[current] {
				return apperrors.NewValidation("parent reference cycle detected")
			}
			walked[current] = true
			current = byRef[current.parent]
		}
		for visited := range walked {
			cleared[visited] = true
		}
	}
	return nil
}
