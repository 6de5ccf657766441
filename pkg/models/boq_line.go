package models

import (
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// RowType distinguishes leaf cost lines from grouping headers.
type RowType string

const (
	RowTypeLine  RowType = "line"
	RowTypeGroup RowType = "group"
)

// ParseRowType validates a row type identifier. An empty value defaults to a
// plain line row.
func ParseRowType(s string) (RowType, error) {
	switch RowType(s) {
	case RowTypeLine, RowTypeGroup:
		return RowType(s), nil
	case "":
		return RowTypeLine, nil
	}
	return "", fmt.Errorf("unknown row type %q", s)
}

// QtySource records where a line's quantity came from.
type QtySource string

const (
	QtySourceManual          QtySource = "manual"
	QtySourceModel           QtySource = "model"
	QtySourceModelPlusMargin QtySource = "model_plus_margin"
	QtySourceImport          QtySource = "import"
)

// ParseQtySource validates a quantity source identifier. An empty value
// defaults to manual entry.
func ParseQtySource(s string) (QtySource, error) {
	switch QtySource(s) {
	case QtySourceManual, QtySourceModel, QtySourceModelPlusMargin, QtySourceImport:
		return QtySource(s), nil
	case "":
		return QtySourceManual, nil
	}
	return "", fmt.Errorf("unknown qty source %q", s)
}

// BoqLine is a bill-of-quantities row within one scenario version. Lines form
// a tree keyed by ParentLineID; a parent always belongs to the same version.
type BoqLine struct {
	ID                uuid.UUID         `json:"id"`
	ProjectID         uuid.UUID         `json:"project_id"`
	VersionID         uuid.UUID         `json:"version_id"`
	WbsKey            string            `json:"wbs_key"`
	Wbs               map[string]string `json:"wbs"`
	TariffCode        string            `json:"tariff_code"`
	Description       string            `json:"description,omitempty"`
	UnitOfMeasure     string            `json:"unit_of_measure,omitempty"`
	Qty               decimal.Decimal   `json:"qty"`
	UnitPrice         decimal.Decimal   `json:"unit_price"`
	Amount            decimal.Decimal   `json:"amount"`
	RowType           RowType           `json:"row_type"`
	SortIndex         int32             `json:"sort_index"`
	ParentLineID      *uuid.UUID        `json:"parent_line_id,omitempty"`
	QtyModelSuggested *decimal.Decimal  `json:"qty_model_suggested,omitempty"`
	QtySource         QtySource         `json:"qty_source"`
	MarginPct         *decimal.Decimal  `json:"margin_pct,omitempty"`
	PackageCode       string            `json:"package_code,omitempty"`
	MaterialCode      string            `json:"material_code,omitempty"`
	SupplierID        *uuid.UUID        `json:"supplier_id,omitempty"`
	IdempotencyKey    string            `json:"idempotency_key,omitempty"`
	CreatedAt         time.Time         `json:"created_at"`
	UpdatedAt         time.Time         `json:"updated_at"`
}

// Normalize recomputes derived fields. The amount is always qty × unit price
// rounded to 2 decimals; client-submitted amounts are never trusted. Group
// rows carry no quantities at all, and the sort index is clamped to the
// non-negative 32-bit range.
func (l *BoqLine) Normalize(sortIndex int64) {
	if l.RowType == RowTypeGroup {
		l.Qty = decimal.Zero
		l.UnitPrice = decimal.Zero
		l.Amount = decimal.Zero
	} else {
		l.Amount = l.Qty.Mul(l.UnitPrice).Round(2)
	}
	l.SortIndex = clampSortIndex(sortIndex)
}

func clampSortIndex(v int64) int32 {
	if v < 0 {
		return 0
	}
	if v > math.MaxInt32 {
		return math.MaxInt32
	}
	return int32(v)
}
