package services

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"github.com/bildwerk/boq-engine/pkg/apperrors"
	"github.com/bildwerk/boq-engine/pkg/models"
)

// boqSheetName is the worksheet BOQ workbooks are read from and written to.
const boqSheetName = "BOQ"

// boqBaseHeaders are the fixed workbook columns; one column per enabled WBS
// level follows them, keyed by level key.
var boqBaseHeaders = []string{
	"Row Type",
	"Tariff Code",
	"Description",
	"Unit",
	"Qty",
	"Unit Price",
}

// BoqImportService moves whole BOQ versions in and out of XLSX workbooks.
// Imports run through the same bulk reconciler as interactive grid saves, so
// every validation and locking rule applies to spreadsheet uploads too.
type BoqImportService interface {
	// ImportWorkbook parses the BOQ sheet of an XLSX workbook into line
	// descriptors and reconciles them into the version. All imported rows
	// are creates with qty source "import".
	ImportWorkbook(ctx context.Context, projectID, versionID uuid.UUID, r io.Reader) (*models.BulkResult, error)

	// ExportWorkbook renders the version's lines into an XLSX workbook
	// whose layout round-trips through ImportWorkbook.
	ExportWorkbook(ctx context.Context, projectID, versionID uuid.UUID) ([]byte, error)
}

type boqImportService struct {
	lineService BoqLineService
	wbsLevels   WbsLevelService
	logger      *zap.Logger
}

// NewBoqImportService creates a new BoqImportService.
func NewBoqImportService(lineService BoqLineService, wbsLevels WbsLevelService, logger *zap.Logger) BoqImportService {
	return &boqImportService{
		lineService: lineService,
		wbsLevels:   wbsLevels,
		logger:      logger,
	}
}

func (s *boqImportService) ImportWorkbook(ctx context.Context, projectID, versionID uuid.UUID, r io.Reader) (*models.BulkResult, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, apperrors.NewValidation("cannot read workbook: %v", err)
	}
	defer f.Close() //nolint:errcheck

	sheet := boqSheetName
	if idx, _ := f.GetSheetIndex(sheet); idx < 0 {
		// Fall back to the first sheet for workbooks saved under another name.
		sheet = f.GetSheetName(0)
	}

	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, apperrors.NewValidation("cannot read sheet %q: %v", sheet, err)
	}
	if len(rows) < 2 {
		return nil, apperrors.NewValidation("workbook has no data rows")
	}

	columns := make(map[string]int, len(rows[0]))
	for i, header := range rows[0] {
		columns[strings.TrimSpace(header)] = i
	}
	for _, required := range boqBaseHeaders {
		if _, ok := columns[required]; !ok {
			return nil, apperrors.NewValidation("workbook is missing column %q", required)
		}
	}

	levelKeys, err := s.enabledLevelKeys(ctx, projectID)
	if err != nil {
		return nil, err
	}

	items := make([]LineInput, 0, len(rows)-1)
	for rowNo, row := range rows[1:] {
		cell := func(header string) string {
			idx, ok := columns[header]
			if !ok || idx >= len(row) {
				return ""
			}
			return strings.TrimSpace(row[idx])
		}
		if isBlankRow(row) {
			continue
		}

		qty, err := parseCellDecimal(cell("Qty"))
		if err != nil {
			return nil, apperrors.NewValidation("row %d: invalid qty: %v", rowNo+2, err)
		}
		unitPrice, err := parseCellDecimal(cell("Unit Price"))
		if err != nil {
			return nil, apperrors.NewValidation("row %d: invalid unit price: %v", rowNo+2, err)
		}

		wbs := make(map[string]string, len(levelKeys))
		for _, key := range levelKeys {
			if v := cell(key); v != "" {
				wbs[key] = v
			}
		}

		items = append(items, LineInput{
			RowType:       strings.ToLower(cell("Row Type")),
			TariffCode:    cell("Tariff Code"),
			Description:   cell("Description"),
			UnitOfMeasure: cell("Unit"),
			Qty:           qty,
			UnitPrice:     unitPrice,
			SortIndex:     int64(rowNo),
			Wbs:           wbs,
			QtySource:     string(models.QtySourceImport),
		})
	}
	if len(items) == 0 {
		return nil, apperrors.NewValidation("workbook has no data rows")
	}

	result, err := s.lineService.BulkUpsertLines(ctx, projectID, versionID, items)
	if err != nil {
		return nil, err
	}

	s.logger.Info("Imported BOQ workbook",
		zap.String("project_id", projectID.String()),
		zap.String("version_id", versionID.String()),
		zap.Int("rows", len(items)))
	return result, nil
}

func (s *boqImportService) ExportWorkbook(ctx context.Context, projectID, versionID uuid.UUID) ([]byte, error) {
	lines, err := s.lineService.ListLines(ctx, projectID, versionID)
	if err != nil {
		return nil, err
	}
	levelKeys, err := s.enabledLevelKeys(ctx, projectID)
	if err != nil {
		return nil, err
	}

	f := excelize.NewFile()
	// Don't defer Close here: WriteToBuffer needs the file open.

	index, err := f.NewSheet(boqSheetName)
	if err != nil {
		f.Close() //nolint:errcheck
		return nil, fmt.Errorf("failed to create sheet: %w", err)
	}
	f.DeleteSheet("Sheet1")
	f.SetActiveSheet(index)

	headers := append(append([]string{}, boqBaseHeaders...), levelKeys...)
	if err := f.SetSheetRow(boqSheetName, "A1", &headers); err != nil {
		f.Close() //nolint:errcheck
		return nil, fmt.Errorf("failed to write header row: %w", err)
	}

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#E6F3FF"}, Pattern: 1},
	})
	if err == nil {
		lastCol, _ := excelize.ColumnNumberToName(len(headers))
		_ = f.SetCellStyle(boqSheetName, "A1", lastCol+"1", headerStyle)
	}

	for i, line := range lines {
		row := []any{
			string(line.RowType),
			line.TariffCode,
			line.Description,
			line.UnitOfMeasure,
			line.Qty.String(),
			line.UnitPrice.String(),
		}
		for _, key := range levelKeys {
			row = append(row, line.Wbs[key])
		}
		cellRef, _ := excelize.CoordinatesToCellName(1, i+2)
		if err := f.SetSheetRow(boqSheetName, cellRef, &row); err != nil {
			f.Close() //nolint:errcheck
			return nil, fmt.Errorf("failed to write line row: %w", err)
		}
	}

	buf, err := f.WriteToBuffer()
	closeErr := f.Close()
	if err != nil {
		return nil, fmt.Errorf("failed to render workbook: %w", err)
	}
	if closeErr != nil {
		return nil, fmt.Errorf("failed to close workbook: %w", closeErr)
	}
	return buf.Bytes(), nil
}

// enabledLevelKeys returns the workbook's WBS columns: every enabled level in
// configured order, not just the required subset, so optional classifications
// survive an export/import round trip.
func (s *boqImportService) enabledLevelKeys(ctx context.Context, projectID uuid.UUID) ([]string, error) {
	settings, err := s.wbsLevels.ListSettings(ctx, projectID)
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(settings))
	for _, setting := range settings {
		if setting.Enabled {
			keys = append(keys, setting.LevelKey)
		}
	}
	return keys, nil
}

func isBlankRow(row []string) bool {
	for _, cell := range row {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}

func parseCellDecimal(s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(s)
}
