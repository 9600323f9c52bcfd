// Package report renders role views as spreadsheets.
package report

import (
	"fmt"
	"io"
	"time"

	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"github.com/garyjia/printshop-workflow/internal/application/workflow"
)

// SheetName is the single sheet of an exported view
const SheetName = "Dossiers"

var headers = []string{"Statut", "Référence", "Machine", "Créé par", "Version", "Mis à jour"}

// ViewExporter writes a role view to XLSX, one row per dossier grouped by
// status in display order
type ViewExporter struct {
	logger *zap.Logger
	now    func() time.Time
}

// NewViewExporter creates a new exporter
func NewViewExporter(logger *zap.Logger) *ViewExporter {
	return &ViewExporter{logger: logger, now: time.Now}
}

// Export writes the workbook to w
func (e *ViewExporter) Export(w io.Writer, view workflow.View) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName(f.GetSheetName(0), SheetName); err != nil {
		return fmt.Errorf("failed to name sheet: %w", err)
	}

	title := fmt.Sprintf("Vue %s (%d dossiers) - %s", view.Role, view.Count(), e.now().Format("2006-01-02 15:04"))
	e.setCell(f, "A1", title)

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#D9E1F2"}, Pattern: 1},
	})
	if err != nil {
		return fmt.Errorf("failed to create header style: %w", err)
	}

	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 3)
		e.setCell(f, cell, h)
	}
	lastHeader, _ := excelize.CoordinatesToCellName(len(headers), 3)
	if err := f.SetCellStyle(SheetName, "A3", lastHeader, headerStyle); err != nil {
		return fmt.Errorf("failed to style header: %w", err)
	}

	row := 4
	for _, group := range view.Groups {
		for _, d := range group.Dossiers {
			machine := ""
			if d.Type != nil {
				machine = d.Type.String()
			}
			values := []interface{}{
				group.Label,
				d.Reference,
				machine,
				d.CreatedBy,
				d.Version,
				d.UpdatedAt.Format("2006-01-02 15:04"),
			}
			cell, _ := excelize.CoordinatesToCellName(1, row)
			if err := f.SetSheetRow(SheetName, cell, &values); err != nil {
				return fmt.Errorf("failed to write row %d: %w", row, err)
			}
			row++
		}
	}

	if err := f.SetColWidth(SheetName, "A", "F", 18); err != nil {
		return fmt.Errorf("failed to set column width: %w", err)
	}

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("failed to write workbook: %w", err)
	}

	e.logger.Info("Role view exported",
		zap.String("role", view.Role.String()),
		zap.Int("dossier_count", view.Count()))
	return nil
}

func (e *ViewExporter) setCell(f *excelize.File, cell string, value interface{}) {
	if err := f.SetCellValue(SheetName, cell, value); err != nil {
		e.logger.Warn("Failed to set cell value",
			zap.String("cell", cell),
			zap.Error(err))
	}
}
