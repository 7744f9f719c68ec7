package history

import (
	"fmt"
	"time"

	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"github.com/nyimbi/stateflow/internal/domain/entity"
)

// ReportWriter renders audit trails into Excel workbooks for offline
// review
type ReportWriter struct {
	logger *zap.Logger
}

// NewReportWriter creates a new report writer
func NewReportWriter(logger *zap.Logger) *ReportWriter {
	return &ReportWriter{logger: logger}
}

var reportColumns = []string{
	"Timestamp", "Instance", "Model", "Workflow", "From", "To",
	"Trigger", "Actor", "Reason", "Trace ID", "Tags", "Revert",
}

// Write renders entries into an .xlsx workbook at outputPath
func (w *ReportWriter) Write(entries []*entity.HistoryEntry, outputPath string) error {
	w.logger.Info("Writing audit report",
		zap.Int("entries", len(entries)),
		zap.String("output", outputPath))

	f := excelize.NewFile()
	defer f.Close()

	const sheetName = "History"
	index, err := f.NewSheet(sheetName)
	if err != nil {
		return fmt.Errorf("failed to create sheet: %w", err)
	}
	f.SetActiveSheet(index)
	f.DeleteSheet("Sheet1")

	for col, title := range reportColumns {
		cell, err := excelize.CoordinatesToCellName(col+1, 1)
		if err != nil {
			return fmt.Errorf("failed to compute header cell: %w", err)
		}
		if err := f.SetCellValue(sheetName, cell, title); err != nil {
			return fmt.Errorf("failed to set header cell: %w", err)
		}
	}

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
	})
	if err == nil {
		last, _ := excelize.CoordinatesToCellName(len(reportColumns), 1)
		_ = f.SetCellStyle(sheetName, "A1", last, headerStyle)
	}

	for i, e := range entries {
		row := i + 2
		values := []any{
			e.Timestamp.Format(time.RFC3339),
			e.InstanceID,
			e.ModelType,
			e.Workflow,
			e.FromState,
			e.ToState,
			e.Trigger,
			e.ActorID,
			e.Reason,
			e.TraceID,
			joinTags(e.Tags),
			e.Revert,
		}
		for col, v := range values {
			cell, err := excelize.CoordinatesToCellName(col+1, row)
			if err != nil {
				return fmt.Errorf("failed to compute cell: %w", err)
			}
			if err := f.SetCellValue(sheetName, cell, v); err != nil {
				return fmt.Errorf("failed to set cell: %w", err)
			}
		}
	}

	if err := f.SaveAs(outputPath); err != nil {
		return fmt.Errorf("failed to save report: %w", err)
	}

	w.logger.Info("Audit report written", zap.String("output", outputPath))
	return nil
}

func joinTags(tags []string) string {
	out := ""
	for i, t := range tags {
		if i > 0 {
			out += ", "
		}
		out += t
	}
	return out
}
