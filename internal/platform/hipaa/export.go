package hipaa

import (
	"bytes"
	"fmt"
	"strconv"
	"time"

	"github.com/xuri/excelize/v2"
)

const exportSheet = "Access Log"

var exportHeader = []string{"accessed_at", "request_id", "user_id", "role", "action", "resource_type",
	"resource_id", "patient_id", "method", "path", "status_code", "ip_address"}

var exportWidths = []float64{22, 38, 38, 10, 10, 16, 38, 38, 8, 50, 12, 16}

func exportRow(r *AccessRecord) []string {
	return []string{
		r.AccessedAt.UTC().Format(time.RFC3339),
		r.RequestID,
		uuidString(r.UserID),
		r.Role,
		r.Action,
		r.ResourceType,
		r.ResourceID,
		uuidString(r.PatientID),
		r.Method,
		r.Path,
		strconv.Itoa(r.StatusCode),
		stringValue(r.IPAddress),
	}
}

// writeXLSX renders records as a single-sheet workbook with a frozen,
// bold header row. Denied requests are highlighted.
func writeXLSX(items []*AccessRecord) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	index, err := f.NewSheet(exportSheet)
	if err != nil {
		return nil, fmt.Errorf("create sheet: %w", err)
	}
	f.DeleteSheet("Sheet1")
	f.SetActiveSheet(index)

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#E6F3FF"}, Pattern: 1},
	})
	if err != nil {
		return nil, fmt.Errorf("create header style: %w", err)
	}
	deniedStyle, err := f.NewStyle(&excelize.Style{
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#FDE2E1"}, Pattern: 1},
	})
	if err != nil {
		return nil, fmt.Errorf("create denied style: %w", err)
	}

	if err := setRow(f, 1, exportHeader); err != nil {
		return nil, err
	}
	last, _ := excelize.CoordinatesToCellName(len(exportHeader), 1)
	if err := f.SetCellStyle(exportSheet, "A1", last, headerStyle); err != nil {
		return nil, fmt.Errorf("set header style: %w", err)
	}
	for i, w := range exportWidths {
		col, _ := excelize.ColumnNumberToName(i + 1)
		if err := f.SetColWidth(exportSheet, col, col, w); err != nil {
			return nil, fmt.Errorf("set column width: %w", err)
		}
	}

	for i, r := range items {
		row := i + 2
		if err := setRow(f, row, exportRow(r)); err != nil {
			return nil, err
		}
		if r.Denied() {
			first, _ := excelize.CoordinatesToCellName(1, row)
			end, _ := excelize.CoordinatesToCellName(len(exportHeader), row)
			if err := f.SetCellStyle(exportSheet, first, end, deniedStyle); err != nil {
				return nil, fmt.Errorf("set row style: %w", err)
			}
		}
	}

	if err := f.SetPanes(exportSheet, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	}); err != nil {
		return nil, fmt.Errorf("freeze header: %w", err)
	}

	var buf bytes.Buffer
	if _, err := f.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("write workbook: %w", err)
	}
	return buf.Bytes(), nil
}

func setRow(f *excelize.File, row int, values []string) error {
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return err
	}
	vals := make([]interface{}, len(values))
	for i, v := range values {
		vals[i] = v
	}
	if err := f.SetSheetRow(exportSheet, cell, &vals); err != nil {
		return fmt.Errorf("write row %d: %w", row, err)
	}
	return nil
}
