// Package export renders stored safety checks as spreadsheets.
package export

import (
	"bytes"
	"fmt"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/safestrip/safestrip/internal/database"
)

const (
	summarySheet = "Summary"
	itemsSheet   = "Outlets"
)

// ContentTypeXLSX is the media type of the generated workbook.
const ContentTypeXLSX = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// ItemsHeader is the header row of the outlets sheet.
var ItemsHeader = []string{
	"Device ID",
	"Outlet ID",
	"Outlet Index",
	"Status",
	"Open Alerts",
	"Reason",
}

var itemColumnWidths = []float64{38, 38, 14, 10, 12, 40}

// statusColors fills the status cell of each item.
var statusColors = map[database.CheckStatus]string{
	database.CheckStatusPass: "#D9F2D9",
	database.CheckStatusWarn: "#FFF2CC",
	database.CheckStatusFail: "#F8D7DA",
}

// FileName is the download name for a check.
func FileName(check database.SafetyCheck) string {
	return fmt.Sprintf("safety-check-%s-%s.xlsx", check.CheckedAt.UTC().Format("20060102-150405"), check.ID)
}

// SafetyCheckXLSX renders a check as a workbook with a summary sheet and one
// row per outlet item.
func SafetyCheckXLSX(check database.SafetyCheck, items []database.SafetyCheckItem) ([]byte, error) {
	f := excelize.NewFile()

	if err := writeSummary(f, check, items); err != nil {
		f.Close()
		return nil, err
	}
	if err := writeItems(f, items); err != nil {
		f.Close()
		return nil, err
	}

	var buf bytes.Buffer
	if _, err := f.WriteTo(&buf); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to write workbook: %w", err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("failed to close workbook: %w", err)
	}
	return buf.Bytes(), nil
}

func writeSummary(f *excelize.File, check database.SafetyCheck, items []database.SafetyCheckItem) error {
	// The default sheet becomes the summary.
	if err := f.SetSheetName("Sheet1", summarySheet); err != nil {
		return fmt.Errorf("failed to rename sheet: %w", err)
	}

	counts := map[database.CheckStatus]int{}
	for _, it := range items {
		counts[it.Status]++
	}

	rows := [][]interface{}{
		{"Check ID", check.ID},
		{"Location ID", check.WorkspaceID},
		{"Checked At", check.CheckedAt.UTC().Format(time.RFC3339)},
		{"Overall Status", string(check.OverallStatus)},
		{"Staleness (s)", check.StalenessSeconds},
		{"Outlets", len(items)},
		{"PASS", counts[database.CheckStatusPass]},
		{"WARN", counts[database.CheckStatusWarn]},
		{"FAIL", counts[database.CheckStatusFail]},
	}
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(summarySheet, cell, &row); err != nil {
			return fmt.Errorf("failed to write summary row %d: %w", i+1, err)
		}
	}

	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return fmt.Errorf("failed to create label style: %w", err)
	}
	if err := f.SetCellStyle(summarySheet, "A1", fmt.Sprintf("A%d", len(rows)), bold); err != nil {
		return err
	}
	if fill, ok := statusColors[check.OverallStatus]; ok {
		style, err := f.NewStyle(&excelize.Style{
			Font: &excelize.Font{Bold: true},
			Fill: excelize.Fill{Type: "pattern", Color: []string{fill}, Pattern: 1},
		})
		if err != nil {
			return err
		}
		if err := f.SetCellStyle(summarySheet, "B4", "B4", style); err != nil {
			return err
		}
	}
	return f.SetColWidth(summarySheet, "A", "B", 38)
}

func writeItems(f *excelize.File, items []database.SafetyCheckItem) error {
	if _, err := f.NewSheet(itemsSheet); err != nil {
		return fmt.Errorf("failed to create sheet: %w", err)
	}

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#E6F3FF"}, Pattern: 1},
		Border: []excelize.Border{
			{Type: "left", Color: "000000", Style: 1},
			{Type: "top", Color: "000000", Style: 1},
			{Type: "bottom", Color: "000000", Style: 1},
			{Type: "right", Color: "000000", Style: 1},
		},
		Alignment: &excelize.Alignment{Horizontal: "center", Vertical: "center"},
	})
	if err != nil {
		return fmt.Errorf("failed to create header style: %w", err)
	}

	header := make([]interface{}, len(ItemsHeader))
	for i, h := range ItemsHeader {
		header[i] = h
	}
	if err := f.SetSheetRow(itemsSheet, "A1", &header); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}
	lastCol, err := excelize.ColumnNumberToName(len(ItemsHeader))
	if err != nil {
		return err
	}
	if err := f.SetCellStyle(itemsSheet, "A1", lastCol+"1", headerStyle); err != nil {
		return err
	}
	for i, w := range itemColumnWidths {
		col, err := excelize.ColumnNumberToName(i + 1)
		if err != nil {
			return err
		}
		if err := f.SetColWidth(itemsSheet, col, col, w); err != nil {
			return fmt.Errorf("failed to set column width: %w", err)
		}
	}

	statusStyles := map[database.CheckStatus]int{}
	for status, fill := range statusColors {
		id, err := f.NewStyle(&excelize.Style{Fill: excelize.Fill{Type: "pattern", Color: []string{fill}, Pattern: 1}})
		if err != nil {
			return err
		}
		statusStyles[status] = id
	}

	for i, it := range items {
		row := i + 2
		values := []interface{}{it.DeviceID, it.OutletID, it.OutletIndex, string(it.Status), it.OpenAlertCount, it.Reason}
		cell, err := excelize.CoordinatesToCellName(1, row)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(itemsSheet, cell, &values); err != nil {
			return fmt.Errorf("failed to write row %d: %w", row, err)
		}
		if style, ok := statusStyles[it.Status]; ok {
			statusCell, _ := excelize.CoordinatesToCellName(4, row)
			if err := f.SetCellStyle(itemsSheet, statusCell, statusCell, style); err != nil {
				return err
			}
		}
	}

	return f.SetPanes(itemsSheet, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	})
}
