// Package export renders a document's records into a formatted spreadsheet.
// It only ever reads the store's output; it never writes status.
package export

import (
	"strconv"
	"time"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/roach88/aegis/internal/model"
)

// Columns of the reconciliation sheet, in order.
var headerColumns = []string{
	"ID",
	"Unit",
	"Size",
	"Name",
	"Identifier",
	"Status",
	"Phone 1",
	"Phone 2",
	"Phone 3",
	"Processed At",
}

// Column widths are clamped to this range (character-width units).
const (
	minColWidth = 10.0
	maxColWidth = 20.0
)

// WriteXLSX writes one workbook for a document's records: a title banner
// row, a header row, one data row per record. Missing optional fields render
// as empty cells.
func WriteXLSX(records []model.OwnerRecord, doc, outputPath string) error {
	f := xlsx.NewFile()
	sheet, err := f.AddSheet("Results")
	if err != nil {
		return eris.Wrap(err, "export: add sheet")
	}

	banner := sheet.AddRow()
	bannerCell := banner.AddCell()
	bannerCell.Value = doc + " - exported " + time.Now().UTC().Format("2006-01-02")
	bannerStyle := xlsx.NewStyle()
	bannerStyle.Font.Bold = true
	bannerStyle.ApplyFont = true
	bannerCell.SetStyle(bannerStyle)

	header := sheet.AddRow()
	headerStyle := xlsx.NewStyle()
	headerStyle.Font.Bold = true
	headerStyle.ApplyFont = true
	for _, col := range headerColumns {
		cell := header.AddCell()
		cell.Value = col
		cell.SetStyle(headerStyle)
	}

	widths := make([]float64, len(headerColumns))
	for i, col := range headerColumns {
		widths[i] = float64(len(col))
	}

	for _, rec := range records {
		row := sheet.AddRow()
		for i, value := range recordCells(rec) {
			row.AddCell().Value = value
			if w := float64(len(value)); w > widths[i] {
				widths[i] = w
			}
		}
	}

	for i := range headerColumns {
		sheet.SetColWidth(i, i, clampWidth(widths[i]))
	}

	return eris.Wrapf(f.Save(outputPath), "export: save %s", outputPath)
}

func recordCells(rec model.OwnerRecord) []string {
	phones := make([]string, model.MaxPhones)
	copy(phones, rec.Phones)

	processedAt := ""
	if rec.ProcessedAt != nil {
		processedAt = rec.ProcessedAt.Format(time.RFC3339)
	}

	id := ""
	if rec.ID != 0 {
		id = strconv.FormatInt(rec.ID, 10)
	}

	return []string{
		id,
		rec.Unit,
		rec.Size,
		rec.Name,
		rec.Identifier,
		string(rec.Status),
		phones[0],
		phones[1],
		phones[2],
		processedAt,
	}
}

func clampWidth(w float64) float64 {
	if w < minColWidth {
		return minColWidth
	}
	if w > maxColWidth {
		return maxColWidth
	}
	return w
}
