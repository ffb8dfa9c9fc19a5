package reports

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/xuri/excelize/v2"
)

const movementSheet = "Sheet1"

var movementHeadings = []string{
	"Surface", "LocationId", "ItemId", "TransactionType", "Quantity",
	"UnitCost", "TotalCost", "QtyBefore", "QtyAfter", "SourceType",
	"Notes", "PerformedAt",
}

// ExportItemMovementExcel streams the item movement report as an xlsx
// workbook, all surfaces flattened into one sheet.
func ExportItemMovementExcel(ctx context.Context, w io.Writer, itemId int, from, to time.Time) error {
	group, err := GetItemMovementSummary(ctx, itemId, from, to)
	if err != nil {
		return err
	}

	f := excelize.NewFile()
	if _, err := f.NewSheet(movementSheet); err != nil {
		return err
	}

	col := 'A'
	for _, h := range movementHeadings {
		f.SetCellValue(movementSheet, string(col)+"1", h)
		col++
	}

	rowNo := 2
	for _, entry := range group.All() {
		values := []interface{}{
			string(entry.Surface),
			entry.LocationId,
			entry.ItemId,
			string(entry.TransactionType),
			entry.Quantity,
			entry.UnitCost.String(),
			entry.TotalCost.String(),
			entry.QtyBefore,
			entry.QtyAfter,
			string(entry.SourceType),
			entry.Notes,
			entry.PerformedAt.Format(time.RFC3339),
		}
		col := 'A'
		for _, value := range values {
			f.SetCellValue(movementSheet, string(col)+fmt.Sprint(rowNo), value)
			col++
		}
		rowNo++
	}

	return f.Write(w)
}
