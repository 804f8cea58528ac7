package xlsx

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/crospyder/ocr-core/internal/core/domain"
)

const sheetName = "Dokumenti"

var headers = []string{
	"ID",
	"Datoteka",
	"Vrsta",
	"Partner",
	"OIB",
	"PDV broj",
	"Broj dokumenta",
	"Datum izdavanja",
	"Datum dospijeća",
	"Iznos",
	"Učitano",
}

// Writer renders canonical documents as a single-sheet workbook.
type Writer struct{}

func NewWriter() *Writer {
	return &Writer{}
}

func (w *Writer) WriteDocuments(ctx context.Context, out io.Writer, docs []domain.Document) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", sheetName); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		if err := f.SetCellValue(sheetName, cell, h); err != nil {
			return fmt.Errorf("write header: %w", err)
		}
	}

	dateStyle, err := f.NewStyle(&excelize.Style{NumFmt: 14})
	if err != nil {
		return fmt.Errorf("date style: %w", err)
	}
	amountStyle, err := f.NewStyle(&excelize.Style{NumFmt: 4})
	if err != nil {
		return fmt.Errorf("amount style: %w", err)
	}

	for i, doc := range docs {
		if err := ctx.Err(); err != nil {
			return err
		}
		row := i + 2
		values := []any{
			doc.ID,
			doc.Filename,
			string(doc.Type),
			doc.CounterPartyName,
			doc.TaxID,
			doc.VATNumber,
			doc.DocNumber,
			dateValue(doc.IssueDate),
			dateValue(doc.DueDate),
			amountValue(doc.Amount),
			doc.UploadedAt.UTC().Format(time.DateTime),
		}
		cell, _ := excelize.CoordinatesToCellName(1, row)
		if err := f.SetSheetRow(sheetName, cell, &values); err != nil {
			return fmt.Errorf("write row %d: %w", row, err)
		}
	}

	if last := len(docs) + 1; last > 1 {
		_ = f.SetCellStyle(sheetName, "H2", fmt.Sprintf("I%d", last), dateStyle)
		_ = f.SetCellStyle(sheetName, "J2", fmt.Sprintf("J%d", last), amountStyle)
	}
	_ = f.SetColWidth(sheetName, "B", "B", 28)
	_ = f.SetColWidth(sheetName, "D", "D", 36)
	_ = f.SetColWidth(sheetName, "E", "G", 16)
	_ = f.SetColWidth(sheetName, "H", "K", 14)
	if err := f.SetPanes(sheetName, &excelize.Panes{Freeze: true, YSplit: 1, TopLeftCell: "A2", ActivePane: "bottomLeft"}); err != nil {
		return fmt.Errorf("freeze header: %w", err)
	}

	if _, err := f.WriteTo(out); err != nil {
		return fmt.Errorf("xlsx write: %w", err)
	}
	return nil
}

// Blank cells stay blank instead of showing zero values.
func dateValue(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

func amountValue(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}
