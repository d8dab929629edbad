/*
Package export renders rectangular datasets as downloadable files.

PURPOSE:
  The payroll core builds datasets (ordered column headers plus rows of
  scalar values); this package renders them. It owns no business logic.

FORMATS:
  spreadsheet  XLSX via excelize; money is written as numeric cells
  document     PDF via fpdf; landscape A4 table

SEE ALSO:
  - datasets.go: Disbursement register and teacher roster
  - api/exports.go: HTTP download endpoints
*/
package export

import (
	"fmt"
	"io"
	"time"

	"github.com/go-pdf/fpdf"
	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"

	"github.com/warp/payroll-engine/payroll"
)

type Format string

const (
	FormatSpreadsheet Format = "spreadsheet"
	FormatDocument    Format = "document"
)

// ParseFormat accepts the format names and their file extensions.
func ParseFormat(s string) (Format, error) {
	switch s {
	case "spreadsheet", "xlsx", "":
		return FormatSpreadsheet, nil
	case "document", "pdf":
		return FormatDocument, nil
	}
	return "", &payroll.ValidationError{Field: "format", Message: fmt.Sprintf("unknown export format %q", s)}
}

func (f Format) ContentType() string {
	if f == FormatDocument {
		return "application/pdf"
	}
	return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
}

func (f Format) Extension() string {
	if f == FormatDocument {
		return ".pdf"
	}
	return ".xlsx"
}

// Dataset is a titled table. Every row has len(Columns) values.
type Dataset struct {
	Title   string
	Columns []string
	Rows    [][]any
}

// Render writes ds to w in format f.
func Render(w io.Writer, f Format, ds Dataset) error {
	switch f {
	case FormatSpreadsheet:
		return writeSpreadsheet(w, ds)
	case FormatDocument:
		return writeDocument(w, ds)
	}
	return &payroll.ValidationError{Field: "format", Message: fmt.Sprintf("unknown export format %q", f)}
}

// =============================================================================
// SPREADSHEET
// =============================================================================

const sheetNameLimit = 31

func writeSpreadsheet(w io.Writer, ds Dataset) error {
	f := excelize.NewFile()
	defer f.Close()

	sheet := "Sheet1"
	if ds.Title != "" {
		name := ds.Title
		if len(name) > sheetNameLimit {
			name = name[:sheetNameLimit]
		}
		if err := f.SetSheetName(sheet, name); err != nil {
			return fmt.Errorf("rename sheet: %w", err)
		}
		sheet = name
	}

	header, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return fmt.Errorf("header style: %w", err)
	}

	for col, name := range ds.Columns {
		cell, err := excelize.CoordinatesToCellName(col+1, 1)
		if err != nil {
			return err
		}
		if err := f.SetCellStr(sheet, cell, name); err != nil {
			return err
		}
		if err := f.SetCellStyle(sheet, cell, cell, header); err != nil {
			return err
		}
	}

	for r, row := range ds.Rows {
		for col, v := range row {
			cell, err := excelize.CoordinatesToCellName(col+1, r+2)
			if err != nil {
				return err
			}
			if err := setCell(f, sheet, cell, v); err != nil {
				return fmt.Errorf("cell %s: %w", cell, err)
			}
		}
	}

	return f.Write(w)
}

func setCell(f *excelize.File, sheet, cell string, v any) error {
	switch v := v.(type) {
	case decimal.Decimal:
		return f.SetCellFloat(sheet, cell, v.InexactFloat64(), 2, 64)
	case time.Time:
		return f.SetCellStr(sheet, cell, v.Format(payroll.DateLayout))
	case *time.Time:
		if v == nil {
			return nil
		}
		return f.SetCellStr(sheet, cell, v.Format(payroll.DateLayout))
	default:
		return f.SetCellValue(sheet, cell, v)
	}
}

// =============================================================================
// DOCUMENT
// =============================================================================

func writeDocument(w io.Writer, ds Dataset) error {
	pdf := fpdf.New("L", "mm", "A4", "")
	pdf.SetTitle(ds.Title, false)
	pdf.AddPage()

	pdf.SetFont("Helvetica", "B", 14)
	pdf.CellFormat(0, 10, ds.Title, "", 1, "L", false, 0, "")
	pdf.Ln(2)

	if len(ds.Columns) > 0 {
		pageW, _ := pdf.GetPageSize()
		left, _, right, _ := pdf.GetMargins()
		colW := (pageW - left - right) / float64(len(ds.Columns))

		pdf.SetFont("Helvetica", "B", 8)
		pdf.SetFillColor(230, 230, 230)
		for _, name := range ds.Columns {
			pdf.CellFormat(colW, 7, name, "1", 0, "C", true, 0, "")
		}
		pdf.Ln(-1)

		pdf.SetFont("Helvetica", "", 8)
		for _, row := range ds.Rows {
			for _, v := range row {
				align := "L"
				if _, ok := v.(decimal.Decimal); ok {
					align = "R"
				}
				pdf.CellFormat(colW, 6, cellText(v), "1", 0, align, false, 0, "")
			}
			pdf.Ln(-1)
		}
	}

	return pdf.Output(w)
}

func cellText(v any) string {
	switch v := v.(type) {
	case nil:
		return ""
	case string:
		return v
	case decimal.Decimal:
		return v.StringFixed(2)
	case time.Time:
		return v.Format(payroll.DateLayout)
	case *time.Time:
		if v == nil {
			return ""
		}
		return v.Format(payroll.DateLayout)
	default:
		return fmt.Sprint(v)
	}
}
