package executor

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/unidoc/unioffice/common/license"
	"github.com/unidoc/unioffice/spreadsheet"

	"github.com/RandaGharbi/Dar-Darkom-sub004/internal/models"
)

// Renderer writes a report in one file format.
type Renderer interface {
	Render(w io.Writer, rep *Report, includeHeaders bool) error
	// Extension is the file extension without the dot.
	Extension() string
	ContentType() string
}

// Renderers returns the renderer for every supported format.
func Renderers() map[models.Format]Renderer {
	return map[models.Format]Renderer{
		models.FormatCSV:   CSVRenderer{},
		models.FormatExcel: ExcelRenderer{},
	}
}

// CSVRenderer writes sections one after the other, separated by a blank line.
// Multi-section reports title each section with its name.
type CSVRenderer struct{}

func (CSVRenderer) Extension() string   { return "csv" }
func (CSVRenderer) ContentType() string { return "text/csv" }

// Render writes rep as CSV.
func (CSVRenderer) Render(w io.Writer, rep *Report, includeHeaders bool) error {
	cw := csv.NewWriter(w)
	titled := len(rep.Sections) > 1

	for i, sec := range rep.Sections {
		if i > 0 {
			if err := cw.Write([]string{}); err != nil {
				return err
			}
		}
		if titled {
			if err := cw.Write([]string{sec.Name}); err != nil {
				return err
			}
		}
		if includeHeaders && len(sec.Columns) > 0 {
			if err := cw.Write(sec.Columns); err != nil {
				return err
			}
		}
		for _, row := range sec.Rows {
			record := make([]string, len(row))
			for j, v := range row {
				record[j] = formatValue(v)
			}
			if err := cw.Write(record); err != nil {
				return err
			}
		}
	}

	cw.Flush()
	return cw.Error()
}

// ExcelRenderer writes one worksheet per section.
type ExcelRenderer struct{}

func (ExcelRenderer) Extension() string { return "xlsx" }
func (ExcelRenderer) ContentType() string {
	return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
}

// SetExcelLicense installs a metered UniDoc key. Saving workbooks needs one.
func SetExcelLicense(key string) error {
	if key == "" {
		return nil
	}
	if err := license.SetMeteredKey(key); err != nil {
		return fmt.Errorf("set unioffice license: %w", err)
	}
	return nil
}

// Render writes rep as an xlsx workbook.
func (ExcelRenderer) Render(w io.Writer, rep *Report, includeHeaders bool) error {
	wb := spreadsheet.New()

	for _, sec := range rep.Sections {
		sheet := wb.AddSheet()
		sheet.SetName(sheetName(sec.Name))

		if includeHeaders && len(sec.Columns) > 0 {
			row := sheet.AddRow()
			for _, col := range sec.Columns {
				row.AddCell().SetString(col)
			}
		}
		for _, values := range sec.Rows {
			row := sheet.AddRow()
			for _, v := range values {
				cell := row.AddCell()
				switch n := v.(type) {
				case int:
					cell.SetNumber(float64(n))
				case int32:
					cell.SetNumber(float64(n))
				case int64:
					cell.SetNumber(float64(n))
				case float64:
					cell.SetNumber(n)
				case bool:
					cell.SetBool(n)
				default:
					cell.SetString(formatValue(v))
				}
			}
		}
	}

	if err := wb.Validate(); err != nil {
		return fmt.Errorf("invalid workbook: %w", err)
	}
	return wb.Save(w)
}

// sheetName fits a section name into Excel's 31 character limit.
func sheetName(name string) string {
	if name == "" {
		return "Report"
	}
	if len(name) > 31 {
		return name[:31]
	}
	return name
}

func formatValue(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case int:
		return strconv.Itoa(x)
	case int32:
		return strconv.FormatInt(int64(x), 10)
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		return strconv.FormatFloat(x, 'f', 2, 64)
	case bool:
		return strconv.FormatBool(x)
	case time.Time:
		return x.Format(time.RFC3339)
	case fmt.Stringer:
		return x.String()
	}
	return fmt.Sprint(v)
}
