// Package spreadsheet reads session columns from and writes failure exports
// to .xlsx workbooks.
package spreadsheet

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/felixgeelhaar/bulkreg/internal/registration/application"
	"github.com/felixgeelhaar/bulkreg/internal/registration/domain"
	"github.com/xuri/excelize/v2"
)

// builtinNumFmts maps the built-in number format ids that carry digits to
// their format codes.
var builtinNumFmts = map[int]string{
	1:  "0",
	2:  "0.00",
	3:  "#,##0",
	4:  "#,##0.00",
	9:  "0%",
	10: "0.00%",
	11: "0.00E+00",
	37: "#,##0 ;(#,##0)",
	38: "#,##0 ;[Red](#,##0)",
	39: "#,##0.00;(#,##0.00)",
	40: "#,##0.00;[Red](#,##0.00)",
	48: "##0.0E+0",
}

// Reader reads the active sheet of a workbook. The first row holds session
// ids; the cells below each header hold ticket ids.
type Reader struct{}

// NewReader creates a spreadsheet reader.
func NewReader() *Reader {
	return &Reader{}
}

var _ application.SheetReader = (*Reader)(nil)

// ReadColumns returns one column per non-blank header in sheet order. Blank
// cells are skipped.
func (r *Reader) ReadColumns(path string) ([]domain.SessionColumn, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	defer func() { _ = f.Close() }()

	sheet := f.GetSheetName(f.GetActiveSheetIndex())
	cols, err := f.GetCols(sheet, excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, fmt.Errorf("read sheet %q: %w", sheet, err)
	}

	var columns []domain.SessionColumn
	for c, cells := range cols {
		if len(cells) == 0 {
			continue
		}
		header, err := cellText(f, sheet, c+1, 1, cells[0])
		if err != nil {
			return nil, err
		}
		if header == "" {
			continue
		}

		column := domain.SessionColumn{Header: header}
		for row, raw := range cells[1:] {
			value, err := cellText(f, sheet, c+1, row+2, raw)
			if err != nil {
				return nil, err
			}
			if value == "" {
				continue
			}
			column.TicketIDs = append(column.TicketIDs, value)
		}
		columns = append(columns, column)
	}
	return columns, nil
}

// cellText renders a cell the way it is used as an id: whole numbers without
// decimals, fractional numbers with as many significant digits as the cell's
// number format has zeros, and text verbatim.
func cellText(f *excelize.File, sheet string, col, row int, raw string) (string, error) {
	if strings.TrimSpace(raw) == "" {
		return "", nil
	}
	cell, err := excelize.CoordinatesToCellName(col, row)
	if err != nil {
		return "", err
	}
	cellType, err := f.GetCellType(sheet, cell)
	if err != nil {
		return "", fmt.Errorf("cell %s: %w", cell, err)
	}
	if cellType != excelize.CellTypeNumber && cellType != excelize.CellTypeUnset {
		return raw, nil
	}

	value, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return raw, nil
	}
	if value == math.Trunc(value) && !math.IsInf(value, 0) {
		return strconv.FormatFloat(value, 'f', 0, 64), nil
	}

	format, err := numberFormat(f, sheet, cell)
	if err != nil {
		return "", err
	}
	return strconv.FormatFloat(value, 'g', precision(format), 64), nil
}

func numberFormat(f *excelize.File, sheet, cell string) (string, error) {
	styleID, err := f.GetCellStyle(sheet, cell)
	if err != nil {
		return "", fmt.Errorf("cell %s style: %w", cell, err)
	}
	style, err := f.GetStyle(styleID)
	if err != nil || style == nil {
		return "General", nil
	}
	if style.CustomNumFmt != nil {
		return *style.CustomNumFmt, nil
	}
	if code, ok := builtinNumFmts[style.NumFmt]; ok {
		return code, nil
	}
	return "General", nil
}

func precision(format string) int {
	return max(strings.Count(format, "0"), 1)
}
