package spreadsheet

import (
	"fmt"
	"strconv"

	"github.com/felixgeelhaar/bulkreg/internal/registration/application"
	"github.com/felixgeelhaar/bulkreg/internal/registration/domain"
	"github.com/xuri/excelize/v2"
)

const defaultSheet = "Sheet1"

// Writer exports failure groups as a workbook in the same layout the Reader
// accepts, so an export can be fed back as input.
type Writer struct{}

// NewWriter creates a spreadsheet writer.
func NewWriter() *Writer {
	return &Writer{}
}

var _ application.SheetWriter = (*Writer)(nil)

// WriteFailures writes one column per group: the session id in row 1 and
// the ticket ids below it.
func (w *Writer) WriteFailures(path string, groups []domain.FailureGroup) error {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	for c, group := range groups {
		header, err := excelize.CoordinatesToCellName(c+1, 1)
		if err != nil {
			return err
		}
		if err := f.SetCellValue(defaultSheet, header, group.SessionID); err != nil {
			return fmt.Errorf("write header %s: %w", header, err)
		}

		for r, ticketID := range group.TicketIDs {
			cell, err := excelize.CoordinatesToCellName(c+1, r+2)
			if err != nil {
				return err
			}
			if err := f.SetCellValue(defaultSheet, cell, cellValue(ticketID)); err != nil {
				return fmt.Errorf("write cell %s: %w", cell, err)
			}
		}
	}

	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("save workbook: %w", err)
	}
	return nil
}

// maxExactInt is the largest integer a float64 cell holds without loss.
const maxExactInt = 1 << 53

// cellValue writes canonical integers as numbers and keeps every other id as
// text, so reading the export back yields the same ids.
func cellValue(s string) any {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || strconv.FormatInt(n, 10) != s || n > maxExactInt || n < -maxExactInt {
		return s
	}
	return n
}
