// Package exports builds spreadsheet downloads for staff.
package exports

import (
	"fmt"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/hortus-cognitor/backend/internal/bookings"
	"github.com/hortus-cognitor/backend/internal/models"
)

// SheetBookings is the name of the only sheet in a bookings export.
const SheetBookings = "Bookings"

var header = []any{"Name", "Email", "Phone", "Booking status", "Booked at", "Tier", "Payment status", "Total", "Paid", "Deposit paid", "Final paid", "Message"}

// BookingsWorkbook lays out one row per booking under a header row.
func BookingsWorkbook(course *models.Course, attendees []bookings.Attendee) (*excelize.File, error) {
	f := excelize.NewFile()
	if err := f.SetSheetName(f.GetSheetName(0), SheetBookings); err != nil {
		f.Close()
		return nil, err
	}
	if err := f.SetDocProps(&excelize.DocProperties{Title: course.Title + " bookings", Creator: "Hortus Cognitor"}); err != nil {
		f.Close()
		return nil, err
	}
	if err := f.SetSheetRow(SheetBookings, "A1", &header); err != nil {
		f.Close()
		return nil, err
	}
	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		f.Close()
		return nil, err
	}
	last, _ := excelize.ColumnNumberToName(len(header))
	if err := f.SetCellStyle(SheetBookings, "A1", last+"1", bold); err != nil {
		f.Close()
		return nil, err
	}

	for i, a := range attendees {
		b := a.Booking
		row := []any{
			b.FullName, b.Email, b.Phone, b.Status, b.CreatedAt.Format(time.DateTime),
			models.TierLabel(a.Tier), a.PaymentStatus,
			a.TotalAmount.InexactFloat64(), a.PaidAmount.InexactFloat64(),
			formatTime(a.DepositPaidAt), formatTime(a.FinalPaidAt), b.Message,
		}
		cell, _ := excelize.CoordinatesToCellName(1, i+2)
		if err := f.SetSheetRow(SheetBookings, cell, &row); err != nil {
			f.Close()
			return nil, fmt.Errorf("write row %d: %w", i+2, err)
		}
	}
	if err := f.SetColWidth(SheetBookings, "A", "B", 28); err != nil {
		f.Close()
		return nil, err
	}
	return f, nil
}

func formatTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format(time.DateTime)
}
