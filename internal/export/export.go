// Package export renders availability as spreadsheets.
package export

import (
	"fmt"
	"io"
	"slices"
	"strings"

	"bronivik/bronivik_schedule/internal/model"
	"bronivik/bronivik_schedule/internal/slots"
)

const ContentTypeXLSX = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

var monthColumns = []string{"Date", "Weekday", "Status", "Free slots", "Start times"}

// MonthAvailability writes one sheet named after month, a row per day in
// date order.
func MonthAvailability(out io.Writer, month string, durationMinutes int, days map[model.Date]slots.DaySummary) error {
	w := newSheetWriter()
	defer w.close()

	if err := w.addSheet(fmt.Sprintf("%s %dmin", month, durationMinutes)); err != nil {
		return err
	}
	if err := w.writeHeader(monthColumns); err != nil {
		return err
	}

	dates := make([]model.Date, 0, len(days))
	for d := range days {
		dates = append(dates, d)
	}
	slices.Sort(dates)

	for _, d := range dates {
		day := days[d]
		row := []any{
			string(d),
			d.Weekday().String(),
			string(day.Status),
			len(day.Slots),
			strings.Join(day.Slots, ", "),
		}
		if err := w.writeRow(row); err != nil {
			return err
		}
	}

	return w.save(out)
}

// FileName is the suggested download name for a month export.
func FileName(month string, durationMinutes int) string {
	return fmt.Sprintf("availability_%s_%dmin.xlsx", month, durationMinutes)
}
