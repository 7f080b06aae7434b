package export

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"bronivik/bronivik_schedule/internal/model"
	"bronivik/bronivik_schedule/internal/slots"
)

func TestMonthAvailability(t *testing.T) {
	days := map[model.Date]slots.DaySummary{
		"2026-01-02": {Status: slots.DayHasSlots, Slots: []string{"09:00", "09:15"}},
		"2026-01-01": {Status: slots.DayNonWorking},
		"2026-01-03": {Status: slots.DayNoSlots, Slots: []string{}},
	}

	var buf bytes.Buffer
	require.NoError(t, MonthAvailability(&buf, "2026-01", 30, days))

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer f.Close()

	sheets := f.GetSheetList()
	require.Equal(t, []string{"2026-01 30min"}, sheets)

	rows, err := f.GetRows(sheets[0])
	require.NoError(t, err)
	require.Len(t, rows, 4)
	assert.Equal(t, monthColumns, rows[0])
	require.GreaterOrEqual(t, len(rows[1]), 4)
	assert.Equal(t, []string{"2026-01-01", "Thursday", "non-working", "0"}, rows[1][:4])
	assert.Equal(t, []string{"2026-01-02", "Friday", "has-slots", "2", "09:00, 09:15"}, rows[2])
	assert.Equal(t, "no-slots", rows[3][2])
}

func TestFileName(t *testing.T) {
	assert.Equal(t, "availability_2026-01_45min.xlsx", FileName("2026-01", 45))
}
