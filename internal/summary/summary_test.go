package summary

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"calshift/internal/model"
	"calshift/internal/sheet"
)

func shift(t *testing.T, date, start, end, hours string) model.Shift {
	t.Helper()
	d, err := sheet.ParseDate(date)
	require.NoError(t, err)
	return model.Shift{
		Date:      d,
		RawDate:   date,
		StartTime: start,
		EndTime:   end,
		HoursText: hours,
		Hours:     sheet.ParseHours(hours),
	}
}

func period() model.Period {
	return model.Period{
		Start: time.Date(2025, 11, 29, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2025, 12, 12, 0, 0, 0, 0, time.UTC),
	}
}

func texts(lines []Line) []string {
	out := make([]string, 0, len(lines))
	for _, l := range lines {
		out = append(out, l.Text)
	}
	return out
}

func TestAggregate(t *testing.T) {
	res := Aggregate([]model.Shift{
		shift(t, "12/05/2025", "4:00 PM", "6:30 PM", "2.5"),
		shift(t, "12/01/2025", "9:00 AM", "12:00 PM", "3"),
	}, period())

	assert.Equal(t, "5.5", FormatTotal(res.Total))
	assert.Equal(t, []string{
		"12/01/2025 — 3 hours (9:00 AM - 12:00 PM)",
		"12/05/2025 — 2.5 hours (4:00 PM - 6:30 PM)",
	}, texts(res.Lines))
}

func TestAggregate_DuplicateKeepsFirst(t *testing.T) {
	res := Aggregate([]model.Shift{
		shift(t, "12/01/2025", "9:00 AM", "12:00 PM", "3"),
		shift(t, "12/01/2025", "9:00 AM", "12:00 PM", "8"),
		shift(t, "12/01/2025", "1:00 PM", "2:00 PM", "1"),
	}, period())

	assert.Equal(t, 1, res.Duplicates)
	assert.Equal(t, 4.0, res.Total)
	assert.Equal(t, []string{
		"12/01/2025 — 3 hours (9:00 AM - 12:00 PM)",
		"12/01/2025 — 1 hour (1:00 PM - 2:00 PM)",
	}, texts(res.Lines))
}

func TestAggregate_SameDayByClockTime(t *testing.T) {
	tests := []struct {
		name   string
		starts []string
		want   []string
	}{
		{
			name:   "morning before afternoon",
			starts: []string{"1:00 PM", "10:00 AM", "9:00 AM"},
			want:   []string{"9:00 AM", "10:00 AM", "1:00 PM"},
		},
		{
			name:   "mixed clock styles",
			starts: []string{"13:30", "9:15AM", "12:00 PM"},
			want:   []string{"9:15AM", "12:00 PM", "13:30"},
		},
		{
			name:   "unreadable start goes last",
			starts: []string{"TBD", "2:00 PM", "8:00 AM"},
			want:   []string{"8:00 AM", "2:00 PM", "TBD"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var shifts []model.Shift
			for _, start := range tt.starts {
				shifts = append(shifts, shift(t, "12/01/2025", start, "11:59 PM", "1"))
			}

			res := Aggregate(shifts, period())

			var got []string
			for _, l := range res.Lines {
				got = append(got, l.Shift.StartTime)
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestAggregate_DuplicateOutsidePeriodStillCounts(t *testing.T) {
	res := Aggregate([]model.Shift{
		shift(t, "11/20/2025", "9:00 AM", "10:00 AM", "1"),
		shift(t, "11/20/2025", "9:00 AM", "10:00 AM", "1"),
	}, period())

	assert.Equal(t, 1, res.Duplicates)
	assert.Equal(t, 1, res.Outside)
	assert.Empty(t, res.Lines)
}

func TestAggregate_PeriodBounds(t *testing.T) {
	res := Aggregate([]model.Shift{
		shift(t, "11/28/2025", "9:00 AM", "10:00 AM", "1"),
		shift(t, "11/29/2025", "9:00 AM", "10:00 AM", "1"),
		shift(t, "12/12/2025", "9:00 AM", "10:00 AM", "1"),
		shift(t, "12/13/2025", "9:00 AM", "10:00 AM", "1"),
	}, period())

	assert.Equal(t, 2.0, res.Total)
	assert.Equal(t, 2, res.Outside)
}

func TestAggregate_ChronologicalAcrossYearAndPadding(t *testing.T) {
	p := model.Period{
		Start: time.Date(2025, 12, 27, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2026, 1, 9, 0, 0, 0, 0, time.UTC),
	}

	res := Aggregate([]model.Shift{
		shift(t, "1/2/2026", "9:00 AM", "10:00 AM", "1"),
		shift(t, "12/30/2025", "9:00 AM", "10:00 AM", "2"),
		shift(t, "01/05/2026", "9:00 AM", "10:00 AM", "0"),
	}, p)

	// A plain string sort would put "01/05/2026" and "1/2/2026" around
	// "12/30/2025" in the wrong order.
	assert.Equal(t, []string{
		"12/30/2025 — 2 hours (9:00 AM - 10:00 AM)",
		"1/2/2026 — 1 hour (9:00 AM - 10:00 AM)",
		"01/05/2026 — 0 hours (9:00 AM - 10:00 AM)",
	}, texts(res.Lines))
}

func TestAggregate_UnparsableHoursStillListed(t *testing.T) {
	res := Aggregate([]model.Shift{
		shift(t, "12/02/2025", "9:00 AM", "10:00 AM", "???"),
	}, period())

	assert.Zero(t, res.Total)
	assert.Equal(t, []string{"12/02/2025 — 0 hours (9:00 AM - 10:00 AM)"}, texts(res.Lines))
}

func TestCompose(t *testing.T) {
	res := Aggregate([]model.Shift{
		shift(t, "12/01/2025", "9:00 AM", "12:00 PM", "3"),
		shift(t, "12/05/2025", "4:00 PM", "6:30 PM", "2.5"),
	}, period())
	next := model.Period{Start: time.Date(2025, 12, 13, 0, 0, 0, 0, time.UTC)}

	msg := Compose(res, &next)

	assert.Equal(t, "Hours Summary: 11/29/2025 - 12/12/2025", msg.Subject)
	assert.Equal(t, "Pay period: 11/29/2025 - 12/12/2025\n\n"+
		"Shifts:\n"+
		"12/01/2025 — 3 hours (9:00 AM - 12:00 PM)\n"+
		"12/05/2025 — 2.5 hours (4:00 PM - 6:30 PM)\n"+
		"\nTotal hours: 5.5\n"+
		"Next pay period starts 12/13/2025.\n", msg.Body)
}

func TestCompose_NoShifts(t *testing.T) {
	msg := Compose(Aggregate(nil, period()), nil)

	assert.Contains(t, msg.Body, NoShifts)
	assert.Contains(t, msg.Body, "Total hours: 0.0")
	assert.NotContains(t, msg.Body, "Next pay period")
}

func TestFormatHours(t *testing.T) {
	tests := []struct {
		in   float64
		want string
	}{
		{in: 3, want: "3"},
		{in: 2.5, want: "2.5"},
		{in: 0.75, want: "0.75"},
		{in: 0, want: "0"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, FormatHours(tt.in))
	}
}
