package availability

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decode(t *testing.T, s string) map[string]any {
	t.Helper()
	var raw map[string]any
	require.NoError(t, json.Unmarshal([]byte(s), &raw))
	return raw
}

func TestDefaultHasEveryDayAndPeriod(t *testing.T) {
	data, err := json.Marshal(Default())
	require.NoError(t, err)

	raw := decode(t, string(data))
	require.Len(t, raw, 7)
	for _, day := range Weekdays {
		periods, ok := raw[day].(map[string]any)
		require.True(t, ok, day)
		for _, p := range Periods {
			list, ok := periods[string(p)].([]any)
			require.True(t, ok, "%s.%s must encode as an array", day, p)
			assert.Empty(t, list)
		}
	}
}

func TestNormalizeCoercesMalformedInput(t *testing.T) {
	raw := decode(t, `{
		"monday": {"morning": ["09:00-09:30", "  09:30-10:00 ", 42, ""], "afternoon": "14:00", "evening": null},
		"tuesday": "closed",
		"funday": {"morning": ["10:00"]}
	}`)

	grid := Normalize(raw)

	assert.Equal(t, []string{"09:00-09:30", "09:30-10:00"}, grid.Monday.Morning)
	assert.Equal(t, []string{}, grid.Monday.Afternoon)
	assert.Equal(t, []string{}, grid.Monday.Evening)
	assert.Equal(t, emptyDay(), grid.Tuesday)
	assert.Equal(t, emptyDay(), grid.Sunday)
}

func TestNormalizeDropsDuplicatesWithinADay(t *testing.T) {
	raw := decode(t, `{"friday": {"morning": ["09:00 am - 09:30 am"], "evening": ["09:00 AM - 09:30 AM", "18:00-18:30"]}}`)

	grid := Normalize(raw)

	assert.Equal(t, []string{"09:00 AM - 09:30 AM"}, grid.Friday.Morning)
	assert.Equal(t, []string{"18:00-18:30"}, grid.Friday.Evening)
}

func TestDayMapsWeekdays(t *testing.T) {
	grid := Default()
	grid.Monday.Morning = []string{"mon"}
	grid.Sunday.Evening = []string{"sun"}

	assert.Equal(t, []string{"mon"}, grid.Day(time.Monday).Morning)
	assert.Equal(t, []string{"sun"}, grid.Day(time.Sunday).Evening)
	assert.Empty(t, grid.Day(time.Wednesday).Flatten())
}

func TestFlattenKeepsPeriodOrder(t *testing.T) {
	day := DayPeriods{
		Morning:   []string{"10:00", "09:00"},
		Afternoon: []string{"13:00"},
		Evening:   []string{"18:00"},
	}

	assert.Equal(t, []string{"10:00", "09:00", "13:00", "18:00"}, day.Flatten())
	assert.True(t, day.Contains("13:00"))
	assert.False(t, day.Contains("13:00 "))

	free := day.Without(map[string]struct{}{"09:00": {}, "18:00": {}})
	assert.Equal(t, []string{"10:00"}, free.Morning)
	assert.Equal(t, []string{"13:00"}, free.Afternoon)
	assert.Equal(t, []string{}, free.Evening)
}

func TestCanonicalLabel(t *testing.T) {
	tests := map[string]string{
		"09:00 AM - 09:30 AM":      "09:00 AM - 09:30 AM",
		"  09:00   am -  09:30 pm": "09:00 AM - 09:30 PM",
		"09:00-09:30":              "09:00-09:30",
		"\t":                       "",
		"7:00 p.m. - 7:30 p.m.":    "7:00 PM - 7:30 PM",
	}
	for in, want := range tests {
		assert.Equal(t, want, CanonicalLabel(in), "input %q", in)
	}
}

func TestSlotStart(t *testing.T) {
	date := time.Date(2026, 11, 2, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		label string
		hour  int
		min   int
		ok    bool
	}{
		{"09:00 AM - 09:30 AM", 9, 0, true},
		{"12:30 PM - 01:00 PM", 12, 30, true},
		{"12:15 AM - 12:45 AM", 0, 15, true},
		{"02:00 PM - 02:30 PM", 14, 0, true},
		{"16:45-17:15", 16, 45, true},
		{"lunch", 0, 0, false},
		{"25:00-26:00", 0, 0, false},
	}

	for _, tt := range tests {
		got, ok := SlotStart(date, tt.label)
		require.Equal(t, tt.ok, ok, tt.label)
		if !ok {
			continue
		}
		assert.Equal(t, time.Date(2026, 11, 2, tt.hour, tt.min, 0, 0, time.UTC), got, tt.label)
	}
}
