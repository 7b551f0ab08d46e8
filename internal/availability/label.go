package availability

import (
	"strconv"
	"strings"
	"time"
)

// CanonicalLabel trims a slot label, collapses whitespace runs and
// upper-cases am/pm markers. Separators and digits are left untouched.
func CanonicalLabel(s string) string {
	fields := strings.Fields(s)
	for i, f := range fields {
		switch strings.ToLower(f) {
		case "am", "pm", "a.m.", "p.m.":
			fields[i] = strings.ToUpper(strings.ReplaceAll(f, ".", ""))
		}
	}
	return strings.Join(fields, " ")
}

// SlotStart synthesises the start instant of a slot on date from the first
// "HH:MM" token of the label, honouring a trailing AM/PM marker. ok is false
// when the label carries no recognisable time.
func SlotStart(date time.Time, label string) (time.Time, bool) {
	label = CanonicalLabel(label)
	start := label
	if i := strings.IndexAny(label, "-–"); i >= 0 {
		start = strings.TrimSpace(label[:i])
	}

	fields := strings.Fields(start)
	if len(fields) == 0 {
		return time.Time{}, false
	}

	hm := strings.SplitN(fields[0], ":", 2)
	if len(hm) != 2 {
		return time.Time{}, false
	}
	hour, err := strconv.Atoi(hm[0])
	if err != nil {
		return time.Time{}, false
	}
	minute, err := strconv.Atoi(hm[1])
	if err != nil || minute < 0 || minute > 59 {
		return time.Time{}, false
	}

	if len(fields) > 1 {
		switch fields[1] {
		case "AM":
			if hour == 12 {
				hour = 0
			}
		case "PM":
			if hour < 12 {
				hour += 12
			}
		}
	}
	if hour < 0 || hour > 23 {
		return time.Time{}, false
	}

	y, m, d := date.Date()
	return time.Date(y, m, d, hour, minute, 0, 0, time.UTC), true
}
