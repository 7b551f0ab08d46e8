package availability

import (
	"errors"
	"time"
)

var ErrProviderNotFound = errors.New("provider not found")

type Period string

const (
	Morning   Period = "morning"
	Afternoon Period = "afternoon"
	Evening   Period = "evening"
)

// Periods lists the day periods in display order.
var Periods = []Period{Morning, Afternoon, Evening}

// Weekdays lists the grid keys in storage order.
var Weekdays = []string{"monday", "tuesday", "wednesday", "thursday", "friday", "saturday", "sunday"}

// DayPeriods holds the slot labels a provider offers on one weekday.
type DayPeriods struct {
	Morning   []string `json:"morning"`
	Afternoon []string `json:"afternoon"`
	Evening   []string `json:"evening"`
}

// WeeklyAvailability is the recurring 7x3 grid of slot labels.
type WeeklyAvailability struct {
	Monday    DayPeriods `json:"monday"`
	Tuesday   DayPeriods `json:"tuesday"`
	Wednesday DayPeriods `json:"wednesday"`
	Thursday  DayPeriods `json:"thursday"`
	Friday    DayPeriods `json:"friday"`
	Saturday  DayPeriods `json:"saturday"`
	Sunday    DayPeriods `json:"sunday"`
}

func emptyDay() DayPeriods {
	return DayPeriods{Morning: []string{}, Afternoon: []string{}, Evening: []string{}}
}

// Default returns a grid with every day and period present and empty.
func Default() WeeklyAvailability {
	return WeeklyAvailability{
		Monday:    emptyDay(),
		Tuesday:   emptyDay(),
		Wednesday: emptyDay(),
		Thursday:  emptyDay(),
		Friday:    emptyDay(),
		Saturday:  emptyDay(),
		Sunday:    emptyDay(),
	}
}

func (w *WeeklyAvailability) dayPtr(key string) *DayPeriods {
	switch key {
	case "monday":
		return &w.Monday
	case "tuesday":
		return &w.Tuesday
	case "wednesday":
		return &w.Wednesday
	case "thursday":
		return &w.Thursday
	case "friday":
		return &w.Friday
	case "saturday":
		return &w.Saturday
	case "sunday":
		return &w.Sunday
	}
	return nil
}

// Day returns the periods declared for a weekday.
func (w WeeklyAvailability) Day(d time.Weekday) DayPeriods {
	// time.Weekday starts at Sunday, the grid starts at Monday.
	key := Weekdays[(int(d)+6)%7]
	return *w.dayPtr(key)
}

// Period returns the labels for one period.
func (d DayPeriods) Period(p Period) []string {
	switch p {
	case Morning:
		return d.Morning
	case Afternoon:
		return d.Afternoon
	case Evening:
		return d.Evening
	}
	return nil
}

// Flatten returns morning, afternoon and evening labels in declared order.
func (d DayPeriods) Flatten() []string {
	out := make([]string, 0, len(d.Morning)+len(d.Afternoon)+len(d.Evening))
	out = append(out, d.Morning...)
	out = append(out, d.Afternoon...)
	out = append(out, d.Evening...)
	return out
}

// Contains reports whether label is declared in any period, by exact match.
func (d DayPeriods) Contains(label string) bool {
	for _, p := range Periods {
		for _, l := range d.Period(p) {
			if l == label {
				return true
			}
		}
	}
	return false
}

// Without returns a copy of d with every label in taken removed.
func (d DayPeriods) Without(taken map[string]struct{}) DayPeriods {
	filter := func(in []string) []string {
		out := make([]string, 0, len(in))
		for _, l := range in {
			if _, ok := taken[l]; !ok {
				out = append(out, l)
			}
		}
		return out
	}
	return DayPeriods{
		Morning:   filter(d.Morning),
		Afternoon: filter(d.Afternoon),
		Evening:   filter(d.Evening),
	}
}

// Normalize coerces an arbitrary decoded JSON object into a complete grid.
// Missing days or periods and non-array values become empty lists, non-string
// elements are dropped, labels are canonicalised and duplicates within a day
// keep their first occurrence.
func Normalize(raw map[string]any) WeeklyAvailability {
	out := Default()
	for _, key := range Weekdays {
		dayRaw, _ := raw[key].(map[string]any)
		seen := make(map[string]struct{})
		day := out.dayPtr(key)
		day.Morning = normalizeList(dayRaw[string(Morning)], seen)
		day.Afternoon = normalizeList(dayRaw[string(Afternoon)], seen)
		day.Evening = normalizeList(dayRaw[string(Evening)], seen)
	}
	return out
}

// NormalizeGrid applies the same rules to an already typed grid.
func NormalizeGrid(w WeeklyAvailability) WeeklyAvailability {
	out := Default()
	for _, key := range Weekdays {
		src := w.dayPtr(key)
		dst := out.dayPtr(key)
		seen := make(map[string]struct{})
		dst.Morning = normalizeStrings(src.Morning, seen)
		dst.Afternoon = normalizeStrings(src.Afternoon, seen)
		dst.Evening = normalizeStrings(src.Evening, seen)
	}
	return out
}

func normalizeList(v any, seen map[string]struct{}) []string {
	items, ok := v.([]any)
	if !ok {
		return []string{}
	}
	labels := make([]string, 0, len(items))
	for _, item := range items {
		s, ok := item.(string)
		if !ok {
			continue
		}
		labels = append(labels, s)
	}
	return normalizeStrings(labels, seen)
}

func normalizeStrings(in []string, seen map[string]struct{}) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		label := CanonicalLabel(s)
		if label == "" {
			continue
		}
		if _, dup := seen[label]; dup {
			continue
		}
		seen[label] = struct{}{}
		out = append(out, label)
	}
	return out
}
