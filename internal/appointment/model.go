package appointment

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusCancelled Status = "cancelled"
	StatusCompleted Status = "completed"
)

// ParseStatus accepts exactly the four lifecycle labels.
func ParseStatus(s string) (Status, bool) {
	switch Status(s) {
	case StatusPending, StatusConfirmed, StatusCancelled, StatusCompleted:
		return Status(s), true
	}
	return "", false
}

// Active reports whether a booking in this status holds its slot.
func (s Status) Active() bool {
	return s != StatusCancelled
}

type Mode string

const (
	ModeVideo    Mode = "video"
	ModeInPerson Mode = "in-person"
)

// ParseMode accepts "video" and "in-person". The legacy "clinic" value maps
// to in-person.
func ParseMode(s string) (Mode, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "video":
		return ModeVideo, true
	case "in-person", "clinic":
		return ModeInPerson, true
	}
	return "", false
}

type Provider struct {
	ID          uuid.UUID
	UserID      *uuid.UUID
	FirstName   string
	LastName    string
	DisplayName string
	Designation string
	ImageURL    string
	City        string
	Email       string
	Phone       string
	Blocked     bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Name prefers "first last" and falls back to the stored display name.
func (p *Provider) Name() string {
	if p.FirstName != "" && p.LastName != "" {
		return p.FirstName + " " + p.LastName
	}
	return p.DisplayName
}

type Requester struct {
	ID        uuid.UUID
	FullName  string
	Email     string
	Phone     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ProviderSnapshot is copied into a booking at creation and never re-synced.
type ProviderSnapshot struct {
	Name        string
	DisplayName string
	Designation string
	ImageURL    string
	Location    string
	Email       string
}

// RequesterSnapshot is copied into a booking at creation and never re-synced.
type RequesterSnapshot struct {
	Name  string
	Email string
	Phone string
}

type Booking struct {
	ID              uuid.UUID
	BookingRef      string
	AppointmentCode string
	ProviderID      uuid.UUID
	ProviderUserID  *uuid.UUID // provider's login id, when one is linked
	RequesterID     uuid.UUID
	Date            time.Time  // calendar date, midnight UTC
	SlotLabel       string
	Mode            Mode
	Service         string
	Location        string
	Insurance       string
	Symptoms        string
	Notes           string
	Status          Status
	Provider        ProviderSnapshot
	Requester       RequesterSnapshot
	MeetingURL      *string
	ExternalEventID *string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Cancelled and Completed are views derived from Status.
func (b *Booking) Cancelled() bool { return b.Status == StatusCancelled }
func (b *Booking) Completed() bool { return b.Status == StatusCompleted }

type EventLog struct {
	ID        int64
	EventType string
	BookingID *uuid.UUID
	Payload   []byte
	CreatedAt time.Time
}

// FreeSlots is the resolver's answer for one provider and date.
type FreeSlots struct {
	ProviderID uuid.UUID
	Date       time.Time
	Weekday    time.Weekday
	Morning    []string
	Afternoon  []string
	Evening    []string
	Slots      []string // morning, afternoon, evening flattened in declared order
}

const dateLayout = "2006-01-02"

// ParseDate accepts YYYY-MM-DD or an RFC3339 instant and returns the calendar
// date at midnight UTC.
func ParseDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	if t, err := time.Parse(dateLayout, s); err == nil {
		return t, true
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		y, m, d := t.UTC().Date()
		return time.Date(y, m, d, 0, 0, 0, 0, time.UTC), true
	}
	return time.Time{}, false
}

// FormatDate renders a booking date as YYYY-MM-DD.
func FormatDate(t time.Time) string {
	return t.Format(dateLayout)
}
