package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-booking/internal/appointment"
)

// Envelope wraps every response body.
type Envelope struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

type CreateBookingRequest struct {
	ProviderID   string `json:"provider_id"`
	RequesterID  string `json:"requester_id"`
	Date         string `json:"date"`
	SlotLabel    string `json:"slot_label"`
	Mode         string `json:"mode"`
	ServiceName  string `json:"service_name"`
	Location     string `json:"location"`
	Insurance    string `json:"insurance"`
	Symptoms     string `json:"symptoms"`
	Notes        string `json:"notes"`
	ContactEmail string `json:"contact_email"`
	ContactPhone string `json:"contact_phone"`
}

type UpdateStatusRequest struct {
	Status string `json:"status"`
}

type ProviderSnapshotResponse struct {
	Name        string `json:"name"`
	DisplayName string `json:"display_name,omitempty"`
	Designation string `json:"designation,omitempty"`
	ImageURL    string `json:"image_url,omitempty"`
	Location    string `json:"location,omitempty"`
	Email       string `json:"email,omitempty"`
}

type RequesterSnapshotResponse struct {
	Name  string `json:"name"`
	Email string `json:"email,omitempty"`
	Phone string `json:"phone,omitempty"`
}

type BookingResponse struct {
	ID              uuid.UUID                 `json:"id"`
	BookingRef      string                    `json:"booking_ref"`
	AppointmentCode string                    `json:"appointment_code"`
	ProviderID      uuid.UUID                 `json:"provider_id"`
	RequesterID     uuid.UUID                 `json:"requester_id"`
	Date            string                    `json:"date"`
	SlotLabel       string                    `json:"slot_label"`
	Mode            string                    `json:"mode"`
	ServiceName     string                    `json:"service_name"`
	Location        string                    `json:"location,omitempty"`
	Insurance       string                    `json:"insurance,omitempty"`
	Symptoms        string                    `json:"symptoms,omitempty"`
	Notes           string                    `json:"notes,omitempty"`
	Status          string                    `json:"status"`
	Cancelled       bool                      `json:"cancelled"`
	Completed       bool                      `json:"completed"`
	Provider        ProviderSnapshotResponse  `json:"provider"`
	Requester       RequesterSnapshotResponse `json:"requester"`
	MeetingURL      *string                   `json:"meeting_url,omitempty"`
	ExternalEventID *string                   `json:"external_event_id,omitempty"`
	CreatedAt       time.Time                 `json:"created_at"`
	UpdatedAt       time.Time                 `json:"updated_at"`
}

type FreeSlotsResponse struct {
	ProviderID uuid.UUID `json:"provider_id"`
	Date       string    `json:"date"`
	Weekday    string    `json:"weekday"`
	Morning    []string  `json:"morning"`
	Afternoon  []string  `json:"afternoon"`
	Evening    []string  `json:"evening"`
	Slots      []string  `json:"slots"`
}

func toBookingResponse(b *appointment.Booking) BookingResponse {
	return BookingResponse{
		ID:              b.ID,
		BookingRef:      b.BookingRef,
		AppointmentCode: b.AppointmentCode,
		ProviderID:      b.ProviderID,
		RequesterID:     b.RequesterID,
		Date:            appointment.FormatDate(b.Date),
		SlotLabel:       b.SlotLabel,
		Mode:            string(b.Mode),
		ServiceName:     b.Service,
		Location:        b.Location,
		Insurance:       b.Insurance,
		Symptoms:        b.Symptoms,
		Notes:           b.Notes,
		Status:          string(b.Status),
		Cancelled:       b.Cancelled(),
		Completed:       b.Completed(),
		Provider: ProviderSnapshotResponse{
			Name:        b.Provider.Name,
			DisplayName: b.Provider.DisplayName,
			Designation: b.Provider.Designation,
			ImageURL:    b.Provider.ImageURL,
			Location:    b.Provider.Location,
			Email:       b.Provider.Email,
		},
		Requester: RequesterSnapshotResponse{
			Name:  b.Requester.Name,
			Email: b.Requester.Email,
			Phone: b.Requester.Phone,
		},
		MeetingURL:      b.MeetingURL,
		ExternalEventID: b.ExternalEventID,
		CreatedAt:       b.CreatedAt,
		UpdatedAt:       b.UpdatedAt,
	}
}

func toBookingList(list []appointment.Booking) []BookingResponse {
	out := make([]BookingResponse, 0, len(list))
	for i := range list {
		out = append(out, toBookingResponse(&list[i]))
	}
	return out
}

func toFreeSlotsResponse(fs *appointment.FreeSlots) FreeSlotsResponse {
	return FreeSlotsResponse{
		ProviderID: fs.ProviderID,
		Date:       appointment.FormatDate(fs.Date),
		Weekday:    fs.Weekday.String(),
		Morning:    nonNil(fs.Morning),
		Afternoon:  nonNil(fs.Afternoon),
		Evening:    nonNil(fs.Evening),
		Slots:      nonNil(fs.Slots),
	}
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
