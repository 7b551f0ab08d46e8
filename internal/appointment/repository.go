package appointment

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-booking/internal/availability"
)

var (
	ErrProviderNotFound  = availability.ErrProviderNotFound
	ErrRequesterNotFound = errors.New("requester not found")
	ErrBookingNotFound   = errors.New("booking not found")

	// ErrSlotAlreadyBooked is returned when the active-slot unique constraint rejects a write.
	ErrSlotAlreadyBooked = errors.New("slot already has an active booking")
	// ErrDuplicateBooking is returned when a generated booking reference or code collides.
	ErrDuplicateBooking = errors.New("duplicate booking identifier")
	// ErrStatusMismatch is returned by a compare-and-set status update whose expected status no longer holds.
	ErrStatusMismatch = errors.New("booking status changed concurrently")
)

// Repository contains all ledger interactions needed by the service.
type Repository interface {
	GetProviderByID(ctx context.Context, id uuid.UUID) (*Provider, error)
	GetRequesterByID(ctx context.Context, id uuid.UUID) (*Requester, error)

	// CreateBooking inserts the booking; the storage engine enforces
	// uniqueness of (provider, date, slot) among active bookings.
	CreateBooking(ctx context.Context, b *Booking) (*Booking, error)
	GetBookingByID(ctx context.Context, id uuid.UUID) (*Booking, error)
	ListBookingsByRequester(ctx context.Context, requesterID uuid.UUID) ([]Booking, error)
	ListBookingsByProvider(ctx context.Context, providerID uuid.UUID) ([]Booking, error)

	// For the slot resolver
	ListActiveSlotLabels(ctx context.Context, providerID uuid.UUID, date time.Time) ([]string, error)

	UpdateBookingStatus(ctx context.Context, id uuid.UUID, from, to Status) (*Booking, error)
	SetMeeting(ctx context.Context, id uuid.UUID, meetingURL string, externalEventID *string) error

	// Event logging
	InsertEvent(ctx context.Context, ev EventLog) error
}
