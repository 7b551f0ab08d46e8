package appointment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"

	constraintActiveSlot      = "bookings_active_slot_key"
	constraintBookingRef      = "bookings_booking_ref_key"
	constraintAppointmentCode = "bookings_appointment_code_key"
	constraintProviderFK      = "bookings_provider_id_fkey"
	constraintRequesterFK     = "bookings_requester_id_fkey"
)

// DBTX is satisfied by *pgxpool.Pool, pgx.Tx and pgxmock pools.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type PgRepository struct {
	db DBTX
}

func NewPgRepository(db DBTX) *PgRepository {
	if db == nil {
		panic("appointment: db required")
	}
	return &PgRepository{db: db}
}

const bookingColumns = `id, booking_ref, appointment_code, provider_id, requester_id, booking_date, slot_label,
		mode, service, location, insurance, symptoms, notes, status,
		provider_name, provider_display_name, provider_designation, provider_image_url, provider_location, provider_email,
		requester_name, requester_email, requester_phone,
		meeting_url, external_event_id, provider_user_id, created_at, updated_at`

// Helpers

func scanProvider(row pgx.Row) (*Provider, error) {
	var p Provider

	err := row.Scan(
		&p.ID,
		&p.UserID,
		&p.FirstName,
		&p.LastName,
		&p.DisplayName,
		&p.Designation,
		&p.ImageURL,
		&p.City,
		&p.Email,
		&p.Phone,
		&p.Blocked,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrProviderNotFound
		}
		return nil, err
	}

	return &p, nil
}

func scanRequester(row pgx.Row) (*Requester, error) {
	var r Requester

	err := row.Scan(
		&r.ID,
		&r.FullName,
		&r.Email,
		&r.Phone,
		&r.CreatedAt,
		&r.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrRequesterNotFound
		}
		return nil, err
	}

	return &r, nil
}

func scanBooking(row pgx.Row) (*Booking, error) {
	var b Booking
	var mode, status string

	err := row.Scan(
		&b.ID,
		&b.BookingRef,
		&b.AppointmentCode,
		&b.ProviderID,
		&b.RequesterID,
		&b.Date,
		&b.SlotLabel,
		&mode,
		&b.Service,
		&b.Location,
		&b.Insurance,
		&b.Symptoms,
		&b.Notes,
		&status,
		&b.Provider.Name,
		&b.Provider.DisplayName,
		&b.Provider.Designation,
		&b.Provider.ImageURL,
		&b.Provider.Location,
		&b.Provider.Email,
		&b.Requester.Name,
		&b.Requester.Email,
		&b.Requester.Phone,
		&b.MeetingURL,
		&b.ExternalEventID,
		&b.ProviderUserID,
		&b.CreatedAt,
		&b.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrBookingNotFound
		}
		return nil, err
	}

	b.Mode = Mode(mode)
	b.Status = Status(status)
	return &b, nil
}

func collectBookings(rows pgx.Rows) ([]Booking, error) {
	defer rows.Close()

	var result []Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *b)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

// translateWriteError maps storage constraint violations to ledger errors.
func translateWriteError(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}

	switch pgErr.Code {
	case pgUniqueViolation:
		switch pgErr.ConstraintName {
		case constraintBookingRef, constraintAppointmentCode:
			return fmt.Errorf("%w: %s", ErrDuplicateBooking, pgErr.ConstraintName)
		case constraintActiveSlot:
			return ErrSlotAlreadyBooked
		}
	case pgForeignKeyViolation:
		switch pgErr.ConstraintName {
		case constraintProviderFK:
			return ErrProviderNotFound
		case constraintRequesterFK:
			return ErrRequesterNotFound
		}
	}
	return err
}

// Interface methods

// GetProviderByID resolves either the provider id or the provider's auth user id.
func (r *PgRepository) GetProviderByID(ctx context.Context, id uuid.UUID) (*Provider, error) {
	row := r.db.QueryRow(ctx, `
		SELECT id, user_id, first_name, last_name, display_name, designation, image_url, city,
		       email, phone, is_blocked, created_at, updated_at
		FROM providers
		WHERE id = $1 OR user_id = $1
		ORDER BY (id = $1) DESC
		LIMIT 1
	`, id)
	return scanProvider(row)
}

func (r *PgRepository) GetRequesterByID(ctx context.Context, id uuid.UUID) (*Requester, error) {
	row := r.db.QueryRow(ctx, `
		SELECT id, full_name, email, phone, created_at, updated_at
		FROM requesters
		WHERE id = $1
	`, id)
	return scanRequester(row)
}

func (r *PgRepository) CreateBooking(ctx context.Context, b *Booking) (*Booking, error) {
	row := r.db.QueryRow(ctx, `
		INSERT INTO bookings (
			id, booking_ref, appointment_code, provider_id, requester_id, booking_date, slot_label,
			mode, service, location, insurance, symptoms, notes, status,
			provider_name, provider_display_name, provider_designation, provider_image_url, provider_location, provider_email,
			requester_name, requester_email, requester_phone,
			meeting_url, external_event_id, provider_user_id, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14,
		        $15, $16, $17, $18, $19, $20, $21, $22, $23, $24, $25, $26, now(), now())
		RETURNING `+bookingColumns,
		b.ID, b.BookingRef, b.AppointmentCode, b.ProviderID, b.RequesterID, b.Date, b.SlotLabel,
		string(b.Mode), b.Service, b.Location, b.Insurance, b.Symptoms, b.Notes, string(b.Status),
		b.Provider.Name, b.Provider.DisplayName, b.Provider.Designation, b.Provider.ImageURL, b.Provider.Location, b.Provider.Email,
		b.Requester.Name, b.Requester.Email, b.Requester.Phone,
		b.MeetingURL, b.ExternalEventID, b.ProviderUserID,
	)

	created, err := scanBooking(row)
	if err != nil {
		return nil, translateWriteError(err)
	}
	return created, nil
}

func (r *PgRepository) GetBookingByID(ctx context.Context, id uuid.UUID) (*Booking, error) {
	row := r.db.QueryRow(ctx, `
		SELECT `+bookingColumns+`
		FROM bookings
		WHERE id = $1
	`, id)
	return scanBooking(row)
}

func (r *PgRepository) ListBookingsByRequester(ctx context.Context, requesterID uuid.UUID) ([]Booking, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+bookingColumns+`
		FROM bookings
		WHERE requester_id = $1
		ORDER BY created_at DESC
	`, requesterID)
	if err != nil {
		return nil, err
	}
	return collectBookings(rows)
}

func (r *PgRepository) ListBookingsByProvider(ctx context.Context, providerID uuid.UUID) ([]Booking, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+bookingColumns+`
		FROM bookings
		WHERE provider_id = $1
		ORDER BY created_at DESC
	`, providerID)
	if err != nil {
		return nil, err
	}
	return collectBookings(rows)
}

func (r *PgRepository) ListActiveSlotLabels(ctx context.Context, providerID uuid.UUID, date time.Time) ([]string, error) {
	rows, err := r.db.Query(ctx, `
		SELECT slot_label
		FROM bookings
		WHERE provider_id = $1
		  AND booking_date = $2
		  AND status <> 'cancelled'
	`, providerID, date)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var labels []string
	for rows.Next() {
		var label string
		if err := rows.Scan(&label); err != nil {
			return nil, err
		}
		labels = append(labels, label)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return labels, nil
}

// UpdateBookingStatus moves a booking from one status to another only if it
// is still in the expected status.
func (r *PgRepository) UpdateBookingStatus(ctx context.Context, id uuid.UUID, from, to Status) (*Booking, error) {
	row := r.db.QueryRow(ctx, `
		UPDATE bookings
		SET status = $2,
		    updated_at = now()
		WHERE id = $1
		  AND status = $3
		RETURNING `+bookingColumns,
		id, string(to), string(from))

	updated, err := scanBooking(row)
	if err != nil {
		if errors.Is(err, ErrBookingNotFound) {
			return nil, ErrStatusMismatch
		}
		return nil, translateWriteError(err)
	}
	return updated, nil
}

func (r *PgRepository) SetMeeting(ctx context.Context, id uuid.UUID, meetingURL string, externalEventID *string) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE bookings
		SET meeting_url = $2,
		    external_event_id = $3,
		    updated_at = now()
		WHERE id = $1
	`, id, meetingURL, externalEventID)
	if err != nil {
		return fmt.Errorf("set meeting: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrBookingNotFound
	}
	return nil
}

func (r *PgRepository) InsertEvent(ctx context.Context, ev EventLog) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO event_logs (event_type, booking_id, payload, created_at)
		VALUES ($1, $2, $3, COALESCE($4, now()))
	`, ev.EventType, ev.BookingID, ev.Payload, nullableTime(ev.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert event log: %w", err)
	}

	return nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
