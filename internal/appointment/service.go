package appointment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/hackgods/clinic-booking/internal/availability"
	"github.com/hackgods/clinic-booking/internal/config"
	redisclient "github.com/hackgods/clinic-booking/internal/redis"
)

const (
	EventBookingCreated       = "BOOKING_CREATED"
	EventBookingStatusChanged = "BOOKING_STATUS_CHANGED"
	EventMeetingAttached      = "MEETING_LINK_ATTACHED"
)

var (
	ErrInvalidArgument = errors.New("invalid argument")
	ErrProviderBlocked = errors.New("this provider is currently unavailable for appointments")
	ErrSlotNotOffered  = fmt.Errorf("%w: slot is not offered by the provider on that day", ErrInvalidArgument)
	ErrSlotBeingBooked = errors.New("slot is currently being booked, please retry")
)

const maxCodeAttempts = 3

var bookingTracer = otel.Tracer("clinic.internal.appointment")

type Service struct {
	repo     Repository
	grids    availability.Store
	locker   redisclient.Locker
	meetings MeetingProvider
	effects  Effects
	metrics  Observer
	logger   *zap.Logger
	cfg      config.Config
	policy   TransitionPolicy
	newCode  func() (string, error)
}

type Option func(*Service)

// WithLocker enables the Redis contention lock around inserts.
func WithLocker(l redisclient.Locker) Option {
	return func(s *Service) { s.locker = l }
}

func WithMeetings(m MeetingProvider) Option {
	return func(s *Service) { s.meetings = m }
}

func WithEffects(e Effects) Option {
	return func(s *Service) {
		if e != nil {
			s.effects = e
		}
	}
}

func WithObserver(o Observer) Option {
	return func(s *Service) {
		if o != nil {
			s.metrics = o
		}
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

func NewService(repo Repository, grids availability.Store, cfg config.Config, opts ...Option) *Service {
	s := &Service{
		repo:    repo,
		grids:   grids,
		effects: noopEffects{},
		metrics: noopObserver{},
		logger:  zap.NewNop(),
		cfg:     cfg,
		policy:  ParseTransitionPolicy(cfg.StatusTransitions),
		newCode: newAppointmentCode,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateBookingInput is the raw booking request. Ids and dates are strings so
// that malformed values surface as ErrInvalidArgument.
type CreateBookingInput struct {
	ProviderID   string
	RequesterID  string
	Date         string
	Slot         string
	Mode         string
	Service      string
	Location     string
	Insurance    string
	Symptoms     string
	Notes        string
	ContactEmail string
	ContactPhone string
}

type bookingRequest struct {
	providerID  uuid.UUID
	requesterID uuid.UUID
	date        time.Time
	slot        string
	mode        Mode
	service     string
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidArgument, fmt.Sprintf(format, args...))
}

func (in CreateBookingInput) validate() (bookingRequest, error) {
	var req bookingRequest

	var missing []string
	for _, f := range []struct{ name, value string }{
		{"providerId", in.ProviderID},
		{"requesterId", in.RequesterID},
		{"date", in.Date},
		{"slot", in.Slot},
		{"service", in.Service},
		{"mode", in.Mode},
	} {
		if strings.TrimSpace(f.value) == "" {
			missing = append(missing, f.name)
		}
	}
	if len(missing) > 0 {
		return req, invalid("missing required fields: %s", strings.Join(missing, ", "))
	}

	var err error
	if req.providerID, err = uuid.Parse(strings.TrimSpace(in.ProviderID)); err != nil {
		return req, invalid("invalid provider id")
	}
	if req.requesterID, err = uuid.Parse(strings.TrimSpace(in.RequesterID)); err != nil {
		return req, invalid("invalid requester id")
	}

	req.slot = availability.CanonicalLabel(in.Slot)
	req.service = strings.TrimSpace(in.Service)

	mode, ok := ParseMode(in.Mode)
	if !ok {
		return req, invalid("invalid mode, allowed: video, in-person")
	}
	req.mode = mode

	date, ok := ParseDate(in.Date)
	if !ok {
		return req, invalid("invalid date")
	}
	req.date = date

	return req, nil
}

// CreateBooking validates the request, writes the booking and then runs the
// post-commit side effects. Only ledger outcomes are returned to the caller.
func (s *Service) CreateBooking(ctx context.Context, in CreateBookingInput) (*Booking, error) {
	ctx, span := bookingTracer.Start(ctx, "appointment.CreateBooking")
	defer span.End()
	span.SetAttributes(
		attribute.String("clinic.provider_id", in.ProviderID),
		attribute.String("clinic.requester_id", in.RequesterID),
	)

	created, err := s.createBooking(ctx, in)
	if err != nil {
		s.metrics.ObserveRejected(rejectReason(err))
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	span.SetAttributes(attribute.String("clinic.booking_id", created.ID.String()))
	s.metrics.ObserveCreated(string(created.Mode))
	s.afterCreate(ctx, created)
	return created, nil
}

func (s *Service) createBooking(ctx context.Context, in CreateBookingInput) (*Booking, error) {
	req, err := in.validate()
	if err != nil {
		return nil, err
	}

	provider, err := s.repo.GetProviderByID(ctx, req.providerID)
	if err != nil {
		if errors.Is(err, ErrProviderNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("load provider: %w", err)
	}
	if provider.Blocked {
		return nil, ErrProviderBlocked
	}

	requester, err := s.repo.GetRequesterByID(ctx, req.requesterID)
	if err != nil {
		if errors.Is(err, ErrRequesterNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("load requester: %w", err)
	}

	grid, err := s.grids.GetWeeklyAvailability(ctx, provider.ID)
	if err != nil {
		return nil, fmt.Errorf("load availability: %w", err)
	}
	if !grid.Day(req.date.Weekday()).Contains(req.slot) {
		return nil, ErrSlotNotOffered
	}

	b := &Booking{
		ProviderID:     provider.ID,
		ProviderUserID: provider.UserID,
		RequesterID:    requester.ID,
		Date:           req.date,
		SlotLabel:      req.slot,
		Mode:           req.mode,
		Service:        req.service,
		Location:       strings.TrimSpace(in.Location),
		Insurance:      strings.TrimSpace(in.Insurance),
		Symptoms:       strings.TrimSpace(in.Symptoms),
		Notes:          strings.TrimSpace(in.Notes),
		Status:         StatusPending,
		Provider: ProviderSnapshot{
			Name:        provider.Name(),
			DisplayName: provider.DisplayName,
			Designation: provider.Designation,
			ImageURL:    provider.ImageURL,
			Location:    provider.City,
			Email:       provider.Email,
		},
		Requester: RequesterSnapshot{
			Name:  requester.FullName,
			Email: firstNonEmpty(in.ContactEmail, requester.Email),
			Phone: firstNonEmpty(in.ContactPhone, requester.Phone),
		},
	}

	var created *Booking
	key := redisclient.SlotKey(provider.ID, FormatDate(req.date), req.slot)
	err = s.withSlotLock(ctx, key, func(lockCtx context.Context) error {
		var err error
		created, err = s.insertBooking(lockCtx, b)
		return err
	})
	if err != nil {
		return nil, err
	}

	return created, nil
}

// withSlotLock narrows contention before the insert. The ledger's unique
// index still decides the race, so a Redis outage only drops the lock.
func (s *Service) withSlotLock(ctx context.Context, key string, fn func(context.Context) error) error {
	if s.locker == nil {
		return fn(ctx)
	}

	err := s.locker.WithKeyLock(ctx, key, fn)
	switch {
	case errors.Is(err, redisclient.ErrLockNotAcquired):
		return ErrSlotBeingBooked
	case errors.Is(err, redisclient.ErrLockUnavailable):
		s.logger.Warn("slot lock unavailable, relying on ledger constraint",
			zap.String("key", key),
			zap.Error(err),
		)
		return fn(ctx)
	}
	return err
}

func (s *Service) insertBooking(ctx context.Context, b *Booking) (*Booking, error) {
	for attempt := 1; attempt <= maxCodeAttempts; attempt++ {
		code, err := s.newCode()
		if err != nil {
			return nil, err
		}

		candidate := *b
		candidate.ID = uuid.New()
		candidate.BookingRef = uuid.NewString()
		candidate.AppointmentCode = code
		if candidate.Mode == ModeVideo {
			// stored with the row so a video booking is never without a link
			url := fallbackMeetingURL(s.cfg.MeetingFallbackBaseURL, code)
			candidate.MeetingURL = &url
		}

		created, err := s.repo.CreateBooking(ctx, &candidate)
		if err == nil {
			return created, nil
		}

		switch {
		case errors.Is(err, ErrDuplicateBooking):
			s.logger.Warn("booking identifier collision, regenerating",
				zap.String("appointment_code", code),
				zap.Int("attempt", attempt),
			)
			continue
		case errors.Is(err, ErrSlotAlreadyBooked),
			errors.Is(err, ErrProviderNotFound),
			errors.Is(err, ErrRequesterNotFound):
			return nil, err
		default:
			return nil, fmt.Errorf("insert booking: %w", err)
		}
	}

	return nil, fmt.Errorf("insert booking after %d attempts: %w", maxCodeAttempts, ErrDuplicateBooking)
}

// afterCreate runs once the booking is committed. Nothing here can fail the booking.
func (s *Service) afterCreate(ctx context.Context, b *Booking) {
	ctx = context.WithoutCancel(ctx)

	if b.Mode == ModeVideo {
		s.attachMeeting(ctx, b)
	}

	s.logEvent(ctx, b.ID, EventBookingCreated, map[string]any{
		"provider_id":      b.ProviderID.String(),
		"requester_id":     b.RequesterID.String(),
		"date":             FormatDate(b.Date),
		"slot":             b.SlotLabel,
		"mode":             string(b.Mode),
		"appointment_code": b.AppointmentCode,
	})

	s.effects.BookingCreated(ctx, b)
}

type meetingResult struct {
	meeting *Meeting
	err     error
}

// attachMeeting upgrades the stored fallback link to a calendar meeting when
// the collaborator delivers one.
func (s *Service) attachMeeting(ctx context.Context, b *Booking) {
	m := s.requestMeeting(ctx, b)
	if m == nil {
		s.metrics.ObserveMeetingLink(MeetingSourceFallback)
		s.logEvent(ctx, b.ID, EventMeetingAttached, map[string]any{
			"meeting_url": derefString(b.MeetingURL),
			"source":      MeetingSourceFallback,
		})
		return
	}

	var eventID *string
	if m.ExternalEventID != "" {
		id := m.ExternalEventID
		eventID = &id
	}

	if err := s.repo.SetMeeting(ctx, b.ID, m.URL, eventID); err != nil {
		s.metrics.ObserveSideEffectFailure("meeting_persist")
		s.logger.Error("failed to persist calendar meeting, keeping fallback link",
			zap.String("booking_id", b.ID.String()),
			zap.Error(err),
		)
		s.discardMeeting(ctx, b.ID, m)
		s.metrics.ObserveMeetingLink(MeetingSourceFallback)
		return
	}

	b.MeetingURL = &m.URL
	b.ExternalEventID = eventID
	s.metrics.ObserveMeetingLink(MeetingSourceCalendar)

	s.logEvent(ctx, b.ID, EventMeetingAttached, map[string]any{
		"meeting_url":       m.URL,
		"external_event_id": eventID,
		"source":            MeetingSourceCalendar,
	})
}

// requestMeeting asks the calendar collaborator for a meeting within the
// configured timeout. It returns nil when no usable meeting arrived in time.
func (s *Service) requestMeeting(ctx context.Context, b *Booking) *Meeting {
	if s.meetings == nil {
		return nil
	}

	timeout := s.cfg.MeetingTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	duration := s.cfg.MeetingDurationMinutes
	if duration <= 0 {
		duration = 30
	}

	req := MeetingRequest{
		ProviderName:    b.Provider.Name,
		RequesterName:   b.Requester.Name,
		Service:         b.Service,
		Date:            b.Date,
		SlotLabel:       b.SlotLabel,
		ProviderEmail:   b.Provider.Email,
		RequesterEmail:  b.Requester.Email,
		DurationMinutes: duration,
	}

	mctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan meetingResult, 1)
	go func() {
		m, err := s.meetings.CreateMeeting(mctx, req)
		done <- meetingResult{meeting: m, err: err}
	}()

	var res meetingResult
	select {
	case res = <-done:
	case <-mctx.Done():
		res.err = mctx.Err()
		// a late answer may still have created an event nobody references
		go func() {
			if late := <-done; late.meeting != nil {
				s.discardMeeting(ctx, b.ID, late.meeting)
			}
		}()
	}

	if res.err == nil && res.meeting != nil && res.meeting.URL != "" {
		return res.meeting
	}

	if res.err == nil {
		res.err = errors.New("calendar returned no meeting link")
		if res.meeting != nil {
			s.discardMeeting(ctx, b.ID, res.meeting)
		}
	}
	s.metrics.ObserveSideEffectFailure("meeting")
	s.logger.Warn("meeting link unavailable, using fallback",
		zap.String("booking_id", b.ID.String()),
		zap.Error(res.err),
	)
	return nil
}

// discardMeeting deletes a calendar event that no booking will reference.
func (s *Service) discardMeeting(ctx context.Context, bookingID uuid.UUID, m *Meeting) {
	if m.ExternalEventID == "" {
		return
	}

	timeout := s.cfg.MeetingTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()

	if err := s.meetings.DeleteMeeting(dctx, m.ExternalEventID); err != nil {
		s.metrics.ObserveSideEffectFailure("meeting_delete")
		s.logger.Warn("failed to delete orphaned calendar event",
			zap.String("booking_id", bookingID.String()),
			zap.String("external_event_id", m.ExternalEventID),
			zap.Error(err),
		)
	}
}

func (s *Service) logEvent(ctx context.Context, bookingID uuid.UUID, eventType string, payload map[string]any) {
	data, err := json.Marshal(payload)
	if err != nil {
		s.logger.Error("failed to marshal event payload", zap.String("event_type", eventType), zap.Error(err))
		data = nil
	}

	id := bookingID
	ev := EventLog{
		EventType: eventType,
		BookingID: &id,
		Payload:   data,
		CreatedAt: time.Now().UTC(),
	}

	if err := s.repo.InsertEvent(ctx, ev); err != nil {
		s.metrics.ObserveSideEffectFailure("audit")
		s.logger.Error("failed to insert event log",
			zap.String("event_type", eventType),
			zap.String("booking_id", bookingID.String()),
			zap.Error(err),
		)
	}
}

// GetBooking retrieves a single booking by id.
func (s *Service) GetBooking(ctx context.Context, id uuid.UUID) (*Booking, error) {
	b, err := s.repo.GetBookingByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrBookingNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("get booking: %w", err)
	}
	return b, nil
}

// ResolveProvider accepts a provider id or the provider's auth user id.
func (s *Service) ResolveProvider(ctx context.Context, ref uuid.UUID) (*Provider, error) {
	p, err := s.repo.GetProviderByID(ctx, ref)
	if err != nil {
		if errors.Is(err, ErrProviderNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("resolve provider: %w", err)
	}
	return p, nil
}

// ListForRequester returns the requester's bookings, newest first.
func (s *Service) ListForRequester(ctx context.Context, requesterID uuid.UUID) ([]Booking, error) {
	list, err := s.repo.ListBookingsByRequester(ctx, requesterID)
	if err != nil {
		return nil, fmt.Errorf("list bookings by requester: %w", err)
	}
	if list == nil {
		list = []Booking{}
	}
	return list, nil
}

// ListForProvider returns bookings for the provider behind ref, newest first.
func (s *Service) ListForProvider(ctx context.Context, ref uuid.UUID) ([]Booking, error) {
	provider, err := s.ResolveProvider(ctx, ref)
	if err != nil {
		return nil, err
	}

	list, err := s.repo.ListBookingsByProvider(ctx, provider.ID)
	if err != nil {
		return nil, fmt.Errorf("list bookings by provider: %w", err)
	}
	if list == nil {
		list = []Booking{}
	}
	return list, nil
}

// IsConflict reports whether err means the request lost against concurrent
// or existing ledger state.
func IsConflict(err error) bool {
	return errors.Is(err, ErrSlotAlreadyBooked) ||
		errors.Is(err, ErrSlotBeingBooked) ||
		errors.Is(err, ErrDuplicateBooking) ||
		errors.Is(err, ErrInvalidStatusTransition) ||
		errors.Is(err, ErrConcurrentUpdate) ||
		errors.Is(err, ErrStatusMismatch)
}

func rejectReason(err error) string {
	switch {
	case errors.Is(err, ErrSlotNotOffered):
		return "slot_not_offered"
	case errors.Is(err, ErrInvalidArgument):
		return "invalid_argument"
	case errors.Is(err, ErrProviderNotFound):
		return "provider_not_found"
	case errors.Is(err, ErrProviderBlocked):
		return "provider_blocked"
	case errors.Is(err, ErrRequesterNotFound):
		return "requester_not_found"
	case errors.Is(err, ErrSlotAlreadyBooked), errors.Is(err, ErrSlotBeingBooked):
		return "slot_taken"
	case errors.Is(err, ErrDuplicateBooking):
		return "duplicate_identifier"
	default:
		return "internal"
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

func derefString(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}
