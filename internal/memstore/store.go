// Package memstore keeps the booking ledger and availability grids in process
// memory. It enforces the same uniqueness rules as the Postgres schema and is
// used for STORAGE=memory and in tests.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-booking/internal/appointment"
	"github.com/hackgods/clinic-booking/internal/availability"
)

type Store struct {
	mu         sync.RWMutex
	providers  map[uuid.UUID]appointment.Provider
	requesters map[uuid.UUID]appointment.Requester
	grids      map[uuid.UUID]availability.WeeklyAvailability
	bookings   map[uuid.UUID]appointment.Booking
	seq        map[uuid.UUID]int64
	events     []appointment.EventLog
	next       int64
}

var (
	_ appointment.Repository = (*Store)(nil)
	_ availability.Store     = (*Store)(nil)
)

func New() *Store {
	return &Store{
		providers:  make(map[uuid.UUID]appointment.Provider),
		requesters: make(map[uuid.UUID]appointment.Requester),
		grids:      make(map[uuid.UUID]availability.WeeklyAvailability),
		bookings:   make(map[uuid.UUID]appointment.Booking),
		seq:        make(map[uuid.UUID]int64),
	}
}

// PutProvider inserts or replaces a provider record.
func (s *Store) PutProvider(p appointment.Provider) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now
	s.providers[p.ID] = p
}

// PutRequester inserts or replaces a requester record.
func (s *Store) PutRequester(r appointment.Requester) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now
	}
	r.UpdatedAt = now
	s.requesters[r.ID] = r
}

// Events returns a copy of the audit trail in insertion order.
func (s *Store) Events() []appointment.EventLog {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]appointment.EventLog, len(s.events))
	copy(out, s.events)
	return out
}

func (s *Store) GetProviderByID(_ context.Context, id uuid.UUID) (*appointment.Provider, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if p, ok := s.providers[id]; ok {
		return &p, nil
	}
	for _, p := range s.providers {
		if p.UserID != nil && *p.UserID == id {
			p := p
			return &p, nil
		}
	}
	return nil, appointment.ErrProviderNotFound
}

func (s *Store) GetRequesterByID(_ context.Context, id uuid.UUID) (*appointment.Requester, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.requesters[id]
	if !ok {
		return nil, appointment.ErrRequesterNotFound
	}
	return &r, nil
}

func (s *Store) CreateBooking(_ context.Context, b *appointment.Booking) (*appointment.Booking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.providers[b.ProviderID]; !ok {
		return nil, appointment.ErrProviderNotFound
	}
	if _, ok := s.requesters[b.RequesterID]; !ok {
		return nil, appointment.ErrRequesterNotFound
	}

	for _, existing := range s.bookings {
		if existing.ID == b.ID || existing.BookingRef == b.BookingRef || existing.AppointmentCode == b.AppointmentCode {
			return nil, appointment.ErrDuplicateBooking
		}
	}
	if b.Status.Active() && s.slotTakenLocked(b.ProviderID, b.Date, b.SlotLabel, uuid.Nil) {
		return nil, appointment.ErrSlotAlreadyBooked
	}

	stored := clone(*b)
	now := time.Now().UTC()
	stored.CreatedAt = now
	stored.UpdatedAt = now

	s.next++
	s.bookings[stored.ID] = stored
	s.seq[stored.ID] = s.next

	out := clone(stored)
	return &out, nil
}

func (s *Store) GetBookingByID(_ context.Context, id uuid.UUID) (*appointment.Booking, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	b, ok := s.bookings[id]
	if !ok {
		return nil, appointment.ErrBookingNotFound
	}
	out := clone(b)
	return &out, nil
}

func (s *Store) ListBookingsByRequester(_ context.Context, requesterID uuid.UUID) ([]appointment.Booking, error) {
	return s.list(func(b appointment.Booking) bool { return b.RequesterID == requesterID }), nil
}

func (s *Store) ListBookingsByProvider(_ context.Context, providerID uuid.UUID) ([]appointment.Booking, error) {
	return s.list(func(b appointment.Booking) bool { return b.ProviderID == providerID }), nil
}

func (s *Store) ListActiveSlotLabels(_ context.Context, providerID uuid.UUID, date time.Time) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var labels []string
	for _, b := range s.bookings {
		if b.ProviderID == providerID && sameDay(b.Date, date) && b.Status.Active() {
			labels = append(labels, b.SlotLabel)
		}
	}
	return labels, nil
}

func (s *Store) UpdateBookingStatus(_ context.Context, id uuid.UUID, from, to appointment.Status) (*appointment.Booking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.bookings[id]
	if !ok || b.Status != from {
		return nil, appointment.ErrStatusMismatch
	}
	if !from.Active() && to.Active() && s.slotTakenLocked(b.ProviderID, b.Date, b.SlotLabel, b.ID) {
		return nil, appointment.ErrSlotAlreadyBooked
	}

	b.Status = to
	b.UpdatedAt = time.Now().UTC()
	s.bookings[id] = b

	out := clone(b)
	return &out, nil
}

func (s *Store) SetMeeting(_ context.Context, id uuid.UUID, meetingURL string, externalEventID *string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.bookings[id]
	if !ok {
		return appointment.ErrBookingNotFound
	}
	url := meetingURL
	b.MeetingURL = &url
	b.ExternalEventID = copyString(externalEventID)
	b.UpdatedAt = time.Now().UTC()
	s.bookings[id] = b
	return nil
}

func (s *Store) InsertEvent(_ context.Context, ev appointment.EventLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ev.ID = int64(len(s.events) + 1)
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now().UTC()
	}
	s.events = append(s.events, ev)
	return nil
}

func (s *Store) GetWeeklyAvailability(_ context.Context, providerID uuid.UUID) (availability.WeeklyAvailability, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.providers[providerID]; !ok {
		return availability.WeeklyAvailability{}, availability.ErrProviderNotFound
	}
	grid, ok := s.grids[providerID]
	if !ok {
		return availability.Default(), nil
	}
	return availability.NormalizeGrid(grid), nil
}

func (s *Store) SetWeeklyAvailability(_ context.Context, providerID uuid.UUID, w availability.WeeklyAvailability) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.providers[providerID]; !ok {
		return availability.ErrProviderNotFound
	}
	s.grids[providerID] = availability.NormalizeGrid(w)
	return nil
}

func (s *Store) slotTakenLocked(providerID uuid.UUID, date time.Time, label string, except uuid.UUID) bool {
	for _, b := range s.bookings {
		if b.ID == except {
			continue
		}
		if b.ProviderID == providerID && sameDay(b.Date, date) && b.SlotLabel == label && b.Status.Active() {
			return true
		}
	}
	return false
}

// list returns matching bookings newest first.
func (s *Store) list(match func(appointment.Booking) bool) []appointment.Booking {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]appointment.Booking, 0)
	for _, b := range s.bookings {
		if match(b) {
			out = append(out, clone(b))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return s.seq[out[i].ID] > s.seq[out[j].ID]
	})
	return out
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.UTC().Date()
	by, bm, bd := b.UTC().Date()
	return ay == by && am == bm && ad == bd
}

func clone(b appointment.Booking) appointment.Booking {
	b.MeetingURL = copyString(b.MeetingURL)
	b.ExternalEventID = copyString(b.ExternalEventID)
	return b
}

func copyString(p *string) *string {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
