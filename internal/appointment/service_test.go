package appointment_test

import (
	"bytes"
	"context"
	"errors"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/clinic-booking/internal/appointment"
	"github.com/hackgods/clinic-booking/internal/availability"
	"github.com/hackgods/clinic-booking/internal/config"
	"github.com/hackgods/clinic-booking/internal/memstore"
	redisclient "github.com/hackgods/clinic-booking/internal/redis"
)

// 2026-11-02 is a Monday.
const monday = "2026-11-02"

type recordedChange struct {
	booking appointment.Booking
	from    appointment.Status
}

type recordingEffects struct {
	mu      sync.Mutex
	created []appointment.Booking
	changed []recordedChange
}

func (r *recordingEffects) BookingCreated(_ context.Context, b *appointment.Booking) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.created = append(r.created, *b)
}

func (r *recordingEffects) StatusChanged(_ context.Context, b *appointment.Booking, from appointment.Status) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.changed = append(r.changed, recordedChange{booking: *b, from: from})
}

func (r *recordingEffects) changes() []recordedChange {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]recordedChange(nil), r.changed...)
}

type fakeMeetings struct {
	mu        sync.Mutex
	meeting   *appointment.Meeting
	err       error
	delay     time.Duration
	ignoreCtx bool // keep working past the caller's deadline
	calls     []appointment.MeetingRequest
	deleted   []string
}

func (f *fakeMeetings) CreateMeeting(ctx context.Context, req appointment.MeetingRequest) (*appointment.Meeting, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req)
	f.mu.Unlock()

	if f.delay > 0 && f.ignoreCtx {
		time.Sleep(f.delay)
	} else if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return f.meeting, f.err
}

func (f *fakeMeetings) DeleteMeeting(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, id)
	return nil
}

func (f *fakeMeetings) deletedIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.deleted...)
}

// meetingWriteFailingStore rejects meeting updates after the booking row exists.
type meetingWriteFailingStore struct {
	*memstore.Store
}

func (meetingWriteFailingStore) SetMeeting(context.Context, uuid.UUID, string, *string) error {
	return errors.New("connection reset")
}

type harness struct {
	store     *memstore.Store
	svc       *appointment.Service
	effects   *recordingEffects
	provider  appointment.Provider
	requester appointment.Requester
	userID    uuid.UUID
}

func testConfig() config.Config {
	return config.Config{
		StatusTransitions:      "strict",
		MeetingTimeout:         200 * time.Millisecond,
		MeetingDurationMinutes: 30,
		MeetingFallbackBaseURL: "https://meet.example",
	}
}

func newHarness(t *testing.T, cfg config.Config, opts ...appointment.Option) *harness {
	t.Helper()

	store := memstore.New()
	userID := uuid.New()
	provider := appointment.Provider{
		ID:          uuid.New(),
		UserID:      &userID,
		FirstName:   "Ada",
		LastName:    "Okafor",
		DisplayName: "Dr. Ada",
		Designation: "Cardiology",
		ImageURL:    "https://img.example/ada.png",
		City:        "Lagos",
		Email:       "ada@clinic.example",
	}
	requester := appointment.Requester{
		ID:       uuid.New(),
		FullName: "Sam Lee",
		Email:    "sam@example.com",
		Phone:    "+15550100",
	}
	store.PutProvider(provider)
	store.PutRequester(requester)

	grid := availability.Default()
	grid.Monday.Morning = []string{"09:00-09:30", "09:30-10:00"}
	grid.Monday.Afternoon = []string{"02:00 PM - 02:30 PM"}
	require.NoError(t, store.SetWeeklyAvailability(context.Background(), provider.ID, grid))

	effects := &recordingEffects{}
	opts = append([]appointment.Option{appointment.WithEffects(effects)}, opts...)

	return &harness{
		store:     store,
		svc:       appointment.NewService(store, store, cfg, opts...),
		effects:   effects,
		provider:  provider,
		requester: requester,
		userID:    userID,
	}
}

func (h *harness) input(slot string) appointment.CreateBookingInput {
	return appointment.CreateBookingInput{
		ProviderID:  h.provider.ID.String(),
		RequesterID: h.requester.ID.String(),
		Date:        monday,
		Slot:        slot,
		Mode:        "in-person",
		Service:     "Consultation",
	}
}

func TestFreeSlotsScenario(t *testing.T) {
	h := newHarness(t, testConfig())
	ctx := context.Background()

	free, err := h.svc.FreeSlots(ctx, h.provider.ID, monday)
	require.NoError(t, err)
	assert.Equal(t, []string{"09:00-09:30", "09:30-10:00", "02:00 PM - 02:30 PM"}, free.Slots)
	assert.Equal(t, time.Monday, free.Weekday)

	_, err = h.svc.CreateBooking(ctx, h.input("09:00-09:30"))
	require.NoError(t, err)

	free, err = h.svc.FreeSlots(ctx, h.provider.ID, monday)
	require.NoError(t, err)
	assert.Equal(t, []string{"09:30-10:00", "02:00 PM - 02:30 PM"}, free.Slots)
	assert.Equal(t, []string{"09:30-10:00"}, free.Morning)

	_, err = h.svc.CreateBooking(ctx, h.input("09:00-09:30"))
	assert.ErrorIs(t, err, appointment.ErrSlotAlreadyBooked)
	assert.True(t, appointment.IsConflict(err))
}

func TestFreeSlotsOtherWeekdayAndCancelledBookings(t *testing.T) {
	h := newHarness(t, testConfig())
	ctx := context.Background()

	tuesday, err := h.svc.FreeSlots(ctx, h.provider.ID, "2026-11-03")
	require.NoError(t, err)
	assert.Empty(t, tuesday.Slots)

	b, err := h.svc.CreateBooking(ctx, h.input("09:30-10:00"))
	require.NoError(t, err)
	_, err = h.svc.Cancel(ctx, b.ID)
	require.NoError(t, err)

	free, err := h.svc.FreeSlots(ctx, *h.provider.UserID, monday)
	require.NoError(t, err)
	assert.Contains(t, free.Slots, "09:30-10:00", "cancelled bookings do not hold slots")
}

func TestFreeSlotsErrors(t *testing.T) {
	h := newHarness(t, testConfig())

	_, err := h.svc.FreeSlots(context.Background(), h.provider.ID, "next monday")
	assert.ErrorIs(t, err, appointment.ErrInvalidArgument)

	_, err = h.svc.FreeSlots(context.Background(), uuid.New(), monday)
	assert.ErrorIs(t, err, appointment.ErrProviderNotFound)
}

func TestCreateBookingValidationOrder(t *testing.T) {
	h := newHarness(t, testConfig())

	blockedID := uuid.New()
	h.store.PutProvider(appointment.Provider{ID: blockedID, DisplayName: "Blocked", Blocked: true})

	tests := []struct {
		name   string
		mutate func(in *appointment.CreateBookingInput)
		want   error
	}{
		{"missing service", func(in *appointment.CreateBookingInput) { in.Service = "  " }, appointment.ErrInvalidArgument},
		{"missing slot", func(in *appointment.CreateBookingInput) { in.Slot = "" }, appointment.ErrInvalidArgument},
		{"bad provider id", func(in *appointment.CreateBookingInput) { in.ProviderID = "doc-1" }, appointment.ErrInvalidArgument},
		{"bad mode", func(in *appointment.CreateBookingInput) { in.Mode = "phone" }, appointment.ErrInvalidArgument},
		{"bad date", func(in *appointment.CreateBookingInput) { in.Date = "2026-13-45" }, appointment.ErrInvalidArgument},
		{"unknown provider", func(in *appointment.CreateBookingInput) { in.ProviderID = uuid.NewString() }, appointment.ErrProviderNotFound},
		{"blocked provider before unknown requester", func(in *appointment.CreateBookingInput) {
			in.ProviderID = blockedID.String()
			in.RequesterID = uuid.NewString()
		}, appointment.ErrProviderBlocked},
		{"unknown requester", func(in *appointment.CreateBookingInput) { in.RequesterID = uuid.NewString() }, appointment.ErrRequesterNotFound},
		{"slot not in grid", func(in *appointment.CreateBookingInput) { in.Slot = "11:00-11:30" }, appointment.ErrSlotNotOffered},
		{"slot on a closed weekday", func(in *appointment.CreateBookingInput) { in.Date = "2026-11-03" }, appointment.ErrSlotNotOffered},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := h.input("09:00-09:30")
			tt.mutate(&in)

			_, err := h.svc.CreateBooking(context.Background(), in)
			assert.ErrorIs(t, err, tt.want)
		})
	}

	list, err := h.svc.ListForProvider(context.Background(), h.provider.ID)
	require.NoError(t, err)
	assert.Empty(t, list, "rejected requests must not write")
}

func TestCreateBookingBlockedProviderIsForbiddenEvenWhenFree(t *testing.T) {
	h := newHarness(t, testConfig())
	blocked := h.provider
	blocked.Blocked = true
	h.store.PutProvider(blocked)

	_, err := h.svc.CreateBooking(context.Background(), h.input("09:00-09:30"))
	assert.ErrorIs(t, err, appointment.ErrProviderBlocked)
}

func TestCreateBookingCanonicalisesSlotAndSnapshots(t *testing.T) {
	h := newHarness(t, testConfig())
	ctx := context.Background()

	in := h.input("  02:00 pm -  02:30 pm ")
	in.ProviderID = h.userID.String()
	in.Mode = "clinic"
	in.ContactPhone = "+15559999"

	b, err := h.svc.CreateBooking(ctx, in)
	require.NoError(t, err)

	assert.Equal(t, "02:00 PM - 02:30 PM", b.SlotLabel)
	assert.Equal(t, h.provider.ID, b.ProviderID, "user id resolves to the provider id")
	assert.Equal(t, appointment.ModeInPerson, b.Mode)
	assert.Equal(t, appointment.StatusPending, b.Status)
	assert.False(t, b.Cancelled())
	assert.False(t, b.Completed())
	assert.Regexp(t, regexp.MustCompile(`^APT[A-Z0-9]{6}$`), b.AppointmentCode)
	_, err = uuid.Parse(b.BookingRef)
	assert.NoError(t, err)

	assert.Equal(t, appointment.ProviderSnapshot{
		Name:        "Ada Okafor",
		DisplayName: "Dr. Ada",
		Designation: "Cardiology",
		ImageURL:    "https://img.example/ada.png",
		Location:    "Lagos",
		Email:       "ada@clinic.example",
	}, b.Provider)
	assert.Equal(t, "Sam Lee", b.Requester.Name)
	assert.Equal(t, "sam@example.com", b.Requester.Email)
	assert.Equal(t, "+15559999", b.Requester.Phone)
	assert.Nil(t, b.MeetingURL, "in-person bookings never get a meeting link")

	renamed := h.provider
	renamed.FirstName = "Adaeze"
	renamed.City = "Abuja"
	h.store.PutProvider(renamed)

	stored, err := h.svc.GetBooking(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, "Ada Okafor", stored.Provider.Name)
	assert.Equal(t, "Lagos", stored.Provider.Location)

	require.Len(t, h.effects.created, 1)
	events := h.store.Events()
	require.NotEmpty(t, events)
	assert.Equal(t, appointment.EventBookingCreated, events[0].EventType)
}

func TestCreateBookingDisplayNameFallback(t *testing.T) {
	h := newHarness(t, testConfig())
	p := h.provider
	p.LastName = ""
	h.store.PutProvider(p)

	b, err := h.svc.CreateBooking(context.Background(), h.input("09:00-09:30"))
	require.NoError(t, err)
	assert.Equal(t, "Dr. Ada", b.Provider.Name)
}

func TestConcurrentBookingsForOneSlot(t *testing.T) {
	h := newHarness(t, testConfig())
	assertSingleWinner(t, h, func(err error) bool { return errors.Is(err, appointment.ErrSlotAlreadyBooked) })
}

func TestConcurrentBookingsWithRedisLock(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	h := newHarness(t, testConfig(), appointment.WithLocker(redisclient.NewRedisSlotLocker(rdb, 5*time.Second)))
	assertSingleWinner(t, h, appointment.IsConflict)
}

func TestBookingSurvivesRedisOutage(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = rdb.Close() })
	mr.Close()

	h := newHarness(t, testConfig(), appointment.WithLocker(redisclient.NewRedisSlotLocker(rdb, time.Second)))

	_, err := h.svc.CreateBooking(context.Background(), h.input("09:00-09:30"))
	require.NoError(t, err)

	_, err = h.svc.CreateBooking(context.Background(), h.input("09:00-09:30"))
	assert.ErrorIs(t, err, appointment.ErrSlotAlreadyBooked)
}

func assertSingleWinner(t *testing.T, h *harness, isConflict func(error) bool) {
	t.Helper()

	const attempts = 25
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		conflicts int
		others    []error
	)

	start := make(chan struct{})
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := h.svc.CreateBooking(context.Background(), h.input("09:30-10:00"))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case isConflict(err):
				conflicts++
			default:
				others = append(others, err)
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.Empty(t, others)
	assert.Equal(t, 1, successes)
	assert.Equal(t, attempts-1, conflicts)

	date, _ := appointment.ParseDate(monday)
	labels, err := h.store.ListActiveSlotLabels(context.Background(), h.provider.ID, date)
	require.NoError(t, err)
	assert.Equal(t, []string{"09:30-10:00"}, labels)
}

func TestCreateBookingRetriesOnCodeCollision(t *testing.T) {
	h := newHarness(t, testConfig())
	ctx := context.Background()

	codes := []string{"APTAAAAAA", "APTAAAAAA", "APTBBBBBB"}
	var mu sync.Mutex
	appointment.SetCodeGenerator(h.svc, func() (string, error) {
		mu.Lock()
		defer mu.Unlock()
		code := codes[0]
		codes = codes[1:]
		return code, nil
	})

	first, err := h.svc.CreateBooking(ctx, h.input("09:00-09:30"))
	require.NoError(t, err)
	assert.Equal(t, "APTAAAAAA", first.AppointmentCode)

	second, err := h.svc.CreateBooking(ctx, h.input("09:30-10:00"))
	require.NoError(t, err)
	assert.Equal(t, "APTBBBBBB", second.AppointmentCode)
}

func TestCreateBookingGivesUpAfterRepeatedCollisions(t *testing.T) {
	h := newHarness(t, testConfig())
	ctx := context.Background()

	appointment.SetCodeGenerator(h.svc, func() (string, error) { return "APTSAME00", nil })

	_, err := h.svc.CreateBooking(ctx, h.input("09:00-09:30"))
	require.NoError(t, err)

	_, err = h.svc.CreateBooking(ctx, h.input("09:30-10:00"))
	assert.ErrorIs(t, err, appointment.ErrDuplicateBooking)
}

func TestVideoBookingUsesCalendarLink(t *testing.T) {
	meetings := &fakeMeetings{meeting: &appointment.Meeting{URL: "https://meet.google.com/abc-defg-hij", ExternalEventID: "evt-1"}}
	h := newHarness(t, testConfig(), appointment.WithMeetings(meetings))

	in := h.input("09:00-09:30")
	in.Mode = "video"
	b, err := h.svc.CreateBooking(context.Background(), in)
	require.NoError(t, err)

	require.NotNil(t, b.MeetingURL)
	assert.Equal(t, "https://meet.google.com/abc-defg-hij", *b.MeetingURL)
	require.NotNil(t, b.ExternalEventID)
	assert.Equal(t, "evt-1", *b.ExternalEventID)

	require.Len(t, meetings.calls, 1)
	call := meetings.calls[0]
	assert.Equal(t, "Ada Okafor", call.ProviderName)
	assert.Equal(t, "Sam Lee", call.RequesterName)
	assert.Equal(t, "09:00-09:30", call.SlotLabel)
	assert.Equal(t, 30, call.DurationMinutes)

	stored, err := h.svc.GetBooking(context.Background(), b.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.MeetingURL)
	assert.Equal(t, *b.MeetingURL, *stored.MeetingURL)
}

func TestVideoBookingFallsBackWhenCalendarFails(t *testing.T) {
	tests := map[string]*fakeMeetings{
		"error":   {err: errors.New("calendar down")},
		"timeout": {meeting: &appointment.Meeting{URL: "https://late.example"}, delay: 2 * time.Second},
		"empty":   {meeting: &appointment.Meeting{}},
	}

	for name, meetings := range tests {
		t.Run(name, func(t *testing.T) {
			h := newHarness(t, testConfig(), appointment.WithMeetings(meetings))

			in := h.input("09:00-09:30")
			in.Mode = "video"

			started := time.Now()
			b, err := h.svc.CreateBooking(context.Background(), in)
			require.NoError(t, err)
			assert.Less(t, time.Since(started), time.Second)

			require.NotNil(t, b.MeetingURL)
			assert.True(t, strings.HasPrefix(*b.MeetingURL, "https://meet.example/"+strings.ToLower(b.AppointmentCode)+"-"))
			assert.Nil(t, b.ExternalEventID)

			stored, err := h.svc.GetBooking(context.Background(), b.ID)
			require.NoError(t, err)
			require.NotNil(t, stored.MeetingURL)
			assert.Equal(t, *b.MeetingURL, *stored.MeetingURL)
		})
	}
}

func TestVideoBookingKeepsStoredLinkWhenMeetingWriteFails(t *testing.T) {
	meetings := &fakeMeetings{meeting: &appointment.Meeting{URL: "https://meet.google.com/abc-defg-hij", ExternalEventID: "evt-7"}}
	h := newHarness(t, testConfig())
	h.svc = appointment.NewService(meetingWriteFailingStore{h.store}, h.store, testConfig(),
		appointment.WithEffects(h.effects),
		appointment.WithMeetings(meetings),
	)

	in := h.input("09:00-09:30")
	in.Mode = "video"
	b, err := h.svc.CreateBooking(context.Background(), in)
	require.NoError(t, err)

	require.NotNil(t, b.MeetingURL)
	assert.True(t, strings.HasPrefix(*b.MeetingURL, "https://meet.example/"))
	assert.Nil(t, b.ExternalEventID)

	stored, err := h.svc.GetBooking(context.Background(), b.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.MeetingURL)
	assert.Equal(t, *b.MeetingURL, *stored.MeetingURL)

	assert.Equal(t, []string{"evt-7"}, meetings.deletedIDs(), "unreferenced calendar event is removed")
}

func TestVideoBookingDeletesLateCalendarEvent(t *testing.T) {
	meetings := &fakeMeetings{
		meeting:   &appointment.Meeting{URL: "https://meet.google.com/late", ExternalEventID: "evt-late"},
		delay:     400 * time.Millisecond,
		ignoreCtx: true,
	}
	h := newHarness(t, testConfig(), appointment.WithMeetings(meetings))

	in := h.input("09:00-09:30")
	in.Mode = "video"
	b, err := h.svc.CreateBooking(context.Background(), in)
	require.NoError(t, err)
	require.NotNil(t, b.MeetingURL)
	assert.NotEqual(t, "https://meet.google.com/late", *b.MeetingURL)

	assert.Eventually(t, func() bool {
		ids := meetings.deletedIDs()
		return len(ids) == 1 && ids[0] == "evt-late"
	}, 2*time.Second, 20*time.Millisecond)
}

func TestVideoBookingWithoutCalendarGetsFallback(t *testing.T) {
	h := newHarness(t, testConfig())

	in := h.input("09:00-09:30")
	in.Mode = "video"
	b, err := h.svc.CreateBooking(context.Background(), in)
	require.NoError(t, err)
	require.NotNil(t, b.MeetingURL)
	assert.NotEmpty(t, *b.MeetingURL)
}

func TestListForRequesterAndProvider(t *testing.T) {
	h := newHarness(t, testConfig())
	ctx := context.Background()

	_, err := h.svc.CreateBooking(ctx, h.input("09:00-09:30"))
	require.NoError(t, err)
	second, err := h.svc.CreateBooking(ctx, h.input("09:30-10:00"))
	require.NoError(t, err)

	mine, err := h.svc.ListForRequester(ctx, h.requester.ID)
	require.NoError(t, err)
	require.Len(t, mine, 2)
	assert.Equal(t, second.ID, mine[0].ID)
	require.NotNil(t, mine[0].ProviderUserID)
	assert.Equal(t, h.userID, *mine[0].ProviderUserID)

	byUser, err := h.svc.ListForProvider(ctx, h.userID)
	require.NoError(t, err)
	assert.Len(t, byUser, 2)

	none, err := h.svc.ListForRequester(ctx, uuid.New())
	require.NoError(t, err)
	assert.NotNil(t, none)
	assert.Empty(t, none)

	_, err = h.svc.ListForProvider(ctx, uuid.New())
	assert.ErrorIs(t, err, appointment.ErrProviderNotFound)

	_, err = h.svc.GetBooking(ctx, uuid.New())
	assert.ErrorIs(t, err, appointment.ErrBookingNotFound)
}

func TestAppointmentCodeFormat(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		code, err := appointment.NewAppointmentCode()
		require.NoError(t, err)
		assert.Regexp(t, `^APT[A-Z0-9]{6}$`, code)
		seen[code] = true
	}
	assert.Greater(t, len(seen), 1)

	url := appointment.FallbackMeetingURL("https://meet.example/", "APTABC123")
	assert.Regexp(t, `^https://meet\.example/aptabc123-[a-z0-9]{8}$`, url)
}

func TestTokenRedrawsBiasedBytes(t *testing.T) {
	src := bytes.NewReader([]byte{252, 253, 254, 255, 0, 1, 35, 36, 71})
	tok, err := appointment.TokenFrom(src, 3)
	require.NoError(t, err)
	assert.Equal(t, "AB9", tok)

	_, err = appointment.TokenFrom(bytes.NewReader([]byte{255, 255, 255}), 3)
	assert.Error(t, err, "a source that only yields rejected bytes runs dry")
}
