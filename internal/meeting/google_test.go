package meeting

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"

	"github.com/hackgods/clinic-booking/internal/appointment"
)

type calendarServer struct {
	mu       sync.Mutex
	inserted []calendar.Event
	queries  []string
	deleted  []string
	reply    calendar.Event
	status   int
}

func (c *calendarServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.status != 0 {
		w.WriteHeader(c.status)
		_, _ = w.Write([]byte(`{"error":{"code":400,"message":"bad request"}}`))
		return
	}

	switch r.Method {
	case http.MethodPost:
		var ev calendar.Event
		if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		c.inserted = append(c.inserted, ev)
		c.queries = append(c.queries, r.URL.RawQuery)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(c.reply)
	case http.MethodDelete:
		parts := strings.Split(r.URL.Path, "/")
		c.deleted = append(c.deleted, parts[len(parts)-1])
		w.WriteHeader(http.StatusNoContent)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func newTestCalendar(t *testing.T, srv *calendarServer) *GoogleCalendar {
	t.Helper()
	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)

	g, err := NewGoogleCalendar(context.Background(), "clinic@example.com", nil,
		option.WithEndpoint(ts.URL+"/"),
		option.WithoutAuthentication(),
	)
	require.NoError(t, err)
	return g
}

func meetingRequest() appointment.MeetingRequest {
	return appointment.MeetingRequest{
		ProviderName:    "Ada Okafor",
		RequesterName:   "Sam Lee",
		Service:         "Follow-up",
		Date:            time.Date(2026, 11, 2, 0, 0, 0, 0, time.UTC),
		SlotLabel:       "02:00 PM - 02:30 PM",
		ProviderEmail:   "ada@clinic.example",
		RequesterEmail:  "sam@example.com",
		DurationMinutes: 45,
	}
}

func TestCreateMeetingInsertsConferenceEvent(t *testing.T) {
	srv := &calendarServer{reply: calendar.Event{Id: "evt-1", HangoutLink: "https://meet.google.com/abc-defg-hij"}}
	g := newTestCalendar(t, srv)

	m, err := g.CreateMeeting(context.Background(), meetingRequest())
	require.NoError(t, err)
	assert.Equal(t, "https://meet.google.com/abc-defg-hij", m.URL)
	assert.Equal(t, "evt-1", m.ExternalEventID)

	require.Len(t, srv.inserted, 1)
	ev := srv.inserted[0]
	assert.Equal(t, "Follow-up with Ada Okafor", ev.Summary)
	assert.Equal(t, "2026-11-02T14:00:00Z", ev.Start.DateTime)
	assert.Equal(t, "2026-11-02T14:45:00Z", ev.End.DateTime)
	require.NotNil(t, ev.ConferenceData)
	assert.Equal(t, "hangoutsMeet", ev.ConferenceData.CreateRequest.ConferenceSolutionKey.Type)
	require.Len(t, ev.Attendees, 2)
	assert.Contains(t, srv.queries[0], "conferenceDataVersion=1")
}

func TestCreateMeetingReadsEntryPoint(t *testing.T) {
	srv := &calendarServer{reply: calendar.Event{
		Id: "evt-2",
		ConferenceData: &calendar.ConferenceData{EntryPoints: []*calendar.EntryPoint{
			{EntryPointType: "phone", Uri: "tel:+1-555"},
			{EntryPointType: "video", Uri: "https://meet.google.com/xyz"},
		}},
	}}
	g := newTestCalendar(t, srv)

	m, err := g.CreateMeeting(context.Background(), meetingRequest())
	require.NoError(t, err)
	assert.Equal(t, "https://meet.google.com/xyz", m.URL)
}

func TestCreateMeetingWithoutLinkFails(t *testing.T) {
	srv := &calendarServer{reply: calendar.Event{Id: "evt-3"}}
	g := newTestCalendar(t, srv)

	_, err := g.CreateMeeting(context.Background(), meetingRequest())
	assert.ErrorIs(t, err, ErrNoConferenceLink)
	assert.Equal(t, []string{"evt-3"}, srv.deleted, "event without a link is removed")
}

func TestCreateMeetingBackendError(t *testing.T) {
	g := newTestCalendar(t, &calendarServer{status: http.StatusBadRequest})

	_, err := g.CreateMeeting(context.Background(), meetingRequest())
	assert.Error(t, err)
}

func TestDeleteMeeting(t *testing.T) {
	srv := &calendarServer{}
	g := newTestCalendar(t, srv)

	require.NoError(t, g.DeleteMeeting(context.Background(), "evt-9"))
	require.NoError(t, g.DeleteMeeting(context.Background(), ""))
	assert.Equal(t, []string{"evt-9"}, srv.deleted)
}
