package meeting

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"

	"github.com/hackgods/clinic-booking/internal/appointment"
	"github.com/hackgods/clinic-booking/internal/availability"
)

var ErrNoConferenceLink = errors.New("meeting: calendar event has no conference link")

// GoogleCalendar creates Google Calendar events with a Meet conference for
// video bookings and deletes them on cancellation.
type GoogleCalendar struct {
	events     *calendar.EventsService
	calendarID string
	logger     *zap.Logger
}

var _ appointment.MeetingProvider = (*GoogleCalendar)(nil)

func NewGoogleCalendar(ctx context.Context, calendarID string, logger *zap.Logger, opts ...option.ClientOption) (*GoogleCalendar, error) {
	if strings.TrimSpace(calendarID) == "" {
		calendarID = "primary"
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	svc, err := calendar.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("meeting: failed to create calendar client: %w", err)
	}

	return &GoogleCalendar{
		events:     svc.Events,
		calendarID: calendarID,
		logger:     logger,
	}, nil
}

// NewGoogleCalendarFromFile reads service account or OAuth credentials from path.
func NewGoogleCalendarFromFile(ctx context.Context, path, calendarID string, logger *zap.Logger) (*GoogleCalendar, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("meeting: credentials file is required")
	}
	return NewGoogleCalendar(ctx, calendarID, logger,
		option.WithCredentialsFile(path),
		option.WithScopes(calendar.CalendarEventsScope),
	)
}

func (g *GoogleCalendar) CreateMeeting(ctx context.Context, req appointment.MeetingRequest) (*appointment.Meeting, error) {
	start, ok := availability.SlotStart(req.Date, req.SlotLabel)
	if !ok {
		// labels without a readable time still get an event at the start of the day
		start = req.Date
	}
	duration := req.DurationMinutes
	if duration <= 0 {
		duration = 30
	}
	end := start.Add(time.Duration(duration) * time.Minute)

	ev := &calendar.Event{
		Summary:     fmt.Sprintf("%s with %s", orDefault(req.Service, "Consultation"), orDefault(req.ProviderName, "your provider")),
		Description: fmt.Sprintf("Video appointment for %s (%s).", orDefault(req.RequesterName, "patient"), req.SlotLabel),
		Start:       &calendar.EventDateTime{DateTime: start.Format(time.RFC3339), TimeZone: "UTC"},
		End:         &calendar.EventDateTime{DateTime: end.Format(time.RFC3339), TimeZone: "UTC"},
		ConferenceData: &calendar.ConferenceData{
			CreateRequest: &calendar.CreateConferenceRequest{
				RequestId:             uuid.NewString(),
				ConferenceSolutionKey: &calendar.ConferenceSolutionKey{Type: "hangoutsMeet"},
			},
		},
	}
	for _, email := range []string{req.ProviderEmail, req.RequesterEmail} {
		if email = strings.TrimSpace(email); email != "" {
			ev.Attendees = append(ev.Attendees, &calendar.EventAttendee{Email: email})
		}
	}

	created, err := g.events.Insert(g.calendarID, ev).
		ConferenceDataVersion(1).
		SendUpdates("all").
		Context(ctx).
		Do()
	if err != nil {
		return nil, fmt.Errorf("meeting: insert calendar event: %w", err)
	}

	link := conferenceLink(created)
	if link == "" {
		// the invitation already went out; take it back
		if err := g.DeleteMeeting(context.WithoutCancel(ctx), created.Id); err != nil {
			g.logger.Warn("failed to delete calendar event without conference link",
				zap.String("event_id", created.Id),
				zap.Error(err),
			)
		}
		return nil, ErrNoConferenceLink
	}

	g.logger.Debug("calendar event created",
		zap.String("event_id", created.Id),
		zap.String("calendar_id", g.calendarID),
	)
	return &appointment.Meeting{URL: link, ExternalEventID: created.Id}, nil
}

func (g *GoogleCalendar) DeleteMeeting(ctx context.Context, externalEventID string) error {
	if strings.TrimSpace(externalEventID) == "" {
		return nil
	}
	if err := g.events.Delete(g.calendarID, externalEventID).SendUpdates("all").Context(ctx).Do(); err != nil {
		return fmt.Errorf("meeting: delete calendar event %s: %w", externalEventID, err)
	}
	return nil
}

func conferenceLink(ev *calendar.Event) string {
	if ev == nil {
		return ""
	}
	if ev.HangoutLink != "" {
		return ev.HangoutLink
	}
	if ev.ConferenceData != nil {
		for _, ep := range ev.ConferenceData.EntryPoints {
			if ep != nil && ep.EntryPointType == "video" && ep.Uri != "" {
				return ep.Uri
			}
		}
	}
	return ""
}

func orDefault(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}
