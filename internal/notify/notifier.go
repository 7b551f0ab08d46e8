package notify

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hackgods/clinic-booking/internal/appointment"
)

const (
	EventBookingCreated       = "booking.created"
	EventBookingStatusChanged = "booking.status_changed"

	TopicAdmin = "admin"

	defaultSendTimeout = 15 * time.Second
)

func RequesterTopic(id uuid.UUID) string { return "requester:" + id.String() }
func ProviderTopic(id uuid.UUID) string  { return "provider:" + id.String() }

// Publisher pushes a payload to every subscriber of a topic.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload []byte) error
}

// FailureObserver counts side effects that could not be delivered.
type FailureObserver interface {
	ObserveSideEffectFailure(kind string)
}

// Event is the JSON payload published for every booking change.
type Event struct {
	Event           string    `json:"event"`
	BookingID       string    `json:"booking_id"`
	BookingRef      string    `json:"booking_ref"`
	AppointmentCode string    `json:"appointment_code"`
	ProviderID      string    `json:"provider_id"`
	RequesterID     string    `json:"requester_id"`
	Date            string    `json:"date"`
	Slot            string    `json:"slot"`
	Mode            string    `json:"mode"`
	Status          string    `json:"status"`
	PreviousStatus  string    `json:"previous_status,omitempty"`
	MeetingURL      string    `json:"meeting_url,omitempty"`
	OccurredAt      time.Time `json:"occurred_at"`
}

// Notifier fans committed booking changes out to realtime topics and email.
// Publishing happens inline; emails are sent on tracked goroutines.
type Notifier struct {
	publisher   Publisher
	sender      Sender
	metrics     FailureObserver
	logger      *zap.Logger
	sendTimeout time.Duration
	now         func() time.Time

	wg sync.WaitGroup
}

var _ appointment.Effects = (*Notifier)(nil)

type Option func(*Notifier)

func WithSender(s Sender) Option { return func(n *Notifier) { n.sender = s } }

func WithFailureObserver(o FailureObserver) Option {
	return func(n *Notifier) { n.metrics = o }
}

func WithLogger(l *zap.Logger) Option { return func(n *Notifier) { n.logger = l } }

func WithSendTimeout(d time.Duration) Option {
	return func(n *Notifier) { n.sendTimeout = d }
}

// NewNotifier builds a notifier. A nil publisher disables realtime delivery.
func NewNotifier(publisher Publisher, opts ...Option) *Notifier {
	n := &Notifier{
		publisher:   publisher,
		sendTimeout: defaultSendTimeout,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(n)
	}
	if n.logger == nil {
		n.logger = zap.NewNop()
	}
	if n.sendTimeout <= 0 {
		n.sendTimeout = defaultSendTimeout
	}
	return n
}

func (n *Notifier) BookingCreated(ctx context.Context, b *appointment.Booking) {
	n.publish(ctx, n.event(EventBookingCreated, b, ""), b)
	for _, msg := range createdEmails(b) {
		n.sendAsync(ctx, msg, b.ID)
	}
}

func (n *Notifier) StatusChanged(ctx context.Context, b *appointment.Booking, from appointment.Status) {
	n.publish(ctx, n.event(EventBookingStatusChanged, b, from), b)

	if b.Status != appointment.StatusCompleted && b.Status != appointment.StatusCancelled {
		return
	}
	if msg, ok := statusEmail(b); ok {
		n.sendAsync(ctx, msg, b.ID)
	}
}

// Wait blocks until in-flight emails finish or ctx is done.
func (n *Notifier) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		n.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (n *Notifier) event(name string, b *appointment.Booking, from appointment.Status) Event {
	ev := Event{
		Event:           name,
		BookingID:       b.ID.String(),
		BookingRef:      b.BookingRef,
		AppointmentCode: b.AppointmentCode,
		ProviderID:      b.ProviderID.String(),
		RequesterID:     b.RequesterID.String(),
		Date:            appointment.FormatDate(b.Date),
		Slot:            b.SlotLabel,
		Mode:            string(b.Mode),
		Status:          string(b.Status),
		PreviousStatus:  string(from),
		OccurredAt:      n.now().UTC(),
	}
	if b.MeetingURL != nil {
		ev.MeetingURL = *b.MeetingURL
	}
	return ev
}

func (n *Notifier) publish(ctx context.Context, ev Event, b *appointment.Booking) {
	if n.publisher == nil {
		return
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		n.logger.Error("failed to encode booking event", zap.Error(err), zap.String("event", ev.Event))
		return
	}

	for _, topic := range topics(b) {
		if err := n.publisher.Publish(ctx, topic, payload); err != nil {
			n.fail("publish")
			n.logger.Warn("failed to publish booking event",
				zap.Error(err),
				zap.String("topic", topic),
				zap.String("event", ev.Event),
				zap.String("booking_id", ev.BookingID),
			)
		}
	}
}

// topics lists the audiences of a booking event. A provider is reachable by
// its profile id and, when linked, by its login id.
func topics(b *appointment.Booking) []string {
	out := []string{RequesterTopic(b.RequesterID), ProviderTopic(b.ProviderID)}
	if b.ProviderUserID != nil && *b.ProviderUserID != b.ProviderID {
		out = append(out, ProviderTopic(*b.ProviderUserID))
	}
	return append(out, TopicAdmin)
}

func (n *Notifier) sendAsync(ctx context.Context, msg Message, bookingID uuid.UUID) {
	if n.sender == nil {
		return
	}
	base := context.WithoutCancel(ctx)

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()

		sendCtx, cancel := context.WithTimeout(base, n.sendTimeout)
		defer cancel()

		if err := n.sender.Send(sendCtx, msg); err != nil {
			n.fail("email")
			n.logger.Warn("failed to send booking email",
				zap.Error(err),
				zap.String("to", msg.To),
				zap.String("booking_id", bookingID.String()),
			)
		}
	}()
}

func (n *Notifier) fail(kind string) {
	if n.metrics != nil {
		n.metrics.ObserveSideEffectFailure(kind)
	}
}
