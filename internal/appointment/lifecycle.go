package appointment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

var (
	ErrInvalidStatus           = fmt.Errorf("%w: status must be one of pending, confirmed, cancelled, completed", ErrInvalidArgument)
	ErrInvalidStatusTransition = errors.New("invalid status transition")
	ErrConcurrentUpdate        = errors.New("booking was modified concurrently, please retry")
)

type TransitionPolicy string

const (
	PolicyStrict     TransitionPolicy = "strict"
	PolicyPermissive TransitionPolicy = "permissive"
)

// ParseTransitionPolicy falls back to strict for anything but "permissive".
func ParseTransitionPolicy(s string) TransitionPolicy {
	if TransitionPolicy(strings.ToLower(strings.TrimSpace(s))) == PolicyPermissive {
		return PolicyPermissive
	}
	return PolicyStrict
}

// Cancellation is reachable from every state except cancelled itself.
var strictTransitions = map[Status]map[Status]bool{
	StatusPending: {
		StatusConfirmed: true,
		StatusCancelled: true,
		StatusCompleted: true,
	},
	StatusConfirmed: {
		StatusPending:   true,
		StatusCancelled: true,
		StatusCompleted: true,
	},
	StatusCompleted: {
		StatusCancelled: true,
	},
	StatusCancelled: {},
}

func (p TransitionPolicy) Allows(from, to Status) bool {
	if from == to {
		return true
	}
	if p == PolicyPermissive {
		return true
	}
	return strictTransitions[from][to]
}

// SetStatus moves a booking to the named status. Repeating the current status
// returns the booking unchanged without side effects.
func (s *Service) SetStatus(ctx context.Context, id uuid.UUID, status string) (*Booking, error) {
	ctx, span := bookingTracer.Start(ctx, "appointment.SetStatus")
	defer span.End()
	span.SetAttributes(
		attribute.String("clinic.booking_id", id.String()),
		attribute.String("clinic.status", status),
	)

	updated, from, err := s.setStatus(ctx, id, status)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	if from != updated.Status {
		s.metrics.ObserveTransition(string(from), string(updated.Status))
		s.afterTransition(ctx, updated, from)
	}
	return updated, nil
}

// Cancel is SetStatus(id, cancelled).
func (s *Service) Cancel(ctx context.Context, id uuid.UUID) (*Booking, error) {
	return s.SetStatus(ctx, id, string(StatusCancelled))
}

func (s *Service) setStatus(ctx context.Context, id uuid.UUID, status string) (*Booking, Status, error) {
	to, ok := ParseStatus(strings.ToLower(strings.TrimSpace(status)))
	if !ok {
		return nil, "", ErrInvalidStatus
	}

	current, err := s.GetBooking(ctx, id)
	if err != nil {
		return nil, "", err
	}

	from := current.Status
	if from == to {
		return current, from, nil
	}
	if !s.policy.Allows(from, to) {
		return nil, "", fmt.Errorf("%w: %s -> %s", ErrInvalidStatusTransition, from, to)
	}

	updated, err := s.repo.UpdateBookingStatus(ctx, id, from, to)
	if err != nil {
		switch {
		case errors.Is(err, ErrStatusMismatch):
			// someone else moved it first; if they landed on the same target
			// this request is already satisfied
			latest, getErr := s.GetBooking(ctx, id)
			if getErr == nil && latest.Status == to {
				return latest, to, nil
			}
			return nil, "", ErrConcurrentUpdate
		case errors.Is(err, ErrSlotAlreadyBooked):
			return nil, "", err
		default:
			return nil, "", fmt.Errorf("update booking status: %w", err)
		}
	}

	return updated, from, nil
}

func (s *Service) afterTransition(ctx context.Context, b *Booking, from Status) {
	ctx = context.WithoutCancel(ctx)

	s.logger.Info("booking status changed",
		zap.String("booking_id", b.ID.String()),
		zap.String("from", string(from)),
		zap.String("to", string(b.Status)),
	)

	if b.Status == StatusCancelled && b.ExternalEventID != nil && s.meetings != nil {
		s.revokeMeeting(ctx, b)
	}

	s.logEvent(ctx, b.ID, EventBookingStatusChanged, map[string]any{
		"from": string(from),
		"to":   string(b.Status),
	})

	s.effects.StatusChanged(ctx, b, from)
}

func (s *Service) revokeMeeting(ctx context.Context, b *Booking) {
	timeout := s.cfg.MeetingTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	dctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := s.meetings.DeleteMeeting(dctx, *b.ExternalEventID); err != nil {
		s.metrics.ObserveSideEffectFailure("meeting_delete")
		s.logger.Warn("failed to delete calendar event",
			zap.String("booking_id", b.ID.String()),
			zap.String("external_event_id", *b.ExternalEventID),
			zap.Error(err),
		)
	}
}
