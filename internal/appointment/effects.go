package appointment

import (
	"context"
)

// Effects receives committed ledger changes. Implementations must not block
// the caller on slow delivery and must swallow their own failures.
type Effects interface {
	BookingCreated(ctx context.Context, b *Booking)
	StatusChanged(ctx context.Context, b *Booking, from Status)
}

// Observer records booking pipeline counters.
type Observer interface {
	ObserveCreated(mode string)
	ObserveRejected(reason string)
	ObserveTransition(from, to string)
	ObserveMeetingLink(source string)
	ObserveSideEffectFailure(kind string)
}

type noopEffects struct{}

func (noopEffects) BookingCreated(context.Context, *Booking) {}
func (noopEffects) StatusChanged(context.Context, *Booking, Status) {}

type noopObserver struct{}

func (noopObserver) ObserveCreated(string) {}
func (noopObserver) ObserveRejected(string) {}
func (noopObserver) ObserveTransition(string, string) {}
func (noopObserver) ObserveMeetingLink(string) {}
func (noopObserver) ObserveSideEffectFailure(string) {}
