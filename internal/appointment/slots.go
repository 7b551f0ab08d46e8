package appointment

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// FreeSlots returns the provider's declared labels for the weekday of date
// minus the labels held by active bookings on that date. It takes no locks;
// the result is a hint and the insert path decides races.
func (s *Service) FreeSlots(ctx context.Context, providerRef uuid.UUID, date string) (*FreeSlots, error) {
	day, ok := ParseDate(date)
	if !ok {
		return nil, invalid("date must be YYYY-MM-DD")
	}

	provider, err := s.ResolveProvider(ctx, providerRef)
	if err != nil {
		return nil, err
	}

	grid, err := s.grids.GetWeeklyAvailability(ctx, provider.ID)
	if err != nil {
		return nil, fmt.Errorf("load availability: %w", err)
	}

	booked, err := s.repo.ListActiveSlotLabels(ctx, provider.ID, day)
	if err != nil {
		return nil, fmt.Errorf("list booked slots: %w", err)
	}

	taken := make(map[string]struct{}, len(booked))
	for _, label := range booked {
		taken[label] = struct{}{}
	}

	free := grid.Day(day.Weekday()).Without(taken)

	return &FreeSlots{
		ProviderID: provider.ID,
		Date:       day,
		Weekday:    day.Weekday(),
		Morning:    free.Morning,
		Afternoon:  free.Afternoon,
		Evening:    free.Evening,
		Slots:      free.Flatten(),
	}, nil
}
