package availability

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type Service struct {
	store  Store
	logger *zap.Logger
}

func NewService(store Store, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{store: store, logger: logger}
}

// Get returns the provider's grid, or an all-empty grid if none was set.
func (s *Service) Get(ctx context.Context, providerID uuid.UUID) (WeeklyAvailability, error) {
	return s.store.GetWeeklyAvailability(ctx, providerID)
}

// Set normalises a decoded JSON candidate and stores it, replacing the
// previous grid entirely.
func (s *Service) Set(ctx context.Context, providerID uuid.UUID, raw map[string]any) (WeeklyAvailability, error) {
	grid := Normalize(raw)
	if err := s.store.SetWeeklyAvailability(ctx, providerID, grid); err != nil {
		return WeeklyAvailability{}, err
	}

	total := 0
	for _, key := range Weekdays {
		total += len(grid.dayPtr(key).Flatten())
	}
	s.logger.Info("weekly availability replaced",
		zap.String("provider_id", providerID.String()),
		zap.Int("slot_labels", total),
	)
	return grid, nil
}
