package availability

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Store persists each provider's weekly grid.
type Store interface {
	// GetWeeklyAvailability returns Default() for a provider that never stored a grid.
	GetWeeklyAvailability(ctx context.Context, providerID uuid.UUID) (WeeklyAvailability, error)
	// SetWeeklyAvailability replaces the whole grid.
	SetWeeklyAvailability(ctx context.Context, providerID uuid.UUID, w WeeklyAvailability) error
}

type dbtx interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PgStore keeps the grid in providers.weekly_availability.
type PgStore struct {
	db dbtx
}

func NewPgStore(db dbtx) *PgStore {
	if db == nil {
		panic("availability: db required")
	}
	return &PgStore{db: db}
}

func (s *PgStore) GetWeeklyAvailability(ctx context.Context, providerID uuid.UUID) (WeeklyAvailability, error) {
	var raw []byte
	err := s.db.QueryRow(ctx, `
		SELECT weekly_availability
		FROM providers
		WHERE id = $1
	`, providerID).Scan(&raw)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return WeeklyAvailability{}, ErrProviderNotFound
		}
		return WeeklyAvailability{}, fmt.Errorf("load weekly availability: %w", err)
	}

	if len(raw) == 0 {
		return Default(), nil
	}

	var stored WeeklyAvailability
	if err := json.Unmarshal(raw, &stored); err != nil {
		return WeeklyAvailability{}, fmt.Errorf("decode weekly availability: %w", err)
	}
	// Older rows may miss periods; the grid invariant is restored on read.
	return NormalizeGrid(stored), nil
}

func (s *PgStore) SetWeeklyAvailability(ctx context.Context, providerID uuid.UUID, w WeeklyAvailability) error {
	data, err := json.Marshal(w)
	if err != nil {
		return fmt.Errorf("encode weekly availability: %w", err)
	}

	tag, err := s.db.Exec(ctx, `
		UPDATE providers
		SET weekly_availability = $2,
		    updated_at = now()
		WHERE id = $1
	`, providerID, data)
	if err != nil {
		return fmt.Errorf("store weekly availability: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrProviderNotFound
	}
	return nil
}
