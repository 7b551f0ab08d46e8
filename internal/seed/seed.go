// Package seed generates demo providers, weekly grids and requesters and
// loads them into Postgres or the in-memory store.
package seed

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/hackgods/clinic-booking/internal/appointment"
	"github.com/hackgods/clinic-booking/internal/availability"
	"github.com/hackgods/clinic-booking/internal/memstore"
)

const batchSize = 500

var designations = []string{
	"Dermatology",
	"Cardiology",
	"General Practice",
	"Orthopedics",
	"Endocrinology",
	"Neurology",
	"Pediatrics",
	"Psychiatry",
	"Ophthalmology",
	"ENT",
}

var slotsByPeriod = map[availability.Period][]string{
	availability.Morning: {
		"09:00 AM - 09:30 AM", "09:30 AM - 10:00 AM", "10:00 AM - 10:30 AM",
		"10:30 AM - 11:00 AM", "11:00 AM - 11:30 AM", "11:30 AM - 12:00 PM",
	},
	availability.Afternoon: {
		"12:00 PM - 12:30 PM", "02:00 PM - 02:30 PM", "02:30 PM - 03:00 PM",
		"03:00 PM - 03:30 PM", "04:00 PM - 04:30 PM",
	},
	availability.Evening: {
		"05:00 PM - 05:30 PM", "06:00 PM - 06:30 PM", "06:30 PM - 07:00 PM",
	},
}

type ProviderSeed struct {
	Provider appointment.Provider
	Grid     availability.WeeklyAvailability
}

type Dataset struct {
	Providers  []ProviderSeed
	Requesters []appointment.Requester
}

// Generate builds a dataset. A zero seed picks a random one.
func Generate(seed uint64, providers, requesters int) Dataset {
	f := gofakeit.New(seed)

	ds := Dataset{
		Providers:  make([]ProviderSeed, 0, providers),
		Requesters: make([]appointment.Requester, 0, requesters),
	}

	for i := 0; i < providers; i++ {
		userID := uuid.New()
		first, last := f.FirstName(), f.LastName()
		p := appointment.Provider{
			ID:          uuid.New(),
			UserID:      &userID,
			FirstName:   first,
			LastName:    last,
			DisplayName: "Dr. " + last,
			Designation: f.RandomString(designations),
			ImageURL:    "https://i.pravatar.cc/300?u=" + userID.String(),
			City:        f.City(),
			Email:       strings.ToLower(first + "." + last + "@clinic.example"),
			Phone:       f.Phone(),
		}
		ds.Providers = append(ds.Providers, ProviderSeed{Provider: p, Grid: randomGrid(f)})
	}

	for i := 0; i < requesters; i++ {
		ds.Requesters = append(ds.Requesters, appointment.Requester{
			ID:       uuid.New(),
			FullName: f.Name(),
			Email:    f.Email(),
			Phone:    f.Phone(),
		})
	}

	return ds
}

// randomGrid offers a random subset of slots on weekdays and sometimes Saturday.
func randomGrid(f *gofakeit.Faker) availability.WeeklyAvailability {
	raw := make(map[string]any, len(availability.Weekdays))
	for i, day := range availability.Weekdays {
		if i == 6 || (i == 5 && f.Bool()) {
			continue
		}
		periods := make(map[string]any, len(availability.Periods))
		for _, period := range availability.Periods {
			var labels []any
			for _, label := range slotsByPeriod[period] {
				if f.Number(0, 3) > 0 {
					labels = append(labels, label)
				}
			}
			periods[string(period)] = labels
		}
		raw[day] = periods
	}
	return availability.Normalize(raw)
}

// LoadMemory puts the dataset into an in-memory store.
func LoadMemory(ctx context.Context, store *memstore.Store, ds Dataset) error {
	for _, ps := range ds.Providers {
		store.PutProvider(ps.Provider)
		if err := store.SetWeeklyAvailability(ctx, ps.Provider.ID, ps.Grid); err != nil {
			return fmt.Errorf("seed grid for %s: %w", ps.Provider.ID, err)
		}
	}
	for _, r := range ds.Requesters {
		store.PutRequester(r)
	}
	return nil
}

// Beginner starts a transaction. *pgxpool.Pool satisfies it.
type Beginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// WritePostgres inserts the dataset in batched transactions.
func WritePostgres(ctx context.Context, db Beginner, ds Dataset, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}

	logger.Info("seeding providers", zap.Int("count", len(ds.Providers)))
	err := inBatches(ctx, db, len(ds.Providers), func(tx pgx.Tx, i int) error {
		return insertProvider(ctx, tx, ds.Providers[i])
	})
	if err != nil {
		return fmt.Errorf("seed providers: %w", err)
	}

	logger.Info("seeding requesters", zap.Int("count", len(ds.Requesters)))
	err = inBatches(ctx, db, len(ds.Requesters), func(tx pgx.Tx, i int) error {
		r := ds.Requesters[i]
		_, err := tx.Exec(ctx, `
			INSERT INTO requesters (id, full_name, email, phone, created_at, updated_at)
			VALUES ($1, $2, $3, $4, now(), now())
		`, r.ID, r.FullName, r.Email, r.Phone)
		return err
	})
	if err != nil {
		return fmt.Errorf("seed requesters: %w", err)
	}

	logger.Info("seed complete")
	return nil
}

func insertProvider(ctx context.Context, tx pgx.Tx, ps ProviderSeed) error {
	grid, err := json.Marshal(ps.Grid)
	if err != nil {
		return err
	}
	p := ps.Provider
	_, err = tx.Exec(ctx, `
		INSERT INTO providers (id, user_id, first_name, last_name, display_name, designation,
			image_url, city, email, phone, is_blocked, weekly_availability, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, now(), now())
	`, p.ID, p.UserID, p.FirstName, p.LastName, p.DisplayName, p.Designation,
		p.ImageURL, p.City, p.Email, p.Phone, p.Blocked, grid)
	return err
}

func inBatches(ctx context.Context, db Beginner, count int, insert func(tx pgx.Tx, i int) error) error {
	for offset := 0; offset < count; offset += batchSize {
		end := min(offset+batchSize, count)

		tx, err := db.Begin(ctx)
		if err != nil {
			return err
		}

		for i := offset; i < end; i++ {
			if err := insert(tx, i); err != nil {
				_ = tx.Rollback(ctx)
				return err
			}
		}

		if err := tx.Commit(ctx); err != nil {
			return err
		}
	}
	return nil
}
