package seed

import (
	"context"
	"errors"
	"testing"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/clinic-booking/internal/availability"
	"github.com/hackgods/clinic-booking/internal/memstore"
)

func anyArgs(n int) []any {
	args := make([]any, n)
	for i := range args {
		args[i] = pgxmock.AnyArg()
	}
	return args
}

func offered(label string, period availability.Period) bool {
	for _, l := range slotsByPeriod[period] {
		if l == label {
			return true
		}
	}
	return false
}

func TestGenerateDataset(t *testing.T) {
	ds := Generate(42, 5, 7)
	require.Len(t, ds.Providers, 5)
	require.Len(t, ds.Requesters, 7)

	for _, ps := range ds.Providers {
		p := ps.Provider
		require.NotNil(t, p.UserID)
		assert.NotEqual(t, p.ID, *p.UserID)
		assert.NotEmpty(t, p.FirstName)
		assert.Contains(t, designations, p.Designation)
		assert.Empty(t, ps.Grid.Sunday.Flatten(), "nobody works on sunday")

		for _, day := range []availability.DayPeriods{ps.Grid.Monday, ps.Grid.Wednesday, ps.Grid.Saturday} {
			for _, period := range availability.Periods {
				for _, label := range day.Period(period) {
					assert.True(t, offered(label, period), "%q in %s", label, period)
				}
			}
		}
	}

	again := Generate(42, 5, 7)
	assert.Equal(t, ds.Providers[0].Provider.FirstName, again.Providers[0].Provider.FirstName)
	assert.Equal(t, ds.Providers[0].Grid, again.Providers[0].Grid)
}

func TestLoadMemory(t *testing.T) {
	ctx := context.Background()
	ds := Generate(7, 2, 3)
	store := memstore.New()

	require.NoError(t, LoadMemory(ctx, store, ds))

	p := ds.Providers[1].Provider
	got, err := store.GetProviderByID(ctx, *p.UserID)
	require.NoError(t, err)
	assert.Equal(t, p.ID, got.ID)

	grid, err := store.GetWeeklyAvailability(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, ds.Providers[1].Grid, grid)

	_, err = store.GetRequesterByID(ctx, ds.Requesters[2].ID)
	assert.NoError(t, err)
}

func TestWritePostgres(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	ds := Generate(1, 2, 3)

	mock.ExpectBegin()
	for range ds.Providers {
		mock.ExpectExec("INSERT INTO providers").
			WithArgs(anyArgs(12)...).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
	}
	mock.ExpectCommit()

	mock.ExpectBegin()
	for _, r := range ds.Requesters {
		mock.ExpectExec("INSERT INTO requesters").
			WithArgs(r.ID, r.FullName, r.Email, r.Phone).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
	}
	mock.ExpectCommit()

	require.NoError(t, WritePostgres(context.Background(), mock, ds, nil))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWritePostgresRollsBackBatchOnError(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	ds := Generate(1, 2, 0)
	boom := errors.New("duplicate key")

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO providers").
		WithArgs(anyArgs(12)...).
		WillReturnError(boom)
	mock.ExpectRollback()

	err = WritePostgres(context.Background(), mock, ds, nil)
	assert.ErrorIs(t, err, boom)
	assert.NoError(t, mock.ExpectationsWereMet())
}
